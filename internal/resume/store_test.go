package resume

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataferry/internal/storage"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	_, found, err := s.Get(ctx, "abc123", "data/set/a.bin")
	require.NoError(t, err)
	assert.False(t, found)

	rec := &Record{Fingerprint: "abc123", Key: "data/set/a.bin", SessionID: "upload-1"}
	rec.AddPart(storage.Part{Number: 2, Size: 5, ETag: "e2", Checksum: "c2"})
	rec.AddPart(storage.Part{Number: 1, Size: 5, ETag: "e1", Checksum: "c1"})
	require.NoError(t, s.Put(ctx, rec))

	got, found, err := s.Get(ctx, "abc123", "data/set/a.bin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "data/set/a.bin", got.Key)
	assert.Equal(t, "upload-1", got.SessionID)
	require.Len(t, got.Parts, 2)
	assert.Equal(t, int32(1), got.Parts[0].Number)
	assert.Equal(t, "c2", got.Parts[1].Checksum)

	require.NoError(t, s.Delete(ctx, "abc123", "data/set/a.bin"))
	_, found, err = s.Get(ctx, "abc123", "data/set/a.bin")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.Delete(ctx, "abc123", "data/set/a.bin"), "deleting a missing record is a no-op")
}

func TestStore_PutOverwritesWholeRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	first := &Record{Fingerprint: "fp", Key: "k", SessionID: "s1"}
	first.AddPart(storage.Part{Number: 1, ETag: "e1"})
	first.AddPart(storage.Part{Number: 2, ETag: "e2"})
	require.NoError(t, s.Put(ctx, first))

	require.NoError(t, s.Put(ctx, &Record{Fingerprint: "fp", Key: "k", SessionID: "s2"}))

	got, found, err := s.Get(ctx, "fp", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s2", got.SessionID)
	assert.Empty(t, got.Parts)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "resume")

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &Record{Fingerprint: "a", Key: "ka", SessionID: "sa"}))
	require.NoError(t, s.Put(ctx, &Record{Fingerprint: "b", Key: "kb", SessionID: "sb"}))
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err = s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_SecondOpenFails(t *testing.T) {
	dir := t.TempDir()
	openTestStore(t, dir)

	_, err := Open(dir)
	assert.Error(t, err, "a second writer must not open the same store")
}

func TestStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.db.Put(ctx, recordKey("broken", "k"), []byte("{not json")))
	_, found, err := s.Get(ctx, "broken", "k")
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_AllAndClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	for _, fp := range []string{"fp1", "fp2", "fp3"} {
		require.NoError(t, s.Put(ctx, &Record{Fingerprint: fp, Key: "data/" + fp, SessionID: "s-" + fp}))
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err = s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecord_AddPartReplaces(t *testing.T) {
	rec := &Record{}
	rec.AddPart(storage.Part{Number: 3, ETag: "a"})
	rec.AddPart(storage.Part{Number: 1, ETag: "b"})
	rec.AddPart(storage.Part{Number: 3, ETag: "c"})

	require.Len(t, rec.Parts, 2)
	assert.Equal(t, int32(1), rec.Parts[0].Number)
	p, ok := rec.Part(3)
	assert.True(t, ok)
	assert.Equal(t, "c", p.ETag)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "moved", "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))
	require.NoError(t, os.WriteFile(b, []byte("hello"), 0o644))

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", fa)
	assert.Equal(t, fa, fb)

	require.NoError(t, os.WriteFile(b, []byte("hello!"), 0o644))
	fb, err = Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)

	_, err = Fingerprint(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStore_SameContentDifferentKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.Put(ctx, &Record{Fingerprint: "fp", Key: "data/a/x.bin", SessionID: "s1"}))
	require.NoError(t, s.Put(ctx, &Record{Fingerprint: "fp", Key: "data/b/x.bin", SessionID: "s2"}))

	a, found, err := s.Get(ctx, "fp", "data/a/x.bin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s1", a.SessionID)

	require.NoError(t, s.Delete(ctx, "fp", "data/b/x.bin"))

	_, found, err = s.Get(ctx, "fp", "data/b/x.bin")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = s.Get(ctx, "fp", "data/a/x.bin")
	require.NoError(t, err)
	assert.True(t, found, "deleting one key keeps the other record")
}

func TestStore_RejectsRecordWithoutKey(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	assert.Error(t, s.Put(context.Background(), &Record{Fingerprint: "fp"}))
}
