// Package storagetest provides an in-memory storage.ObjectStore with
// S3-compatible entity tags, call counters and fault injection.
package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	ferr "dataferry/internal/errors"
	"dataferry/internal/storage"
)

type object struct {
	data        []byte
	etag        string
	contentType string
	modified    time.Time
}

type storedPart struct {
	data     []byte
	etag     string
	checksum string
}

type upload struct {
	key         string
	id          string
	contentType string
	initiated   time.Time
	parts       map[int32]*storedPart
}

// Store is safe for concurrent use so one instance can back several workers.
type Store struct {
	mu        sync.Mutex
	objects   map[string]*object
	uploads   map[string]*upload
	seq       int
	calls     map[string]int
	partCalls map[string]int

	// Now stamps initiation and modification times.
	Now func() time.Time

	// UploadPartHook runs before a part is stored; a non-nil error fails the call.
	UploadPartHook func(key string, partNumber int32) error
	// PutObjectHook runs before a single-shot object is stored.
	PutObjectHook func(key string) error
	// CompleteHook runs before a multipart session is assembled.
	CompleteHook func(key string) error
	// HeadHook runs before HeadObject.
	HeadHook func(key string) error

	// OmitListedChecksums drops part checksums from ListParts results.
	OmitListedChecksums bool
	// RequireChecksums rejects completion when a part lacks its checksum.
	RequireChecksums bool
	// OmitETags drops entity tags from HeadObject and ListObjects.
	OmitETags bool
}

func New() *Store {
	return &Store{
		objects:   make(map[string]*object),
		uploads:   make(map[string]*upload),
		calls:     make(map[string]int),
		partCalls: make(map[string]int),
		Now:       time.Now,
	}
}

// Factory hands out the same store to every worker.
func (s *Store) Factory() storage.Factory {
	return func(context.Context) (storage.ObjectStore, error) {
		return s, nil
	}
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// PartUploads returns how many times part n of key was uploaded.
func (s *Store) PartUploads(key string, n int32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partCalls[partKey(key, n)]
}

// Object returns the committed bytes for key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return o.data, true
}

// SetObject commits data under key as a single-shot object.
func (s *Store) SetObject(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &object{data: data, etag: MD5Hex(data), modified: s.Now()}
}

// SetObjectETag overrides the entity tag reported for key.
func (s *Store) SetObjectETag(key, etag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[key]; ok {
		o.etag = etag
	}
}

// OpenUploads returns the ids of uncommitted sessions for key.
func (s *Store) OpenUploads(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, u := range s.uploads {
		if u.key == key {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (*storage.ObjectInfo, error) {
	s.count("PutObject")
	if s.PutObjectHook != nil {
		if err := s.PutObjectHook(key); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: body has %d bytes, declared %d", ferr.ErrTransient, len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o := &object{data: data, etag: MD5Hex(data), contentType: contentType, modified: s.Now()}
	s.objects[key] = o
	return s.info(key, o), nil
}

func (s *Store) HeadObject(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.count("HeadObject")
	if s.HeadHook != nil {
		if err := s.HeadHook(key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, ferr.NewError("head_object", ferr.ErrObjectNotFound).WithKey(key)
	}
	return s.info(key, o), nil
}

func (s *Store) ListObjects(ctx context.Context, prefix string, maxKeys int32) ([]storage.ObjectInfo, error) {
	s.count("ListObjects")
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if maxKeys > 0 && len(keys) > int(maxKeys) {
		keys = keys[:maxKeys]
	}
	out := make([]storage.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.info(k, s.objects[k]))
	}
	return out, nil
}

func (s *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	s.count("GetObject")
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, ferr.NewError("get_object", ferr.ErrObjectNotFound).WithKey(key)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (s *Store) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	s.count("CreateMultipartUpload")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("upload-%04d", s.seq)
	s.uploads[id] = &upload{
		key:         key,
		id:          id,
		contentType: contentType,
		initiated:   s.Now(),
		parts:       make(map[int32]*storedPart),
	}
	return id, nil
}

func (s *Store) ListMultipartUploads(ctx context.Context, key string) ([]storage.MultipartUpload, error) {
	s.count("ListMultipartUploads")
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.MultipartUpload
	for _, u := range s.uploads {
		if u.key == key {
			out = append(out, storage.MultipartUpload{Key: u.key, UploadID: u.id, Initiated: u.initiated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadID < out[j].UploadID })
	return out, nil
}

func (s *Store) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (*storage.Part, error) {
	s.count("UploadPart")
	s.mu.Lock()
	s.partCalls[partKey(key, partNumber)]++
	s.mu.Unlock()

	if s.UploadPartHook != nil {
		if err := s.UploadPartHook(key, partNumber); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: part body has %d bytes, declared %d", ferr.ErrTransient, len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, ferr.NewError("upload_part", ferr.ErrObjectNotFound).WithKey(key)
	}
	p := &storedPart{data: data, etag: MD5Hex(data), checksum: CRC32(data)}
	u.parts[partNumber] = p
	return &storage.Part{Number: partNumber, Size: size, ETag: p.etag, Checksum: p.checksum}, nil
}

func (s *Store) ListParts(ctx context.Context, key, uploadID string) ([]storage.Part, error) {
	s.count("ListParts")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, ferr.NewError("list_parts", ferr.ErrObjectNotFound).WithKey(key)
	}
	out := make([]storage.Part, 0, len(u.parts))
	for n, p := range u.parts {
		part := storage.Part{Number: n, Size: int64(len(p.data)), ETag: p.etag}
		if !s.OmitListedChecksums {
			part.Checksum = p.checksum
		}
		out = append(out, part)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.Part) (*storage.ObjectInfo, error) {
	s.count("CompleteMultipartUpload")
	if s.CompleteHook != nil {
		if err := s.CompleteHook(key); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[uploadID]
	if !ok || u.key != key {
		return nil, ferr.NewError("complete_multipart_upload", ferr.ErrObjectNotFound).WithKey(key)
	}
	if len(parts) == 0 {
		return nil, ferr.NewError("complete_multipart_upload", ferr.ErrIntegrityMismatch).WithKey(key)
	}

	var (
		buf  bytes.Buffer
		sums []byte
		last int32
	)
	for _, p := range parts {
		stored, ok := u.parts[p.Number]
		if !ok || p.Number <= last || stored.etag != p.ETag {
			return nil, ferr.NewError("complete_multipart_upload",
				ferr.Errorf(ferr.ErrIntegrityMismatch, "part %d", p.Number)).WithKey(key)
		}
		if p.Checksum == "" && s.RequireChecksums || p.Checksum != "" && p.Checksum != stored.checksum {
			return nil, ferr.NewError("complete_multipart_upload",
				ferr.Errorf(ferr.ErrIntegrityMismatch, "checksum for part %d", p.Number)).WithKey(key)
		}
		last = p.Number
		buf.Write(stored.data)
		raw, _ := hex.DecodeString(stored.etag)
		sums = append(sums, raw...)
	}

	sum := md5.Sum(sums)
	o := &object{
		data:        buf.Bytes(),
		etag:        fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(parts)),
		contentType: u.contentType,
		modified:    s.Now(),
	}
	s.objects[key] = o
	delete(s.uploads, uploadID)
	return s.info(key, o), nil
}

func (s *Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	s.count("AbortMultipartUpload")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[uploadID]; !ok {
		return ferr.NewError("abort_multipart_upload", ferr.ErrObjectNotFound).WithKey(key)
	}
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *Store) info(key string, o *object) *storage.ObjectInfo {
	info := &storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
	if s.OmitETags {
		info.ETag = ""
	}
	return info
}

func partKey(key string, n int32) string {
	return fmt.Sprintf("%s#%d", key, n)
}

// MD5Hex is the entity tag S3 reports for a single-shot object.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// CRC32 is the base64 big-endian CRC32 checksum S3 reports for a part.
func CRC32(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], crc32.ChecksumIEEE(data))
	return base64.StdEncoding.EncodeToString(b[:])
}
