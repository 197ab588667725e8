// Package resume persists the progress of multipart transfers so an
// interrupted upload can pick up where it stopped.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"

	"dataferry/internal/storage"
)

// ErrCorruptRecord is returned when a stored record cannot be decoded.
var ErrCorruptRecord = errors.New("resume: corrupt record")

// Record is the local progress of one multipart transfer.
type Record struct {
	Fingerprint string         `json:"fingerprint"`
	Key         string         `json:"target_key"`
	SessionID   string         `json:"session_id"`
	Parts       []storage.Part `json:"completed_parts"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AddPart records a confirmed part, replacing any earlier entry with the
// same number and keeping parts in ascending order.
func (r *Record) AddPart(p storage.Part) {
	for i := range r.Parts {
		if r.Parts[i].Number == p.Number {
			r.Parts[i] = p
			return
		}
	}
	r.Parts = append(r.Parts, p)
	sort.Slice(r.Parts, func(i, j int) bool { return r.Parts[i].Number < r.Parts[j].Number })
}

// Part looks up a recorded part by number.
func (r *Record) Part(number int32) (storage.Part, bool) {
	for _, p := range r.Parts {
		if p.Number == number {
			return p, true
		}
	}
	return storage.Part{}, false
}

// Store keeps one record per file fingerprint and object key in a LevelDB
// directory.
// LevelDB locks the directory, so only one process can hold a store open.
type Store struct {
	db *dslvl.Datastore
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create resume dir: %w", err)
	}

	db, err := dslvl.NewDatastore(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open resume store %s: %w", dir, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// recordKey nests the escaped object key under the fingerprint, so the same
// content headed for two keys keeps two records.
func recordKey(fingerprint, key string) ds.Key {
	return ds.NewKey(fingerprint).ChildString(url.PathEscape(key))
}

// Get returns the record for fingerprint and key. found is false when none exists.
func (s *Store) Get(ctx context.Context, fingerprint, key string) (*Record, bool, error) {
	b, err := s.db.Get(ctx, recordKey(fingerprint, key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false, fmt.Errorf("%w %s %s: %v", ErrCorruptRecord, fingerprint, key, err)
	}

	return &rec, true, nil
}

// Put replaces the whole record for rec.Fingerprint and rec.Key.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if rec.Fingerprint == "" || rec.Key == "" {
		return errors.New("resume: record without fingerprint or key")
	}
	rec.UpdatedAt = time.Now().UTC()

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Put(ctx, recordKey(rec.Fingerprint, rec.Key), b)
}

// Delete removes the record; deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, fingerprint, key string) error {
	err := s.db.Delete(ctx, recordKey(fingerprint, key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}
	return err
}

// All lists every decodable record. Corrupt entries are skipped.
func (s *Store) All(ctx context.Context) ([]*Record, error) {
	records := make([]*Record, 0)

	res, err := s.db.Query(ctx, dsq.Query{})
	if err != nil {
		return records, err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}
		if r.Error != nil {
			return records, r.Error
		}

		var rec Record
		if err := json.Unmarshal(r.Entry.Value, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// Clear deletes every record and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	res, err := s.db.Query(ctx, dsq.Query{KeysOnly: true})
	if err != nil {
		return 0, err
	}
	entries, err := res.Rest()
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if err := s.db.Delete(ctx, ds.NewKey(e.Key)); err != nil {
			return 0, err
		}
	}

	return len(entries), nil
}
