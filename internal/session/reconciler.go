// Package session finds or opens the remote multipart session for a key and
// reconciles its confirmed parts with the local resume record.
package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	ferr "dataferry/internal/errors"
	"dataferry/internal/plan"
	"dataferry/internal/resume"
	"dataferry/internal/storage"
)

// Session is the live multipart session for one object key.
type Session struct {
	Key      string
	UploadID string
	Resumed  bool
	// Confirmed holds the parts the remote store already has, by number.
	Confirmed map[int32]storage.Part
}

// Pending returns the planned parts that still have to be sent, in order.
func (s *Session) Pending(p *plan.ChunkPlan) []plan.Part {
	pending := make([]plan.Part, 0, len(p.Parts))
	for _, part := range p.Parts {
		if _, ok := s.Confirmed[part.Number]; !ok {
			pending = append(pending, part)
		}
	}
	return pending
}

// Parts returns the confirmed parts sorted by number.
func (s *Session) Parts() []storage.Part {
	parts := make([]storage.Part, 0, len(s.Confirmed))
	for _, p := range s.Confirmed {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

type Reconciler struct {
	store storage.ObjectStore
	log   *zap.SugaredLogger
}

func NewReconciler(store storage.ObjectStore, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

// Reconcile returns the session to continue for key. The remote part list is
// authoritative; the local record only fills in checksums the store did not
// report. A remote part whose size disagrees with the plan is dropped so it
// gets sent again. When the session is not the one rec names, src may have
// changed since the parts were sent, so each part must also match the MD5 of
// its byte range in src.
func (r *Reconciler) Reconcile(ctx context.Context, key string, src io.ReaderAt, rec *resume.Record, p *plan.ChunkPlan, contentType string) (*Session, error) {
	uploads, err := r.store.ListMultipartUploads(ctx, key)
	if err != nil {
		return nil, ferr.NewError("list_multipart_uploads", err).WithKey(key)
	}

	chosen := selectUpload(key, uploads, rec)
	if chosen == nil {
		id, err := r.store.CreateMultipartUpload(ctx, key, contentType)
		if err != nil {
			return nil, ferr.NewError("create_multipart_upload", err).WithKey(key)
		}
		r.log.Debugw("opened multipart session", "key", key, "upload_id", id)
		return &Session{Key: key, UploadID: id, Confirmed: map[int32]storage.Part{}}, nil
	}

	remote, err := r.store.ListParts(ctx, key, chosen.UploadID)
	if err != nil {
		return nil, ferr.NewError("list_parts", err).WithKey(key)
	}

	owned := rec != nil && rec.SessionID == chosen.UploadID
	s := &Session{Key: key, UploadID: chosen.UploadID, Resumed: true, Confirmed: map[int32]storage.Part{}}
	for _, part := range remote {
		planned, ok := p.Part(part.Number)
		if !ok || planned.Length != part.Size {
			r.log.Warnw("discarding remote part that does not match the plan",
				"key", key, "part", part.Number, "size", part.Size)
			continue
		}
		if !owned {
			same, err := matchesLocal(src, planned, part)
			if err != nil {
				return nil, ferr.NewError("hash_part", err).WithKey(key)
			}
			if !same {
				r.log.Warnw("discarding remote part whose content differs from the local file",
					"key", key, "part", part.Number, "upload_id", chosen.UploadID)
				continue
			}
		}
		if part.Checksum == "" && owned {
			if local, ok := rec.Part(part.Number); ok && local.Size == part.Size && local.ETag == part.ETag {
				part.Checksum = local.Checksum
			}
		}
		s.Confirmed[part.Number] = part
	}

	r.log.Infow("resuming multipart session", "key", key, "upload_id", s.UploadID,
		"confirmed_parts", len(s.Confirmed), "planned_parts", len(p.Parts))
	return s, nil
}

// matchesLocal reports whether the entity tag of a remote part is the MD5 of
// the planned byte range. Tags that are not a plain MD5 never match.
func matchesLocal(src io.ReaderAt, planned plan.Part, remote storage.Part) (bool, error) {
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(src, planned.Offset, planned.Length)); err != nil {
		return false, err
	}
	etag := strings.ToLower(strings.Trim(remote.ETag, `"`))
	return etag == hex.EncodeToString(h.Sum(nil)), nil
}

// selectUpload prefers the session named by the local record, then the most
// recently initiated one, then listing order.
func selectUpload(key string, uploads []storage.MultipartUpload, rec *resume.Record) *storage.MultipartUpload {
	var best *storage.MultipartUpload
	for i := range uploads {
		u := &uploads[i]
		if u.Key != key {
			continue
		}
		if rec != nil && rec.Key == key && rec.SessionID == u.UploadID {
			return u
		}
		if best == nil || u.Initiated.After(best.Initiated) {
			best = u
		}
	}
	return best
}
