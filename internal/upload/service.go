// Package upload moves one local file to one object key: single-shot for
// small files, resumable multipart for large ones, with bounded retries.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	ferr "dataferry/internal/errors"
	"dataferry/internal/plan"
	"dataferry/internal/resume"
	"dataferry/internal/session"
	"dataferry/internal/storage"
	"dataferry/internal/verify"
)

var errFiltered = errors.New("excluded by file filter")

// Service transfers files for one worker. It owns its store connection and
// must not be shared between goroutines.
type Service struct {
	store      storage.ObjectStore
	resume     ResumeStore
	reconciler *session.Reconciler
	verifier   *verify.Verifier
	opts       Options
	log        *zap.SugaredLogger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewService(store storage.ObjectStore, resumeStore ResumeStore, opts Options, log *zap.SugaredLogger) *Service {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = plan.DefaultChunkSize
	}
	return &Service{
		store:      store,
		resume:     resumeStore,
		reconciler: session.NewReconciler(store, log),
		verifier:   verify.New(store, opts.ChunkSize, log),
		opts:       opts,
		log:        log,
		sleep:      sleepContext,
	}
}

// Store returns the connection this service uploads through.
func (s *Service) Store() storage.ObjectStore {
	return s.store
}

// Process runs the optional skip check and then transfers the file.
func (s *Service) Process(ctx context.Context, path, key string, skipExisting bool, policy verify.Policy, progress ProgressFunc) Outcome {
	if skipExisting {
		equivalent, err := s.CheckExisting(ctx, path, key, policy)
		if err != nil {
			s.log.Warnw("existing object check failed, uploading", "path", path, "key", key, "error", err)
		}
		if equivalent {
			info, _ := os.Stat(path)
			out := Outcome{Path: path, Key: key, Status: StatusSkipped, Reason: "already uploaded"}
			if info != nil {
				out.Size = info.Size()
			}
			s.log.Infow("skipped existing object", "path", path, "key", key, "policy", policy.String())
			return out
		}
	}
	return s.Transfer(ctx, path, key, progress)
}

// CheckExisting reports whether key already holds the content of path.
func (s *Service) CheckExisting(ctx context.Context, path, key string, policy verify.Policy) (bool, error) {
	remote, err := s.store.HeadObject(ctx, key)
	if ferr.IsObjectNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.verifier.IsEquivalent(ctx, path, remote, policy)
}

// Transfer uploads path to key. It never returns an error; failures are
// reported in the Outcome.
func (s *Service) Transfer(ctx context.Context, path, key string, progress ProgressFunc) Outcome {
	out := Outcome{Path: path, Key: key}
	if progress == nil {
		progress = func(int64) {}
	}

	info, err := s.checkFile(path, key)
	if errors.Is(err, errFiltered) {
		out.Status = StatusSkipped
		out.Reason = err.Error()
		return out
	}
	if err != nil {
		out.Err = err
		out.Reason = err.Error()
		return out
	}
	out.Size = info.Size()

	t := &transfer{path: path, key: key, size: info.Size(), contentType: contentType(path), progress: progress}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		out.Attempts = attempt
		if ctx.Err() != nil {
			lastErr = ferr.NewError("transfer", ferr.ErrCancelled).WithPath(path)
			break
		}

		lastErr = s.attempt(ctx, t)
		if lastErr == nil {
			out.Status = StatusCommitted
			out.Resumed = t.resumed
			out.Tolerated = t.tolerated
			s.log.Infow("committed", "path", path, "key", key, "size", out.Size, "attempts", attempt, "resumed", t.resumed)
			return out
		}
		if !ferr.IsRetryable(lastErr) {
			break
		}

		s.log.Warnw("transfer attempt failed", "path", path, "key", key, "attempt", attempt,
			"max_attempts", s.opts.MaxAttempts, "error", lastErr)
		if attempt < s.opts.MaxAttempts {
			if err := s.sleep(ctx, s.opts.Backoff); err != nil {
				lastErr = ferr.NewError("transfer", ferr.ErrCancelled).WithPath(path)
				break
			}
		}
	}

	if ferr.IsRetryable(lastErr) {
		lastErr = ferr.NewError("transfer",
			fmt.Errorf("%w after %d attempts: %w", ferr.ErrPermanentFailure, out.Attempts, lastErr)).WithPath(path).WithKey(key)
	}
	out.Status = StatusFailed
	out.Err = lastErr
	out.Reason = lastErr.Error()
	s.log.Errorw("transfer failed", "path", path, "key", key, "attempts", out.Attempts, "error", lastErr)
	return out
}

type transfer struct {
	path        string
	key         string
	size        int64
	contentType string
	fingerprint string
	progress    ProgressFunc
	resumed     bool
	tolerated   bool
}

func (s *Service) checkFile(path, key string) (os.FileInfo, error) {
	if key == "" {
		return nil, ferr.NewError("transfer", ferr.Errorf(ferr.ErrInvalidArgument, "no upload target")).WithPath(path)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, ferr.NewError("stat", ferr.ErrNotFound).WithPath(path)
	case errors.Is(err, os.ErrPermission):
		return nil, ferr.NewError("stat", ferr.ErrPermissionDenied).WithPath(path)
	case err != nil:
		return nil, ferr.NewError("stat", err).WithPath(path)
	}
	if !info.Mode().IsRegular() {
		return nil, ferr.NewError("stat", ferr.Errorf(ferr.ErrInvalidArgument, "not a regular file")).WithPath(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ferr.NewError("open", ferr.ErrPermissionDenied).WithPath(path)
	}
	f.Close()

	if !MatchFilters(s.opts.Filters, path) {
		return nil, errFiltered
	}
	return info, nil
}

func (s *Service) attempt(ctx context.Context, t *transfer) error {
	threshold := s.opts.Threshold
	switch s.opts.Strategy {
	case StrategyForce:
		if t.size > 0 {
			threshold = -1
		}
	case StrategyOff:
		threshold = t.size
	}

	p, err := plan.Plan(t.size, threshold, s.opts.ChunkSize)
	if err != nil {
		return ferr.NewError("plan", err).WithPath(t.path)
	}
	if p.SingleShot {
		return s.putSingle(ctx, t)
	}
	return s.putMultipart(ctx, t, p)
}

func (s *Service) putSingle(ctx context.Context, t *transfer) error {
	f, err := os.Open(t.path)
	if err != nil {
		return ferr.NewError("open", err).WithPath(t.path)
	}
	defer f.Close()

	if _, err := s.store.PutObject(ctx, t.key, f, t.size, t.contentType); err != nil {
		return ferr.NewError("put_object", err).WithPath(t.path).WithKey(t.key)
	}
	t.progress(t.size)
	return nil
}

func (s *Service) putMultipart(ctx context.Context, t *transfer, p *plan.ChunkPlan) error {
	if t.fingerprint == "" {
		fp, err := resume.Fingerprint(t.path)
		if err != nil {
			return ferr.NewError("fingerprint", err).WithPath(t.path)
		}
		t.fingerprint = fp
	}

	rec, _, err := s.resume.Get(ctx, t.fingerprint, t.key)
	if err != nil {
		s.log.Warnw("ignoring unreadable resume record", "path", t.path, "error", err)
		rec = nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return ferr.NewError("open", err).WithPath(t.path)
	}
	defer f.Close()

	sess, err := s.reconciler.Reconcile(ctx, t.key, f, rec, p, t.contentType)
	if err != nil {
		return err
	}
	t.resumed = t.resumed || sess.Resumed

	record := &resume.Record{
		Fingerprint: t.fingerprint,
		Key:         t.key,
		SessionID:   sess.UploadID,
		Parts:       sess.Parts(),
	}
	if err := s.resume.Put(ctx, record); err != nil {
		return ferr.NewError("resume_put", err).WithPath(t.path)
	}

	// A part already on the wire is allowed to finish after cancellation so
	// its confirmation lands in the resume record.
	detached := context.WithoutCancel(ctx)

	for _, part := range sess.Pending(p) {
		if ctx.Err() != nil {
			return ferr.NewError("upload_part", ferr.ErrCancelled).WithPath(t.path).WithKey(t.key)
		}

		body := io.NewSectionReader(f, part.Offset, part.Length)
		confirmed, err := s.store.UploadPart(detached, t.key, sess.UploadID, part.Number, body, part.Length)
		if err != nil {
			return ferr.NewError("upload_part", fmt.Errorf("part %d: %w", part.Number, err)).WithPath(t.path).WithKey(t.key)
		}
		if confirmed.Size == 0 {
			confirmed.Size = part.Length
		}

		record.AddPart(*confirmed)
		if err := s.resume.Put(detached, record); err != nil {
			return ferr.NewError("resume_put", err).WithPath(t.path)
		}
		t.progress(part.Length)
	}

	_, err = s.store.CompleteMultipartUpload(detached, t.key, sess.UploadID, record.Parts)
	if err != nil {
		if !errors.Is(err, ferr.ErrIntegrityMismatch) {
			return ferr.NewError("complete_multipart_upload", err).WithPath(t.path).WithKey(t.key)
		}
		if !s.opts.TolerateIntegrityMismatch || !s.remoteComplete(detached, t) {
			s.discardSession(detached, t, sess.UploadID)
			return ferr.NewError("complete_multipart_upload", err).WithPath(t.path).WithKey(t.key)
		}
		t.tolerated = true
		s.log.Warnw("completion reported an integrity mismatch but the object is whole",
			"path", t.path, "key", t.key, "error", ferr.ErrIntegrityMismatchTolerated)
	}

	if err := s.resume.Delete(detached, t.fingerprint, t.key); err != nil {
		s.log.Warnw("failed to delete resume record", "path", t.path, "error", err)
	}
	return nil
}

// remoteComplete reports whether the store already holds every byte of the file.
func (s *Service) remoteComplete(ctx context.Context, t *transfer) bool {
	info, err := s.store.HeadObject(ctx, t.key)
	if err != nil {
		return false
	}
	return info.Size == t.size
}

// discardSession drops a session the store refuses to complete so the next
// attempt starts a fresh one.
func (s *Service) discardSession(ctx context.Context, t *transfer, uploadID string) {
	if err := s.store.AbortMultipartUpload(ctx, t.key, uploadID); err != nil {
		s.log.Warnw("failed to abort rejected session", "key", t.key, "upload_id", uploadID, "error", err)
	}
	if err := s.resume.Delete(ctx, t.fingerprint, t.key); err != nil {
		s.log.Warnw("failed to delete resume record", "path", t.path, "error", err)
	}
}

func contentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
