package upload

import (
	"context"

	"dataferry/internal/resume"
)

// ResumeStore persists multipart progress between runs, one record per
// file content and target key.
type ResumeStore interface {
	Get(ctx context.Context, fingerprint, key string) (*resume.Record, bool, error)
	Put(ctx context.Context, rec *resume.Record) error
	Delete(ctx context.Context, fingerprint, key string) error
}
