// Package storage describes the remote object store the upload engine talks to.
//
// Implementations must be safe for use by a single worker; the engine gives
// every worker its own instance.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo is what the store reports about a committed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Part is one confirmed part of a multipart session.
type Part struct {
	Number   int32  `json:"part_number"`
	Size     int64  `json:"size"`
	ETag     string `json:"tag"`
	Checksum string `json:"checksum,omitempty"`
}

// MultipartUpload is an open, uncommitted multipart session.
type MultipartUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// ObjectStore is the remote side of a transfer.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (*ObjectInfo, error)
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	ListObjects(ctx context.Context, prefix string, maxKeys int32) ([]ObjectInfo, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	ListMultipartUploads(ctx context.Context, key string) ([]MultipartUpload, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (*Part, error)
	ListParts(ctx context.Context, key, uploadID string) ([]Part, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (*ObjectInfo, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}

// Factory opens a fresh store connection. Each worker calls it once.
type Factory func(ctx context.Context) (ObjectStore, error)
