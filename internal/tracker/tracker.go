// Package tracker notifies an external task-tracking service about batch
// progress. Notification failures never affect an upload.
package tracker

import (
	"context"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

type StartRequest struct {
	ExternalTaskID int64  `json:"eai_task_id"`
	TaskName       string `json:"task_name"`
	SourcePath     string `json:"source_path"`
	TargetRootPath string `json:"target_root_path"`
	TargetFullPath string `json:"target_full_path"`
	TotalFiles     int    `json:"total_file_count"`
	TotalBytes     int64  `json:"total_size_bytes"`
}

type ProgressUpdate struct {
	UploadTaskID string `json:"upload_task_id"`
	SuccessFiles int    `json:"success_file_count"`
	FailedFiles  int    `json:"failed_file_count"`
}

// Tracker receives batch lifecycle notifications.
type Tracker interface {
	Start(ctx context.Context, req *StartRequest) (string, error)
	Progress(ctx context.Context, update *ProgressUpdate) error
	Complete(ctx context.Context, uploadTaskID, status string) error
}

// Nop is a Tracker that records nothing.
type Nop struct{}

func (Nop) Start(context.Context, *StartRequest) (string, error) { return "", nil }
func (Nop) Progress(context.Context, *ProgressUpdate) error      { return nil }
func (Nop) Complete(context.Context, string, string) error        { return nil }
