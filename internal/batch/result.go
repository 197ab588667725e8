package batch

import (
	"errors"
	"math"
	"sort"
	"sync"

	ferr "dataferry/internal/errors"
	"dataferry/internal/upload"
)

// Result codes follow HTTP status semantics.
const (
	CodeSuccess         = 200
	CodeInvalidArgument = 400
	CodeNotFound        = 404
	CodeConflict        = 409
	CodeCancelled       = 499
	CodeFailure         = 500
)

// Result is the (code, message, data) triple every batch produces.
type Result struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    *Summary `json:"data,omitempty"`
}

// OK reports whether every file was uploaded or skipped.
func (r *Result) OK() bool {
	return r.Code == CodeSuccess
}

type Summary struct {
	BatchID         string            `json:"batch_id"`
	UploadTaskID    string            `json:"upload_task_id,omitempty"`
	TotalFiles      int               `json:"total_files"`
	SuccessCount    int               `json:"success_count"`
	FailureCount    int               `json:"failure_count"`
	SkippedCount    int               `json:"skipped_count"`
	SuccessFiles    []string          `json:"success_files"`
	FailureFiles    []string          `json:"failure_files"`
	SkippedFiles    []string          `json:"skipped_files"`
	Failures        map[string]string `json:"failures,omitempty"`
	InvalidFiles    []InvalidFile     `json:"invalid_files,omitempty"`
	TotalBytes      int64             `json:"total_bytes"`
	TotalSizeMB     float64           `json:"total_size_mb"`
	UploadedBytes   int64             `json:"uploaded_bytes"`
	TargetDirectory string            `json:"target_directory"`
	SourceType      string            `json:"source_type"`
	SourceDirectory string            `json:"source_directory,omitempty"`
	SourceFileList  []string          `json:"source_file_list,omitempty"`
}

func errorResult(err error) *Result {
	code := CodeFailure
	switch {
	case errors.Is(err, ferr.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, ferr.ErrInvalidArgument):
		code = CodeInvalidArgument
	case errors.Is(err, errConflictUnresolved):
		code = CodeConflict
	case errors.Is(err, ferr.ErrCancelled):
		code = CodeCancelled
	}
	return &Result{Code: code, Message: err.Error()}
}

// tally merges worker outcomes. It is the only state shared between workers.
type tally struct {
	mu       sync.Mutex
	success  []string
	failure  []string
	skipped  []string
	failures map[string]string
	bytes    int64
}

func newTally() *tally {
	return &tally{failures: make(map[string]string)}
}

func (t *tally) record(out upload.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch out.Status {
	case upload.StatusCommitted:
		t.success = append(t.success, out.Path)
		t.bytes += out.Size
	case upload.StatusSkipped:
		t.skipped = append(t.skipped, out.Path)
	default:
		t.failure = append(t.failure, out.Path)
		t.failures[out.Path] = out.Reason
	}
}

func (t *tally) counts() (success, failed, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.success), len(t.failure), len(t.skipped)
}

// fill copies the tally into s with file lists in a stable order.
func (t *tally) fill(s *Summary) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.SuccessFiles = sorted(t.success)
	s.FailureFiles = sorted(t.failure)
	s.SkippedFiles = sorted(t.skipped)
	s.SuccessCount = len(t.success)
	s.FailureCount = len(t.failure)
	s.SkippedCount = len(t.skipped)
	s.UploadedBytes = t.bytes
	if len(t.failures) > 0 {
		s.Failures = make(map[string]string, len(t.failures))
		for k, v := range t.failures {
			s.Failures[k] = v
		}
	}
}

func sorted(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func sizeMB(n int64) float64 {
	return math.Round(float64(n)/(1024*1024)*100) / 100
}
