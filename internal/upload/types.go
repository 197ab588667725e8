package upload

import (
	"time"

	"dataferry/internal/plan"
)

// Status is the final state of one file in a batch.
type Status int

const (
	StatusFailed Status = iota
	StatusCommitted
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusSkipped:
		return "skipped"
	}
	return "failed"
}

// Outcome describes what happened to one file.
type Outcome struct {
	Path     string
	Key      string
	Size     int64
	Status   Status
	Reason   string
	Err      error
	Attempts int
	// Resumed is set when a multipart session from an earlier run was continued.
	Resumed bool
	// Tolerated is set when completion reported an integrity mismatch that was accepted.
	Tolerated bool
}

// ProgressFunc receives the size of each unit the remote store has confirmed.
type ProgressFunc func(delta int64)

// Strategy values select how files are split.
const (
	StrategyAuto  = "auto"
	StrategyForce = "force"
	StrategyOff   = "off"
)

// Options controls a single transfer.
type Options struct {
	Threshold   int64
	ChunkSize   int64
	Strategy    string
	MaxAttempts int
	Backoff     time.Duration
	// Filters are case-insensitive glob patterns on the file name; "*.*" matches everything.
	Filters []string
	// TolerateIntegrityMismatch accepts a rejected completion when the store
	// already reports the object at its full size.
	TolerateIntegrityMismatch bool
}

func DefaultOptions() Options {
	return Options{
		Threshold:                 plan.DefaultThreshold,
		ChunkSize:                 plan.DefaultChunkSize,
		Strategy:                  StrategyAuto,
		MaxAttempts:               5,
		Backoff:                   2 * time.Second,
		Filters:                   []string{"*.*"},
		TolerateIntegrityMismatch: true,
	}
}
