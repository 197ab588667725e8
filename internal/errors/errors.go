// Package errors defines the failure taxonomy shared by the upload engine.
package errors

import (
	"errors"
	"fmt"
)

// Error carries the operation and the file or object it concerned.
type Error struct {
	// Op is the operation that failed (e.g. "plan", "upload_part", "complete")
	Op string

	// Path is the local file path (if applicable)
	Path string

	// Key is the remote object key (if applicable)
	Key string

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Key != "":
		return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Path, e.Key, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%s object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithPath adds local file context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// Errorf wraps a sentinel with a formatted message so errors.Is still matches it.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

var (
	// ErrInvalidArgument indicates a malformed request (bad size, missing target, bad filter)
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates the local file or directory does not exist
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the local file cannot be read
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransient indicates a network or remote failure that may succeed on retry
	ErrTransient = errors.New("transient transfer error")

	// ErrVerificationFailed indicates the remote store lacks the information a policy needs
	ErrVerificationFailed = errors.New("verification failed")

	// ErrIntegrityMismatch indicates the remote store rejected the part list on completion
	ErrIntegrityMismatch = errors.New("integrity mismatch")

	// ErrIntegrityMismatchTolerated marks a completion whose mismatch was accepted
	ErrIntegrityMismatchTolerated = errors.New("integrity mismatch tolerated")

	// ErrPermanentFailure indicates the retry budget was exhausted
	ErrPermanentFailure = errors.New("permanent transfer failure")

	// ErrObjectNotFound indicates the remote object or session does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrCancelled indicates the caller cancelled the batch before the file was dispatched
	ErrCancelled = errors.New("cancelled")
)

// IsObjectNotFound reports whether err means the remote object is absent.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsRetryable reports whether a transfer attempt that failed with err may be retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrCancelled):
		return false
	}
	return true
}
