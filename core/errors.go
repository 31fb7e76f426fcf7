package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled marks an invocation stopped by an explicit request.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalid marks input rejected before any resource was allocated.
	ErrInvalid = errors.New("invalid input")
)

// NotFoundError reports an unknown agent, thread, instance or stream.
// Callers should surface it and never retry.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewNotFound returns a NotFoundError for the given kind and id.
func NewNotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// TimeoutError reports an invocation that exceeded its time budget.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s", e.After)
}

// SubprocessError reports a runtime process that exited abnormally or
// produced output that could not be parsed.
type SubprocessError struct {
	ExitCode int
	Reason   string
	Stderr   string
}

func (e *SubprocessError) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = "subprocess failed"
	}
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

// ConcurrencyError reports a broken serialization invariant, such as two
// turns recorded for the same invocation. It is never expected at runtime
// and must be logged when it occurs.
type ConcurrencyError struct {
	ThreadID string
	Detail   string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency violation on thread %s: %s", e.ThreadID, e.Detail)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsSubprocess reports whether err is or wraps a SubprocessError.
func IsSubprocess(err error) bool {
	var target *SubprocessError
	return errors.As(err, &target)
}

// IsConcurrency reports whether err is or wraps a ConcurrencyError.
func IsConcurrency(err error) bool {
	var target *ConcurrencyError
	return errors.As(err, &target)
}
