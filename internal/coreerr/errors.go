// Package coreerr defines the stable error taxonomy a caller can branch on.
//
// Every error the core returns across a tool boundary carries one of the
// Kinds below. Handlers compare with errors.As, never by string matching.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a CoreError.
type Kind string

const (
	// InvalidArgument means tool arguments were missing, wrong-typed, empty,
	// or out of range. No task is admitted.
	InvalidArgument Kind = "invalid_argument"

	// QueueOverflow means admission was rejected because the queue was full.
	QueueOverflow Kind = "queue_overflow"

	// Timeout means a task exceeded its deadline before settling.
	Timeout Kind = "timeout"

	// Cancelled means a task was cancelled by shutdown or an explicit abort.
	Cancelled Kind = "cancelled"

	// BackendError means every ready backend failed or short-circuited.
	BackendError Kind = "backend_error"

	// BackendUnavailable means a specific backend is degraded. Only
	// observable via Status/SonaStats, never as a tool-call failure.
	BackendUnavailable Kind = "backend_unavailable"
)

// CoreError is the concrete error type carrying a Kind plus context.
type CoreError struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, if any
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, coreerr.ErrTimeout) work by matching on Kind via a
// sentinel wrapper — see the Is-able sentinels below.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a CoreError of the given kind.
func New(kind Kind, msg string) *CoreError {
	return &CoreError{Kind: kind, Msg: msg}
}

// Wrap constructs a CoreError of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *CoreError {
	return &CoreError{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap) a
// *CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// sentinels usable with errors.Is(err, coreerr.ErrTimeout) etc.
var (
	ErrInvalidArgument    = &CoreError{Kind: InvalidArgument}
	ErrQueueOverflow      = &CoreError{Kind: QueueOverflow}
	ErrTimeout            = &CoreError{Kind: Timeout}
	ErrCancelled          = &CoreError{Kind: Cancelled}
	ErrBackendError       = &CoreError{Kind: BackendError}
	ErrBackendUnavailable = &CoreError{Kind: BackendUnavailable}
)
