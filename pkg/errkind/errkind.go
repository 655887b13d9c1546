// Package errkind classifies failures from the Task Store and the external
// adapters into the taxonomy the Pipeline Driver branches on.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the orchestrator reasons about.
type Kind string

const (
	// Transient errors are recovered locally by retrying with backoff.
	Transient Kind = "transient"
	// RateLimited is a specific provider rate-limit/quota signal.
	RateLimited Kind = "rate_limited"
	// Input errors mark a single file as failed; the stage continues.
	Input Kind = "input"
	// Conflict surfaces an invariant violation in the store to the caller.
	Conflict Kind = "conflict"
	// NotFound is idempotent-success for deletes, surfaced elsewhere.
	NotFound Kind = "not_found"
	// Fatal errors fail the whole task.
	Fatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind and an optional retry-after
// hint. The HTTP adapters do not fill RetryAfter from a response, and the
// Worker Pool's backoff does not read it.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter float64 // seconds; 0 if the adapter gave no hint
	err        error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Retryable reports whether the Pipeline Driver / Worker Pool should retry
// the operation that produced this error.
func (e *Error) Retryable() bool {
	return e.Kind == Transient || e.Kind == RateLimited
}

// New wraps err as a classified Error.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, err: err}
}

// Wrapf is a convenience for New with a formatted underlying error.
func Wrapf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// Of returns the Kind of err, or Fatal if err does not carry a classified
// Kind (an unclassified error is treated as unrecoverable by default).
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Fatal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
