// Package jobcore holds the cross-cutting error taxonomy and small
// identifier helpers shared by every pipeline component.
package jobcore

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error categories every component normalizes
// its failures into.
type Kind string

const (
	BadInput         Kind = "bad_input"
	NotFound         Kind = "not_found"
	ProviderTransient Kind = "provider_transient"
	ProviderFailed   Kind = "provider_failed"
	QuotaExceeded    Kind = "quota_exceeded"
	QuotaPause       Kind = "quota_pause"
	Timeout          Kind = "timeout"
	Cancelled        Kind = "cancelled"
	Internal         Kind = "internal"
)

// Error wraps an underlying error with one of the Kinds above, the same
// way the teacher wraps errors with fmt.Errorf("...: %w", err) but with a
// machine-inspectable category attached.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op with kind, wrapping err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, Internal if a non-nil err does
// not wrap an *Error, and the empty Kind for a nil err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a failure of this Kind should be retried by the
// caller (ProviderTransient only; the retry policy itself lives in
// internal/provider).
func Retryable(kind Kind) bool {
	return kind == ProviderTransient
}
