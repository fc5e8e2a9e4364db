// Package result carries the outcome of a call to an external capability.
// A failed call produces an absent value plus a classified reason instead of
// an error that callers must propagate, so one failing capability never
// aborts the rest of a request.
package result

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrAbsent is returned by Err when a failure carries no underlying error.
var ErrAbsent = errors.New("result: absent value")

// Kind classifies a failure.
type Kind string

const (
	KindRemote      Kind = "remote"      // network, quota, malformed response
	KindNotFound    Kind = "not_found"   // input file missing
	KindPermission  Kind = "permission"  // input file unreadable
	KindFile        Kind = "file"        // other local I/O or format problems
	KindUnavailable Kind = "unavailable" // knowledge base empty or uninitialised
)

var notices = map[Kind]string{
	KindRemote:      "⚠️ Service temporarily unavailable. Please try again.",
	KindNotFound:    "📁 File not found. Please check the file path.",
	KindPermission:  "🔒 Permission denied. Please check file permissions.",
	KindFile:        "📄 File processing error. Please try again.",
	KindUnavailable: "📚 Knowledge base not available. Please add some documents first.",
}

// Notice returns the short user-facing message for a failure kind.
func Notice(k Kind) string {
	if n, ok := notices[k]; ok {
		return n
	}
	return "❌ An unexpected error occurred. Please try again."
}

// Result is either a value or a classified failure.
type Result[T any] struct {
	value  T
	ok     bool
	kind   Kind
	reason string
	err    error
}

// Success wraps a present value.
func Success[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

// Failure builds an absent result.
func Failure[T any](kind Kind, reason string, err error) Result[T] {
	return Result[T]{kind: kind, reason: reason, err: err}
}

// OK reports whether the value is present.
func (r Result[T]) OK() bool { return r.ok }

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) { return r.value, r.ok }

// Or returns the value, or fallback when absent.
func (r Result[T]) Or(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Kind is empty on success.
func (r Result[T]) Kind() Kind { return r.kind }

// Reason is a short machine-oriented description of the failure.
func (r Result[T]) Reason() string { return r.reason }

// Notice is the user-facing message for a failure, empty on success.
func (r Result[T]) Notice() string {
	if r.ok {
		return ""
	}
	return Notice(r.kind)
}

// Err returns nil on success.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		if r.reason != "" {
			return fmt.Errorf("%s: %w", r.reason, ErrAbsent)
		}
		return ErrAbsent
	}
	if r.reason != "" {
		return fmt.Errorf("%s: %w", r.reason, r.err)
	}
	return r.err
}

// Classify maps an error to a failure kind. Local filesystem errors are
// split by cause; everything else is treated as a remote failure.
func Classify(err error) Kind {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.As(err, &pathErr):
		return KindFile
	default:
		return KindRemote
	}
}
