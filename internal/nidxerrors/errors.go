// Package nidxerrors implements the typed error taxonomy of §7: every error
// that crosses a component boundary carries a Kind so callers (the searcher,
// the scheduler, the cache) can apply the right recovery policy without
// string matching.
package nidxerrors

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error per §7's taxonomy.
type Kind int

const (
	// KindInternal covers converted panics and otherwise-unclassified
	// failures; always fatal to the current request.
	KindInternal Kind = iota
	// KindConfiguration covers dimension mismatches and inconsistent merge
	// tags; fatal to the current request, never retried.
	KindConfiguration
	// KindFilesystem covers unreadable/missing segment files; the reader
	// logs and excludes the segment rather than failing the query.
	KindFilesystem
	// KindWorkDelayed is recoverable: a merge cannot proceed yet because a
	// dependency is still indexing. Carries a RetryAfter hint.
	KindWorkDelayed
	// KindNotFound covers an index/segment removed under a live reader.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindFilesystem:
		return "filesystem"
	case KindWorkDelayed:
		return "work-delayed"
	case KindNotFound:
		return "not-found"
	default:
		return "internal"
	}
}

type typedError struct {
	kind       Kind
	retryAfter time.Duration
	cause      error
}

func (e *typedError) Error() string { return e.kind.String() + ": " + e.cause.Error() }
func (e *typedError) Unwrap() error { return e.cause }
func (e *typedError) Cause() error  { return e.cause }

// RetryAfter returns the suggested retry delay for a KindWorkDelayed error,
// or zero for any other kind.
func (e *typedError) RetryAfter() time.Duration { return e.retryAfter }

func wrap(kind Kind, cause error) error {
	return &typedError{kind: kind, cause: errors.WithStackDepth(cause, 1)}
}

// Configuration wraps cause as a KindConfiguration error.
func Configuration(format string, args ...interface{}) error {
	return wrap(KindConfiguration, errors.Newf(format, args...))
}

// Filesystem wraps cause as a KindFilesystem error.
func Filesystem(cause error, format string, args ...interface{}) error {
	return wrap(KindFilesystem, errors.Wrapf(cause, format, args...))
}

// NotFound wraps cause as a KindNotFound error.
func NotFound(format string, args ...interface{}) error {
	return wrap(KindNotFound, errors.Newf(format, args...))
}

// Internal wraps cause (typically a recovered panic) as a KindInternal error.
func Internal(cause error, format string, args ...interface{}) error {
	return wrap(KindInternal, errors.Wrapf(cause, format, args...))
}

// WorkDelayed constructs a retryable KindWorkDelayed error, the scheduler's
// typed hint that a merge job's dependencies are not yet satisfied.
func WorkDelayed(retryAfter time.Duration, format string, args ...interface{}) error {
	e := wrap(KindWorkDelayed, errors.Newf(format, args...)).(*typedError)
	e.retryAfter = retryAfter
	return e
}

// Is reports whether err (or any error in its chain) carries the given Kind.
func Is(err error, kind Kind) bool {
	var te *typedError
	if errors.As(err, &te) {
		return te.kind == kind
	}
	return false
}

// RetryAfter extracts the retry hint from a KindWorkDelayed error chain, or
// zero if err isn't one.
func RetryAfter(err error) time.Duration {
	var te *typedError
	if errors.As(err, &te) {
		return te.retryAfter
	}
	return 0
}
