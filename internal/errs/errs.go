// Package errs defines the error kinds the core distinguishes between.
// Suspension points the engine branches on return one of these wrapped
// around their underlying cause; some failures, such as the AI client's
// circuit-breaker errors and several store reads, are returned as plain
// wrapped errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the engine surfaces to its callers.
type Kind string

const (
	// InvalidInput is surfaced directly and never retried.
	InvalidInput Kind = "invalid_input"
	// NotFound means zero indexed chunks, or a missing conversation id.
	NotFound Kind = "not_found"
	// UpstreamUnavailable means an embedding/LLM/vector/metadata health
	// check failed; the caller may retry.
	UpstreamUnavailable Kind = "upstream_unavailable"
	// Timeout means a suspension point exceeded the request deadline.
	Timeout Kind = "timeout"
	// QualityPersistenceError means a quality record failed to write; it
	// is logged and does not fail the query response.
	QualityPersistenceError Kind = "quality_persistence_error"
	// IntegrityViolation means a double-write of a per-conversation
	// quality record was attempted.
	IntegrityViolation Kind = "integrity_violation"
	// GenerationFailed means the LLM call itself failed or timed out.
	GenerationFailed Kind = "generation_failed"
)

// Error wraps an underlying cause with one of the Kinds above.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// New builds a Kind-tagged error without an underlying cause.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Wrap builds a Kind-tagged error around an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == kind
}
