// Package errkind defines the error taxonomy shared by the query pipeline.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the category of a pipeline failure.
type Kind string

const (
	ArtifactNotFound     Kind = "artifact_not_found"
	ArtifactCorrupt      Kind = "artifact_corrupt"
	BudgetExceeded       Kind = "budget_exceeded"
	TransportTimeout     Kind = "transport_timeout"
	TransportFailure     Kind = "transport_failure"
	PredicateRenderError Kind = "predicate_render_error"
	InvalidInput         Kind = "invalid_input"
	Unknown              Kind = "unknown"
)

// Base errors, one per kind.
var (
	ErrArtifactNotFound     = errors.New("artifact not found")
	ErrArtifactCorrupt      = errors.New("artifact corrupt")
	ErrBudgetExceeded       = errors.New("scan budget exceeded")
	ErrTransportTimeout     = errors.New("transport timeout")
	ErrTransportFailure     = errors.New("transport failure")
	ErrPredicateRenderError = errors.New("predicate cannot be rendered")
	ErrInvalidInput         = errors.New("invalid input")
)

var sentinels = map[Kind]error{
	ArtifactNotFound:     ErrArtifactNotFound,
	ArtifactCorrupt:      ErrArtifactCorrupt,
	BudgetExceeded:       ErrBudgetExceeded,
	TransportTimeout:     ErrTransportTimeout,
	TransportFailure:     ErrTransportFailure,
	PredicateRenderError: ErrPredicateRenderError,
	InvalidInput:         ErrInvalidInput,
}

// Error is a categorized failure with enough context to show a user.
type Error struct {
	Kind Kind
	Op   string // e.g. "locate", "plan", "scan"
	Path string // remote path involved, if any
	Hint string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": "
	if e.Path != "" {
		msg += e.Path + ": "
	}
	if e.Err != nil {
		msg += e.Err.Error()
	} else if base, ok := sentinels[e.Kind]; ok {
		msg += base.Error()
	} else {
		msg += string(e.Kind)
	}
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the base error of the kind as well as the wrapped error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if base, ok := sentinels[e.Kind]; ok && base == target {
		return true
	}
	return false
}

// New creates a categorized error.
func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Newf creates a categorized error from a format string.
func Newf(kind Kind, op, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// WithHint attaches a user-facing hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOf extracts the kind of err. Context deadline errors count as transport
// timeouts since the transport enforces timeouts through the context.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	for kind, base := range sentinels {
		if errors.Is(err, base) {
			return kind
		}
	}
	return Unknown
}

