package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenticmail/agenticmail/internal/llm"
	"github.com/agenticmail/agenticmail/internal/store"
)

// Kind classifies runtime errors for callers and for retry decisions.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidArgument    Kind = "invalid_argument"
	KindPreconditionFailed Kind = "precondition_failed"
	KindUnauthenticated    Kind = "unauthenticated"
	KindTransientUpstream  Kind = "transient_upstream"
	KindPermanentUpstream  Kind = "permanent_upstream"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindToolFailed         Kind = "tool_failed"
	KindInternal           Kind = "internal"
)

// Retryable reports whether an operation failing with this kind may
// succeed if retried.
func (k Kind) Retryable() bool {
	return k == KindTransientUpstream || k == KindTimeout
}

// Error is the structured error surfaced by runtime operations.
type Error struct {
	Kind      Kind
	Message   string
	SessionID string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.SessionID != "" {
		return fmt.Sprintf("[%s] session %s: %s", e.Kind, e.SessionID, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a structured error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithSession attaches the session id.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// KindOf extracts the kind from an error chain, classifying foreign
// errors by shape. Unclassifiable errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case llm.Transient(err):
		return KindTransientUpstream
	}
	return KindInternal
}
