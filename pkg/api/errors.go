package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure independently of the wire protocol.
type ErrorKind string

const (
	KindDecode       ErrorKind = "decode"
	KindNotFound     ErrorKind = "not_found"
	KindDuplicate    ErrorKind = "duplicate"
	KindHandler      ErrorKind = "handler"
	KindOverload     ErrorKind = "overload"
	KindTimeout      ErrorKind = "timeout"
	KindBackpressure ErrorKind = "backpressure"
	KindCancelled    ErrorKind = "cancelled"
	KindInternal     ErrorKind = "internal"

	// Admission failures raised before dispatch by the auth layer.
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindRateLimited     ErrorKind = "rate_limited"
)

// Retryable reports whether a caller may retry work that failed with this
// kind. Overload, Timeout, Backpressure and RateLimited are transient
// conditions.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindOverload, KindTimeout, KindBackpressure, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is a classified dispatcher error.
type Error struct {
	Kind    ErrorKind `json:"type"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`

	// CorrelationID is set by codecs on decode failures so the error reply
	// can still be addressed (the JSON-RPC id, for example).
	CorrelationID  string `json:"-"`
	HasCorrelation bool   `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the error is transient.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// Is matches another *Error by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	out := *e
	out.cause = cause
	return &out
}

// WithCorrelation returns a copy of e that carries the correlation id of the
// request it failed on.
func (e *Error) WithCorrelation(id string) *Error {
	out := *e
	out.CorrelationID = id
	out.HasCorrelation = true
	return &out
}

// Sentinel errors. Compare with errors.Is.
var (
	ErrMissingMethod = &Error{Kind: KindDecode, Code: "missing_method", Message: "Method not found"}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "no handler registered"}
	ErrDuplicate     = &Error{Kind: KindDuplicate, Message: "handler already registered"}
	ErrOverload      = &Error{Kind: KindOverload, Message: "too many in-flight requests"}
	ErrTimeout       = &Error{Kind: KindTimeout, Message: "handler exceeded its time limit"}
	ErrBackpressure  = &Error{Kind: KindBackpressure, Message: "session outbound queue is full"}
	ErrCancelled     = &Error{Kind: KindCancelled, Message: "request cancelled"}
)

// NewDecodeError creates an Error for malformed input.
func NewDecodeError(code, message string) *Error {
	return &Error{Kind: KindDecode, Code: code, Message: message}
}

// NewHandlerError creates an Error for a domain-specific handler failure.
func NewHandlerError(code, message string) *Error {
	return &Error{Kind: KindHandler, Code: code, Message: message}
}

// NewInternalError creates an Error for an unexpected server-side failure.
func NewInternalError(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// NotFoundf creates a not_found Error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// AsError classifies an arbitrary error. An *Error anywhere in the chain is
// returned as is; anything else becomes a handler error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return (&Error{Kind: KindHandler, Message: err.Error()}).WithCause(err)
}
