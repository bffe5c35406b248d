package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrTimeout transient network/timeout class; retryable.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrProtocol bad JSON frame or unexpected response shape; not retryable.
	ErrProtocol ErrorCode = "PROTOCOL"
	// ErrNotFound unknown remote-agent id or tool name; permanent within a run.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrBudgetExceeded iteration/retry/re-route ceiling reached.
	ErrBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// ErrInternal unexpected failure at a stage boundary.
	ErrInternal ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code == ErrTimeout}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrInternal if none is attached.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrInternal
}

// IsTimeout checks whether err is a transient timeout-class error.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrTimeout
}

// IsNotFound checks whether err is a capability-not-found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsRetryable checks if an error is marked retryable.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
