// Package apperr defines the error taxonomy shared by every component and the
// wire envelope returned to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class on the wire.
type Code string

// Error codes shared with the task backend and returned to clients.
const (
	CodeInvalidParameter   Code = "invalid_parameter"
	CodeTaskNotFound       Code = "task_not_found"
	CodeUnauthorized       Code = "unauthorized_access"
	CodeAuthRequired       Code = "authentication_required"
	CodeDatabaseError      Code = "database_error"
	CodeRateLimited        Code = "rate_limit_exceeded"
	CodeInvalidState       Code = "invalid_state"
	CodeConflict           Code = "conflict"
	CodeAmbiguousReference Code = "ambiguous_reference"
	CodeCompositionError   Code = "composition_error"
	CodeUnavailable        Code = "service_unavailable"
	CodeTimeout            Code = "timeout"
)

// Error is a classified application error. Details carries structured hints
// such as reset_in_seconds for rate limits or the candidate list for
// ambiguous references.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	wrapped error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// WithDetail returns the error with one detail field set.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is matches errors by code so callers can compare against sentinel values.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the code from any error. Unclassified errors map to
// database_error: by the time an error escapes a component it is a backend
// failure as far as the caller is concerned.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeDatabaseError
}

// IsRetryable reports whether the orchestrator may retry the failed call.
// Only transient backend failures and timeouts qualify; validation, auth,
// not-found and state errors are terminal.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeDatabaseError, CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a code to the response status. task_not_found maps to 403
// at the boundary: where ownership is the real gate, a 404 would leak
// resource existence.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidParameter:
		return http.StatusBadRequest
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeUnauthorized, CodeTaskNotFound:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeInvalidState:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the wire form of an error: {error, message, details, status}.
type Envelope struct {
	ErrorCode Code           `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Status    string         `json:"status"`
}

// ToEnvelope converts any error into the wire envelope. Internal causes are
// not echoed to clients.
func ToEnvelope(err error) Envelope {
	var appErr *Error
	if errors.As(err, &appErr) {
		return Envelope{
			ErrorCode: appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Status:    "error",
		}
	}
	return Envelope{
		ErrorCode: CodeDatabaseError,
		Message:   "internal error",
		Status:    "error",
	}
}

// FromEnvelope reconstructs an Error from a decoded backend envelope.
func FromEnvelope(env Envelope) *Error {
	return &Error{Code: env.ErrorCode, Message: env.Message, Details: env.Details}
}
