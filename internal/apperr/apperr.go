// Package apperr defines the stable error taxonomy surfaced by orderd.
//
// Every failure that crosses the API boundary is represented as an *Error
// carrying a stable code, severity, retryability, an optional retry-after
// hint, and contextual tags. The taxonomy deliberately distinguishes client
// faults (4xx, non-retryable) from server saturation (503 + retry-after) so
// that callers implement backoff instead of hammering a saturated service.
package apperr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tradeforge/orderd/internal/storage"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeOverloaded Code = "SERVICE_OVERLOADED"
	CodeDependency Code = "DEPENDENCY_FAILURE"
	CodeRuntime    Code = "RUNTIME_ERROR"
)

// Severity labels an error for logging and metrics.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is the uniform error shape for the service.
type Error struct {
	Code       Code
	Message    string
	Severity   Severity
	Retryable  bool
	RetryAfter int // seconds; 0 means no hint
	Details    map[string]any

	httpStatus int // optional override (413 for over-size batches)
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error to its response status.
func (e *Error) HTTPStatus() int {
	if e.httpStatus != 0 {
		return e.httpStatus
	}
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeOverloaded, CodeDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusClass returns "4xx" or "5xx" for metric tagging.
func (e *Error) StatusClass() string {
	if e.HTTPStatus() < 500 {
		return "4xx"
	}
	return "5xx"
}

// WithDetail attaches a contextual tag and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Body is the uniform JSON error response.
type Body struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	RetryAfter *int           `json:"retryAfter"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// ResponseBody builds the wire form of the error.
func (e *Error) ResponseBody() Body {
	b := Body{
		Code:      e.Code,
		Message:   e.Message,
		Timestamp: time.Now().UTC(),
		Details:   e.Details,
	}
	if e.RetryAfter > 0 {
		ra := e.RetryAfter
		b.RetryAfter = &ra
	}
	return b
}

// Validation reports malformed input, missing fields, or empty batches.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Severity: SeverityWarning}
}

// TooLarge reports a batch exceeding its size limit. Same taxonomy code as
// validation but mapped to 413 so clients can distinguish splitting from fixing.
func TooLarge(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Severity: SeverityWarning, httpStatus: http.StatusRequestEntityTooLarge}
}

// NotFound reports an absent referenced entity.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg, Severity: SeverityWarning}
}

// Conflict reports a version mismatch or referential constraint violation.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg, Severity: SeverityWarning}
}

// Overloaded reports server saturation. reason tags the trigger
// (breaker_open, gate_timeout, pool_exhausted, tx_deadline).
func Overloaded(msg, reason string, retryAfter int) *Error {
	e := &Error{
		Code:       CodeOverloaded,
		Message:    msg,
		Severity:   SeverityError,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
	return e.WithDetail("reason", reason)
}

// Dependency reports a transient downstream or network failure.
func Dependency(msg string, cause error) *Error {
	return &Error{Code: CodeDependency, Message: msg, Severity: SeverityError, Retryable: true, cause: cause}
}

// Runtime reports an unexpected storage or logic failure.
func Runtime(msg string, cause error) *Error {
	return &Error{Code: CodeRuntime, Message: msg, Severity: SeverityCritical, cause: cause}
}

// Classify normalizes an arbitrary error into the taxonomy.
//
// Context deadline and pool-acquisition timeouts indicate saturation and map
// to SERVICE_OVERLOADED per the retry contract; everything unrecognized is a
// RUNTIME_ERROR so it is never silently retried by clients.
func Classify(err error, retryAfter int) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NotFound(err.Error())
	case errors.Is(err, storage.ErrVersionConflict):
		return Conflict("version mismatch")
	case errors.Is(err, storage.ErrReferenced):
		return Conflict("row is referenced by existing orders")
	case errors.Is(err, storage.ErrDuplicate):
		return Conflict("duplicate value")
	case errors.Is(err, context.DeadlineExceeded):
		return Overloaded("operation deadline exceeded", "tx_deadline", retryAfter).
			WithDetail("cause", err.Error())
	case errors.Is(err, sql.ErrConnDone):
		return Overloaded("database connection unavailable", "pool_exhausted", retryAfter)
	default:
		return Runtime("internal error", err)
	}
}
