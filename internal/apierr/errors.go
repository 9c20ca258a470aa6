package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"
)

// Code is a canonical, client-facing error code
type Code string

const (
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAuth             Code = "AUTH_ERROR"
	CodePermission       Code = "PERMISSION_ERROR"
	CodeConflict         Code = "CONFLICT"
	CodeRateLimit        Code = "RATE_LIMIT"
	CodeDatabase         Code = "DATABASE_ERROR"
	CodeInvalidReference Code = "INVALID_REFERENCE"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL_ERROR"
)

var defaultStatus = map[Code]int{
	CodeValidation:       http.StatusUnprocessableEntity,
	CodeNotFound:         http.StatusNotFound,
	CodeAuth:             http.StatusUnauthorized,
	CodePermission:       http.StatusForbidden,
	CodeConflict:         http.StatusConflict,
	CodeRateLimit:        http.StatusTooManyRequests,
	CodeDatabase:         http.StatusInternalServerError,
	CodeInvalidReference: http.StatusBadRequest,
	CodeTimeout:          http.StatusGatewayTimeout,
	CodeInternal:         http.StatusInternalServerError,
}

// Status returns the default HTTP status for a code
func (c Code) Status() int {
	if status, ok := defaultStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the single error type surfaced to API clients.
//
// Operational errors are expected domain failures whose message is safe to
// return verbatim. Non-operational errors are defects: they are logged in
// full and reported to the client with a generic message.
type Error struct {
	Status      int
	Code        Code
	Message     string
	Details     any
	Operational bool

	// RetryAfter is set on RATE_LIMIT errors
	RetryAfter time.Duration

	cause error
	stack []byte
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// WithStatus returns a copy of e with a different HTTP status
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// WithDetails returns a copy of e carrying details
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e wrapping cause
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// New creates an operational error with the default status for code
func New(code Code, message string) *Error {
	return &Error{
		Status:      code.Status(),
		Code:        code,
		Message:     message,
		Operational: true,
	}
}

// Validation creates a VALIDATION_ERROR carrying field level details
func Validation(message string, details any) *Error {
	return New(CodeValidation, message).WithDetails(details)
}

// BadRequest creates a VALIDATION_ERROR reported with status 400, used for
// malformed ids, query parameters and request bodies.
func BadRequest(message string) *Error {
	return New(CodeValidation, message).WithStatus(http.StatusBadRequest)
}

// NotFound creates a NOT_FOUND error for a resource instance
func NotFound(resource, id string) *Error {
	if id == "" {
		return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
	}
	return New(CodeNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// Auth creates an AUTH_ERROR
func Auth(message string) *Error {
	return New(CodeAuth, message)
}

// Permission creates a PERMISSION_ERROR
func Permission(message string) *Error {
	return New(CodePermission, message)
}

// Conflict creates a CONFLICT error
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// RateLimited creates a RATE_LIMIT error
func RateLimited(retryAfter time.Duration) *Error {
	e := New(CodeRateLimit, "Too many requests, please try again later")
	e.RetryAfter = retryAfter
	return e
}

// Database creates a DATABASE_ERROR wrapping the provider failure
func Database(cause error) *Error {
	e := New(CodeDatabase, "A database error occurred")
	e.cause = cause
	return e
}

// InvalidReference creates an INVALID_REFERENCE error
func InvalidReference(message string) *Error {
	return New(CodeInvalidReference, message)
}

// Internal creates a non-operational INTERNAL_ERROR
func Internal(cause error) *Error {
	return &Error{
		Status:      http.StatusInternalServerError,
		Code:        CodeInternal,
		Message:     "Internal server error",
		Operational: false,
		cause:       cause,
		stack:       debug.Stack(),
	}
}

// Stack returns the stack captured when a non-operational error was created
func (e *Error) Stack() string {
	return string(e.stack)
}

// ProviderCoder is implemented by persistence errors that carry a
// provider specific error code.
type ProviderCoder interface {
	error
	ProviderCode() string
}

// Provider error codes, matching the codes used by the ORM the API was
// first built on so existing clients and dashboards keep working.
const (
	ProviderUniqueViolation     = "P2002"
	ProviderForeignKeyViolation = "P2003"
	ProviderRecordNotFound      = "P2025"
)

// From converts any error into an *Error. It is the single translation point
// between handler/provider failures and the client-facing taxonomy.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(CodeTimeout, "The request timed out").WithCause(err)
	}

	var pe ProviderCoder
	if errors.As(err, &pe) {
		return fromProvider(pe)
	}

	return Internal(err)
}

func fromProvider(pe ProviderCoder) *Error {
	switch pe.ProviderCode() {
	case ProviderUniqueViolation:
		return Conflict("A record with this value already exists").WithCause(pe)
	case ProviderRecordNotFound:
		return New(CodeNotFound, "Record not found").WithCause(pe)
	case ProviderForeignKeyViolation:
		return InvalidReference("Invalid reference to related record").WithCause(pe)
	default:
		return Database(pe)
	}
}
