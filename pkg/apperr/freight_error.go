// Package apperr carries structured errors across the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeForbidden    = "FORBIDDEN"

	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"
	CodeMissingField = "MISSING_FIELD"

	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"

	CodeDatabaseError = "DATABASE_ERROR"
	CodeOracleError   = "ORACLE_ERROR"
	CodeRateLimited   = "RATE_LIMITED"

	CodeInternalError = "INTERNAL_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of e with an extra detail entry.
func (e *AppError) WithDetail(key string, value any) *AppError {
	c := *e
	c.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

// WithError returns a copy of e wrapping err.
func (e *AppError) WithError(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(message string) *AppError {
	return New(CodeInvalidToken, message, http.StatusUnauthorized)
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message, http.StatusBadRequest)
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// InvalidState is returned when an operation does not apply to the current state of a resource.
func InvalidState(message string, err error) *AppError {
	return Wrap(err, CodeInvalidState, message, http.StatusConflict)
}

func DatabaseError(operation string, err error) *AppError {
	return Wrap(err, CodeDatabaseError, fmt.Sprintf("database error: %s", operation), http.StatusInternalServerError)
}

func OracleError(kind string, err error) *AppError {
	return &AppError{
		Code:    CodeOracleError,
		Message: fmt.Sprintf("oracle unavailable: %s", kind),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"oracle": kind},
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return New(CodeInternalError, message, http.StatusInternalServerError)
}

func InternalWithError(err error) *AppError {
	return Wrap(err, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

func Timeout(operation string) *AppError {
	return New(CodeTimeout, fmt.Sprintf("operation timed out: %s", operation), http.StatusGatewayTimeout)
}

var (
	ErrUnauthorized = Unauthorized("")
	ErrRateLimited  = New(CodeRateLimited, "too many requests", http.StatusTooManyRequests)
)

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError unwraps an AppError or wraps err as an internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
