package errors

import (
	"errors"
	"net/http"
)

// Sentinel error kinds. Callers classify failures with errors.Is against
// these, never by string matching.
var (
	ErrNotFound    = errors.New("record not found")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("number conflict")
	ErrUnavailable = errors.New("store unavailable")
	ErrInternal    = errors.New("internal error")
)

// AppError carries an error kind plus the context needed at the API
// boundary: an HTTP status, a user-facing message and whether a retry
// could help.
type AppError struct {
	Err        error
	StatusCode int
	Message    string
	Retryable  bool
}

// Error returns the error message.
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error kind.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError with the given parameters.
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewValidationError creates a validation error. Rejected before any
// write; never retried.
func NewValidationError(message string) *AppError {
	return NewAppError(ErrValidation, message, http.StatusUnprocessableEntity, false)
}

// NewConflictError creates a conflict error for a number that lost a
// race with a concurrent allocator.
func NewConflictError(message string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, true)
}

// NewUnavailableError creates an unavailable error for a store that
// could not be reached after the fallback attempts were exhausted.
func NewUnavailableError(message string) *AppError {
	return NewAppError(ErrUnavailable, message, http.StatusServiceUnavailable, true)
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, false)
}

// IsRetryable reports whether a retry of the failed operation could
// reasonably succeed.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}

// StatusCode maps an error to the HTTP status the API should answer
// with. Unknown errors map to 500.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
