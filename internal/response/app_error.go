package response

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the structured error carried between components. It wraps
// the original cause so errors.Is/As keep working across boundaries.
type AppError struct {
	Code    ErrCode
	Details string // developer-only context, stripped in release mode
	Err     error
}

// NewAppError builds an AppError wrapping an optional cause.
func NewAppError(code ErrCode, cause error) *AppError {
	return &AppError{Code: code, Err: cause}
}

// WithDetails attaches developer context and returns the same error.
func (e *AppError) WithDetails(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *AppError) Unwrap() error { return e.Err }

// Category returns the taxonomy category of the error.
func (e *AppError) Category() Category { return CategoryOf(e.Code) }

// Message returns the sanitized user-facing message.
func (e *AppError) Message() string { return GetMessage(e.Code) }

// AsAppError extracts an AppError from an error chain, defaulting to
// INTERNAL_ERROR for unclassified failures.
func AsAppError(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	return NewAppError(ErrInternal, err)
}

// HTTPStatus maps an error code to its HTTP status. Category drives the
// default; a few codes carry specific overrides.
func HTTPStatus(code ErrCode) int {
	switch code {
	case ErrSessionEnded, ErrSessionExpired:
		return http.StatusConflict
	case ErrDBTimeout:
		return http.StatusGatewayTimeout
	}

	switch CategoryOf(code) {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict:
		return http.StatusConflict
	case CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryServiceUnavailable:
		return http.StatusServiceUnavailable
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
