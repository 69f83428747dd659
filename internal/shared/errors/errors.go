package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrBadRequest      = errors.New("bad request")
	ErrMalformedUpload = errors.New("malformed upload")
	ErrConflict        = errors.New("resource conflict")
	ErrInternal        = errors.New("internal error")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnconfigured    = errors.New("service unconfigured")
	ErrUpstreamFailed  = errors.New("upstream generation failed")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches extra response fields.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// ErrorResponse represents the JSON error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return NewAppError("NOT_FOUND", fmt.Sprintf("%s not found", resource), http.StatusNotFound, ErrNotFound)
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return NewAppError("UNAUTHORIZED", message, http.StatusUnauthorized, ErrUnauthorized)
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return NewAppError("BAD_REQUEST", message, http.StatusBadRequest, ErrBadRequest)
}

// MalformedUpload rejects an uploaded image before it reaches generation.
func MalformedUpload(message string) *AppError {
	return NewAppError("MALFORMED_UPLOAD", message, http.StatusUnprocessableEntity, ErrMalformedUpload)
}

// Conflict creates a conflict error.
func Conflict(code, message string) *AppError {
	if code == "" {
		code = "CONFLICT"
	}
	return NewAppError(code, message, http.StatusConflict, ErrConflict)
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	if message == "" {
		message = "internal error"
	}
	return NewAppError("INTERNAL_ERROR", message, http.StatusInternalServerError, err)
}

// QuotaExceeded creates a quota exceeded error.
func QuotaExceeded(message string) *AppError {
	return NewAppError("QUOTA_EXCEEDED", message, http.StatusPaymentRequired, ErrQuotaExceeded)
}

// RateLimited creates a rate limited error.
func RateLimited(message string) *AppError {
	if message == "" {
		message = "too many requests"
	}
	return NewAppError("RATE_LIMITED", message, http.StatusTooManyRequests, ErrRateLimited)
}

// Unconfigured reports a missing credential for an outbound dependency.
func Unconfigured(message string) *AppError {
	if message == "" {
		message = "service is not configured"
	}
	return NewAppError("UNCONFIGURED", message, http.StatusServiceUnavailable, ErrUnconfigured)
}

// GenerationFailed reports an upstream synthesis failure.
func GenerationFailed(message string) *AppError {
	return NewAppError("GENERATION_FAILED", message, http.StatusBadGateway, ErrUpstreamFailed)
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
		},
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrMalformedUpload):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnconfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
