package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns message", func(t *testing.T) {
		err := &AppError{Code: "TEST_ERROR", Message: "test error message"}
		assert.Equal(t, "test error message", err.Error())
	})

	t.Run("Error includes wrapped error", func(t *testing.T) {
		err := &AppError{Code: "TEST_ERROR", Message: "save failed", Err: errors.New("disk full")}
		assert.Equal(t, "save failed: disk full", err.Error())
	})

	t.Run("Unwrap exposes sentinel", func(t *testing.T) {
		err := QuotaExceeded("You've used all your free generations.")
		assert.True(t, errors.Is(err, ErrQuotaExceeded))
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("history entry"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"unauthorized", Unauthorized(""), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"bad request", BadRequest("missing prompt"), "BAD_REQUEST", http.StatusBadRequest, ErrBadRequest},
		{"malformed upload", MalformedUpload("too large"), "MALFORMED_UPLOAD", http.StatusUnprocessableEntity, ErrMalformedUpload},
		{"conflict", Conflict("GENERATION_IN_PROGRESS", "busy"), "GENERATION_IN_PROGRESS", http.StatusConflict, ErrConflict},
		{"quota", QuotaExceeded("limit"), "QUOTA_EXCEEDED", http.StatusPaymentRequired, ErrQuotaExceeded},
		{"rate limited", RateLimited(""), "RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited},
		{"unconfigured", Unconfigured(""), "UNCONFIGURED", http.StatusServiceUnavailable, ErrUnconfigured},
		{"generation failed", GenerationFailed("no image"), "GENERATION_FAILED", http.StatusBadGateway, ErrUpstreamFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, "authentication required", Unauthorized("").Message)
		assert.Equal(t, "too many requests", RateLimited("").Message)
		assert.Equal(t, "CONFLICT", Conflict("", "x").Code)
		assert.Equal(t, "internal error", Internal("", nil).Message)
	})
}

func TestToResponse(t *testing.T) {
	err := QuotaExceeded("limit reached").WithDetails(map[string]any{"remaining": 0})

	resp := err.ToResponse()

	assert.Equal(t, "QUOTA_EXCEEDED", resp.Error.Code)
	assert.Equal(t, "limit reached", resp.Error.Message)
	assert.Equal(t, 0, resp.Error.Details["remaining"])
}

func TestGetStatusCode(t *testing.T) {
	t.Run("from AppError", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, GetStatusCode(NotFound("entry")))
	})

	t.Run("from wrapped sentinel errors", func(t *testing.T) {
		tests := []struct {
			err      error
			expected int
		}{
			{ErrNotFound, http.StatusNotFound},
			{ErrUnauthorized, http.StatusUnauthorized},
			{ErrBadRequest, http.StatusBadRequest},
			{ErrMalformedUpload, http.StatusUnprocessableEntity},
			{ErrConflict, http.StatusConflict},
			{ErrQuotaExceeded, http.StatusPaymentRequired},
			{ErrRateLimited, http.StatusTooManyRequests},
			{ErrUnconfigured, http.StatusServiceUnavailable},
			{ErrUpstreamFailed, http.StatusBadGateway},
			{errors.New("boom"), http.StatusInternalServerError},
		}

		for _, tt := range tests {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.Equal(t, tt.expected, GetStatusCode(wrapped), tt.err.Error())
		}
	})
}
