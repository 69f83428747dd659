package response

import (
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "github.com/cosplaymagic/server/internal/shared/errors"
)

// AbortWithError writes the error body and stops the handler chain.
func AbortWithError(c *gin.Context, err *apperrors.AppError) {
	if err.Err != nil {
		_ = c.Error(err.Err)
	}
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}

// BadRequest sends a 400 Bad Request response.
func BadRequest(c *gin.Context, message string) {
	AbortWithError(c, apperrors.BadRequest(message))
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	AbortWithError(c, apperrors.Unauthorized(message))
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, resource string) {
	AbortWithError(c, apperrors.NotFound(resource))
}

// InternalError sends a 500 Internal Server Error response.
func InternalError(c *gin.Context, err error) {
	AbortWithError(c, apperrors.Internal("", err))
}

// ErrorMapping maps domain errors to HTTP responses.
type ErrorMapping struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// HandleError handles an error using the provided mappings.
// Returns true if the error was handled, false otherwise.
func HandleError(c *gin.Context, err error, mappings []ErrorMapping) bool {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		AbortWithError(c, appErr)
		return true
	}

	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			msg := m.Message
			if msg == "" {
				msg = m.Err.Error()
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(m.Status, apperrors.ErrorResponse{
				Error: apperrors.ErrorDetail{Code: m.Code, Message: msg},
			})
			return true
		}
	}
	return false
}

// HandleErrorWithDefault handles an error with a default fallback.
func HandleErrorWithDefault(c *gin.Context, err error, mappings []ErrorMapping) {
	if !HandleError(c, err, mappings) {
		InternalError(c, err)
	}
}
