package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/cosplaymagic/server/internal/shared/errors"
	"github.com/cosplaymagic/server/internal/shared/response"
	"github.com/cosplaymagic/server/internal/utils/requestctx"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// IdentityKey is the gin context key for the authenticated identity.
	IdentityKey = "identity"
)

// SessionAuthenticator resolves a bearer token to a live identity.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// RequireAuth rejects requests without a valid token and live session.
func RequireAuth(auth SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			response.Unauthorized(c, "Please log in to continue.")
			return
		}

		identity, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, apperrors.NewAppError(
				"INVALID_TOKEN", "Invalid or expired session", http.StatusUnauthorized, err,
			))
			return
		}

		c.Set(IdentityKey, identity)
		c.Request = c.Request.WithContext(requestctx.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
}

// GetIdentity returns the authenticated identity, or "" if absent.
func GetIdentity(c *gin.Context) string {
	return c.GetString(IdentityKey)
}

// GetToken returns the raw bearer token of the request.
func GetToken(c *gin.Context) string {
	return extractBearerToken(c)
}
