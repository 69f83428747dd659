package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/cosplaymagic/server/internal/shared/errors"
	"github.com/cosplaymagic/server/internal/shared/response"
)

const (
	// RateLimitRemaining is the header for remaining requests.
	RateLimitRemaining = "X-RateLimit-Remaining"
	// RateLimitLimit is the header for the limit.
	RateLimitLimit = "X-RateLimit-Limit"
	// RetryAfter is the header for retry time.
	RetryAfter = "Retry-After"
)

// RateLimitConfig holds rate limit configuration.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// KeyFunc derives the limiter key. Defaults to identity, then client IP.
	KeyFunc func(*gin.Context) string
}

// RateLimit returns a middleware that limits requests using the given limiter.
// Limiter errors let the request through.
func RateLimit(limiter RateLimiter, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = identityOrIP
	}

	return func(c *gin.Context) {
		if limiter == nil || cfg.Limit <= 0 {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), cfg.KeyFunc(c), cfg.Limit, cfg.Window)
		if err != nil {
			_ = c.Error(err)
			c.Next()
			return
		}

		c.Header(RateLimitLimit, strconv.Itoa(cfg.Limit))
		c.Header(RateLimitRemaining, strconv.Itoa(result.Remaining))

		if !result.Allowed {
			c.Header(RetryAfter, strconv.Itoa(int(cfg.Window.Seconds())))
			response.AbortWithError(c, apperrors.RateLimited("Too many requests, please try again later"))
			return
		}

		c.Next()
	}
}

func identityOrIP(c *gin.Context) string {
	if identity := GetIdentity(c); identity != "" {
		return "user:" + identity
	}
	return "ip:" + c.ClientIP()
}
