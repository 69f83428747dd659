package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cosplaymagic/server/internal/shared/logger"
	"github.com/cosplaymagic/server/internal/utils/metrics"
	"github.com/cosplaymagic/server/internal/utils/requestctx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockAuthenticator is a mock implementation of SessionAuthenticator.
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

// MockLimiter is a mock implementation of RateLimiter.
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Get(0).(RateLimitResult), args.Error(1)
}

func TestRequestID(t *testing.T) {
	t.Run("generates new request ID when not provided", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			assert.Equal(t, GetRequestID(c), requestctx.RequestID(c.Request.Context()))
			c.String(http.StatusOK, GetRequestID(c))
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		headerID := w.Header().Get(RequestIDHeader)
		assert.NotEmpty(t, headerID)
		assert.Equal(t, headerID, w.Body.String())
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "existing-request-id-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "existing-request-id-123", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "existing-request-id-123", w.Body.String())
	})

	t.Run("replaces unusable request ID", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		for _, bad := range []string{"has space", strings.Repeat("a", 65)} {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set(RequestIDHeader, bad)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.NotEqual(t, bad, w.Body.String())
			assert.Len(t, w.Body.String(), 36)
		}
	})
}

func TestRequireAuth(t *testing.T) {
	newRouter := func(auth SessionAuthenticator) *gin.Engine {
		router := gin.New()
		router.Use(RequireAuth(auth))
		router.GET("/me", func(c *gin.Context) {
			assert.Equal(t, GetIdentity(c), requestctx.Identity(c.Request.Context()))
			c.String(http.StatusOK, GetIdentity(c))
		})
		return router
	}

	t.Run("rejects missing header", func(t *testing.T) {
		auth := new(MockAuthenticator)
		w := httptest.NewRecorder()
		newRouter(auth).ServeHTTP(w, httptest.NewRequest("GET", "/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
		auth.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
	})

	t.Run("rejects invalid session", func(t *testing.T) {
		auth := new(MockAuthenticator)
		auth.On("Authenticate", mock.Anything, "stale").Return("", errors.New("session not found"))

		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set(AuthorizationHeader, "Bearer stale")
		w := httptest.NewRecorder()
		newRouter(auth).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("sets identity for valid session", func(t *testing.T) {
		auth := new(MockAuthenticator)
		auth.On("Authenticate", mock.Anything, "good").Return("mock_google_user_1", nil)

		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set(AuthorizationHeader, "Bearer good")
		w := httptest.NewRecorder()
		newRouter(auth).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "mock_google_user_1", w.Body.String())
		auth.AssertExpectations(t)
	})
}

func TestLogging(t *testing.T) {
	t.Run("logs successful requests", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(&logger.Config{Level: "info", Format: "json", Output: buf})

		router := gin.New()
		router.Use(RequestID())
		router.Use(Logging(log))
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		logOutput := buf.String()
		assert.Contains(t, logOutput, "HTTP Request")
		assert.Contains(t, logOutput, "/test")
		assert.Contains(t, logOutput, "request_id")
	})

	t.Run("logs 4xx requests as warnings", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(&logger.Config{Level: "warn", Format: "json", Output: buf})

		router := gin.New()
		router.Use(Logging(log))
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusPaymentRequired, "quota")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Contains(t, buf.String(), "WARN")
	})
}

func TestRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "error", Format: "json", Output: buf})

	router := gin.New()
	router.Use(Recovery(log))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(DefaultCORSConfig(nil)))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	newRouter := func(limiter RateLimiter) *gin.Engine {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set(IdentityKey, "user-1")
			c.Next()
		})
		router.Use(RateLimit(limiter, RateLimitConfig{Limit: 2, Window: time.Minute}))
		router.POST("/generations", func(c *gin.Context) {
			c.Status(http.StatusCreated)
		})
		return router
	}

	t.Run("rejects when limiter denies", func(t *testing.T) {
		limiter := new(MockLimiter)
		limiter.On("Allow", mock.Anything, "user:user-1", 2, time.Minute).
			Return(RateLimitResult{Allowed: false}, nil)

		w := httptest.NewRecorder()
		newRouter(limiter).ServeHTTP(w, httptest.NewRequest("POST", "/generations", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get(RetryAfter))
		assert.Contains(t, w.Body.String(), "RATE_LIMITED")
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		limiter := new(MockLimiter)
		limiter.On("Allow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(RateLimitResult{}, errors.New("redis down"))

		w := httptest.NewRecorder()
		newRouter(limiter).ServeHTTP(w, httptest.NewRequest("POST", "/generations", nil))

		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("memory limiter enforces burst", func(t *testing.T) {
		router := newRouter(NewMemoryLimiter())
		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("POST", "/generations", nil))
			codes = append(codes, w.Code)
		}

		assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
	})
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	first, err := l.Allow(ctx, "a", 1, time.Hour)
	require.NoError(t, err)
	second, _ := l.Allow(ctx, "a", 1, time.Hour)
	other, _ := l.Allow(ctx, "b", 1, time.Hour)

	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.True(t, other.Allowed)
}

func TestMemoryLimiter_EvictsIdleBuckets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	for _, key := range []string{"ip:1", "ip:2", "ip:3"} {
		_, err := l.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, l.Len())

	t.Run("active bucket survives sweep", func(t *testing.T) {
		now = now.Add(30 * time.Second)
		res, _ := l.Allow(ctx, "ip:1", 1, time.Minute)
		assert.False(t, res.Allowed)

		now = now.Add(45 * time.Second)
		_, _ = l.Allow(ctx, "ip:4", 1, time.Minute)

		// ip:2 and ip:3 sat idle for a full window.
		assert.Equal(t, 2, l.Len())
	})

	t.Run("evicted key starts with a full bucket", func(t *testing.T) {
		res, err := l.Allow(ctx, "ip:2", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})
}

func TestMetrics(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), "mw_test")

	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/api/v1/history/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/history/abc", nil))

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/history/:id", "4xx"))
	assert.Equal(t, float64(1), count)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.HTTPRequestsInFlight))
}
