package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/cosplaymagic/server/internal/shared/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errEntryMissing = errors.New("entry missing")

func serve(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	router := gin.New()
	router.GET("/test", handler)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	return w
}

func TestHandleErrorWithDefault(t *testing.T) {
	mappings := []ErrorMapping{
		{Err: errEntryMissing, Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "History entry not found"},
	}

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"app error passes through", apperrors.QuotaExceeded("limit reached"), http.StatusPaymentRequired, "QUOTA_EXCEEDED"},
		{"mapped sentinel", errEntryMissing, http.StatusNotFound, "History entry not found"},
		{"wrapped sentinel", errors.Join(errors.New("load"), errEntryMissing), http.StatusNotFound, "NOT_FOUND"},
		{"unmapped error", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(func(c *gin.Context) {
				HandleErrorWithDefault(c, tt.err, mappings)
			})

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Run("bad request", func(t *testing.T) {
		w := serve(func(c *gin.Context) { BadRequest(c, "Invalid request body.") })

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":{"code":"BAD_REQUEST","message":"Invalid request body."}}`, w.Body.String())
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		w := serve(func(c *gin.Context) { InternalError(c, errors.New("secret detail")) })

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "secret detail")
	})
}
