package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/module/ai"
	"github.com/cosplaymagic/server/internal/utils/metrics"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, srv.Client(), zap.NewNop(), opts...)
}

func TestClient_SynthesizePrompt(t *testing.T) {
	t.Run("sends instruction and inline images", func(t *testing.T) {
		var got generateContentRequest
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"A knight "},{"text":"in armor"}]}}]}`)
		})

		text, err := client.SynthesizePrompt(context.Background(), "describe", []ai.Image{
			{Filename: "me.png", MIMEType: "image/png", Data: []byte("person")},
			{Filename: "hero.jpg", MIMEType: "image/jpeg", Data: []byte("hero")},
		})

		require.NoError(t, err)
		assert.Equal(t, "A knight in armor", text)
		require.Len(t, got.Contents, 1)
		parts := got.Contents[0].Parts
		require.Len(t, parts, 3)
		assert.Equal(t, "describe", parts[0].Text)
		assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
		assert.Equal(t, "cGVyc29u", parts[1].InlineData.Data)
		assert.Equal(t, "image/jpeg", parts[2].InlineData.MIMEType)
	})

	t.Run("empty candidates yield empty text", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"candidates":[]}`)
		})

		text, err := client.SynthesizePrompt(context.Background(), "describe", nil)

		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("blocked prompt", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
		})

		_, err := client.SynthesizePrompt(context.Background(), "describe", nil)

		assert.ErrorIs(t, err, ErrPromptBlocked)
	})

	t.Run("api error body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
		})

		_, err := client.SynthesizePrompt(context.Background(), "describe", nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
		assert.Contains(t, err.Error(), "API key not valid")
	})

	t.Run("malformed json", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"candidates":`)
		})

		_, err := client.SynthesizePrompt(context.Background(), "describe", nil)

		assert.Error(t, err)
	})
}

func TestClient_SynthesizeImage(t *testing.T) {
	t.Run("extracts predictions", func(t *testing.T) {
		var got predictRequest
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1beta/models/imagen-3.0-generate-002:predict", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = io.WriteString(w, `{"predictions":[{"bytesBase64Encoded":"/9j/","mimeType":"image/jpeg"}]}`)
		})

		res, err := client.SynthesizeImage(context.Background(), "a prompt", ai.ImageOptions{Count: 1, MIMEType: "image/jpeg"})

		require.NoError(t, err)
		require.Len(t, res.Images, 1)
		assert.Equal(t, "/9j/", res.Images[0].Base64)
		assert.Equal(t, "a prompt", got.Instances[0].Prompt)
		assert.Equal(t, 1, got.Parameters.SampleCount)
		assert.Equal(t, "image/jpeg", got.Parameters.OutputOptions.MIMEType)
	})

	t.Run("no predictions is not an error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"predictions":[{"raiFilteredReason":"filtered"}]}`)
		})

		res, err := client.SynthesizeImage(context.Background(), "p", ai.ImageOptions{})

		require.NoError(t, err)
		assert.Empty(t, res.Images)
	})
}

func TestClient_Unconfigured(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, srv.Client(), nil)

	_, err := client.SynthesizeImage(context.Background(), "p", ai.ImageOptions{})

	assert.ErrorIs(t, err, ai.ErrUnconfigured)
	assert.False(t, client.Configured())
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestClient_CircuitBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := metrics.NewWithRegistry(prometheus.NewRegistry(), "gemini_test")
	client := NewClient(Config{
		APIKey:           "k",
		BaseURL:          srv.URL,
		FailureThreshold: 2,
		CircuitTimeout:   time.Minute,
	}, srv.Client(), zap.NewNop(), WithRecorder(m))

	for i := 0; i < 4; i++ {
		_, err := client.SynthesizePrompt(context.Background(), "x", nil)
		assert.Error(t, err)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("gemini-2.5-flash", "error")))
}

func TestIsBreakerSuccess(t *testing.T) {
	assert.True(t, isBreakerSuccess(nil))
	assert.True(t, isBreakerSuccess(&APIError{StatusCode: http.StatusBadRequest}))
	assert.False(t, isBreakerSuccess(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isBreakerSuccess(&APIError{StatusCode: http.StatusBadGateway}))
	assert.True(t, isBreakerSuccess(context.Canceled))
}
