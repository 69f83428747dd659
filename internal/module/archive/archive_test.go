package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/shared/config"
	"github.com/cosplaymagic/server/internal/shared/events"
	"github.com/cosplaymagic/server/internal/utils/metrics"
)

// MockArchiver is a mock implementation of Archiver.
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Driver() string { return "mock" }

func (m *MockArchiver) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.Called(ctx, key, data, contentType).Error(0)
}

func completed(identity, entryID string, image []byte) *events.GenerationCompletedEvent {
	return &events.GenerationCompletedEvent{
		BaseEvent:   events.NewBaseEvent(events.GenerationCompletedType, identity, time.Now()),
		EntryID:     entryID,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		MIMEType:    "image/jpeg",
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "generations/user-1/e1.jpeg", ObjectKey("user-1", "e1"))
}

func TestHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads decoded image", func(t *testing.T) {
		arch := new(MockArchiver)
		arch.On("Put", mock.Anything, "generations/u/e1.jpeg", []byte("jpeg"), "image/jpeg").Return(nil)
		m := metrics.NewWithRegistry(prometheus.NewRegistry(), "archive_test")
		h := NewHandler(arch, m, zap.NewNop())

		require.NoError(t, h.Handle(ctx, completed("u", "e1", []byte("jpeg"))))

		arch.AssertExpectations(t)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ArchiveUploadsTotal.WithLabelValues("mock", "success")))
	})

	t.Run("upload failure is reported", func(t *testing.T) {
		arch := new(MockArchiver)
		arch.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("access denied"))
		h := NewHandler(arch, nil, nil)

		err := h.Handle(ctx, completed("u", "e1", []byte("jpeg")))

		assert.ErrorContains(t, err, "access denied")
	})

	t.Run("bus keeps going after failure", func(t *testing.T) {
		arch := new(MockArchiver)
		arch.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("offline"))
		bus := events.NewBus(zap.NewNop())
		bus.Register(NewHandler(arch, nil, nil))

		assert.NotPanics(t, func() {
			bus.Publish(ctx, completed("u", "e1", []byte("jpeg")))
		})
		arch.AssertNumberOfCalls(t, "Put", 1)
	})

	t.Run("rejects other events", func(t *testing.T) {
		h := NewHandler(Noop{}, nil, nil)

		err := h.Handle(ctx, &events.GenerationFailedEvent{BaseEvent: events.NewBaseEvent(events.GenerationFailedType, "u", time.Now())})

		assert.Error(t, err)
	})
}

func TestS3_Put(t *testing.T) {
	var (
		mu          sync.Mutex
		gotPath     string
		gotBody     string
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotBody = string(body)
		contentType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	arch, err := NewS3(context.Background(), &S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "cosplay",
	})
	require.NoError(t, err)

	require.NoError(t, arch.Put(context.Background(), "generations/u/e1.jpeg", []byte("jpeg-bytes"), "image/jpeg"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/cosplay/generations/u/e1.jpeg", gotPath)
	assert.True(t, strings.Contains(gotBody, "jpeg-bytes"))
	assert.Equal(t, "image/jpeg", contentType)
	assert.Equal(t, DriverS3, arch.Driver())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		a, err := New(ctx, &config.ArchiveConfig{Driver: "none"})
		require.NoError(t, err)
		assert.Equal(t, DriverNone, a.Driver())
	})

	t.Run("incomplete s3", func(t *testing.T) {
		_, err := New(ctx, &config.ArchiveConfig{Driver: "s3"})
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := New(ctx, &config.ArchiveConfig{Driver: "ftp"})
		assert.Error(t, err)
	})
}
