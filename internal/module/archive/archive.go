// Package archive copies generated images to object storage.
package archive

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/shared/events"
)

// Driver names.
const (
	DriverNone  = "none"
	DriverS3    = "s3"
	DriverMinio = "minio"
)

// Archiver stores an object.
type Archiver interface {
	Driver() string
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ObjectKey returns the key of a generated image.
func ObjectKey(identity, entryID string) string {
	return path.Join("generations", identity, entryID+".jpeg")
}

// Noop discards everything.
type Noop struct{}

// Driver implements Archiver.
func (Noop) Driver() string { return DriverNone }

// Put implements Archiver.
func (Noop) Put(context.Context, string, []byte, string) error { return nil }

// Recorder counts uploads.
type Recorder interface {
	RecordArchiveUpload(driver string, err error)
}

// Handler archives images of completed generations. Upload failures are
// logged and never affect the generation.
type Handler struct {
	archiver Archiver
	recorder Recorder
	logger   *zap.Logger
}

// NewHandler creates the event handler. recorder may be nil.
func NewHandler(archiver Archiver, recorder Recorder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{archiver: archiver, recorder: recorder, logger: logger.Named("archive")}
}

// Handles implements events.Handler.
func (h *Handler) Handles() []string {
	return []string{events.GenerationCompletedType}
}

// Handle implements events.Handler.
func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.GenerationCompletedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	data, err := base64.StdEncoding.DecodeString(e.ImageBase64)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", e.EntryID, err)
	}

	contentType := e.MIMEType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := ObjectKey(e.AggregateID(), e.EntryID)
	err = h.archiver.Put(ctx, key, data, contentType)
	if h.recorder != nil {
		h.recorder.RecordArchiveUpload(h.archiver.Driver(), err)
	}
	if err != nil {
		h.logger.Error("failed to archive image", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("archive %s: %w", key, err)
	}

	h.logger.Debug("archived image", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
