package events

import (
	"context"

	"go.uber.org/zap"
)

// AuditHandler writes one structured log line per domain event.
type AuditHandler struct {
	logger *zap.Logger
}

// NewAuditHandler creates an audit log handler.
func NewAuditHandler(logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{logger: logger.Named("audit")}
}

// Handles implements Handler.
func (h *AuditHandler) Handles() []string {
	return []string{GenerationCompletedType, GenerationFailedType, SubscriptionStartedType}
}

// Handle implements Handler.
func (h *AuditHandler) Handle(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("identity", event.AggregateID()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *GenerationCompletedEvent:
		fields = append(fields,
			zap.String("entry_id", e.EntryID),
			zap.Bool("regenerated", e.Regenerated),
		)
	case *GenerationFailedEvent:
		fields = append(fields, zap.String("kind", e.Kind))
	case *SubscriptionStartedEvent:
		fields = append(fields, zap.Int("limit", e.Limit))
	}

	h.logger.Info("domain event", fields...)
	return nil
}
