package generation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/module/ai"
	"github.com/cosplaymagic/server/internal/module/history"
	"github.com/cosplaymagic/server/internal/module/quota"
	"github.com/cosplaymagic/server/internal/shared/events"
)

// Ledger is the quota side of the service.
type Ledger interface {
	QuotaGate
	IncrementUsage(ctx context.Context, identity string) *quota.Record
}

// History is the history side of the service.
type History interface {
	NewEntry(prompt, imageBase64 string) history.Entry
	Append(ctx context.Context, identity string, entry history.Entry) []history.Entry
	Get(ctx context.Context, identity, entryID string) (*history.Entry, error)
}

// Publisher receives domain events.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// OutcomeRecorder counts finished attempts.
type OutcomeRecorder interface {
	RecordGeneration(outcome, kind string)
}

// RegenerateInput selects the prompt to reuse. Prompt wins over EntryID.
type RegenerateInput struct {
	Prompt  string `json:"prompt"`
	EntryID string `json:"entry_id"`
}

// Outcome is a completed generation after it was recorded.
type Outcome struct {
	Entry history.Entry
	Quota *quota.Record
}

// Service runs the pipeline for an identity and records successes.
type Service struct {
	pipeline  *Pipeline
	ledger    Ledger
	history   History
	publisher Publisher
	recorder  OutcomeRecorder
	logger    *zap.Logger
	now       func() time.Time

	inFlight sync.Map
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher attaches an event publisher.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithOutcomeRecorder attaches a metrics recorder.
func WithOutcomeRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a generation service.
func NewService(pipeline *Pipeline, ledger Ledger, hist History, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		pipeline: pipeline,
		ledger:   ledger,
		history:  hist,
		logger:   logger.Named("generation"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate creates a cosplay image from a person photo and a character
// reference.
func (s *Service) Generate(ctx context.Context, identity string, person, character *ai.Image) (*Outcome, error) {
	return s.run(ctx, Request{
		Identity:       identity,
		PersonImage:    person,
		CharacterImage: character,
	}, false)
}

// Regenerate creates a new image from a previous prompt, given directly or
// through a history entry.
func (s *Service) Regenerate(ctx context.Context, identity string, in RegenerateInput) (*Outcome, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" && in.EntryID != "" {
		entry, err := s.history.Get(ctx, identity, in.EntryID)
		if err != nil {
			return nil, err
		}
		prompt = entry.Prompt
	}
	if prompt == "" {
		return nil, ErrMissingPrompt
	}

	return s.run(ctx, Request{Identity: identity, OverridePrompt: prompt}, true)
}

func (s *Service) run(ctx context.Context, req Request, regenerated bool) (*Outcome, error) {
	if req.Identity != "" {
		if _, busy := s.inFlight.LoadOrStore(req.Identity, struct{}{}); busy {
			return nil, ErrGenerationInProgress
		}
		defer s.inFlight.Delete(req.Identity)
	}

	res, err := s.pipeline.Generate(ctx, req)
	if err != nil {
		kind := KindOf(err)
		outcome := "failed"
		if kind == KindQuotaExceeded {
			outcome = "rejected"
		}
		s.record(outcome, string(kind))
		s.publish(ctx, &events.GenerationFailedEvent{
			BaseEvent: events.NewBaseEvent(events.GenerationFailedType, req.Identity, s.now()),
			Kind:      string(kind),
		})
		return nil, err
	}

	entry := s.history.NewEntry(res.FinalPrompt, res.ImageBase64)
	s.history.Append(ctx, req.Identity, entry)
	rec := s.ledger.IncrementUsage(ctx, req.Identity)

	s.record("succeeded", "")
	s.publish(ctx, &events.GenerationCompletedEvent{
		BaseEvent:   events.NewBaseEvent(events.GenerationCompletedType, req.Identity, entry.CreatedAt),
		EntryID:     entry.ID,
		Prompt:      entry.Prompt,
		ImageBase64: entry.ImageBytes,
		MIMEType:    res.MIMEType,
		Regenerated: regenerated,
	})

	s.logger.Info("generation completed",
		zap.String("identity", req.Identity),
		zap.String("entry_id", entry.ID),
		zap.Bool("regenerated", regenerated),
		zap.Int("used", rec.Used),
		zap.Int("limit", rec.Limit),
	)
	return &Outcome{Entry: entry, Quota: rec}, nil
}

func (s *Service) record(outcome, kind string) {
	if s.recorder != nil {
		s.recorder.RecordGeneration(outcome, kind)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, e)
	}
}
