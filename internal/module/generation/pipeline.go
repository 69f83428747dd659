package generation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cosplaymagic/server/internal/module/ai"
	"github.com/cosplaymagic/server/internal/module/quota"
)

// State is the progress of a single generation attempt.
type State string

const (
	StateChecking           State = "checking"
	StateRejected           State = "rejected"
	StateSynthesizingPrompt State = "synthesizing_prompt"
	StateSynthesizingImage  State = "synthesizing_image"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition follows.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateSucceeded || s == StateFailed
}

// OutputMIMEType is the encoding requested from image synthesis.
const OutputMIMEType = "image/jpeg"

const (
	msgFreeExhausted    = "You've used all your free generations."
	msgMonthlyExhausted = "You've reached your monthly generation limit."
	msgNotLoggedIn      = "Please log in to generate images."
	msgPromptFailed     = "Could not derive a prompt from the uploaded images."
	msgImageFailed      = "The image service could not create an image."
	msgNoImage          = "No image was generated or an unexpected API response was received."
	msgUnconfigured     = "The image generation service is not configured."
)

// QuotaGate answers whether an identity may start a generation.
type QuotaGate interface {
	Load(ctx context.Context, identity string) *quota.Record
}

// StageRecorder observes stage durations.
type StageRecorder interface {
	ObserveStage(stage string, d time.Duration)
}

// Request is one generation attempt. OverridePrompt takes precedence over
// the images.
type Request struct {
	Identity       string
	PersonImage    *ai.Image
	CharacterImage *ai.Image
	OverridePrompt string
}

// Result is a generated image and the prompt that produced it.
type Result struct {
	FinalPrompt string
	ImageBase64 string
	MIMEType    string
}

// Pipeline runs the quota check, prompt resolution and image synthesis.
// It has no side effects on quota or history.
type Pipeline struct {
	gate      QuotaGate
	generator ai.Generator
	logger    *zap.Logger
	observer  func(ctx context.Context, identity string, s State)
	stages    StageRecorder
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithObserver receives every state transition.
func WithObserver(fn func(ctx context.Context, identity string, s State)) PipelineOption {
	return func(p *Pipeline) { p.observer = fn }
}

// WithStageRecorder records stage durations.
func WithStageRecorder(r StageRecorder) PipelineOption {
	return func(p *Pipeline) { p.stages = r }
}

// NewPipeline creates a pipeline.
func NewPipeline(gate QuotaGate, generator ai.Generator, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		gate:      gate,
		generator: generator,
		logger:    logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate produces one image for req. Every failure is an *Error.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Result, error) {
	p.transition(ctx, req.Identity, StateChecking)

	rec := p.gate.Load(ctx, req.Identity)
	if !rec.CanGenerate() {
		p.transition(ctx, req.Identity, StateRejected)
		return nil, newError(KindQuotaExceeded, quotaMessage(req.Identity, rec), nil)
	}

	prompt, err := p.resolvePrompt(ctx, req)
	if err != nil {
		return nil, p.fail(ctx, req.Identity, err.(*Error))
	}

	p.transition(ctx, req.Identity, StateSynthesizingImage)
	start := time.Now()
	res, err := p.generator.SynthesizeImage(ctx, prompt, ai.ImageOptions{Count: 1, MIMEType: OutputMIMEType})
	p.observe("image", start)
	if err != nil {
		return nil, p.fail(ctx, req.Identity, wrapUpstream(KindImageSynthesisFailed, msgImageFailed, err))
	}
	if res == nil || len(res.Images) == 0 || res.Images[0].Base64 == "" {
		return nil, p.fail(ctx, req.Identity, newError(KindNoImageReturned, msgNoImage, nil))
	}

	img := res.Images[0]
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = OutputMIMEType
	}

	p.transition(ctx, req.Identity, StateSucceeded)
	return &Result{FinalPrompt: prompt, ImageBase64: img.Base64, MIMEType: mimeType}, nil
}

func (p *Pipeline) resolvePrompt(ctx context.Context, req Request) (string, error) {
	if req.OverridePrompt != "" {
		return req.OverridePrompt, nil
	}
	if req.PersonImage == nil || req.CharacterImage == nil {
		p.logger.Warn("generation without images or prompt, using default prompt",
			zap.String("identity", req.Identity))
		return DefaultPrompt, nil
	}

	p.transition(ctx, req.Identity, StateSynthesizingPrompt)
	start := time.Now()
	text, err := p.generator.SynthesizePrompt(ctx, Instruction, []ai.Image{*req.PersonImage, *req.CharacterImage})
	p.observe("prompt", start)
	if err != nil {
		return "", wrapUpstream(KindPromptSynthesisFailed, msgPromptFailed, err)
	}

	prompt := StripCodeFence(text)
	if prompt == "" {
		p.logger.Warn("text model returned no prompt, using fallback",
			zap.String("identity", req.Identity),
			zap.String("character_filename", req.CharacterImage.Filename),
		)
		return FallbackPrompt(req.CharacterImage.Filename), nil
	}
	return prompt, nil
}

func (p *Pipeline) fail(ctx context.Context, identity string, err *Error) error {
	p.logger.Error("generation failed",
		zap.String("identity", identity),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Cause),
	)
	p.transition(ctx, identity, StateFailed)
	return err
}

func (p *Pipeline) transition(ctx context.Context, identity string, s State) {
	if p.observer != nil {
		p.observer(ctx, identity, s)
	}
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.stages != nil {
		p.stages.ObserveStage(stage, time.Since(start))
	}
}

func wrapUpstream(kind Kind, message string, cause error) *Error {
	if errors.Is(cause, ai.ErrUnconfigured) {
		return newError(KindUnconfigured, msgUnconfigured, cause)
	}
	return newError(kind, message, cause)
}

func quotaMessage(identity string, rec *quota.Record) string {
	switch {
	case identity == "":
		return msgNotLoggedIn
	case rec.IsSubscribed:
		return msgMonthlyExhausted
	default:
		return msgFreeExhausted
	}
}
