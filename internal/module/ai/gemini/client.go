// Package gemini implements ai.Generator on the Gemini and Imagen REST APIs.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cosplaymagic/server/internal/module/ai"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultTextModel  = "gemini-2.5-flash"
	defaultImageModel = "imagen-3.0-generate-002"
	apiKeyHeader      = "x-goog-api-key"
	maxResponseBytes  = 64 << 20
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini API error %d: %s", e.StatusCode, e.Message)
}

// ErrPromptBlocked is returned when the text model refuses the request.
var ErrPromptBlocked = errors.New("prompt blocked by safety filters")

// Recorder counts upstream calls.
type Recorder interface {
	RecordUpstreamRequest(model string, ok bool)
}

// Config configures a Client.
type Config struct {
	APIKey            string
	BaseURL           string
	TextModel         string
	ImageModel        string
	RequestsPerSecond float64
	Burst             int
	FailureThreshold  uint32
	CircuitTimeout    time.Duration
}

// Client talks to the generation API. It is safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[[]byte]
	recorder Recorder
	logger   *zap.Logger
}

var _ ai.Generator = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// NewClient creates a client. A missing API key is reported on first use.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TextModel == "" {
		cfg.TextModel = defaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = defaultImageModel
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CircuitTimeout <= 0 {
		cfg.CircuitTimeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("gemini"),
	}

	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.CircuitTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// SynthesizePrompt calls generateContent on the text model with the
// instruction followed by the images as inline data.
func (c *Client) SynthesizePrompt(ctx context.Context, instruction string, images []ai.Image) (string, error) {
	parts := make([]part, 0, len(images)+1)
	parts = append(parts, part{Text: instruction})
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	body, err := c.call(ctx, c.cfg.TextModel, "generateContent", generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return "", err
	}

	var resp generateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal generateContent response: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", ErrPromptBlocked, resp.PromptFeedback.BlockReason)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String(), nil
}

// SynthesizeImage calls predict on the image model. An empty prediction
// list is not an error.
func (c *Client) SynthesizeImage(ctx context.Context, prompt string, opts ai.ImageOptions) (*ai.ImageResult, error) {
	count := max(opts.Count, 1)
	mimeType := opts.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	body, err := c.call(ctx, c.cfg.ImageModel, "predict", predictRequest{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: predictParameters{
			SampleCount:   count,
			OutputOptions: &outputOptions{MIMEType: mimeType},
		},
	})
	if err != nil {
		return nil, err
	}

	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal predict response: %w", err)
	}

	result := &ai.ImageResult{Images: make([]ai.GeneratedImage, 0, len(resp.Predictions))}
	for _, p := range resp.Predictions {
		if p.BytesBase64Encoded == "" {
			if p.RAIFilteredReason != "" {
				c.logger.Warn("image filtered", zap.String("reason", p.RAIFilteredReason))
			}
			continue
		}
		mt := p.MIMEType
		if mt == "" {
			mt = mimeType
		}
		result.Images = append(result.Images, ai.GeneratedImage{Base64: p.BytesBase64Encoded, MIMEType: mt})
	}
	return result, nil
}

// call posts payload to models/{model}:{method} through the limiter and
// the circuit breaker and returns the raw 2xx body.
func (c *Client) call(ctx context.Context, model, method string, payload any) ([]byte, error) {
	if !c.Configured() {
		return nil, ai.ErrUnconfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:%s", c.cfg.BaseURL, model, method)
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, url, data)
	})
	c.record(model, err == nil)

	if err != nil {
		c.logger.Warn("generation API call failed",
			zap.String("model", model),
			zap.String("method", method),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("generation API call",
		zap.String("model", model),
		zap.String("method", method),
		zap.Duration("elapsed", time.Since(start)),
	)
	return body, nil
}

func (c *Client) post(ctx context.Context, url string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil {
			apiErr.Message = errResp.Error.Message
			apiErr.Status = errResp.Error.Status
		}
		return nil, apiErr
	}
	return body, nil
}

func (c *Client) record(model string, ok bool) {
	if c.recorder != nil {
		c.recorder.RecordUpstreamRequest(model, ok)
	}
}

// isBreakerSuccess keeps client errors and cancellations from tripping
// the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
