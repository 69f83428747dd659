// Package ai defines the contract of the external generation API.
package ai

import (
	"context"
	"errors"
)

// ErrUnconfigured is returned when no API key is configured.
var ErrUnconfigured = errors.New("generation API key is not configured")

// Image is an uploaded image passed to the text model.
type Image struct {
	Filename string
	MIMEType string
	Data     []byte
}

// ImageOptions controls image synthesis.
type ImageOptions struct {
	Count    int
	MIMEType string
}

// GeneratedImage is one synthesized image.
type GeneratedImage struct {
	Base64   string
	MIMEType string
}

// ImageResult is the outcome of SynthesizeImage. Images may be empty.
type ImageResult struct {
	Images []GeneratedImage
}

// Generator is the two-call generation API.
type Generator interface {
	// SynthesizePrompt asks the text model to describe a cosplay image
	// from an instruction and reference images.
	SynthesizePrompt(ctx context.Context, instruction string, images []Image) (string, error)

	// SynthesizeImage renders images for prompt.
	SynthesizeImage(ctx context.Context, prompt string, opts ImageOptions) (*ImageResult, error)
}
