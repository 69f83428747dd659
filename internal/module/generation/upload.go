package generation

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cosplaymagic/server/internal/module/ai"
	apperrors "github.com/cosplaymagic/server/internal/shared/errors"
)

// DefaultMaxUploadBytes is the largest accepted image.
const DefaultMaxUploadBytes int64 = 10 << 20

// DefaultAllowedTypes are the accepted image encodings.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// UploadValidator checks uploaded images before they reach the pipeline.
type UploadValidator struct {
	maxBytes int64
	allowed  []string
}

// NewUploadValidator creates a validator. Zero values select the defaults.
func NewUploadValidator(maxBytes int64, allowed []string) *UploadValidator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	return &UploadValidator{maxBytes: maxBytes, allowed: allowed}
}

// Read validates and loads a multipart file. The MIME type is sniffed from
// the content; the client-declared type is ignored.
func (v *UploadValidator) Read(fh *multipart.FileHeader) (*ai.Image, error) {
	if fh.Size > v.maxBytes {
		return nil, v.tooLarge()
	}

	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.MalformedUpload("Could not read the uploaded file.")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, v.maxBytes+1))
	if err != nil {
		return nil, apperrors.MalformedUpload("Could not read the uploaded file.")
	}
	return v.Check(fh.Filename, data)
}

// Check validates raw image bytes.
func (v *UploadValidator) Check(filename string, data []byte) (*ai.Image, error) {
	if int64(len(data)) > v.maxBytes {
		return nil, v.tooLarge()
	}
	if len(data) == 0 {
		return nil, apperrors.MalformedUpload("The uploaded file is empty.")
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), v.allowed...) {
		return nil, apperrors.MalformedUpload("Invalid file type. Only JPG, PNG, WEBP are allowed.").
			WithDetails(map[string]any{"detected": mt.String()})
	}

	return &ai.Image{Filename: filename, MIMEType: mt.String(), Data: data}, nil
}

func (v *UploadValidator) tooLarge() *apperrors.AppError {
	return apperrors.MalformedUpload(fmt.Sprintf("File is too large. Max size: %dMB.", v.maxBytes>>20))
}
