package generation

import (
	"errors"
	"fmt"
)

// Kind classifies a failed generation attempt.
type Kind string

const (
	KindQuotaExceeded         Kind = "QuotaExceeded"
	KindPromptSynthesisFailed Kind = "PromptSynthesisFailed"
	KindImageSynthesisFailed  Kind = "ImageSynthesisFailed"
	KindNoImageReturned       Kind = "NoImageReturned"
	KindUnconfigured          Kind = "Unconfigured"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrQuotaExceeded         = &Error{Kind: KindQuotaExceeded}
	ErrPromptSynthesisFailed = &Error{Kind: KindPromptSynthesisFailed}
	ErrImageSynthesisFailed  = &Error{Kind: KindImageSynthesisFailed}
	ErrNoImageReturned       = &Error{Kind: KindNoImageReturned}
	ErrUnconfigured          = &Error{Kind: KindUnconfigured}
)

// Service-level errors outside the pipeline.
var (
	ErrGenerationInProgress = errors.New("a generation is already in progress")
	ErrMissingPrompt        = errors.New("cannot regenerate without an initial prompt")
)

// Error is the single error type returned by the pipeline. Message is safe
// to show to users; Cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	return fmt.Sprintf("cosplay image creation failed: %s", msg)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" if err is not a pipeline error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
