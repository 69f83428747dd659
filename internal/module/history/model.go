package history

import (
	"encoding/base64"
	"errors"
	"time"
)

// MaxItems is the default number of entries kept per identity.
const MaxItems = 20

// ErrEntryNotFound is returned when an entry ID is not in the history.
var ErrEntryNotFound = errors.New("history entry not found")

// Entry is one generated image. Entries are never mutated after creation.
type Entry struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	ImageBytes string    `json:"imageBytes"` // base64 JPEG
	CreatedAt  time.Time `json:"createdAt"`
}

// Decode returns the raw image bytes.
func (e *Entry) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.ImageBytes)
}

// Summary is the list view of an entry without the image payload.
type Summary struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summarize drops the image payload.
func (e *Entry) Summarize() Summary {
	return Summary{ID: e.ID, Prompt: e.Prompt, CreatedAt: e.CreatedAt}
}
