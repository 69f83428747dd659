package events

// Event type names.
const (
	GenerationCompletedType = "GenerationCompleted"
	GenerationFailedType    = "GenerationFailed"
	SubscriptionStartedType = "SubscriptionStarted"
)

// GenerationCompletedEvent is emitted after a generated image was recorded
// in history and counted against quota.
type GenerationCompletedEvent struct {
	BaseEvent

	EntryID     string `json:"entry_id"`
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"-"`
	MIMEType    string `json:"mime_type"`
	Regenerated bool   `json:"regenerated"`
}

// GenerationFailedEvent is emitted when an attempt ends without an image.
type GenerationFailedEvent struct {
	BaseEvent

	Kind string `json:"kind"`
}

// SubscriptionStartedEvent is emitted by a quota upgrade.
type SubscriptionStartedEvent struct {
	BaseEvent

	Limit int `json:"limit"`
}
