package memory

import (
	"errors"
	"time"
)

// ErrNoProfile is returned by [SpeakerProfileStore.PrimaryProfile] when no
// primary user has been enrolled.
var ErrNoProfile = errors.New("memory: no primary speaker profile")

// Speaker tags who produced a dialogue turn.
type Speaker string

const (
	// SpeakerUser is the enrolled primary user.
	SpeakerUser Speaker = "user"

	// SpeakerOthers is anybody who is not the primary user.
	SpeakerOthers Speaker = "others"

	// SpeakerAssistant marks replies produced by the chat backend.
	SpeakerAssistant Speaker = "assistant"
)

// String implements fmt.Stringer.
func (s Speaker) String() string { return string(s) }

// Category separates turns recorded while in active dialogue from ambient
// speech.
type Category string

const (
	// CategoryAmbient is speech captured outside an active dialogue.
	CategoryAmbient Category = "ambient"

	// CategoryDialogue is a turn of an active dialogue, user or assistant.
	CategoryDialogue Category = "dialogue"
)

// Record is one persisted dialogue turn.
type Record struct {
	// SessionID groups the turns of one active dialogue. Empty for ambient
	// records.
	SessionID string

	// DeviceID is the host device that captured the audio.
	DeviceID string

	// Speaker says who spoke.
	Speaker Speaker

	// Text is the cleaned transcript.
	Text string

	// Category is ambient or dialogue.
	Category Category

	// Timestamp is when the turn was recorded. The store fills it in when zero.
	Timestamp time.Time
}

// SpeakerProfile is an enrolled voiceprint.
type SpeakerProfile struct {
	// Name identifies the profile. Adding a profile with an existing name
	// replaces it.
	Name string

	// Embedding is the enrolled voiceprint.
	Embedding []float32

	// ModelID is the embedding model that produced Embedding. Profiles from
	// another model must not be compared against live embeddings.
	ModelID string

	// Primary marks the profile used for user/others discrimination. At most
	// one stored profile is primary.
	Primary bool

	// CreatedAt is set by the store.
	CreatedAt time.Time
}
