// Package event defines the notifications a pipeline sends to its host.
//
// Every event is a small value type implementing [Event]. On the wire an
// event is a flat JSON object whose "type" field names the kind; [Marshal]
// and [Unmarshal] convert between the two.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/memory"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeSpeech         Type = "speech"
	TypeTranscript     Type = "transcript"
	TypeCompletion     Type = "completion"
	TypeEnrollment     Type = "enrollment"
	TypeBoneConduction Type = "bone_conduction"
	TypeAck            Type = "ack"
)

// Event is implemented by every outbound notification.
type Event interface {
	Type() Type
}

// Speech reports a change of the voice activity flag. It is sent only when
// the flag flips.
type Speech struct {
	Detected bool `json:"speech_detected"`
}

// Transcript is a partial or final recognition result.
type Transcript struct {
	Text       string `json:"text"`
	IsFinal    bool   `json:"is_final"`
	DialogMode bool   `json:"dialog_mode"`

	// Speaker is empty for partials and during enrollment.
	Speaker memory.Speaker `json:"speaker,omitempty"`

	// SessionChars is the running character count of the active dialogue
	// session, zero outside one.
	SessionChars int `json:"session_chars,omitempty"`
}

// Completion carries one step of a streamed assistant reply.
type Completion struct {
	// PartialReplyText is the reply accumulated so far.
	PartialReplyText string `json:"partial_reply_text"`
	Delta            string `json:"delta"`
	IsFinished       bool   `json:"is_finished"`
	SessionChars     int    `json:"session_chars,omitempty"`
}

// EnrollmentStatus is the state reported by an [Enrollment] event.
type EnrollmentStatus string

const (
	EnrollmentStarted   EnrollmentStatus = "started"
	EnrollmentAccepted  EnrollmentStatus = "step_accepted"
	EnrollmentRetry     EnrollmentStatus = "retry"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentAborted   EnrollmentStatus = "aborted"
)

// Enrollment reports progress of voiceprint enrollment.
type Enrollment struct {
	Status EnrollmentStatus `json:"enrollment_status"`

	// Step is the index of the phrase the user should read next.
	Step int `json:"step"`

	// Phrase is the text for Step, empty once enrollment has completed.
	Phrase string `json:"phrase,omitempty"`

	Message    string  `json:"message,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// BoneConduction reports a change of the wearable's bone-conduction path.
type BoneConduction struct {
	Active bool `json:"bone_conduction_active"`
}

// Ack acknowledges a processed control signal.
type Ack struct {
	Signal string `json:"signal"`

	// Error is set when the signal could not be applied.
	Error string `json:"error,omitempty"`
}

func (Speech) Type() Type         { return TypeSpeech }
func (Transcript) Type() Type     { return TypeTranscript }
func (Completion) Type() Type     { return TypeCompletion }
func (Enrollment) Type() Type     { return TypeEnrollment }
func (BoneConduction) Type() Type { return TypeBoneConduction }
func (Ack) Type() Type            { return TypeAck }

// Marshal encodes e as a flat JSON object with a leading "type" field.
func Marshal(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("event: marshal nil event")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", e.Type(), err)
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	typ, _ := json.Marshal(e.Type())
	buf.Write(typ)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an object produced by [Marshal].
func Unmarshal(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("event: unmarshal: %w", err)
	}
	var (
		e   Event
		err error
	)
	switch head.Type {
	case TypeSpeech:
		e, err = decode[Speech](data)
	case TypeTranscript:
		e, err = decode[Transcript](data)
	case TypeCompletion:
		e, err = decode[Completion](data)
	case TypeEnrollment:
		e, err = decode[Enrollment](data)
	case TypeBoneConduction:
		e, err = decode[BoneConduction](data)
	case TypeAck:
		e, err = decode[Ack](data)
	default:
		return nil, fmt.Errorf("event: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("event: unmarshal %s: %w", head.Type, err)
	}
	return e, nil
}

func decode[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
