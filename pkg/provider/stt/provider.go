// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps a recognition service (Deepgram's streaming API, a local
// whisper.cpp server, the whisper.cpp bindings) behind one streaming
// contract: a SessionHandle accepts PCM, emits low-latency partials and
// authoritative finals, and flushes on Finish.
//
// Segment-level callers normally go through [StreamRecognizer], which drives
// one session per speech segment and returns the joined final text.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline always sends
	// 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Keywords is a list of vocabulary hints. Providers without keyword
	// support ignore it.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM. Calling
	// SendAudio after Finish or Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a channel of interim transcripts. It is closed when
	// the session ends.
	Partials() <-chan Transcript

	// Finals returns a channel of committed transcripts. It is closed when
	// the session ends.
	Finals() <-chan Transcript

	// Finish signals that no more audio will be sent. The provider flushes
	// what it has buffered, delivers the remaining results, and then closes
	// both channels. Finish does not block on recognition.
	Finish() error

	// Close aborts the session and releases all resources. Results not yet
	// delivered are discarded. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller
	// owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
