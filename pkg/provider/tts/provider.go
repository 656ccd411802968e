// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs in the cloud, a
// Coqui server on the local network) and presents a uniform streaming
// interface. SynthesizeStream accepts a channel of text fragments and returns
// a channel of raw PCM as it becomes available, so completion deltas can be
// spoken before the reply is complete.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits mono PCM16 chunks at SampleRate.
	//
	// The returned audio channel is closed when all text has been synthesised
	// or when ctx is cancelled. The caller must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis close the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// SampleRate reports the rate of the PCM emitted by SynthesizeStream.
	SampleRate() int
}
