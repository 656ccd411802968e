package audio

import "time"

// Source identifies the producer that captured a frame.
type Source int

const (
	// SourceMicrophone is PCM captured by the host device's microphone.
	SourceMicrophone Source = iota

	// SourceWearable is PCM reconstructed from wearable packets.
	SourceWearable
)

// String returns the human-readable name of the source.
func (s Source) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceWearable:
		return "wearable"
	default:
		return "unknown"
	}
}

// AudioFrame represents a single chunk of raw audio flowing into a pipeline.
// Frames are transient: they are converted to float samples and discarded.
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (16000 for the wearable path, whatever the host
	// microphone delivers otherwise).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Source tags the producer of this frame.
	Source Source

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
