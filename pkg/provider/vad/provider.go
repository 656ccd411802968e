// Package vad defines the Detector interface for voice activity detection
// backends.
//
// A Detector wraps a speech/silence classifier (Silero, WebRTC VAD, a plain
// energy gate) together with the buffer that turns classified audio into
// completed speech segments. Samples are pushed in with AcceptWaveform;
// every speech→silence transition leaves one [Segment] in an internal FIFO
// queue that the caller drains with HasPendingSegment / PopSegment.
//
// A Detector is a single-writer resource: it keeps mutable buffers and is
// not safe for concurrent use. Callers serialise access (one Detector per
// pipeline, driven from one goroutine or under a mutex).
package vad

// Config holds the parameters for a detector. Thresholds are expressed in
// the backend's native scale; see each Engine's documentation.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// samples passed to AcceptWaveform. The pipeline always uses 16000.
	SampleRate int

	// FrameSizeMs is the analysis window in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the score above which a frame counts as speech.
	SpeechThreshold float64

	// SilenceThreshold is the score below which a frame counts as silence.
	// Must be ≤ SpeechThreshold.
	SilenceThreshold float64

	// MinSpeechMs is the minimum segment duration. Shorter segments are still
	// queued; callers compare against [Detector.MinWindow] and drop them.
	MinSpeechMs int

	// HangoverMs is how long silence must persist before a segment closes.
	HangoverMs int
}

// Detector classifies audio and buffers completed speech segments.
type Detector interface {
	// AcceptWaveform appends mono float samples in [-1, 1] at the configured
	// rate. It never blocks.
	AcceptWaveform(samples []float32)

	// IsSpeechActive reports whether the most recent audio is speech.
	IsSpeechActive() bool

	// HasPendingSegment reports whether at least one completed segment is
	// queued.
	HasPendingSegment() bool

	// PopSegment removes and returns the oldest queued segment. Calling it
	// with an empty queue returns a zero Segment.
	PopSegment() Segment

	// Clear drops every queued segment and any partially buffered speech.
	Clear()

	// MinWindow returns the minimum number of samples a segment must hold to
	// be worth recognising.
	MinWindow() int
}

// Engine is the factory for detectors. Each pipeline gets its own Detector.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewDetector returns a fresh detector for cfg. It returns an error if the
	// configuration is invalid.
	NewDetector(cfg Config) (Detector, error)
}
