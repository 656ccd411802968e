package vad

// Segment is one completed stretch of speech.
type Segment struct {
	// Start is the index of the first sample relative to the detector's
	// stream origin.
	Start int64

	// Samples holds the speech audio, mono float32 at the detector rate.
	Samples []float32
}

// Len returns the number of samples in the segment.
func (s Segment) Len() int {
	return len(s.Samples)
}

// DefaultConfig returns the settings used by the pipeline when the
// configuration file does not override them.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		FrameSizeMs:      30,
		SpeechThreshold:  0.02,
		SilenceThreshold: 0.01,
		MinSpeechMs:      250,
		HangoverMs:       500,
	}
}
