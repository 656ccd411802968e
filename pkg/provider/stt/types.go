package stt

// Transcript is a speech-to-text result from an STT provider. Partial and
// final results share this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a committed or an interim result.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report one.
	Confidence float64
}

// KeywordBoost is a vocabulary hint. The pipeline uses it to bias cloud
// recognition towards the configured wake and exit phrases.
type KeywordBoost struct {
	// Keyword is the text to boost.
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}
