// Package embeddings defines the Extractor interface for speaker-embedding
// backends.
//
// An extractor maps a span of speech (mono float32 samples at 16 kHz) to a
// fixed-length voiceprint vector (an x-vector, ECAPA-TDNN or similar model).
// Vectors from one extractor are compared by cosine similarity to decide
// whether a segment was spoken by the enrolled primary user.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Extractor is the abstraction over any speaker-embedding backend.
//
// All vectors returned by one Extractor share the length reported by
// Dimensions. Vectors from different models live in different spaces and must
// not be compared; ModelID is stored next to persisted profiles for that
// reason.
type Extractor interface {
	// Embed computes the voiceprint for samples. It returns a vector of
	// length Dimensions() or an error if the request fails or ctx is
	// cancelled. An empty vector with a nil error means the model produced
	// nothing usable.
	Embed(ctx context.Context, samples []float32) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// extractor.
	Dimensions() int

	// ModelID returns the model identifier (e.g., "ecapa-voxceleb").
	ModelID() string
}
