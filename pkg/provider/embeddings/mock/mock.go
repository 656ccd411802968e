// Package mock provides a test double for the embeddings.Extractor interface.
//
// Example:
//
//	x := &mock.Extractor{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	}
//	vec, _ := x.Embed(ctx, samples)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Samples is a copy of the samples passed to Embed.
	Samples []float32
}

// Extractor is a mock implementation of embeddings.Extractor.
type Extractor struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedFunc, if set, computes the result from the samples instead of
	// EmbedResult.
	EmbedFunc func(samples []float32) []float32

	// Panic, if non-nil, is raised by Embed.
	Panic any

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns EmbedResult (or EmbedFunc's result) and EmbedErr.
func (x *Extractor) Embed(_ context.Context, samples []float32) ([]float32, error) {
	x.mu.Lock()
	x.EmbedCalls = append(x.EmbedCalls, EmbedCall{Samples: slices.Clone(samples)})
	fn, result, err, p := x.EmbedFunc, x.EmbedResult, x.EmbedErr, x.Panic
	x.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(samples), nil
	}
	return slices.Clone(result), nil
}

// Dimensions returns DimensionsValue.
func (x *Extractor) Dimensions() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.DimensionsValue
}

// ModelID returns ModelIDValue.
func (x *Extractor) ModelID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ModelIDValue
}

// CallCount returns the number of Embed calls so far.
func (x *Extractor) CallCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.EmbedCalls)
}

// Reset clears all call records.
func (x *Extractor) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.EmbedCalls = nil
}

var _ embeddings.Extractor = (*Extractor)(nil)
