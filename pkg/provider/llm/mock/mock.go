// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the dialogue layer sends
// and to feed controlled streams without a live backend.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Hel"}, {Text: "lo", FinishReason: "stop"}},
//	}
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamChunks is the sequence of Chunk values emitted on the channel returned
	// by StreamCompletion.
	StreamChunks []llm.Chunk

	// ChunkDelay is slept before each chunk is sent.
	ChunkDelay time.Duration

	// HoldOpen keeps the channel open after the last chunk until the
	// request context is cancelled.
	HoldOpen bool

	// StreamErr, if non-nil, is returned as the error from StreamCompletion instead
	// of starting a channel.
	StreamErr error

	// TokenCount is returned by CountTokens when TokenCountFunc is nil.
	TokenCount int

	// TokenCountFunc, if set, computes the CountTokens result.
	TokenCountFunc func(messages []llm.Message) int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall

	// CountTokensCallCount is the number of times CountTokens was called.
	CountTokensCallCount int
}

// StreamCompletion records the call and returns a channel that emits StreamChunks.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	req.Messages = slices.Clone(req.Messages)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := slices.Clone(p.StreamChunks)
	delay, hold := p.ChunkDelay, p.HoldOpen
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// CountTokens records the call and returns TokenCount or TokenCountFunc's result.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCallCount++
	if p.TokenCountFunc != nil {
		return p.TokenCountFunc(messages), nil
	}
	return p.TokenCount, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded StreamCompletion calls.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.StreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CountTokensCallCount = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
