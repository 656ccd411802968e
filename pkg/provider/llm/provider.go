// Package llm defines the Provider interface for chat-completion backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, any of the
// vendors behind any-llm-go, a local llama.cpp server) and exposes one
// streaming completion call. The dialogue layer keeps the conversation
// history and decides when to open or cancel a stream.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// from the user and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected before the
	// conversation history.
	SystemPrompt string
}

// Chunk is a single token or fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. When FinishReason
	// is FinishError it holds the error message instead.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped: "stop", "length", FinishError, or "" for non-final chunks.
	FinishReason string
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason FinishError; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// CountTokens estimates the number of tokens that messages would consume
	// in the model's context window. The result need not be exact but should
	// not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static limits of the underlying model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the shared rough estimate used by providers without a
// tokenizer: about four bytes per token plus a per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
