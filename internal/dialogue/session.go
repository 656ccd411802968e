package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// charsPerToken is the heuristic used to estimate history size.
const charsPerToken = 4

// summaryRatio is the share of the context window at which the oldest half
// of the history is summarised.
const summaryRatio = 0.75

const summarisationPrompt = `Summarise the following conversation between a user and their voice assistant.
Keep facts the user shared, open questions and anything the assistant promised to do.
Be brief.`

// Summariser condenses older chat history.
type Summariser interface {
	Summarise(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMSummariser summarises with a chat completion.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser returns a [Summariser] backed by p.
func NewLLMSummariser(p llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: p}
}

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}
	ch, err := s.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("dialogue: summarise: %w", err)
	}
	var out strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishError {
			return "", fmt.Errorf("dialogue: summarise: %s", chunk.Text)
		}
		out.WriteString(chunk.Text)
	}
	return strings.TrimSpace(out.String()), nil
}

// Session is the chat history of one active dialogue. Every wake opens a new
// one with a fresh ID and a zero character count.
//
// All methods are safe for concurrent use.
type Session struct {
	id         string
	maxTokens  int
	summariser Summariser

	mu        sync.Mutex
	messages  []llm.Message
	summaries []string
	tokens    int
	chars     int
}

// NewSession creates an empty session. When maxTokens is positive and
// summariser is non-nil, history past three quarters of maxTokens is
// compacted.
func NewSession(maxTokens int, summariser Summariser) *Session {
	return &Session{id: uuid.NewString(), maxTokens: maxTokens, summariser: summariser}
}

// ID identifies the session in persisted records.
func (s *Session) ID() string { return s.id }

// Chars returns the running character count of user and assistant turns.
func (s *Session) Chars() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars
}

// Append adds a turn and returns the updated character count. Summarisation
// failures are logged; the history is kept in full.
func (s *Session) Append(ctx context.Context, role, text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := llm.Message{Role: role, Content: text}
	s.messages = append(s.messages, m)
	s.tokens += estimateTokens(m)
	s.chars += utf8.RuneCountInString(text)
	chars := s.chars

	if s.summariser != nil && s.maxTokens > 0 && s.tokens > int(float64(s.maxTokens)*summaryRatio) && len(s.messages) > 1 {
		if err := s.summariseOldest(ctx); err != nil {
			slog.Warn("dialogue: summarise history", "session", s.id, "err", err)
		}
	}
	return chars
}

// Messages returns summaries as system messages followed by the retained
// turns.
func (s *Session) Messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, 0, len(s.summaries)+len(s.messages))
	for _, sum := range s.summaries {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: "[Earlier in this conversation]: " + sum})
	}
	return append(out, s.messages...)
}

// summariseOldest must be called with s.mu held. The lock is released for
// the completion call.
func (s *Session) summariseOldest(ctx context.Context) error {
	half := max(len(s.messages)/2, 1)
	oldest := make([]llm.Message, half)
	copy(oldest, s.messages[:half])

	s.mu.Unlock()
	summary, err := s.summariser.Summarise(ctx, oldest)
	s.mu.Lock()
	if err != nil {
		return err
	}

	for _, m := range s.messages[:half] {
		s.tokens -= estimateTokens(m)
	}
	s.messages = s.messages[half:]
	s.summaries = append(s.summaries, summary)
	s.tokens += len(summary) / charsPerToken
	return nil
}

func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role)
	if tokens := chars / charsPerToken; tokens > 0 || chars == 0 {
		return tokens
	}
	return 1
}
