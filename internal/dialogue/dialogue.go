// Package dialogue implements the ambient/active conversation state machine.
//
// In ambient mode every final utterance is persisted as ambient speech. A
// wake phrase spoken by the primary user opens a dialogue: from then on the
// user's utterances are persisted as dialogue turns and each one starts a
// streamed chat completion whose reply is forwarded as events and spoken
// through TTS. An exit phrase from the user closes the dialogue, clears
// pending speech segments, stops playback and plays the exit cue.
//
// At most one completion stream is open per [Machine]; starting a new one
// cancels the previous one without flushing or persisting its reply.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/event"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// Clip labels used for playback.
const (
	ReplyClip = "reply"
	CueClip   = "exit-cue"
)

// Mode is the dialogue state.
type Mode int

const (
	ModeAmbient Mode = iota
	ModeActive
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	switch m {
	case ModeAmbient:
		return "ambient"
	case ModeActive:
		return "active-dialog"
	default:
		return "unknown"
	}
}

// Segments is the pending-segment queue cleared when a dialogue ends.
type Segments interface {
	Clear()
}

// Deps are the collaborators of a [Machine]. Chat, TTS and Player may be
// nil; the corresponding output is then skipped.
type Deps struct {
	Records  memory.RecordStore
	Chat     llm.Provider
	TTS      tts.Provider
	Player   audio.Player
	Segments Segments

	// Emit receives completion events. It must not block.
	Emit func(event.Event)

	// Summariser compacts long chat histories. Optional.
	Summariser Summariser

	Metrics *observe.Metrics
}

// Config holds the tunable behaviour of a [Machine].
type Config struct {
	DeviceID     string
	WakePhrases  []string
	ExitPhrases  []string
	SystemPrompt string
	Voice        tts.VoiceProfile
	Temperature  float64
	MaxTokens    int

	// ContextTokens caps the session history budget. Zero uses the chat
	// model's context window as is.
	ContextTokens int

	// Cue is played on exit. A zero Cue selects [Beep] at 16 kHz.
	Cue Cue
}

// Outcome describes how a final utterance was handled.
type Outcome struct {
	// Mode is the state after the utterance.
	Mode Mode

	// Changed is set when the utterance caused a transition.
	Changed bool

	// SessionChars is the character count of the active session, zero in
	// ambient mode.
	SessionChars int
}

// completion is the handle of the live completion stream.
type completion struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Machine is the dialogue state machine of one pipeline. All methods are
// safe for concurrent use.
type Machine struct {
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cfg     Config
	mode    Mode
	session *Session
	current *completion
	closed  bool
}

// New creates a Machine in ambient mode.
func New(deps Deps, cfg Config) *Machine {
	if deps.Emit == nil {
		deps.Emit = func(event.Event) {}
	}
	if len(cfg.Cue.PCM) == 0 || cfg.Cue.SampleRate <= 0 {
		cfg.Cue = Beep(16000)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{deps: deps, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Mode returns the current state.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// DialogActive reports whether a dialogue is open.
func (m *Machine) DialogActive() bool { return m.Mode() == ModeActive }

// SessionID returns the ID of the active session, or "".
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID()
}

// SetPhrases replaces the wake and exit phrases.
func (m *Machine) SetPhrases(wake, exit []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.WakePhrases = append([]string(nil), wake...)
	m.cfg.ExitPhrases = append([]string(nil), exit...)
}

// SetDeviceID changes the device recorded with new turns.
func (m *Machine) SetDeviceID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.DeviceID = id
}

// SetSystemPrompt replaces the system prompt used for new completions.
func (m *Machine) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.SystemPrompt = prompt
}

// HandleFinal processes one finalised utterance attributed to spk.
func (m *Machine) HandleFinal(ctx context.Context, text string, spk memory.Speaker) Outcome {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Outcome{Mode: ModeAmbient}
	}
	isUser := spk == memory.SpeakerUser

	switch {
	case m.mode == ModeAmbient && isUser && containsAny(text, m.cfg.WakePhrases):
		m.mode = ModeActive
		m.session = NewSession(m.contextWindow(), m.deps.Summariser)
		sess := m.session
		m.mu.Unlock()
		slog.Info("dialogue: dialogue opened", "session", sess.ID())
		chars := m.userTurn(ctx, sess, text)
		return Outcome{Mode: ModeActive, Changed: true, SessionChars: chars}

	case m.mode == ModeActive && isUser && containsAny(text, m.cfg.ExitPhrases):
		sess := m.session
		m.mode = ModeAmbient
		m.session = nil
		m.cancelCompletionLocked()
		cue := m.cfg.Cue
		m.mu.Unlock()

		chars := sess.Append(ctx, llm.RoleUser, text)
		m.persist(ctx, sess.ID(), spk, text, memory.CategoryDialogue)
		if m.deps.Segments != nil {
			m.deps.Segments.Clear()
		}
		if m.deps.Player != nil {
			m.deps.Player.Stop(audio.Stopped)
			m.deps.Player.Play(cue.Clip(CueClip))
		}
		slog.Info("dialogue: dialogue closed", "session", sess.ID(), "chars", chars)
		return Outcome{Mode: ModeAmbient, Changed: true}

	case m.mode == ModeActive && isUser:
		sess := m.session
		m.mu.Unlock()
		return Outcome{Mode: ModeActive, SessionChars: m.userTurn(ctx, sess, text)}

	case m.mode == ModeActive:
		sess := m.session
		m.mu.Unlock()
		m.persist(ctx, "", spk, text, memory.CategoryAmbient)
		return Outcome{Mode: ModeActive, SessionChars: sess.Chars()}

	default:
		m.mu.Unlock()
		m.persist(ctx, "", spk, text, memory.CategoryAmbient)
		return Outcome{Mode: ModeAmbient}
	}
}

// BargeIn interrupts playback. It reports whether anything was playing.
func (m *Machine) BargeIn() bool {
	if m.deps.Player == nil {
		return false
	}
	return m.deps.Player.Stop(audio.BargeIn)
}

// Reset cancels any completion and returns to ambient mode without playing
// the cue.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCompletionLocked()
	m.mode = ModeAmbient
	m.session = nil
}

// Close cancels the live completion and waits for it to stop. The machine
// ignores further utterances.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cur := m.current
	m.cancelCompletionLocked()
	m.mu.Unlock()

	m.cancel()
	if cur != nil {
		<-cur.done
	}
}

// Wait blocks until the live completion, if any, has finished.
func (m *Machine) Wait() {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		<-cur.done
	}
}

// contextWindow must be called with m.mu held.
func (m *Machine) contextWindow() int {
	window := 0
	if m.deps.Chat != nil {
		window = m.deps.Chat.Capabilities().ContextWindow
	}
	if limit := m.cfg.ContextTokens; limit > 0 && (window <= 0 || limit < window) {
		return limit
	}
	return window
}

// userTurn persists a user dialogue turn and starts its completion.
func (m *Machine) userTurn(ctx context.Context, sess *Session, text string) int {
	chars := sess.Append(ctx, llm.RoleUser, text)
	m.persist(ctx, sess.ID(), memory.SpeakerUser, text, memory.CategoryDialogue)
	if m.deps.Chat != nil {
		m.startCompletion(sess)
	}
	return chars
}

func (m *Machine) persist(ctx context.Context, sessionID string, spk memory.Speaker, text string, cat memory.Category) {
	if m.deps.Records == nil {
		return
	}
	m.mu.Lock()
	device := m.cfg.DeviceID
	m.mu.Unlock()
	err := m.deps.Records.Insert(ctx, memory.Record{
		SessionID: sessionID,
		DeviceID:  device,
		Speaker:   spk,
		Text:      text,
		Category:  cat,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Warn("dialogue: persist turn", "device", device, "category", cat, "err", err)
	}
}

// cancelCompletionLocked must be called with m.mu held.
func (m *Machine) cancelCompletionLocked() {
	if m.current != nil {
		m.current.cancel()
		m.current = nil
	}
}

func (m *Machine) startCompletion(sess *Session) {
	m.mu.Lock()
	if m.closed || m.session != sess {
		m.mu.Unlock()
		return
	}
	m.cancelCompletionLocked()
	ctx, cancel := context.WithCancel(m.ctx)
	c := &completion{cancel: cancel, done: make(chan struct{})}
	m.current = c
	req := llm.CompletionRequest{
		Messages:     sess.Messages(),
		SystemPrompt: m.cfg.SystemPrompt,
		Temperature:  m.cfg.Temperature,
		MaxTokens:    m.cfg.MaxTokens,
	}
	voice := m.cfg.Voice
	m.mu.Unlock()

	go func() {
		defer close(c.done)
		defer cancel()
		m.runCompletion(ctx, sess, req, voice)
		m.mu.Lock()
		if m.current == c {
			m.current = nil
		}
		m.mu.Unlock()
	}()
}

func (m *Machine) runCompletion(ctx context.Context, sess *Session, req llm.CompletionRequest, voice tts.VoiceProfile) {
	var reply strings.Builder
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dialogue: completion panicked", "panic", r)
			m.finish(ctx, sess, reply.String())
		}
	}()

	ctx, span := observe.StartSpan(ctx, "dialogue.completion")
	start := time.Now()
	ch, err := m.deps.Chat.StreamCompletion(ctx, req)
	if err != nil {
		observe.EndSpan(span, err)
		if ctx.Err() == nil {
			slog.Warn("dialogue: open completion stream", "err", err)
			m.finish(ctx, sess, "")
		}
		return
	}

	speech := m.speak(ctx, voice)
	var pending strings.Builder
	first := true
	failed := false

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case chunk, ok := <-ch:
			if !ok {
				break loop
			}
			if chunk.FinishReason == llm.FinishError {
				slog.Warn("dialogue: completion stream failed", "err", chunk.Text)
				failed = true
				break loop
			}
			if chunk.Text != "" {
				if first && m.deps.Metrics != nil {
					m.deps.Metrics.LLMFirstToken.Record(ctx, time.Since(start).Seconds())
				}
				first = false
				reply.WriteString(chunk.Text)
				pending.WriteString(chunk.Text)
				m.deps.Emit(event.Completion{PartialReplyText: reply.String(), Delta: chunk.Text, SessionChars: sess.Chars()})
				flushSentences(ctx, &pending, speech)
			}
			if chunk.FinishReason != "" {
				break loop
			}
		}
	}

	if ctx.Err() != nil {
		// Cancelled: nothing is spoken, persisted or reported.
		observe.EndSpan(span, nil)
		if speech != nil {
			close(speech)
		}
		go audio.Drain(ch)
		return
	}
	if speech != nil {
		if rest := strings.TrimSpace(pending.String()); rest != "" {
			select {
			case speech <- rest:
			case <-ctx.Done():
			}
		}
		close(speech)
	}

	text := strings.TrimSpace(reply.String())
	if failed {
		observe.EndSpan(span, fmt.Errorf("dialogue: completion stream failed"))
		m.finish(ctx, sess, text)
		return
	}
	observe.EndSpan(span, nil)
	if text != "" {
		sess.Append(ctx, llm.RoleAssistant, text)
		m.persist(ctx, sess.ID(), memory.SpeakerAssistant, text, memory.CategoryDialogue)
	}
	m.finish(ctx, sess, text)
}

// finish emits the terminal completion event.
func (m *Machine) finish(ctx context.Context, sess *Session, text string) {
	if ctx.Err() != nil {
		return
	}
	m.deps.Emit(event.Completion{PartialReplyText: text, IsFinished: true, SessionChars: sess.Chars()})
}

// speak opens a TTS stream for the reply and hands it to the player. It
// returns the sentence channel, or nil when the reply is not spoken.
func (m *Machine) speak(ctx context.Context, voice tts.VoiceProfile) chan string {
	if m.deps.TTS == nil || m.deps.Player == nil {
		return nil
	}
	text := make(chan string, 16)
	pcm, err := m.deps.TTS.SynthesizeStream(ctx, text, voice)
	if err != nil {
		slog.Warn("dialogue: start speech synthesis", "err", err)
		return nil
	}
	clip := &audio.Clip{Label: ReplyClip, Audio: pcm, SampleRate: m.deps.TTS.SampleRate()}

	// Checked under the lock so a reply never replaces the exit cue of the
	// transition that cancelled it.
	m.mu.Lock()
	cancelled := ctx.Err() != nil
	if !cancelled {
		m.deps.Player.Play(clip)
	}
	m.mu.Unlock()
	if cancelled {
		go audio.Drain(pcm)
		return nil
	}
	return text
}

// flushSentences moves every complete sentence from pending to speech.
func flushSentences(ctx context.Context, pending *strings.Builder, speech chan<- string) {
	if speech == nil {
		pending.Reset()
		return
	}
	for {
		buf := pending.String()
		idx := tts.SentenceBoundary(buf)
		if idx < 0 {
			return
		}
		sentence := strings.TrimSpace(buf[:idx+1])
		pending.Reset()
		pending.WriteString(strings.TrimLeft(buf[idx+1:], " \t\r\n"))
		if sentence == "" {
			continue
		}
		select {
		case speech <- sentence:
		case <-ctx.Done():
			return
		}
	}
}

// containsAny reports whether text contains one of phrases, ignoring case.
func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
