// Package pipeline wires the audio path of one host device: ingest,
// wearable decoding, segmentation, speaker attribution, recognition and the
// dialogue state machine.
//
// A [Pipeline] owns one instance of every component. Segmentation and
// packet decoding are single-writer: [Pipeline.IngestMicrophone] and
// [Pipeline.IngestWearable] may be called concurrently, but are serialised
// internally so samples reach the detector in arrival order and segments are
// processed one after another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/dialogue"
	"github.com/MrWong99/earshot/internal/event"
	"github.com/MrWong99/earshot/internal/ingest"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recognition"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/internal/speaker"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/player"
	"github.com/MrWong99/earshot/pkg/audio/wearable"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrClosed is returned by ingest calls after [Pipeline.Close].
var ErrClosed = errors.New("pipeline: closed")

// Deps are the collaborators of a [Pipeline]. Detector and Store are
// required. Every provider may be nil, in which case the component that
// uses it degrades: no local recognizer means no text, no extractor means
// every embedding is the degraded sentinel, no Chat means no replies.
type Deps struct {
	Detector  vad.Detector
	Store     memory.Store
	Local     stt.Recognizer
	Cloud     recognition.CloudRecognizer
	Extractor embeddings.Extractor
	Chat      llm.Provider
	TTS       tts.Provider

	// Output receives playback audio (replies and cues). When nil nothing
	// is played.
	Output func(audio.AudioFrame)

	// Sink mirrors raw inbound audio. Optional.
	Sink ingest.DiagnosticSink

	Normalizer *transcript.Normalizer
	Summariser dialogue.Summariser
	Metrics    *observe.Metrics
}

// Config holds per-pipeline settings. Zero values select defaults.
type Config struct {
	DeviceID string

	// AutoStart enables recording immediately.
	AutoStart bool

	PaddingSamples    int
	RecognizerTimeout time.Duration
	EventBuffer       int

	WakePhrases       []string
	ExitPhrases       []string
	EnrollmentPhrases []string
	SystemPrompt      string
	Voice             tts.VoiceProfile
	Temperature       float64
	MaxTokens         int
	ContextTokens     int
	Cue               dialogue.Cue

	// DecoderOptions configure the wearable packet decoder.
	DecoderOptions []wearable.Option
}

// State is a snapshot of the pipeline flags.
type State struct {
	DeviceID             string
	RecordingEnabled     bool
	MicrophoneEnabled    bool
	DialogMode           bool
	EnrollmentInProgress bool
	BoneConductionActive bool
	EnrollmentStep       int
}

// Pipeline processes the audio of one device.
type Pipeline struct {
	deps    Deps
	metrics *observe.Metrics

	ingest      *ingest.Adapter
	decoder     *wearable.Decoder
	seg         *segment.Engine
	attributor  *speaker.Attributor
	enrollment  *speaker.Enrollment
	recognition *recognition.Orchestrator
	dialogue    *dialogue.Machine
	player      *player.Serial
	events      *eventQueue

	// mu serialises segmentation and packet decoding.
	mu sync.Mutex

	// routeMu orders routing of a final against begin_enrollment, so a final
	// is either routed before enrollment starts or never reaches the
	// dialogue.
	routeMu sync.Mutex

	recording  atomic.Bool
	microphone atomic.Bool
	bone       atomic.Bool
	closed     atomic.Bool

	stateMu  sync.Mutex
	deviceID string

	closeOnce sync.Once
}

// Compile-time interface assertions.
var (
	_ segment.Gate       = (*Pipeline)(nil)
	_ segment.Dispatcher = (*Pipeline)(nil)
)

// New builds a pipeline from deps and cfg.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	dec, err := wearable.NewDecoder(cfg.DecoderOptions...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: wearable decoder: %w", err)
	}

	p := &Pipeline{
		deps:     deps,
		metrics:  deps.Metrics,
		decoder:  dec,
		deviceID: cfg.DeviceID,
		events:   newEventQueue(cfg.EventBuffer, deps.Metrics),
	}
	p.recording.Store(cfg.AutoStart)
	p.microphone.Store(true)

	var ingestOpts []ingest.Option
	if deps.Sink != nil {
		ingestOpts = append(ingestOpts, ingest.WithDiagnosticSink(deps.Sink, ingest.DefaultMirrorQueue))
	}
	p.ingest = ingest.New(ingestOpts...)

	var spkOpts []speaker.Option
	if deps.Metrics != nil {
		spkOpts = append(spkOpts, speaker.WithMetrics(deps.Metrics))
	}
	p.attributor = speaker.NewAttributor(deps.Extractor, deps.Store, deps.Store, spkOpts...)
	p.enrollment = speaker.NewEnrollment(deps.Store, p.attributor.ModelID(), "", cfg.EnrollmentPhrases)

	recOpts := []recognition.Option{recognition.WithTimeout(cfg.RecognizerTimeout)}
	if deps.Normalizer != nil {
		recOpts = append(recOpts, recognition.WithNormalizer(deps.Normalizer))
	}
	if deps.Metrics != nil {
		recOpts = append(recOpts, recognition.WithMetrics(deps.Metrics))
	}
	p.recognition = recognition.New(deps.Local, deps.Cloud, p, recOpts...)

	segOpts := []segment.Option{
		segment.WithBargeIn(p.bargeIn),
		segment.WithSpeechListener(func(active bool) { p.emit(event.Speech{Detected: active}) }),
	}
	if cfg.PaddingSamples > 0 {
		segOpts = append(segOpts, segment.WithPadding(cfg.PaddingSamples))
	}
	if deps.Metrics != nil {
		segOpts = append(segOpts, segment.WithMetrics(deps.Metrics))
	}
	p.seg = segment.New(deps.Detector, p, p, segOpts...)

	var out audio.Player
	if deps.Output != nil {
		p.player = player.New(deps.Output, player.WithOnInterrupt(func(label string, reason audio.InterruptReason) {
			slog.Debug("pipeline: playback interrupted", "device", p.DeviceID(), "clip", label, "reason", reason)
		}))
		out = p.player
	}
	p.dialogue = dialogue.New(dialogue.Deps{
		Records:    deps.Store,
		Chat:       deps.Chat,
		TTS:        deps.TTS,
		Player:     out,
		Segments:   p.seg,
		Emit:       p.emit,
		Summariser: deps.Summariser,
		Metrics:    deps.Metrics,
	}, dialogue.Config{
		DeviceID:     cfg.DeviceID,
		WakePhrases:  cfg.WakePhrases,
		ExitPhrases:  cfg.ExitPhrases,
		SystemPrompt: cfg.SystemPrompt,
		Voice:        cfg.Voice,
		Temperature:  cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		ContextTokens: cfg.ContextTokens,
		Cue:           cfg.Cue,
	})
	return p, nil
}

// Events returns the outbound event stream. It is closed by Close.
func (p *Pipeline) Events() <-chan event.Event { return p.events.out }

// DroppedEvents returns how many events were discarded for a slow consumer.
func (p *Pipeline) DroppedEvents() int64 { return p.events.droppedCount() }

// DeviceID returns the connected device.
func (p *Pipeline) DeviceID() string {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.deviceID
}

// State returns a snapshot of the pipeline flags.
func (p *Pipeline) State() State {
	step, _ := p.enrollment.Step()
	return State{
		DeviceID:             p.DeviceID(),
		RecordingEnabled:     p.recording.Load(),
		MicrophoneEnabled:    p.microphone.Load(),
		DialogMode:           p.dialogue.DialogActive(),
		EnrollmentInProgress: p.enrollment.Active(),
		BoneConductionActive: p.bone.Load(),
		EnrollmentStep:       step,
	}
}

// DialogActive implements [segment.Gate] and the recognition gate.
func (p *Pipeline) DialogActive() bool { return p.dialogue.DialogActive() }

// BoneConductionActive implements [segment.Gate].
func (p *Pipeline) BoneConductionActive() bool { return p.bone.Load() }

// SetPhrases replaces wake, exit and enrollment phrases.
func (p *Pipeline) SetPhrases(wake, exit, enrollment []string) {
	p.dialogue.SetPhrases(wake, exit)
	p.enrollment.SetPhrases(enrollment)
}

// SetSystemPrompt replaces the chat system prompt.
func (p *Pipeline) SetSystemPrompt(prompt string) { p.dialogue.SetSystemPrompt(prompt) }

// IngestMicrophone processes one host microphone frame. It is a no-op while
// recording or the microphone is disabled.
func (p *Pipeline) IngestMicrophone(ctx context.Context, frame audio.AudioFrame) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.recording.Load() || !p.microphone.Load() {
		return nil
	}
	samples := p.ingest.Microphone(frame)
	if len(samples) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.seg.Process(ctx, samples)
	return err
}

// IngestWearable processes one wearable packet. Malformed packets are
// reported with an error wrapping [wearable.ErrPacketLength] or
// [wearable.ErrUnknownMarker]; the pipeline state is not affected.
func (p *Pipeline) IngestWearable(ctx context.Context, packet []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.recording.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dec, err := p.decoder.Decode(packet)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPacket(ctx, "malformed")
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordPacket(ctx, dec.Kind.String())
	}
	if dec.BoneConductionChanged {
		p.bone.Store(dec.BoneConduction)
		p.emit(event.BoneConduction{Active: dec.BoneConduction})
	}
	for _, chunk := range dec.Chunks {
		samples := p.ingest.Wearable(chunk)
		if _, err := p.seg.Process(ctx, samples); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch implements [segment.Dispatcher]. It runs attribution and
// recognition for one segment and routes the final text to enrollment or
// the dialogue.
func (p *Pipeline) Dispatch(ctx context.Context, seg segment.Segment) {
	enrolling := p.enrollment.Active()
	gen := p.enrollment.Generation()

	emb := p.attributor.Embed(ctx, seg.Samples)
	res := p.recognition.Recognize(ctx, seg.Samples, func(text string) {
		p.emit(event.Transcript{Text: text, DialogMode: p.dialogue.DialogActive()})
	})
	if res.Text == "" {
		return
	}

	p.routeMu.Lock()
	defer p.routeMu.Unlock()

	if enrolling || p.enrollment.Generation() != gen {
		p.emit(event.Transcript{Text: res.Text, IsFinal: true, DialogMode: p.dialogue.DialogActive()})
		if enrolling {
			p.enroll(ctx, gen, res.Text, emb)
		} else {
			// Enrollment began while this segment was being recognised.
			slog.Debug("pipeline: dropped final recognised across an enrollment start", "device", p.DeviceID())
		}
		return
	}

	spk := p.attributor.Identify(ctx, emb)
	out := p.dialogue.HandleFinal(ctx, res.Text, spk)
	p.emit(event.Transcript{
		Text:         res.Text,
		IsFinal:      true,
		DialogMode:   out.Mode == dialogue.ModeActive,
		Speaker:      spk,
		SessionChars: out.SessionChars,
	})
}

func (p *Pipeline) enroll(ctx context.Context, gen uint64, text string, emb speaker.Embedding) {
	out := p.enrollment.Enroll(ctx, gen, text, emb)
	switch out.Kind {
	case speaker.OutcomeStepAccepted:
		p.emit(event.Enrollment{Status: event.EnrollmentAccepted, Step: out.Step, Phrase: out.Phrase, Message: out.Message, Similarity: out.Similarity})
	case speaker.OutcomeCompleted:
		p.emit(event.Enrollment{Status: event.EnrollmentCompleted, Step: out.Step, Message: out.Message, Similarity: out.Similarity})
	case speaker.OutcomeRetry:
		p.emit(event.Enrollment{Status: event.EnrollmentRetry, Step: out.Step, Phrase: out.Phrase, Message: out.Message, Similarity: out.Similarity})
	case speaker.OutcomeDiscarded:
		slog.Debug("pipeline: discarded enrollment result from an aborted run", "device", p.DeviceID())
	}
}

func (p *Pipeline) bargeIn() {
	if p.dialogue.BargeIn() {
		slog.Debug("pipeline: barge-in interrupted playback", "device", p.DeviceID())
	}
}

func (p *Pipeline) emit(e event.Event) { p.events.push(e) }

// Close stops playback, cancels any completion and closes the event stream.
// It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.dialogue.Close()
		if p.player != nil {
			_ = p.player.Close()
		}
		p.ingest.Close()
		p.events.close()
	})
	return nil
}
