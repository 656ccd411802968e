// Package app wires all earshot subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the record store and
// builds the shared components, Run serves the host link until ctx is
// cancelled, and Shutdown tears everything down in order. Each connected
// device gets its own pipeline through the [DeviceManager].
//
// For testing, inject test doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/dialogue"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/hostlink"
	"github.com/MrWong99/earshot/internal/ingest"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transcript/phonetic"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wearable"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/memory/memstore"
	"github.com/MrWong99/earshot/pkg/memory/postgres"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM         llm.Provider
	LLMFallback llm.Provider
	STTLocal    stt.Provider
	STTCloud    stt.Provider
	TTSCloud    tts.Provider
	TTSLocal    tts.Provider
	VAD         vad.Engine
	Embeddings  embeddings.Extractor
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	registry  *prometheus.Registry

	mu  sync.RWMutex
	cfg *config.Config

	// Shared across pipelines; built in New.
	store      memory.Store
	guard      *memory.Guard
	normalizer *transcript.Normalizer
	local      stt.Recognizer
	cloud      *resilience.CloudGate
	chat       llm.Provider
	speech     tts.Provider
	summariser dialogue.Summariser
	cue        dialogue.Cue
	decoder    []wearable.Option

	devices *DeviceManager
	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of opening one from config. The
// caller keeps ownership and must close it.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsRegistry selects the registry served on /metrics. Defaults to
// the process-wide Prometheus gatherer.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). cfg must already
// be validated.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil {
		return nil, errors.New("app: a voice activity engine is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Record store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.guard = memory.NewGuard(a.store)

	// ── 2. Transcript normalisation ─────────────────────────────────────
	var normOpts []transcript.NormalizerOption
	if cfg.Pipeline.PhoneticMatching {
		normOpts = append(normOpts, transcript.WithPhoneticMatcher(phonetic.New()))
	}
	a.normalizer = transcript.NewNormalizer(lexicon(cfg), normOpts...)

	// ── 3. Recognition routes ───────────────────────────────────────────
	a.initRecognition()

	// ── 4. Dialogue: chat, speech, cue ──────────────────────────────────
	if err := a.initDialogue(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init dialogue: %w", err)
	}

	// ── 5. Wearable decoder ─────────────────────────────────────────────
	if err := a.initWearable(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init wearable: %w", err)
	}

	// ── 6. Devices and HTTP surface ─────────────────────────────────────
	a.devices = NewDeviceManager(a.openPipeline, a.metrics)
	a.handler = a.buildHandler()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens PostgreSQL when a DSN is configured and falls back to the
// in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	mc := a.cfg.Memory
	if mc.PostgresDSN == "" {
		slog.Warn("app: no postgres_dsn configured, records are kept in memory only")
		a.store = memstore.New(memstore.WithMaxRecords(mc.MaxRecords))
		return nil
	}
	store, err := postgres.NewStore(ctx, mc.PostgresDSN, mc.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initRecognition() {
	streamCfg := stt.StreamConfig{SampleRate: audio.Mono16k.SampleRate, Channels: 1}
	if a.providers.STTLocal != nil {
		a.local = stt.NewStreamRecognizer(a.providers.STTLocal, streamCfg)
	}
	if a.providers.STTCloud == nil {
		return
	}
	cc := a.cfg.Pipeline.Cloud
	a.cloud = resilience.NewCloudGate(stt.NewStreamRecognizer(a.providers.STTCloud, streamCfg), resilience.CircuitBreakerConfig{
		Name:         "stt-cloud",
		MaxFailures:  cc.MaxFailures,
		ResetTimeout: cc.Cooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("app: cloud recognition route changed state", "name", name, "from", from, "to", to)
		},
	})
	a.cloud.SetEnabled(!cc.Disabled)
}

func (a *App) initDialogue() error {
	pc := a.cfg.Providers
	if a.providers.LLM != nil {
		a.chat = a.providers.LLM
		if a.providers.LLMFallback != nil {
			fb := resilience.NewLLMFallback(a.providers.LLM, pc.LLM.Name, resilience.FallbackConfig{})
			fb.AddFallback(pc.LLMFallback.Name, a.providers.LLMFallback)
			a.chat = fb
		}
		a.summariser = dialogue.NewLLMSummariser(a.chat)
	}

	switch cloud, local := a.providers.TTSCloud, a.providers.TTSLocal; {
	case cloud != nil && local != nil:
		fb := resilience.NewTTSFallback(cloud, pc.TTSCloud.Name, resilience.FallbackConfig{})
		if err := fb.AddFallback(pc.TTSLocal.Name, local); err != nil {
			return err
		}
		fb.SetGate(pc.TTSCloud.Name, a.cloudEnabled)
		a.speech = fb
	case cloud != nil:
		a.speech = cloud
	case local != nil:
		a.speech = local
	}

	if path := a.cfg.Pipeline.CuePath; path != "" {
		cue, err := dialogue.LoadCue(path, audio.Mono16k.SampleRate)
		if err != nil {
			return err
		}
		a.cue = cue
	}
	return nil
}

func (a *App) initWearable() error {
	wc := a.cfg.Wearable
	a.decoder = []wearable.Option{wearable.WithHeartbeatDebounce(wc.HeartbeatDebounce)}
	if wc.ExpandMatrix == "" {
		return nil
	}
	cb, err := wearable.LoadCodebook(wc.ExpandMatrix, wc.InverseMatrix, wearable.DefaultBins, wearable.DefaultSamples)
	if err != nil {
		return err
	}
	a.decoder = append(a.decoder, wearable.WithCodebook(cb))
	return nil
}

// cloudEnabled gates cloud speech synthesis on the same switch as cloud
// recognition.
func (a *App) cloudEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.cfg.Pipeline.Cloud.Disabled
}

func (a *App) buildHandler() http.Handler {
	a.mu.RLock()
	origins := a.cfg.Server.AllowedOrigins
	a.mu.RUnlock()

	mux := http.NewServeMux()
	mux.Handle(hostlink.Path, hostlink.New(a.devices.Open, hostlink.WithOriginPatterns(origins...)))
	health.New(
		health.WithChecker("store", a.guard.Ping),
		health.WithStat("store_degraded", func() any { return a.guard.Degraded() }),
		health.WithStat("pipelines", func() any { return a.devices.Count() }),
		health.WithStat("devices", func() any { return a.devices.Devices() }),
		health.WithStat("cloud_recognition", a.cloudState),
	).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.registry))
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) cloudState() any {
	switch {
	case a.cloud == nil:
		return "unconfigured"
	case !a.cloud.Enabled():
		return "disabled"
	default:
		return a.cloud.State().String()
	}
}

// ─── Pipelines ───────────────────────────────────────────────────────────────

// openPipeline builds the pipeline of a newly connected device from the
// current config.
func (a *App) openPipeline(_ context.Context, dev hostlink.Device, output func(audio.AudioFrame)) (*pipeline.Pipeline, func() error, error) {
	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()
	pc := cfg.Pipeline

	vadCfg := vad.DefaultConfig()
	vadCfg.SampleRate = audio.Mono16k.SampleRate
	detector, err := a.providers.VAD.NewDetector(vadCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app: create detector for %q: %w", dev.ID, err)
	}

	deps := pipeline.Deps{
		Detector:   detector,
		Store:      a.guard,
		Local:      a.local,
		Extractor:  a.providers.Embeddings,
		Chat:       a.chat,
		TTS:        a.speech,
		Output:     output,
		Normalizer: a.normalizer,
		Summariser: a.summariser,
		Metrics:    a.metrics,
	}
	if a.cloud != nil {
		deps.Cloud = a.cloud
	}

	var release func() error
	if dir := cfg.Server.DiagnosticsDir; dir != "" {
		rec, err := ingest.NewRecorder(dir, dev.ID, dev.SampleRate, time.Now())
		if err != nil {
			slog.Warn("app: diagnostics recording disabled for device", "device", dev.ID, "err", err)
		} else {
			deps.Sink = rec
			release = rec.Close
		}
	}

	p, err := pipeline.New(deps, pipeline.Config{
		DeviceID:          dev.ID,
		AutoStart:         pc.AutoStart,
		PaddingSamples:    pc.PaddingSamples(),
		RecognizerTimeout: pc.RecognizerTimeout,
		EventBuffer:       pc.EventBuffer,
		WakePhrases:       pc.WakePhrases,
		ExitPhrases:       pc.ExitPhrases,
		EnrollmentPhrases: pc.EnrollmentPhrases,
		SystemPrompt:      pc.SystemPrompt,
		Voice:             voiceProfile(cfg),
		Temperature:       pc.Temperature,
		MaxTokens:         pc.MaxTokens,
		ContextTokens:     pc.ContextTokens,
		Cue:               a.cue,
		DecoderOptions:    a.decoder,
	})
	if err != nil {
		if release != nil {
			_ = release()
		}
		return nil, nil, err
	}
	return p, release, nil
}

// Devices returns the device manager.
func (a *App) Devices() *DeviceManager { return a.devices }

// Handler returns the HTTP surface: the host link, health probes and
// metrics.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig pushes hot-reloadable settings to the shared components and
// every live pipeline. Pipelines opened afterwards use next as is.
func (a *App) ApplyConfig(next *config.Config, diff config.ConfigDiff) {
	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	pc := next.Pipeline
	if diff.LexiconChanged {
		a.normalizer.SetLexicon(lexicon(next))
	}
	if diff.CloudDisabledChanged && a.cloud != nil {
		a.cloud.SetEnabled(!pc.Cloud.Disabled)
		slog.Info("app: cloud route toggled", "enabled", !pc.Cloud.Disabled)
	}
	if diff.PhrasesChanged || diff.SystemPromptChanged {
		a.devices.Each(func(p *pipeline.Pipeline) {
			if diff.PhrasesChanged {
				p.SetPhrases(pc.WakePhrases, pc.ExitPhrases, pc.EnrollmentPhrases)
			}
			if diff.SystemPromptChanged {
				p.SetSystemPrompt(pc.SystemPrompt)
			}
		})
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. Call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	a.mu.RLock()
	sc := a.cfg.Server
	a.mu.RUnlock()

	a.server = &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: listening", "addr", sc.ListenAddr, "tls", sc.TLS != nil)
		var err error
		if sc.TLS != nil {
			err = a.server.ListenAndServeTLS(sc.TLS.CertFile, sc.TLS.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Stop accepting; Shutdown drains the rest.
		return a.server.Close()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every pipeline, then tears down shared subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "pipelines", a.devices.Count(), "closers", len(a.closers))

		a.devices.CloseAll()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// lexicon builds the normaliser vocabulary from cfg.
func lexicon(cfg *config.Config) transcript.Lexicon {
	pc := cfg.Pipeline
	phrases := make([]string, 0, len(pc.WakePhrases)+len(pc.ExitPhrases))
	phrases = append(phrases, pc.WakePhrases...)
	phrases = append(phrases, pc.ExitPhrases...)
	return transcript.Lexicon{Homophones: pc.Homophones, Phrases: phrases}
}

// voiceProfile converts the configured voice to a tts.VoiceProfile.
func voiceProfile(cfg *config.Config) tts.VoiceProfile {
	provider := cfg.Providers.TTSCloud.Name
	if provider == "" {
		provider = cfg.Providers.TTSLocal.Name
	}
	return tts.VoiceProfile{
		ID:       cfg.Pipeline.Voice.VoiceID,
		Name:     cfg.Pipeline.Voice.Name,
		Provider: provider,
	}
}
