package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per role. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt_local":  {"whisper", "whisper-native"},
	"stt_cloud":  {"deepgram", "whisper"},
	"tts":        {"elevenlabs", "coqui"},
	"vad":        {"energy"},
	"embeddings": {"remote"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found, and logs warnings for settings
// that degrade the pipeline without breaking it.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	p := cfg.Providers
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("llm", p.LLMFallback.Name)
	validateProviderName("stt_local", p.STTLocal.Name)
	validateProviderName("stt_cloud", p.STTCloud.Name)
	validateProviderName("tts", p.TTSCloud.Name)
	validateProviderName("tts", p.TTSLocal.Name)
	validateProviderName("vad", p.VAD.Name)
	validateProviderName("embeddings", p.Embeddings.Name)

	if !p.VAD.Configured() {
		errs = append(errs, errors.New("providers.vad is required"))
	}
	if !p.STTLocal.Configured() {
		slog.Warn("providers.stt_local is not configured; segments outside dialogue mode will produce no text")
	}
	if !p.STTCloud.Configured() {
		slog.Warn("providers.stt_cloud is not configured; dialogue mode recognises on-device")
	}
	if !p.Embeddings.Configured() {
		slog.Warn("providers.embeddings is not configured; every utterance is attributed to the user")
	}
	if !p.LLM.Configured() {
		slog.Warn("providers.llm is not configured; dialogue mode will not reply")
	}
	if p.LLM.Configured() && !p.TTSCloud.Configured() && !p.TTSLocal.Configured() {
		slog.Warn("no tts provider configured; replies are sent as text only")
	}
	if p.LLMFallback.Configured() && !p.LLM.Configured() {
		errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
	}

	pl := cfg.Pipeline
	if pl.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", pl.SampleRate))
	}
	if pl.SegmentPaddingMs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.segment_padding_ms %d must not be negative", pl.SegmentPaddingMs))
	}
	if pl.RecognizerTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.recognizer_timeout %s must not be negative", pl.RecognizerTimeout))
	}
	if pl.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("pipeline.event_buffer %d must not be negative", pl.EventBuffer))
	}
	if pl.Temperature < 0 || pl.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", pl.Temperature))
	}
	if len(pl.WakePhrases) == 0 {
		slog.Warn("pipeline.wake_phrases is empty; dialogue mode can never start")
	}
	errs = append(errs, checkPhrases("pipeline.wake_phrases", pl.WakePhrases)...)
	errs = append(errs, checkPhrases("pipeline.exit_phrases", pl.ExitPhrases)...)
	errs = append(errs, checkPhrases("pipeline.enrollment_phrases", pl.EnrollmentPhrases)...)
	for _, w := range pl.WakePhrases {
		if slices.Contains(pl.ExitPhrases, w) {
			errs = append(errs, fmt.Errorf("pipeline: %q is both a wake and an exit phrase", w))
		}
	}
	for from, to := range pl.Homophones {
		if from == "" || to == "" {
			errs = append(errs, fmt.Errorf("pipeline.homophones: empty entry %q: %q", from, to))
		}
	}
	if pl.CuePath != "" {
		if _, err := os.Stat(pl.CuePath); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.cue_path: %w", err))
		}
	}

	w := cfg.Wearable
	if (w.ExpandMatrix == "") != (w.InverseMatrix == "") {
		errs = append(errs, errors.New("wearable: expand_matrix and inverse_matrix must be set together"))
	}
	if w.HeartbeatDebounce < 0 {
		errs = append(errs, fmt.Errorf("wearable.heartbeat_debounce %s must not be negative", w.HeartbeatDebounce))
	}

	if cfg.Memory.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions %d must be positive", cfg.Memory.EmbeddingDimensions))
	}
	if dims := p.Embeddings.OptionInt("dimensions", 0); dims > 0 && cfg.Memory.EmbeddingDimensions > 0 && dims != cfg.Memory.EmbeddingDimensions {
		errs = append(errs, fmt.Errorf("providers.embeddings.options.dimensions %d does not match memory.embedding_dimensions %d", dims, cfg.Memory.EmbeddingDimensions))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; records and voiceprints are kept in memory only")
	}

	return errors.Join(errs...)
}

func checkPhrases(field string, phrases []string) []error {
	var errs []error
	seen := make(map[string]int, len(phrases))
	for i, ph := range phrases {
		if ph == "" {
			errs = append(errs, fmt.Errorf("%s[%d] is empty", field, i))
			continue
		}
		if prev, ok := seen[ph]; ok {
			errs = append(errs, fmt.Errorf("%s[%d] %q is a duplicate of %s[%d]", field, i, ph, field, prev))
		}
		seen[ph] = i
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
