// Package config provides the configuration schema, loader, provider
// registry and file watcher for earshot.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultSampleRate          = 16000
	DefaultSegmentPaddingMs    = 200
	DefaultRecognizerTimeout   = 15 * time.Second
	DefaultHeartbeatDebounce   = 2 * time.Second
	DefaultEmbeddingDimensions = 192
	DefaultContextTokens       = 4096
	DefaultCloudMaxFailures    = 3
	DefaultCloudCooldown       = 30 * time.Second
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Wearable  WearableConfig  `yaml:"wearable"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns allowed to open a cross-origin
	// host link. Same-origin connections are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// DiagnosticsDir, when set, receives a WAV recording of the raw inbound
	// audio of every connection.
	DiagnosticsDir string `yaml:"diagnostics_dir"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the implementation of each provider role. Each
// entry names a constructor registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback is tried when LLM fails.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`

	// STTLocal is the on-device recognizer used outside dialogue mode and
	// whenever the cloud route is unavailable.
	STTLocal ProviderEntry `yaml:"stt_local"`

	// STTCloud is the recognizer used during dialogue mode.
	STTCloud ProviderEntry `yaml:"stt_cloud"`

	TTSCloud   ProviderEntry `yaml:"tts_cloud"`
	TTSLocal   ProviderEntry `yaml:"tts_local"`
	VAD        ProviderEntry `yaml:"vad"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Local providers
	// (whisper server, coqui, the embedding sidecar) require it.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini",
	// "nova-2", or a whisper model path for whisper-native).
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// OptionString returns Options[key] as a string, or "".
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionInt returns Options[key] as an int, or def when absent or not a
// number.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// PipelineConfig configures the per-device audio pipeline.
type PipelineConfig struct {
	// SampleRate is the rate assumed for host microphone audio when the
	// connection does not negotiate one.
	SampleRate int `yaml:"sample_rate"`

	SegmentPaddingMs  int           `yaml:"segment_padding_ms"`
	RecognizerTimeout time.Duration `yaml:"recognizer_timeout"`

	// AutoStart enables recording as soon as a device connects. When false
	// the host must send start_recording.
	AutoStart bool `yaml:"auto_start"`

	// EventBuffer is the number of outbound events held for a slow host.
	EventBuffer int `yaml:"event_buffer"`

	WakePhrases       []string `yaml:"wake_phrases"`
	ExitPhrases       []string `yaml:"exit_phrases"`
	EnrollmentPhrases []string `yaml:"enrollment_phrases"`

	// Homophones maps misrecognised forms to their canonical spelling
	// (e.g., "hey ear shot": "hey earshot").
	Homophones map[string]string `yaml:"homophones"`

	// PhoneticMatching enables fuzzy correction of wake and exit phrases.
	PhoneticMatching bool `yaml:"phonetic_matching"`

	// CuePath is a WAV or raw PCM16 file played when dialogue mode ends.
	// Empty selects a short synthesised beep.
	CuePath string `yaml:"cue_path"`

	SystemPrompt  string      `yaml:"system_prompt"`
	Temperature   float64     `yaml:"temperature"`
	MaxTokens     int         `yaml:"max_tokens"`
	ContextTokens int         `yaml:"context_tokens"`
	Voice         VoiceConfig `yaml:"voice"`

	Cloud CloudConfig `yaml:"cloud"`
}

// VoiceConfig specifies the reply voice.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	VoiceID string `yaml:"voice_id"`

	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`
}

// CloudConfig controls the cloud recognition route.
type CloudConfig struct {
	// Disabled turns the cloud route off without removing its provider.
	Disabled bool `yaml:"disabled"`

	// MaxFailures consecutive failures make the route unavailable for
	// Cooldown.
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// WearableConfig configures the wearable packet decoder.
type WearableConfig struct {
	HeartbeatDebounce time.Duration `yaml:"heartbeat_debounce"`

	// ExpandMatrix and InverseMatrix point at whitespace-separated matrix
	// files replacing the built-in codebook. Both or neither must be set.
	ExpandMatrix  string `yaml:"expand_matrix"`
	InverseMatrix string `yaml:"inverse_matrix"`
}

// MemoryConfig configures the record and speaker-profile store.
type MemoryConfig struct {
	// PostgresDSN selects the PostgreSQL store. When empty an in-memory
	// store is used and nothing survives a restart.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the voiceprint vector size. It must match the
	// embeddings provider.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// MaxRecords bounds the in-memory store. Zero keeps everything.
	MaxRecords int `yaml:"max_records"`
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	p := &c.Pipeline
	if p.SampleRate == 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.SegmentPaddingMs == 0 {
		p.SegmentPaddingMs = DefaultSegmentPaddingMs
	}
	if p.RecognizerTimeout == 0 {
		p.RecognizerTimeout = DefaultRecognizerTimeout
	}
	if p.ContextTokens == 0 {
		p.ContextTokens = DefaultContextTokens
	}
	if p.Cloud.MaxFailures == 0 {
		p.Cloud.MaxFailures = DefaultCloudMaxFailures
	}
	if p.Cloud.Cooldown == 0 {
		p.Cloud.Cooldown = DefaultCloudCooldown
	}
	if c.Wearable.HeartbeatDebounce == 0 {
		c.Wearable.HeartbeatDebounce = DefaultHeartbeatDebounce
	}
	if c.Memory.EmbeddingDimensions == 0 {
		c.Memory.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// PaddingSamples converts SegmentPaddingMs to 16 kHz samples.
func (p PipelineConfig) PaddingSamples() int {
	return p.SegmentPaddingMs * 16
}
