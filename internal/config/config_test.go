package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
	embmock "github.com/MrWong99/earshot/pkg/provider/embeddings/mock"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	ttsmock "github.com/MrWong99/earshot/pkg/provider/tts/mock"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["app.example.com"]

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  stt_local:
    name: whisper
    base_url: http://localhost:9000
  stt_cloud:
    name: deepgram
    api_key: dg-test
  tts_cloud:
    name: elevenlabs
    api_key: el-test
    options:
      voice_id: rachel
  tts_local:
    name: coqui
    base_url: http://localhost:5002
  vad:
    name: energy
  embeddings:
    name: remote
    base_url: http://localhost:7000
    options:
      dimensions: 192

pipeline:
  sample_rate: 48000
  segment_padding_ms: 100
  recognizer_timeout: 10s
  auto_start: true
  wake_phrases: ["hey earshot"]
  exit_phrases: ["goodbye earshot"]
  homophones:
    "hey ear shot": "hey earshot"
  enrollment_phrases: ["the quick brown fox", "jumps over the lazy dog"]
  system_prompt: "You are a concise assistant."
  temperature: 0.4
  cloud:
    max_failures: 5
    cooldown: 1m

wearable:
  heartbeat_debounce: 3s

memory:
  postgres_dsn: postgres://localhost/earshot
  embedding_dimensions: 192
`

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── schema ───────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.STTCloud.Name != "deepgram" || cfg.Providers.STTLocal.BaseURL != "http://localhost:9000" {
		t.Errorf("stt providers = %+v / %+v", cfg.Providers.STTLocal, cfg.Providers.STTCloud)
	}
	if got := cfg.Providers.TTSCloud.OptionString("voice_id"); got != "rachel" {
		t.Errorf("tts voice_id option = %q", got)
	}
	if got := cfg.Providers.Embeddings.OptionInt("dimensions", 0); got != 192 {
		t.Errorf("embeddings dimensions option = %d", got)
	}
	p := cfg.Pipeline
	if p.SampleRate != 48000 || p.RecognizerTimeout != 10*time.Second || !p.AutoStart {
		t.Errorf("pipeline = %+v", p)
	}
	if p.PaddingSamples() != 1600 {
		t.Errorf("PaddingSamples = %d, want 1600", p.PaddingSamples())
	}
	if p.Homophones["hey ear shot"] != "hey earshot" {
		t.Errorf("homophones = %v", p.Homophones)
	}
	if p.Cloud.MaxFailures != 5 || p.Cloud.Cooldown != time.Minute {
		t.Errorf("cloud = %+v", p.Cloud)
	}
	if cfg.Wearable.HeartbeatDebounce != 3*time.Second {
		t.Errorf("heartbeat_debounce = %s", cfg.Wearable.HeartbeatDebounce)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  vad:\n    name: energy\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"sample_rate", cfg.Pipeline.SampleRate, config.DefaultSampleRate},
		{"padding", cfg.Pipeline.SegmentPaddingMs, config.DefaultSegmentPaddingMs},
		{"recognizer_timeout", cfg.Pipeline.RecognizerTimeout, config.DefaultRecognizerTimeout},
		{"heartbeat_debounce", cfg.Wearable.HeartbeatDebounce, config.DefaultHeartbeatDebounce},
		{"embedding_dimensions", cfg.Memory.EmbeddingDimensions, config.DefaultEmbeddingDimensions},
		{"cloud max_failures", cfg.Pipeline.Cloud.MaxFailures, config.DefaultCloudMaxFailures},
		{"cloud cooldown", cfg.Pipeline.Cloud.Cooldown, config.DefaultCloudCooldown},
		{"auto_start", cfg.Pipeline.AutoStart, false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("providers:\n  vad:\n    name: energy\nnpcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestOptionInt(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"a": 3, "b": 4.0, "c": "five", "d": int64(6)}}
	tests := []struct {
		key  string
		want int
	}{
		{"a", 3},
		{"b", 4},
		{"c", -1},
		{"d", 6},
		{"missing", -1},
	}
	for _, tt := range tests {
		if got := e.OptionInt(tt.key, -1); got != tt.want {
			t.Errorf("OptionInt(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreatesRegisteredProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterEmbeddings("fake", func(config.ProviderEntry) (embeddings.Extractor, error) { return &embmock.Extractor{}, nil })
	reg.RegisterVAD("fake", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })

	entry := config.ProviderEntry{Name: "fake"}
	if _, err := reg.CreateLLM(entry); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if _, err := reg.CreateSTT(entry); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(entry); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateEmbeddings(entry); err != nil {
		t.Errorf("CreateEmbeddings: %v", err)
	}
	if _, err := reg.CreateVAD(entry); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), `stt/"nope"`) {
		t.Errorf("error should name the kind and provider, got %v", err)
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterVAD("bad", func(config.ProviderEntry) (vad.Engine, error) { return nil, boom })
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRegistry_ReceivesEntry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterLLM("capture", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return &llmmock.Provider{}, nil
	})
	want := config.ProviderEntry{Name: "capture", APIKey: "k", Model: "m"}
	if _, err := reg.CreateLLM(want); err != nil {
		t.Fatal(err)
	}
	if got.APIKey != "k" || got.Model != "m" {
		t.Errorf("factory got %+v", got)
	}
}
