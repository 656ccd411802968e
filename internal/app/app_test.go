package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/hostlink"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	memorymock "github.com/MrWong99/earshot/pkg/memory/mock"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/earshot/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

// ---- helpers ----------------------------------------------------------------

// testConfig returns a validated-looking config with every optional
// provider slot named.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM:      config.ProviderEntry{Name: "openai"},
			STTLocal: config.ProviderEntry{Name: "whisper"},
			STTCloud: config.ProviderEntry{Name: "deepgram"},
			TTSCloud: config.ProviderEntry{Name: "elevenlabs"},
			TTSLocal: config.ProviderEntry{Name: "coqui"},
			VAD:      config.ProviderEntry{Name: "energy"},
		},
		Pipeline: config.PipelineConfig{
			WakePhrases: []string{"hey earshot"},
			ExitPhrases: []string{"goodbye earshot"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

type fixture struct {
	cfg   *config.Config
	store *memorymock.Store
	vad   *vadmock.Engine
	prov  *app.Providers
}

func newFixture() *fixture {
	f := &fixture{cfg: testConfig(), store: &memorymock.Store{}, vad: &vadmock.Engine{}}
	f.prov = &app.Providers{
		LLM:      &llmmock.Provider{},
		STTLocal: &sttmock.Provider{},
		STTCloud: &sttmock.Provider{},
		TTSCloud: &ttsmock.Provider{},
		TTSLocal: &ttsmock.Provider{},
		VAD:      f.vad,
	}
	return f
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func (f *fixture) build(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithStore(f.store), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), f.cfg, f.prov, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, body
}

func dial(t *testing.T, srv *httptest.Server, device string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + hostlink.Path + "?device=" + device
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---- construction -----------------------------------------------------------

func TestNew_RequiresVAD(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.prov.VAD = nil
	if _, err := app.New(context.Background(), f.cfg, f.prov, app.WithStore(f.store)); err == nil {
		t.Fatal("expected error without a VAD engine")
	}
}

func TestNew_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(t *testing.T, f *fixture)
	}{
		{"tts rate mismatch", func(t *testing.T, f *fixture) {
			f.prov.TTSCloud = &ttsmock.Provider{Rate: 24000}
			f.prov.TTSLocal = &ttsmock.Provider{Rate: 22050}
		}},
		{"missing cue file", func(t *testing.T, f *fixture) {
			f.cfg.Pipeline.CuePath = filepath.Join(t.TempDir(), "missing.wav")
		}},
		{"missing codebook", func(t *testing.T, f *fixture) {
			dir := t.TempDir()
			f.cfg.Wearable.ExpandMatrix = filepath.Join(dir, "expand.txt")
			f.cfg.Wearable.InverseMatrix = filepath.Join(dir, "inverse.txt")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.mutate(t, f)
			if _, err := app.New(context.Background(), f.cfg, f.prov, app.WithStore(f.store), app.WithMetrics(testMetrics(t))); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_MinimalProviders(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.prov = &app.Providers{VAD: f.vad}
	a := f.build(t)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	_, body := getJSON(t, srv.URL+"/readyz")
	stats, _ := body["stats"].(map[string]any)
	if stats["cloud_recognition"] != "unconfigured" {
		t.Errorf("cloud_recognition = %v, want unconfigured", stats["cloud_recognition"])
	}
}

// ---- HTTP surface -----------------------------------------------------------

func TestHandler_Readiness(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	code, body := getJSON(t, srv.URL+"/readyz")
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["store"] != "ok" {
		t.Errorf("store check = %v", checks["store"])
	}
	stats, _ := body["stats"].(map[string]any)
	if stats["pipelines"] != float64(0) || stats["cloud_recognition"] != "closed" {
		t.Errorf("stats = %v", stats)
	}
}

func TestHandler_ReadinessFailsWithStore(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.store.PingErr = errors.New("connection refused")
	a := f.build(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if code, _ := getJSON(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", code)
	}
	if code, _ := getJSON(t, srv.URL+"/healthz"); code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t, app.WithMetricsRegistry(prometheus.NewRegistry()))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandler_HostLinkOpensPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	conn := dial(t, srv, "glasses")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"start_recording"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ack map[string]any
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack["type"] != "ack" || ack["signal"] != "start_recording" {
		t.Errorf("ack = %v", ack)
	}

	if n := a.Devices().Count(); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if calls := f.vad.NewDetectorCalls; len(calls) != 1 || calls[0].Cfg.SampleRate != 16000 {
		t.Errorf("NewDetector calls = %+v", calls)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return a.Devices().Count() == 0 })
}

func TestHandler_ReconnectReplacesPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	first := dial(t, srv, "glasses")
	waitFor(t, func() bool { return a.Devices().Count() == 1 })
	dial(t, srv, "glasses")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := first.Read(ctx); err == nil {
		t.Error("first connection still open after reconnect")
	}
	if n := a.Devices().Count(); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

// ---- lifecycle --------------------------------------------------------------

func TestApplyConfig_TogglesCloudRoute(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	next := testConfig()
	next.Pipeline.Cloud.Disabled = true
	next.Pipeline.WakePhrases = []string{"hello earshot"}
	a.ApplyConfig(next, config.Diff(f.cfg, next))

	_, body := getJSON(t, srv.URL+"/readyz")
	stats, _ := body["stats"].(map[string]any)
	if stats["cloud_recognition"] != "disabled" {
		t.Errorf("cloud_recognition = %v, want disabled", stats["cloud_recognition"])
	}
}

func TestShutdown_ClosesPipelines(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t)

	link, err := a.Devices().Open(context.Background(), hostlink.Device{ID: "glasses", SampleRate: 16000}, func(audio.AudioFrame) {})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := a.Devices().Count(); n != 0 {
		t.Errorf("Count after Shutdown = %d, want 0", n)
	}
	if _, ok := <-link.Events(); ok {
		t.Error("event stream still open after Shutdown")
	}
	if _, err := a.Devices().Open(context.Background(), hostlink.Device{ID: "late"}, nil); err == nil {
		t.Error("Open after Shutdown: expected error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture()
	a := f.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDiagnosticsRecording(t *testing.T) {
	t.Parallel()
	f := newFixture()
	dir := t.TempDir()
	f.cfg.Server.DiagnosticsDir = dir
	f.cfg.Pipeline.AutoStart = true
	a := f.build(t)

	link, err := a.Devices().Open(context.Background(), hostlink.Device{ID: "glasses", SampleRate: 48000}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	frame := audio.AudioFrame{Data: make([]byte, 960), SampleRate: 48000, Channels: 1, Source: audio.SourceMicrophone}
	if err := link.IngestMicrophone(context.Background(), frame); err != nil {
		t.Fatalf("IngestMicrophone: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "glasses-*-microphone.wav"))
	if len(matches) != 1 {
		t.Fatalf("recordings = %v, want one microphone file", matches)
	}
}
