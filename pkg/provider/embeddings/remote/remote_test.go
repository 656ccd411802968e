package remote_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/embeddings/remote"
)

// mockSidecar answers POST /embed with the given vector and records the
// number of PCM samples received.
func mockSidecar(t *testing.T, vec []float32, gotSamples chan<- int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Content-Type = %q, want audio/wav", ct)
		}
		body, _ := io.ReadAll(r.Body)
		pcm, format, err := audio.DecodeWAV(body)
		if err != nil {
			t.Errorf("DecodeWAV: %v", err)
			http.Error(w, "bad wav", http.StatusBadRequest)
			return
		}
		if format.SampleRate != 16000 || format.Channels != 1 {
			t.Errorf("format = %+v, want 16kHz mono", format)
		}
		if gotSamples != nil {
			gotSamples <- len(pcm) / 2
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "ecapa-test", "embedding": vec})
	}))
}

func TestEmbed(t *testing.T) {
	got := make(chan int, 1)
	srv := mockSidecar(t, []float32{0.1, 0.2, 0.3}, got)
	defer srv.Close()

	x, err := remote.New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d := x.Dimensions(); d != 0 {
		t.Errorf("Dimensions before first call = %d, want 0", d)
	}

	vec, err := x.Embed(context.Background(), make([]float32, 800))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("vec = %v, want [0.1 0.2 0.3]", vec)
	}
	if n := <-got; n != 800 {
		t.Errorf("sidecar received %d samples, want 800", n)
	}
	if d := x.Dimensions(); d != 3 {
		t.Errorf("Dimensions = %d, want 3", d)
	}
	if id := x.ModelID(); id != "ecapa-test" {
		t.Errorf("ModelID = %q, want ecapa-test", id)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv := mockSidecar(t, []float32{1, 2}, nil)
	defer srv.Close()

	x, _ := remote.New(srv.URL, remote.WithDimensions(192))
	if _, err := x.Embed(context.Background(), []float32{0.5}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := mockSidecar(t, nil, nil)
	defer srv.Close()

	x, _ := remote.New(srv.URL)
	vec, err := x.Embed(context.Background(), []float32{0.5})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 0 {
		t.Errorf("vec = %v, want empty", vec)
	}
}

func TestEmbed_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		baseURL string
		samples []float32
		timeout time.Duration
	}{
		{"no samples", srv.URL, nil, time.Second},
		{"server error", srv.URL, []float32{0.1}, time.Second},
		{"unreachable", "http://127.0.0.1:1", []float32{0.1}, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := remote.New(tt.baseURL, remote.WithTimeout(tt.timeout))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := x.Embed(context.Background(), tt.samples); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_NegativeDimensions(t *testing.T) {
	if _, err := remote.New("", remote.WithDimensions(-1)); err == nil {
		t.Fatal("expected error for negative dimensions")
	}
}

func TestModelID_BeforeFirstCall(t *testing.T) {
	x, _ := remote.New("", remote.WithModel("ecapa"))
	if id := x.ModelID(); id != "ecapa" {
		t.Errorf("ModelID = %q, want ecapa", id)
	}
}
