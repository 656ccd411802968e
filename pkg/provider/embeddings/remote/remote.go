// Package remote provides a speaker-embedding extractor backed by an HTTP
// inference sidecar.
//
// The sidecar accepts a WAV upload on POST /embed and answers with JSON:
//
//	{"model": "ecapa-voxceleb", "embedding": [0.12, -0.03, ...]}
//
// Any server that hosts a speaker model behind this shape works (a SpeechBrain
// or NeMo wrapper, for instance).
//
// Example usage:
//
//	x, err := remote.New("http://localhost:7000", remote.WithDimensions(192))
//	vec, err := x.Embed(ctx, samples)
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL of a locally running sidecar.
const DefaultBaseURL = "http://localhost:7000"

const sampleRate = 16000

// Ensure Extractor implements the embeddings.Extractor interface at compile time.
var _ embeddings.Extractor = (*Extractor)(nil)

// Extractor implements embeddings.Extractor against a remote sidecar.
//
// When no dimension is configured, the first successful response fixes it
// for the lifetime of the Extractor. Later responses of a different length
// are rejected.
type Extractor struct {
	baseURL    string
	httpClient *http.Client

	mu         sync.Mutex
	model      string
	dimensions int
}

type config struct {
	timeout    time.Duration
	dimensions int
	model      string
}

// Option is a functional option for Extractor.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// WithModel sets the model identifier reported before the sidecar has
// answered for the first time.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// New constructs an Extractor. If baseURL is empty, DefaultBaseURL is used.
func New(baseURL string, opts ...Option) (*Extractor, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{timeout: 10 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("remote embeddings: dimensions must not be negative, got %d", cfg.dimensions)
	}

	return &Extractor{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.timeout},
		model:      cfg.model,
		dimensions: cfg.dimensions,
	}, nil
}

type embedResponse struct {
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding"`
}

// Embed uploads samples as 16 kHz mono WAV and returns the sidecar's vector.
func (x *Extractor) Embed(ctx context.Context, samples []float32) ([]float32, error) {
	if len(samples) == 0 {
		return nil, errors.New("remote embeddings: no samples")
	}
	wav := audio.EncodeWAV(audio.Float32ToPCM16(samples), sampleRate, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/embed", bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("remote embeddings: build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote embeddings: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote embeddings: unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("remote embeddings: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dimensions == 0 {
		x.dimensions = len(result.Embedding)
	}
	if len(result.Embedding) != x.dimensions {
		return nil, fmt.Errorf("remote embeddings: got %d dimensions, want %d", len(result.Embedding), x.dimensions)
	}
	if result.Model != "" {
		x.model = result.Model
	}
	return result.Embedding, nil
}

// Dimensions returns the configured or first observed vector length. It is 0
// until either is known.
func (x *Extractor) Dimensions() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dimensions
}

// ModelID returns the model name last reported by the sidecar.
func (x *Extractor) ModelID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.model
}
