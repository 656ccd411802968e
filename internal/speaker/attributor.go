// Package speaker attributes speech segments to the enrolled primary user or
// to somebody else, and runs voiceprint enrollment.
//
// [Attributor.Embed] never fails: extractor errors, empty results and panics
// all produce a zero vector flagged as degraded. [Attributor.Identify] turns
// an embedding into [memory.SpeakerUser] or [memory.SpeakerOthers] using a
// threshold that adapts to how often the user spoke recently.
package speaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/memory"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

// DefaultDimensions is used for the sentinel vector when no extractor is
// available to report its size.
const DefaultDimensions = 192

// Embedding is the outcome of [Attributor.Embed].
type Embedding struct {
	Vector []float32

	// Degraded is set when Vector is the zero sentinel rather than a model
	// output.
	Degraded bool
}

// Usable reports whether the embedding may be compared or stored.
func (e Embedding) Usable() bool {
	return !e.Degraded && QualityGate(e.Vector)
}

// Option configures an [Attributor].
type Option func(*Attributor)

// WithDimensions sets the sentinel size used when the extractor is missing.
func WithDimensions(n int) Option {
	return func(a *Attributor) {
		if n > 0 {
			a.dims = n
		}
	}
}

// WithMetrics records embedding latency and attribution outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Attributor) { a.metrics = m }
}

// Attributor extracts embeddings and identifies speakers. It is safe for
// concurrent use.
type Attributor struct {
	ext      embeddings.Extractor
	profiles memory.SpeakerProfileStore
	records  memory.RecordStore
	dims     int
	metrics  *observe.Metrics
}

// NewAttributor creates an Attributor. A nil ext leaves the attributor
// permanently degraded: every embedding is the zero sentinel.
func NewAttributor(ext embeddings.Extractor, profiles memory.SpeakerProfileStore, records memory.RecordStore, opts ...Option) *Attributor {
	a := &Attributor{ext: ext, profiles: profiles, records: records, dims: DefaultDimensions}
	if ext != nil && ext.Dimensions() > 0 {
		a.dims = ext.Dimensions()
	}
	for _, o := range opts {
		o(a)
	}
	if ext == nil {
		slog.Warn("speaker: no embedding extractor, attribution is degraded")
	}
	return a
}

// Degraded reports whether the extractor is unavailable.
func (a *Attributor) Degraded() bool { return a.ext == nil }

// ModelID returns the extractor's model identifier, or "" when degraded.
func (a *Attributor) ModelID() string {
	if a.ext == nil {
		return ""
	}
	return a.ext.ModelID()
}

// Embed computes the voiceprint for samples.
func (a *Attributor) Embed(ctx context.Context, samples []float32) Embedding {
	if a.ext == nil {
		return a.sentinel()
	}
	start := time.Now()
	vec, err := a.extract(ctx, samples)
	if a.metrics != nil {
		a.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	}
	switch {
	case err != nil:
		slog.Warn("speaker: embedding failed", "err", err)
		return a.sentinel()
	case len(vec) == 0:
		slog.Warn("speaker: extractor returned an empty embedding")
		return a.sentinel()
	case len(vec) != a.dims:
		slog.Warn("speaker: embedding has unexpected size", "got", len(vec), "want", a.dims)
		return a.sentinel()
	}
	return Embedding{Vector: vec}
}

func (a *Attributor) extract(ctx context.Context, samples []float32) (vec []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			vec, err = nil, errors.New("speaker: extractor panicked")
			slog.Error("speaker: extractor panicked", "panic", r)
		}
	}()
	return a.ext.Embed(ctx, samples)
}

func (a *Attributor) sentinel() Embedding {
	return Embedding{Vector: make([]float32, a.dims), Degraded: true}
}

// Identify attributes emb. Without an enrolled primary profile the answer is
// [memory.SpeakerOthers]; an embedding that fails the quality gate is
// attributed to [memory.SpeakerUser]. Otherwise the cosine similarity to the
// primary profile is compared against [ThresholdFor] the user's share of the
// last [HistoryWindow] turns.
func (a *Attributor) Identify(ctx context.Context, emb Embedding) memory.Speaker {
	spk := a.identify(ctx, emb)
	if a.metrics != nil {
		a.metrics.RecordIdentify(ctx, spk.String())
	}
	return spk
}

func (a *Attributor) identify(ctx context.Context, emb Embedding) memory.Speaker {
	profile, err := a.profiles.PrimaryProfile(ctx)
	if err != nil {
		if !errors.Is(err, memory.ErrNoProfile) {
			slog.Warn("speaker: load primary profile", "err", err)
		}
		return memory.SpeakerOthers
	}
	if id := a.ModelID(); id != "" && profile.ModelID != "" && profile.ModelID != id {
		slog.Warn("speaker: primary profile was enrolled with another model", "profile_model", profile.ModelID, "model", id)
		return memory.SpeakerOthers
	}
	if !emb.Usable() {
		return memory.SpeakerUser
	}

	threshold := ThresholdBalanced
	if ratio, err := a.records.RecentSpeakerRatio(ctx, HistoryWindow); err != nil {
		slog.Warn("speaker: recent speaker ratio unavailable, using balanced threshold", "err", err)
	} else {
		threshold = ThresholdFor(ratio)
	}

	sim := CosineSimilarity(emb.Vector, profile.Embedding)
	slog.Debug("speaker: identify", "similarity", sim, "threshold", threshold)
	if sim > threshold {
		return memory.SpeakerUser
	}
	return memory.SpeakerOthers
}
