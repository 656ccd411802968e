// Package recognition routes speech segments to the cloud or on-device
// recognizer and turns raw recognizer output into publishable text.
//
// Exactly one recognizer runs per segment. The cloud route is taken only
// while a dialogue is active and the cloud is available; everything else
// goes on-device. Recognizer failures, timeouts and panics all degrade to an
// empty result so the caller can keep streaming.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// DefaultTimeout bounds a single recognizer call.
const DefaultTimeout = 15 * time.Second

// Route names the recognizer a segment was sent to.
type Route string

const (
	RouteLocal Route = "local"
	RouteCloud Route = "cloud"
)

// Gate reports the dialogue mode.
type Gate interface {
	DialogActive() bool
}

// CloudRecognizer is a cloud recognizer that can report whether it should
// be used right now. [resilience.CloudGate] satisfies it.
type CloudRecognizer interface {
	stt.Recognizer
	Available() bool
}

// Result is the outcome of [Orchestrator.Recognize].
type Result struct {
	// Text is the finalised text. Empty means nothing should be published.
	Text string

	// Route is the recognizer that handled the segment.
	Route Route

	// Err is the recognizer failure, if any. Text is empty when set.
	Err error
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithTimeout sets the per-segment recognizer timeout. Non-positive values
// are ignored.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithNormalizer sets the lexical normaliser applied to partial and final
// text.
func WithNormalizer(n *transcript.Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithMetrics records recognition latency and failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator selects a recognizer per segment and cleans its output. It
// is safe for concurrent use; the pipeline calls it sequentially.
type Orchestrator struct {
	local      stt.Recognizer
	cloud      CloudRecognizer
	gate       Gate
	normalizer *transcript.Normalizer
	timeout    time.Duration
	metrics    *observe.Metrics
}

// New creates an Orchestrator. local may be nil when the on-device
// recognizer failed to load; segments routed there then produce no text.
// cloud may be nil when no cloud recognizer is configured.
func New(local stt.Recognizer, cloud CloudRecognizer, gate Gate, opts ...Option) *Orchestrator {
	o := &Orchestrator{local: local, cloud: cloud, gate: gate, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if local == nil {
		slog.Warn("recognition: no on-device recognizer, local route is degraded")
	}
	return o
}

// Route returns the recognizer the next segment would be sent to.
func (o *Orchestrator) Route() Route {
	if o.cloud != nil && o.gate != nil && o.gate.DialogActive() && o.cloud.Available() {
		return RouteCloud
	}
	return RouteLocal
}

// Recognize transcribes samples. onPartial, if non-nil, receives each
// normalised, non-empty interim text that differs from the previous one,
// always before Recognize returns.
func (o *Orchestrator) Recognize(ctx context.Context, samples []float32, onPartial func(string)) Result {
	route := o.Route()
	rec := o.local
	if route == RouteCloud {
		rec = o.cloud
	}
	if rec == nil {
		return Result{Route: route}
	}

	ctx, span := observe.StartSpan(ctx, "recognition.recognize")
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var last string
	partial := func(text string) {
		if onPartial == nil {
			return
		}
		text = strings.TrimSpace(o.normalize(text))
		if text == "" || text == last {
			return
		}
		last = text
		onPartial(text)
	}

	start := time.Now()
	raw, err := call(ctx, rec, samples, partial)
	if o.metrics != nil {
		o.metrics.RecordRecognition(ctx, string(route), time.Since(start), err != nil)
	}
	if err != nil {
		log := observe.Logger(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("recognition: recognizer timed out", "route", route, "timeout", o.timeout)
		} else {
			log.Warn("recognition: recognizer failed", "route", route, "err", err)
		}
		observe.EndSpan(span, err)
		return Result{Route: route, Err: err}
	}
	observe.EndSpan(span, nil)
	return Result{Text: o.finalize(raw), Route: route}
}

func call(ctx context.Context, rec stt.Recognizer, samples []float32, onPartial func(string)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("recognition: recognizer panicked: %v", r)
		}
	}()
	return rec.Recognize(ctx, samples, onPartial)
}

// normalize runs the normaliser, returning text unchanged if it panics.
func (o *Orchestrator) normalize(text string) (out string) {
	if o.normalizer == nil {
		return text
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recognition: normaliser panicked", "panic", r)
			out = text
		}
	}()
	return o.normalizer.Normalize(text)
}

func (o *Orchestrator) finalize(text string) string {
	return transcript.Finalize(nil, o.normalize(text))
}
