// Package observe provides application-wide observability primitives for
// earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RecognitionDuration tracks one segment's recognition. Attribute:
	//   attribute.String("route", "cloud"|"local")
	RecognitionDuration metric.Float64Histogram

	// EmbeddingDuration tracks speaker-embedding extraction.
	EmbeddingDuration metric.Float64Histogram

	// LLMFirstToken tracks the delay from opening a completion stream to
	// its first non-empty delta.
	LLMFirstToken metric.Float64Histogram

	// --- Counters ---

	// SegmentsEmitted counts speech segments dispatched to attribution and
	// recognition.
	SegmentsEmitted metric.Int64Counter

	// SegmentsDropped counts segments that never reached recognition.
	// Attribute: attribute.String("reason", ...)
	SegmentsDropped metric.Int64Counter

	// Packets counts wearable packets by outcome. Attribute:
	//   attribute.String("kind", "audio"|"heartbeat_on"|"heartbeat_off"|"malformed")
	Packets metric.Int64Counter

	// RecognizerErrors counts recognizer failures and panics. Attribute:
	//   attribute.String("route", ...)
	RecognizerErrors metric.Int64Counter

	// Identify counts attribution outcomes. Attribute:
	//   attribute.String("speaker", "user"|"others")
	Identify metric.Int64Counter

	// BargeIn counts playback interruptions triggered by user speech.
	BargeIn metric.Int64Counter

	// EventsDropped counts outbound events discarded because the consumer
	// fell behind. Attribute: attribute.String("type", ...)
	EventsDropped metric.Int64Counter

	// --- Gauges ---

	// ActivePipelines tracks the number of live pipelines (one per connected
	// device).
	ActivePipelines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.RecognitionDuration, "earshot.recognition.duration", "Latency of recognising one speech segment."},
		{&met.EmbeddingDuration, "earshot.embedding.duration", "Latency of speaker-embedding extraction."},
		{&met.LLMFirstToken, "earshot.llm.first_token", "Delay until the first completion delta."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SegmentsEmitted, "earshot.segments.emitted", "Speech segments dispatched for attribution and recognition."},
		{&met.SegmentsDropped, "earshot.segments.dropped", "Speech segments dropped before recognition, by reason."},
		{&met.Packets, "earshot.packets", "Wearable packets by kind."},
		{&met.RecognizerErrors, "earshot.recognizer.errors", "Recognizer failures by route."},
		{&met.Identify, "earshot.identify", "Speaker attribution outcomes."},
		{&met.BargeIn, "earshot.barge_in", "Playback interruptions caused by user speech."},
		{&met.EventsDropped, "earshot.events.dropped", "Outbound events dropped on a full queue, by type."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActivePipelines, err = m.Int64UpDownCounter("earshot.active_pipelines",
		metric.WithDescription("Number of live pipelines."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRecognition records one recognition call on route. Failed calls also
// increment [Metrics.RecognizerErrors].
func (m *Metrics) RecordRecognition(ctx context.Context, route string, d time.Duration, failed bool) {
	attrs := metric.WithAttributes(attribute.String("route", route))
	m.RecognitionDuration.Record(ctx, d.Seconds(), attrs)
	if failed {
		m.RecognizerErrors.Add(ctx, 1, attrs)
	}
}

// RecordSegmentDropped increments the dropped-segment counter for reason.
func (m *Metrics) RecordSegmentDropped(ctx context.Context, reason string) {
	m.SegmentsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPacket increments the wearable packet counter for kind.
func (m *Metrics) RecordPacket(ctx context.Context, kind string) {
	m.Packets.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordIdentify increments the attribution counter for speaker.
func (m *Metrics) RecordIdentify(ctx context.Context, speaker string) {
	m.Identify.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordEventDropped increments the dropped-event counter for typ.
func (m *Metrics) RecordEventDropped(ctx context.Context, typ string) {
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}
