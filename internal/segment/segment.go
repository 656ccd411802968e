// Package segment cuts the inbound sample stream into padded speech segments.
//
// An [Engine] owns one [vad.Detector]. For every chunk it feeds the
// detector, triggers barge-in when the user talks over a reply, reports
// changes of the speech flag, and then drains every completed segment in
// FIFO order. Segments shorter than the detector's minimum window are
// dropped; the rest are padded with silence on both ends and handed to the
// [Dispatcher] one at a time.
//
// An Engine is single-writer: the owning pipeline serialises all calls.
package segment

import (
	"context"
	"log/slog"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultPaddingSamples is 200 ms of silence at 16 kHz.
const DefaultPaddingSamples = 3200

// Segment is one padded stretch of speech.
type Segment struct {
	// Samples holds the padded audio, mono float32 at 16 kHz.
	Samples []float32

	// Start is the detector's index of the first speech sample.
	Start int64

	// SpeechSamples is the unpadded length.
	SpeechSamples int
}

// Gate exposes the pipeline state the engine needs to decide on barge-in.
type Gate interface {
	DialogActive() bool
	BoneConductionActive() bool
}

// Dispatcher consumes emitted segments. Dispatch returns once attribution
// and recognition of seg have finished.
type Dispatcher interface {
	Dispatch(ctx context.Context, seg Segment)
}

// Result summarises one [Engine.Process] call.
type Result struct {
	// Speech is the detector's flag after the chunk.
	Speech bool

	// SpeechChanged is set when Speech differs from the previous call.
	SpeechChanged bool

	// BargeIn is set when playback was interrupted for this chunk.
	BargeIn bool

	// Emitted and Dropped count the segments drained by this call.
	Emitted int
	Dropped int
}

// Option configures an [Engine].
type Option func(*Engine)

// WithPadding sets the number of silent samples added on each side.
func WithPadding(samples int) Option {
	return func(e *Engine) {
		if samples >= 0 {
			e.padding = samples
		}
	}
}

// WithBargeIn sets the function called when the user speaks during an active
// dialogue with bone conduction on.
func WithBargeIn(fn func()) Option {
	return func(e *Engine) { e.bargeIn = fn }
}

// WithSpeechListener sets the function called on each change of the speech
// flag, before any segment of the same chunk is dispatched.
func WithSpeechListener(fn func(active bool)) Option {
	return func(e *Engine) { e.onSpeech = fn }
}

// WithMetrics records segment counters on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine turns samples into dispatched segments.
type Engine struct {
	det      vad.Detector
	gate     Gate
	dispatch Dispatcher

	padding  int
	bargeIn  func()
	onSpeech func(bool)
	metrics  *observe.Metrics

	speech bool
}

// New creates an Engine around det.
func New(det vad.Detector, gate Gate, dispatch Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		det:      det,
		gate:     gate,
		dispatch: dispatch,
		padding:  DefaultPaddingSamples,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Process feeds samples to the detector and drains every pending segment.
// Once ctx is done the remaining segments are still popped but dropped, and
// ctx's error is returned.
func (e *Engine) Process(ctx context.Context, samples []float32) (Result, error) {
	e.det.AcceptWaveform(samples)

	var res Result
	res.Speech = e.det.IsSpeechActive()
	if res.Speech && e.gate.DialogActive() && e.gate.BoneConductionActive() {
		res.BargeIn = true
		if e.bargeIn != nil {
			e.bargeIn()
		}
		if e.metrics != nil {
			e.metrics.BargeIn.Add(ctx, 1)
		}
	}
	if res.Speech != e.speech {
		e.speech = res.Speech
		res.SpeechChanged = true
		if e.onSpeech != nil {
			e.onSpeech(res.Speech)
		}
	}

	minWindow := e.det.MinWindow()
	for e.det.HasPendingSegment() {
		seg := e.det.PopSegment()
		if seg.Len() < minWindow {
			res.Dropped++
			e.dropped(ctx, "short")
			slog.Debug("segment: dropped short segment", "samples", seg.Len(), "min_window", minWindow)
			continue
		}
		if ctx.Err() != nil {
			res.Dropped++
			e.dropped(ctx, "cancelled")
			continue
		}
		e.dispatch.Dispatch(ctx, Segment{
			Samples:       Pad(seg.Samples, e.padding),
			Start:         seg.Start,
			SpeechSamples: seg.Len(),
		})
		res.Emitted++
		if e.metrics != nil {
			e.metrics.SegmentsEmitted.Add(ctx, 1)
		}
	}
	return res, ctx.Err()
}

// Clear drops every pending segment and any partially buffered speech.
func (e *Engine) Clear() {
	e.det.Clear()
}

// Speech returns the last observed speech flag.
func (e *Engine) Speech() bool { return e.speech }

func (e *Engine) dropped(ctx context.Context, reason string) {
	if e.metrics != nil {
		e.metrics.RecordSegmentDropped(ctx, reason)
	}
}

// Pad returns samples with n zeros prepended and appended.
func Pad(samples []float32, n int) []float32 {
	out := make([]float32, len(samples)+2*n)
	copy(out[n:], samples)
	return out
}
