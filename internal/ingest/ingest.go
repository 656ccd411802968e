// Package ingest turns the two audio producers of a pipeline (the host
// microphone and the wearable decoder) into one stream of 16 kHz mono float32
// samples.
//
// Conversion is synchronous and never waits on anything downstream. Raw
// bytes can additionally be mirrored to a [DiagnosticSink]; the sink runs on
// its own goroutine behind a bounded queue, so a slow or panicking sink only
// loses mirrored audio.
package ingest

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/earshot/pkg/audio"
)

// DefaultMirrorQueue is the number of raw chunks buffered for the sink.
const DefaultMirrorQueue = 64

// DiagnosticSink receives a copy of every raw chunk before conversion.
type DiagnosticSink interface {
	Mirror(source audio.Source, pcm []byte)
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithDiagnosticSink mirrors raw audio to sink through a queue of queueLen
// chunks. Chunks arriving while the queue is full are dropped.
func WithDiagnosticSink(sink DiagnosticSink, queueLen int) Option {
	return func(a *Adapter) {
		a.sink = sink
		if queueLen <= 0 {
			queueLen = DefaultMirrorQueue
		}
		a.queueLen = queueLen
	}
}

// WithTarget overrides the output format. Only mono targets are supported.
func WithTarget(f audio.Format) Option {
	return func(a *Adapter) { a.conv.Target = f }
}

type mirrored struct {
	source audio.Source
	pcm    []byte
}

// Adapter normalises inbound audio. It is safe for concurrent use.
type Adapter struct {
	mu   sync.Mutex // guards conv
	conv audio.FormatConverter

	sink     DiagnosticSink
	queueLen int
	done     chan struct{}
	dropped  atomic.Int64

	qmu    sync.RWMutex // guards queue against close
	queue  chan mirrored
	closed bool

	warnedOdd      atomic.Bool
	warnedChannels atomic.Bool
}

// New creates an Adapter targeting 16 kHz mono.
func New(opts ...Option) *Adapter {
	a := &Adapter{conv: audio.FormatConverter{Target: audio.Mono16k}}
	for _, o := range opts {
		o(a)
	}
	if a.sink != nil {
		a.queue = make(chan mirrored, a.queueLen)
		a.done = make(chan struct{})
		go a.runSink()
	}
	return a
}

// Microphone converts one host microphone frame. Stereo input is down-mixed
// and any rate other than the target is resampled with a per-rate stateful
// filter. Frames with an odd byte count or more than two channels yield nil.
func (a *Adapter) Microphone(frame audio.AudioFrame) []float32 {
	a.mirror(audio.SourceMicrophone, frame.Data)
	if len(frame.Data)%2 != 0 {
		a.warnOdd(frame.Source, len(frame.Data))
		return nil
	}
	if frame.Channels > 2 {
		if a.warnedChannels.CompareAndSwap(false, true) {
			slog.Warn("ingest: unsupported channel count, dropping frames", "channels", frame.Channels)
		}
		return nil
	}

	a.mu.Lock()
	samples, err := a.conv.Convert(frame)
	a.mu.Unlock()
	if err != nil {
		slog.Warn("ingest: convert microphone frame", "err", err)
		return nil
	}
	return samples
}

// Wearable converts PCM16 reconstructed by the wearable decoder, which is
// already 16 kHz mono.
func (a *Adapter) Wearable(pcm []byte) []float32 {
	a.mirror(audio.SourceWearable, pcm)
	if len(pcm)%2 != 0 {
		a.warnOdd(audio.SourceWearable, len(pcm))
		return nil
	}
	return audio.PCM16ToFloat32(pcm)
}

// MirrorDropped returns the number of chunks the sink queue rejected.
func (a *Adapter) MirrorDropped() int64 { return a.dropped.Load() }

// Close stops the sink goroutine after it has drained the queue. Safe to
// call more than once.
func (a *Adapter) Close() {
	if a.queue == nil {
		return
	}
	a.qmu.Lock()
	if a.closed {
		a.qmu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.qmu.Unlock()
	<-a.done
}

func (a *Adapter) warnOdd(source audio.Source, n int) {
	if a.warnedOdd.CompareAndSwap(false, true) {
		slog.Warn("ingest: odd byte count in PCM data, dropping frame", "source", source, "bytes", n)
	}
}

func (a *Adapter) mirror(source audio.Source, pcm []byte) {
	if a.queue == nil || len(pcm) == 0 {
		return
	}
	a.qmu.RLock()
	defer a.qmu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- mirrored{source: source, pcm: append([]byte(nil), pcm...)}:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) runSink() {
	defer close(a.done)
	for m := range a.queue {
		a.deliver(m)
	}
}

func (a *Adapter) deliver(m mirrored) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("ingest: diagnostic sink panicked", "source", m.source, "panic", r)
		}
	}()
	a.sink.Mirror(m.source, m.pcm)
}
