// Package energy provides a pure-Go [vad.Engine] that classifies frames by
// RMS energy with hysteresis.
//
// It is the reference detector used when no neural VAD is configured. It is
// good enough for close-talk microphones and the wearable's bone-conduction
// path; noisy rooms call for a model-based engine.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine   = (*Engine)(nil)
	_ vad.Detector = (*Detector)(nil)
)

const (
	// startFrames is the number of consecutive loud frames that open a segment.
	startFrames = 2

	// maxSegmentSeconds force-closes a segment that never goes quiet.
	maxSegmentSeconds = 30
)

// Engine creates energy detectors.
type Engine struct{}

// New returns an energy Engine.
func New() *Engine {
	return &Engine{}
}

// NewDetector validates cfg and returns a fresh Detector.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: frame size must be positive, got %d", cfg.FrameSizeMs)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.4f exceeds speech threshold %.4f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	frame := cfg.SampleRate * cfg.FrameSizeMs / 1000
	hangover := max(1, cfg.HangoverMs/cfg.FrameSizeMs)
	return &Detector{
		cfg:            cfg,
		frameSize:      frame,
		hangoverFrames: hangover,
		minWindow:      cfg.SampleRate * cfg.MinSpeechMs / 1000,
		maxSamples:     cfg.SampleRate * maxSegmentSeconds,
	}, nil
}

// Detector is an RMS hysteresis detector. Not safe for concurrent use.
type Detector struct {
	cfg            vad.Config
	frameSize      int
	hangoverFrames int
	minWindow      int
	maxSamples     int

	pending []float32 // incomplete trailing frame
	offset  int64     // samples consumed so far

	inSpeech     bool
	loudCount    int
	quietCount   int
	preroll      []float32
	segment      []float32
	segmentStart int64

	queue []vad.Segment
}

// AcceptWaveform implements [vad.Detector].
func (d *Detector) AcceptWaveform(samples []float32) {
	d.pending = append(d.pending, samples...)
	for len(d.pending) >= d.frameSize {
		frame := d.pending[:d.frameSize]
		d.processFrame(frame)
		d.offset += int64(d.frameSize)
		d.pending = d.pending[d.frameSize:]
	}
	// Compact so the backing array does not grow without bound.
	if len(d.pending) > 0 {
		d.pending = append([]float32(nil), d.pending...)
	} else {
		d.pending = d.pending[:0]
	}
}

func (d *Detector) processFrame(frame []float32) {
	level := rms(frame)

	if !d.inSpeech {
		if level >= d.cfg.SpeechThreshold {
			d.loudCount++
			d.preroll = append(d.preroll, frame...)
			if d.loudCount >= startFrames {
				d.inSpeech = true
				d.quietCount = 0
				d.segmentStart = d.offset + int64(d.frameSize) - int64(len(d.preroll))
				d.segment = append(d.segment[:0], d.preroll...)
				d.preroll = d.preroll[:0]
				d.loudCount = 0
			}
			return
		}
		d.loudCount = 0
		d.preroll = d.preroll[:0]
		return
	}

	d.segment = append(d.segment, frame...)
	if level < d.cfg.SilenceThreshold {
		d.quietCount++
	} else {
		d.quietCount = 0
	}
	if d.quietCount >= d.hangoverFrames || len(d.segment) >= d.maxSamples {
		d.closeSegment()
	}
}

func (d *Detector) closeSegment() {
	samples := make([]float32, len(d.segment))
	copy(samples, d.segment)
	d.queue = append(d.queue, vad.Segment{Start: d.segmentStart, Samples: samples})
	d.segment = d.segment[:0]
	d.inSpeech = false
	d.quietCount = 0
}

// IsSpeechActive implements [vad.Detector].
func (d *Detector) IsSpeechActive() bool {
	return d.inSpeech
}

// HasPendingSegment implements [vad.Detector].
func (d *Detector) HasPendingSegment() bool {
	return len(d.queue) > 0
}

// PopSegment implements [vad.Detector].
func (d *Detector) PopSegment() vad.Segment {
	if len(d.queue) == 0 {
		return vad.Segment{}
	}
	seg := d.queue[0]
	d.queue[0] = vad.Segment{}
	d.queue = d.queue[1:]
	return seg
}

// Clear implements [vad.Detector].
func (d *Detector) Clear() {
	d.queue = nil
	d.segment = d.segment[:0]
	d.preroll = d.preroll[:0]
	d.pending = d.pending[:0]
	d.inSpeech = false
	d.loudCount = 0
	d.quietCount = 0
}

// MinWindow implements [vad.Detector].
func (d *Detector) MinWindow() int {
	return d.minWindow
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
