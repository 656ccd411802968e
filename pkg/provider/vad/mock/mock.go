// Package mock provides test doubles for the vad package interfaces.
//
// Use Detector to script speech activity and queued segments, then inspect
// what the code under test fed in and popped out.
//
// Example:
//
//	det := &mock.Detector{MinWindowResult: 4000}
//	det.QueueSegment(make([]float32, 8000))
//	det.SpeechActive = true
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// NewDetectorCall records a single invocation of Engine.NewDetector.
type NewDetectorCall struct {
	// Cfg is the Config passed to NewDetector.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Detector is returned by NewDetector. If nil, a new default Detector is
	// returned.
	Detector vad.Detector

	// NewDetectorErr, if non-nil, is returned as the error from NewDetector.
	NewDetectorErr error

	// NewDetectorCalls records every call to NewDetector in order.
	NewDetectorCalls []NewDetectorCall
}

// NewDetector records the call and returns Detector, NewDetectorErr.
func (e *Engine) NewDetector(cfg vad.Config) (vad.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewDetectorCalls = append(e.NewDetectorCalls, NewDetectorCall{Cfg: cfg})
	if e.NewDetectorErr != nil {
		return nil, e.NewDetectorErr
	}
	if e.Detector != nil {
		return e.Detector, nil
	}
	return &Detector{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// SpeechActive is returned by IsSpeechActive.
	SpeechActive bool

	// MinWindowResult is returned by MinWindow.
	MinWindowResult int

	// OnAccept, if set, is called from AcceptWaveform after the call is
	// recorded. It may call QueueSegment or set SpeechActive through
	// SetSpeechActive.
	OnAccept func(d *Detector, samples []float32)

	queue []vad.Segment

	// --- Call records ---

	// AcceptedSamples records a copy of every AcceptWaveform argument.
	AcceptedSamples [][]float32

	// PopCallCount is the number of times PopSegment was called.
	PopCallCount int

	// ClearCallCount is the number of times Clear was called.
	ClearCallCount int
}

// QueueSegment appends a segment to the pending queue.
func (d *Detector) QueueSegment(samples []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, vad.Segment{Samples: samples})
}

// SetSpeechActive sets SpeechActive under the lock.
func (d *Detector) SetSpeechActive(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeechActive = active
}

// AcceptWaveform records the samples and runs OnAccept.
func (d *Detector) AcceptWaveform(samples []float32) {
	d.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	d.AcceptedSamples = append(d.AcceptedSamples, cp)
	hook := d.OnAccept
	d.mu.Unlock()

	if hook != nil {
		hook(d, samples)
	}
}

// IsSpeechActive returns SpeechActive.
func (d *Detector) IsSpeechActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SpeechActive
}

// HasPendingSegment reports whether queued segments remain.
func (d *Detector) HasPendingSegment() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) > 0
}

// PopSegment removes and returns the oldest queued segment.
func (d *Detector) PopSegment() vad.Segment {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PopCallCount++
	if len(d.queue) == 0 {
		return vad.Segment{}
	}
	seg := d.queue[0]
	d.queue = d.queue[1:]
	return seg
}

// Clear empties the queue and records the call.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ClearCallCount++
	d.queue = nil
}

// MinWindow returns MinWindowResult.
func (d *Detector) MinWindow() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.MinWindowResult
}

// Pending returns the number of queued segments.
func (d *Detector) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
