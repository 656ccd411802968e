package energy_test

import (
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

func newDetector(t *testing.T) vad.Detector {
	t.Helper()
	d, err := energy.New().NewDetector(vad.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero rate", vad.Config{FrameSizeMs: 30}},
		{"zero frame", vad.Config{SampleRate: 16000}},
		{"inverted thresholds", vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 0.1, SilenceThreshold: 0.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := energy.New().NewDetector(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDetector_SilenceProducesNothing(t *testing.T) {
	d := newDetector(t)
	d.AcceptWaveform(make([]float32, 16000))
	if d.IsSpeechActive() || d.HasPendingSegment() {
		t.Errorf("silence: active=%v pending=%v", d.IsSpeechActive(), d.HasPendingSegment())
	}
}

func TestDetector_SpeechThenSilenceQueuesSegment(t *testing.T) {
	d := newDetector(t)

	d.AcceptWaveform(tone(8000, 0.2)) // 500 ms of speech
	if !d.IsSpeechActive() {
		t.Fatal("IsSpeechActive() = false during tone")
	}
	d.AcceptWaveform(make([]float32, 16000))
	if d.IsSpeechActive() {
		t.Error("IsSpeechActive() = true after long silence")
	}
	if !d.HasPendingSegment() {
		t.Fatal("no pending segment after speech→silence")
	}
	seg := d.PopSegment()
	if seg.Len() < 7680 {
		t.Errorf("segment length = %d, want at least the 7680 samples of full speech frames", seg.Len())
	}
	if seg.Len() < d.MinWindow() {
		t.Errorf("segment length %d below MinWindow %d", seg.Len(), d.MinWindow())
	}
	if d.HasPendingSegment() {
		t.Error("queue not empty after pop")
	}
}

func TestDetector_FIFOOrder(t *testing.T) {
	d := newDetector(t)
	d.AcceptWaveform(tone(4800, 0.2))
	d.AcceptWaveform(make([]float32, 16000))
	d.AcceptWaveform(tone(9600, 0.2))
	d.AcceptWaveform(make([]float32, 16000))

	first := d.PopSegment()
	second := d.PopSegment()
	if first.Start >= second.Start {
		t.Errorf("segments out of order: first.Start=%d second.Start=%d", first.Start, second.Start)
	}
	if second.Len() <= first.Len() {
		t.Errorf("second segment (%d) should be longer than first (%d)", second.Len(), first.Len())
	}
}

func TestDetector_Clear(t *testing.T) {
	d := newDetector(t)
	d.AcceptWaveform(tone(4800, 0.2))
	d.AcceptWaveform(make([]float32, 16000))
	d.AcceptWaveform(tone(4800, 0.2))
	d.Clear()
	if d.HasPendingSegment() || d.IsSpeechActive() {
		t.Errorf("after Clear: pending=%v active=%v", d.HasPendingSegment(), d.IsSpeechActive())
	}
	if seg := d.PopSegment(); seg.Len() != 0 {
		t.Errorf("PopSegment on empty queue returned %d samples", seg.Len())
	}
}

func TestDetector_MinWindow(t *testing.T) {
	d := newDetector(t)
	if got := d.MinWindow(); got != 4000 {
		t.Errorf("MinWindow() = %d, want 4000 (250 ms at 16 kHz)", got)
	}
}
