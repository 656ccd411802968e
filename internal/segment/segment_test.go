package segment

import (
	"context"
	"errors"
	"testing"

	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

type fakeGate struct{ dialog, bone bool }

func (g fakeGate) DialogActive() bool         { return g.dialog }
func (g fakeGate) BoneConductionActive() bool { return g.bone }

// recorder is a Dispatcher that keeps every segment.
type recorder struct {
	segs []Segment
	// onDispatch runs inside Dispatch.
	onDispatch func(Segment)
}

func (r *recorder) Dispatch(_ context.Context, seg Segment) {
	r.segs = append(r.segs, seg)
	if r.onDispatch != nil {
		r.onDispatch(seg)
	}
}

func filled(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestProcess_DrainsInOrderAndPads(t *testing.T) {
	det := &vadmock.Detector{MinWindowResult: 100}
	det.QueueSegment(filled(200, 0.1))
	det.QueueSegment(filled(50, 0.2)) // too short
	det.QueueSegment(filled(300, 0.3))
	rec := &recorder{}
	e := New(det, fakeGate{}, rec, WithPadding(10))

	res, err := e.Process(context.Background(), make([]float32, 160))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Emitted != 2 || res.Dropped != 1 {
		t.Fatalf("Emitted=%d Dropped=%d, want 2 and 1", res.Emitted, res.Dropped)
	}
	if det.Pending() != 0 {
		t.Errorf("%d segments left pending", det.Pending())
	}
	wantValues := []float32{0.1, 0.3}
	wantLens := []int{200, 300}
	for i, seg := range rec.segs {
		if seg.SpeechSamples != wantLens[i] {
			t.Errorf("seg %d SpeechSamples = %d, want %d", i, seg.SpeechSamples, wantLens[i])
		}
		if len(seg.Samples) != wantLens[i]+20 {
			t.Errorf("seg %d padded length = %d, want %d", i, len(seg.Samples), wantLens[i]+20)
		}
		for j := range 10 {
			if seg.Samples[j] != 0 || seg.Samples[len(seg.Samples)-1-j] != 0 {
				t.Fatalf("seg %d is not zero padded", i)
			}
		}
		if seg.Samples[10] != wantValues[i] {
			t.Errorf("seg %d first speech sample = %v, want %v", i, seg.Samples[10], wantValues[i])
		}
	}
}

func TestProcess_ShortSegmentsNeverDispatched(t *testing.T) {
	for _, n := range []int{0, 1, 99} {
		det := &vadmock.Detector{MinWindowResult: 100}
		det.QueueSegment(make([]float32, n))
		rec := &recorder{}
		e := New(det, fakeGate{}, rec)
		if _, err := e.Process(context.Background(), nil); err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(rec.segs) != 0 {
			t.Errorf("segment of %d samples was dispatched", n)
		}
	}
}

func TestProcess_DefaultPadding(t *testing.T) {
	det := &vadmock.Detector{}
	det.QueueSegment(make([]float32, 1000))
	rec := &recorder{}
	if _, err := New(det, fakeGate{}, rec).Process(context.Background(), nil); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := len(rec.segs[0].Samples); got != 1000+2*DefaultPaddingSamples {
		t.Errorf("padded length = %d, want %d", got, 1000+2*DefaultPaddingSamples)
	}
}

func TestProcess_SpeechChangeEvents(t *testing.T) {
	det := &vadmock.Detector{}
	var changes []bool
	e := New(det, fakeGate{}, &recorder{}, WithSpeechListener(func(active bool) { changes = append(changes, active) }))

	flags := []bool{false, true, true, true, false, false, true}
	for _, f := range flags {
		det.SetSpeechActive(f)
		if _, err := e.Process(context.Background(), nil); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	want := []bool{true, false, true}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestProcess_BargeIn(t *testing.T) {
	tests := []struct {
		name   string
		speech bool
		gate   fakeGate
		want   bool
	}{
		{name: "speaking in dialogue with bone conduction", speech: true, gate: fakeGate{dialog: true, bone: true}, want: true},
		{name: "ambient mode", speech: true, gate: fakeGate{dialog: false, bone: true}, want: false},
		{name: "no bone conduction", speech: true, gate: fakeGate{dialog: true, bone: false}, want: false},
		{name: "silence", speech: false, gate: fakeGate{dialog: true, bone: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &vadmock.Detector{SpeechActive: tt.speech}
			det.QueueSegment(make([]float32, 10))
			var order []string
			rec := &recorder{onDispatch: func(Segment) { order = append(order, "dispatch") }}
			e := New(det, tt.gate, rec, WithBargeIn(func() { order = append(order, "barge-in") }))

			res, err := e.Process(context.Background(), nil)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.BargeIn != tt.want {
				t.Errorf("BargeIn = %v, want %v", res.BargeIn, tt.want)
			}
			if tt.want && (len(order) != 2 || order[0] != "barge-in") {
				t.Errorf("order = %v, want barge-in before dispatch", order)
			}
		})
	}
}

func TestProcess_CancelledContextDropsRemaining(t *testing.T) {
	det := &vadmock.Detector{}
	det.QueueSegment(make([]float32, 10))
	det.QueueSegment(make([]float32, 10))
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{onDispatch: func(Segment) { cancel() }}

	res, err := New(det, fakeGate{}, rec).Process(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Emitted != 1 || res.Dropped != 1 {
		t.Errorf("Emitted=%d Dropped=%d, want 1 and 1", res.Emitted, res.Dropped)
	}
	if det.Pending() != 0 {
		t.Error("segments left pending after cancellation")
	}
}

func TestClear(t *testing.T) {
	det := &vadmock.Detector{}
	det.QueueSegment(make([]float32, 10))
	e := New(det, fakeGate{}, &recorder{})
	e.Clear()
	if det.ClearCallCount != 1 || det.Pending() != 0 {
		t.Errorf("Clear did not reach the detector (calls=%d pending=%d)", det.ClearCallCount, det.Pending())
	}
}

func TestPad(t *testing.T) {
	got := Pad([]float32{1, 2}, 2)
	want := []float32{0, 0, 1, 2, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("Pad = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Pad = %v, want %v", got, want)
		}
	}
}
