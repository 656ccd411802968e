package player_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/player"
)

// makeClip creates a clip with a buffered channel pre-loaded with chunks and
// closed afterwards.
func makeClip(label string, chunks ...[]byte) *audio.Clip {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &audio.Clip{Label: label, Audio: ch, SampleRate: 16000}
}

// makeOpenClip creates a clip whose channel the caller controls.
func makeOpenClip(label string) (*audio.Clip, chan []byte) {
	ch := make(chan []byte, 16)
	return &audio.Clip{Label: label, Audio: ch, SampleRate: 16000}, ch
}

// collectOutput returns an output callback that records chunks and a getter.
func collectOutput() (func(audio.AudioFrame), func() [][]byte) {
	var mu sync.Mutex
	var chunks [][]byte
	output := func(frame audio.AudioFrame) {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]byte, len(frame.Data))
		copy(cp, frame.Data)
		chunks = append(chunks, cp)
	}
	get := func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		out := make([][]byte, len(chunks))
		copy(out, chunks)
		return out
	}
	return output, get
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clip to finish")
	}
}

func TestSerial_PlaysClip(t *testing.T) {
	output, get := collectOutput()
	p := player.New(output)
	t.Cleanup(func() { _ = p.Close() })

	waitDone(t, p.Play(makeClip("a", []byte{1}, []byte{2})))

	got := get()
	if len(got) != 2 || got[0][0] != 1 || got[1][0] != 2 {
		t.Errorf("output = %v, want [[1] [2]]", got)
	}
	if p.Playing() {
		t.Error("Playing() = true after clip finished")
	}
}

func TestSerial_PlayReplacesCurrent(t *testing.T) {
	output, get := collectOutput()

	var mu sync.Mutex
	var reasons []audio.InterruptReason
	p := player.New(output, player.WithOnInterrupt(func(_ string, r audio.InterruptReason) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	}))
	t.Cleanup(func() { _ = p.Close() })

	first, firstCh := makeOpenClip("first")
	firstDone := p.Play(first)
	firstCh <- []byte{1}

	deadline := time.Now().Add(2 * time.Second)
	for len(get()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	secondDone := p.Play(makeClip("second", []byte{9}))
	waitDone(t, firstDone)
	waitDone(t, secondDone)

	// Anything written to the first clip after replacement must not be played.
	firstCh <- []byte{2}
	close(firstCh)
	time.Sleep(20 * time.Millisecond)

	got := get()
	if len(got) != 2 || got[0][0] != 1 || got[1][0] != 9 {
		t.Errorf("output = %v, want [[1] [9]]", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != audio.Replaced {
		t.Errorf("interrupt reasons = %v, want [REPLACED]", reasons)
	}
}

func TestSerial_Stop(t *testing.T) {
	output, _ := collectOutput()
	p := player.New(output)
	t.Cleanup(func() { _ = p.Close() })

	clip, ch := makeOpenClip("reply")
	done := p.Play(clip)
	if !p.Playing() {
		t.Fatal("Playing() = false right after Play")
	}
	if !p.Stop(audio.BargeIn) {
		t.Error("Stop() = false, want true while playing")
	}
	waitDone(t, done)
	close(ch)

	if p.Stop(audio.Stopped) {
		t.Error("second Stop() = true, want false")
	}
}

func TestSerial_PlayAfterClose(t *testing.T) {
	output, get := collectOutput()
	p := player.New(output)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitDone(t, p.Play(makeClip("late", []byte{1})))
	if n := len(get()); n != 0 {
		t.Errorf("output chunks after close = %d, want 0", n)
	}
}
