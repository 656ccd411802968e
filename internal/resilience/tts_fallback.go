package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// several synthesis backends. Each backend has its own circuit breaker and
// may carry an availability gate. All backends must produce the same sample
// rate so that playback never has to renegotiate mid-dialogue.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	rate  int
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional backend. It fails when the backend's
// sample rate differs from the primary's.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if r := provider.SampleRate(); r != f.rate {
		return fmt.Errorf("resilience: tts fallback %q produces %d Hz, primary produces %d Hz", name, r, f.rate)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// SetGate installs an availability check on the named backend.
func (f *TTSFallback) SetGate(name string, gate func() bool) bool {
	return f.group.SetGate(name, gate)
}

// SynthesizeStream starts synthesis on the first healthy backend. Only stream
// setup is covered by failover. Once a backend has accepted the text channel
// it owns it, and mid-stream failures surface as an early close of the audio
// channel.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// SampleRate returns the rate shared by every backend.
func (f *TTSFallback) SampleRate() int { return f.rate }
