package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Recognizer transcribes one bounded speech segment. It covers both the
// on-device and the cloud path; the pipeline decides which one to call.
type Recognizer interface {
	// Recognize returns the final text for samples (mono float32 at 16 kHz).
	// onPartial, if non-nil, is called with each interim text in order
	// before Recognize returns. An empty string with a nil error means
	// nothing was recognised.
	Recognize(ctx context.Context, samples []float32, onPartial func(text string)) (string, error)
}

// defaultChunkSamples is 100 ms at 16 kHz.
const defaultChunkSamples = 1600

// StreamRecognizer adapts a streaming [Provider] to [Recognizer] by opening
// one session per segment.
type StreamRecognizer struct {
	provider     Provider
	cfg          StreamConfig
	chunkSamples int
}

// Compile-time interface assertion.
var _ Recognizer = (*StreamRecognizer)(nil)

// NewStreamRecognizer returns a Recognizer that streams each segment to p
// using cfg.
func NewStreamRecognizer(p Provider, cfg StreamConfig) *StreamRecognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &StreamRecognizer{provider: p, cfg: cfg, chunkSamples: defaultChunkSamples}
}

// Recognize implements [Recognizer].
func (r *StreamRecognizer) Recognize(ctx context.Context, samples []float32, onPartial func(string)) (string, error) {
	sess, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		return "", fmt.Errorf("stt: start stream: %w", err)
	}
	defer sess.Close()

	sendErr := make(chan error, 1)
	go func() {
		for off := 0; off < len(samples); off += r.chunkSamples {
			end := min(off+r.chunkSamples, len(samples))
			if err := sess.SendAudio(audio.Float32ToPCM16(samples[off:end])); err != nil {
				sendErr <- fmt.Errorf("stt: send audio: %w", err)
				return
			}
		}
		sendErr <- sess.Finish()
	}()

	var parts []string
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if onPartial != nil && strings.TrimSpace(t.Text) != "" {
				onPartial(t.Text)
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}

	text := strings.Join(parts, " ")
	select {
	case err := <-sendErr:
		if err != nil {
			return text, err
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return text, nil
}
