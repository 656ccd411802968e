// Package player provides the single-slot [audio.Player] used by a pipeline.
//
// Unlike a queueing mixer, a Serial player never buffers clips: Play
// interrupts whatever is current and the new clip only starts once the
// previous one has stopped emitting, so two clips never overlap on the
// output callback.
package player

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Serial)(nil)

// Option configures a [Serial] during construction.
type Option func(*Serial)

// WithOnInterrupt registers a callback invoked (synchronously, without the
// lock held) each time a clip is cut short.
func WithOnInterrupt(fn func(label string, reason audio.InterruptReason)) Option {
	return func(s *Serial) {
		s.onInterrupt = fn
	}
}

// Serial is a concrete [audio.Player]. All exported methods are safe for
// concurrent use.
type Serial struct {
	output      func(audio.AudioFrame)
	onInterrupt func(string, audio.InterruptReason)

	mu       sync.Mutex
	current  *audio.Clip
	cancel   chan struct{} // closed to interrupt current
	finished chan struct{} // closed when current's goroutine exits
	closed   bool
}

// New creates a Serial player delivering PCM to output. output is called
// sequentially and must not block for extended periods.
func New(output func(audio.AudioFrame), opts ...Option) *Serial {
	s := &Serial{output: output}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play stops the current clip and starts clip once the previous one has
// fully stopped. The returned channel closes when clip is done.
func (s *Serial) Play(clip *audio.Clip) <-chan struct{} {
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go audio.Drain(clip.Audio)
		close(done)
		return done
	}
	prevLabel, prevFinished, interrupted := s.stopLocked()
	cancel := make(chan struct{})
	s.current = clip
	s.cancel = cancel
	s.finished = done
	s.mu.Unlock()

	if interrupted {
		s.notify(prevLabel, audio.Replaced)
	}

	go func() {
		defer close(done)
		if prevFinished != nil {
			<-prevFinished
		}
		s.stream(clip, cancel)

		s.mu.Lock()
		if s.current == clip {
			s.current = nil
			s.cancel = nil
			s.finished = nil
		}
		s.mu.Unlock()
	}()
	return done
}

// Stop interrupts the current clip for the given reason.
func (s *Serial) Stop(reason audio.InterruptReason) bool {
	s.mu.Lock()
	label, _, interrupted := s.stopLocked()
	s.mu.Unlock()

	if interrupted {
		slog.Debug("player: clip interrupted", "clip", label, "reason", reason)
		s.notify(label, reason)
	}
	return interrupted
}

// Playing reports whether a clip is currently active.
func (s *Serial) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close interrupts playback and makes future Play calls drain their clips.
// Close is idempotent.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	_, finished, _ := s.stopLocked()
	s.mu.Unlock()

	if finished != nil {
		<-finished
	}
	return nil
}

// stopLocked cancels the current clip. Must be called with s.mu held.
func (s *Serial) stopLocked() (label string, finished chan struct{}, interrupted bool) {
	if s.current == nil {
		return "", nil, false
	}
	label = s.current.Label
	finished = s.finished
	close(s.cancel)
	s.current = nil
	s.cancel = nil
	s.finished = nil
	return label, finished, true
}

func (s *Serial) notify(label string, reason audio.InterruptReason) {
	if s.onInterrupt != nil {
		s.onInterrupt(label, reason)
	}
}

// stream forwards clip chunks to the output until the clip ends or cancel
// is closed.
func (s *Serial) stream(clip *audio.Clip, cancel chan struct{}) {
	for {
		select {
		case <-cancel:
			go audio.Drain(clip.Audio)
			return
		case chunk, ok := <-clip.Audio:
			if !ok {
				if err := clip.Err(); err != nil {
					slog.Warn("player: clip ended with error", "clip", clip.Label, "err", err)
				}
				return
			}
			// Re-check so an interrupt racing with a ready chunk wins.
			select {
			case <-cancel:
				go audio.Drain(clip.Audio)
				return
			default:
			}
			s.output(audio.AudioFrame{Data: chunk, SampleRate: clip.SampleRate, Channels: 1})
		}
	}
}
