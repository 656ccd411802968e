package whisper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// flushTimeout bounds inference started by Finish when the session context
// has no deadline of its own.
const flushTimeout = 30 * time.Second

var errSessionClosed = errors.New("whisper: session is closed")

// inferFunc transcribes a complete PCM buffer.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// batchSession adapts whisper.cpp's batch inference to stt.SessionHandle.
// Audio is buffered until Finish; the buffer is then transcribed once and the
// text is emitted as a partial followed by a final.
type batchSession struct {
	ctx      context.Context
	cancel   context.CancelFunc
	infer    inferFunc
	maxBytes int

	mu       sync.Mutex
	buffer   []byte
	finished bool
	closed   bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
	wg       sync.WaitGroup
}

// Compile-time assertion that batchSession satisfies stt.SessionHandle.
var _ stt.SessionHandle = (*batchSession)(nil)

func newBatchSession(ctx context.Context, infer inferFunc, maxBytes int) *batchSession {
	sctx, cancel := context.WithCancel(ctx)
	return &batchSession{
		ctx:      sctx,
		cancel:   cancel,
		infer:    infer,
		maxBytes: maxBytes,
		partials: make(chan stt.Transcript, 1),
		finals:   make(chan stt.Transcript, 1),
	}
}

// SendAudio appends PCM to the buffer. Audio past the size limit is dropped
// with a warning.
func (s *batchSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.finished {
		return errSessionClosed
	}
	if s.maxBytes > 0 && len(s.buffer)+len(chunk) > s.maxBytes {
		slog.Warn("whisper: segment exceeds buffer limit, truncating", "limit_bytes", s.maxBytes)
		chunk = chunk[:max(0, s.maxBytes-len(s.buffer))]
	}
	s.buffer = append(s.buffer, chunk...)
	return nil
}

// Partials returns a channel that carries at most one transcript.
func (s *batchSession) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns a channel that carries at most one transcript.
func (s *batchSession) Finals() <-chan stt.Transcript { return s.finals }

// Finish runs inference on the buffered audio in the background.
func (s *batchSession) Finish() error {
	s.mu.Lock()
	if s.closed || s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	pcm := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.partials)
		defer close(s.finals)
		if len(pcm) == 0 {
			return
		}

		ctx := s.ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, flushTimeout)
			defer cancel()
		}
		text, err := s.infer(ctx, pcm)
		if err != nil {
			slog.Warn("whisper: inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		// Both channels have capacity 1, so these sends never block.
		s.partials <- stt.Transcript{Text: text}
		s.finals <- stt.Transcript{Text: text, IsFinal: true}
	}()
	return nil
}

// Close aborts pending inference and releases the buffer.
func (s *batchSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.finished
	s.buffer = nil
	s.mu.Unlock()

	s.cancel()
	if started {
		s.wg.Wait()
	} else {
		close(s.partials)
		close(s.finals)
	}
	return nil
}
