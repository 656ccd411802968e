// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider and Session to drive code that talks to a streaming backend;
// Session plays back Script when Finish is called. Use Recognizer for code
// that only needs segment-level recognition.
//
// Example:
//
//	sess := &mock.Session{Script: []stt.Transcript{
//	    {Text: "hel"}, {Text: "hello", IsFinal: true},
//	}}
//	p := &mock.Provider{Session: sess}
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, StartStream returns a new
	// default Session with an empty script.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle. On Finish it emits
// every Script entry to Partials or Finals (by IsFinal) and then closes both
// channels.
type Session struct {
	mu sync.Mutex

	// Script is played back on Finish.
	Script []stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FinishErr, if non-nil, is returned by Finish; the script still plays.
	FinishErr error

	// --- Call records ---

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// FinishCallCount is the number of times Finish was called.
	FinishCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	once     sync.Once
	partials chan stt.Transcript
	finals   chan stt.Transcript
	ended    bool
}

func (s *Session) channels() {
	s.once.Do(func() {
		s.partials = make(chan stt.Transcript, 64)
		s.finals = make(chan stt.Transcript, 64)
	})
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.New("mock: session ended")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Partials returns the interim channel.
func (s *Session) Partials() <-chan stt.Transcript {
	s.channels()
	return s.partials
}

// Finals returns the committed channel.
func (s *Session) Finals() <-chan stt.Transcript {
	s.channels()
	return s.finals
}

// Finish plays back Script and closes both channels.
func (s *Session) Finish() error {
	s.channels()
	s.mu.Lock()
	s.FinishCallCount++
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	script := append([]stt.Transcript(nil), s.Script...)
	err := s.FinishErr
	s.mu.Unlock()

	for _, t := range script {
		if t.IsFinal {
			s.finals <- t
		} else {
			s.partials <- t
		}
	}
	close(s.partials)
	close(s.finals)
	return err
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Samples is the number of samples passed in.
	Samples int
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Partials are passed to onPartial in order before returning.
	Partials []string

	// Text is the final text returned by every call.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// Panic, if non-empty, makes Recognize panic with this value.
	Panic string

	// Delay blocks each call for this long or until ctx is done.
	Delay time.Duration

	// RecognizeCalls records every call.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call and returns Text, Err.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, onPartial func(string)) (string, error) {
	r.mu.Lock()
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Samples: len(samples)})
	partials := append([]string(nil), r.Partials...)
	text, err, delay, p := r.Text, r.Err, r.Delay, r.Panic
	r.mu.Unlock()

	if p != "" {
		panic(p)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if onPartial != nil {
		for _, part := range partials {
			onPartial(part)
		}
	}
	return text, err
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
