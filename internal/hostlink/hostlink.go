// Package hostlink serves the WebSocket connection between earshot and a
// host process (phone app or desktop companion).
//
// One connection carries one device. Text frames are JSON: control messages
// inbound, pipeline events outbound. Binary frames carry audio and are
// tagged by their first byte:
//
//	0x00  microphone PCM16 LE mono at the rate given by the "rate" query
//	0x01  one wearable packet
//	0x02  playback audio: uint32 LE sample rate followed by PCM16 LE mono
package hostlink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/event"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Path is where [Server] is mounted.
const Path = "/v1/link"

// Binary frame tags.
const (
	TagMicrophone byte = 0x00
	TagWearable   byte = 0x01
	TagPlayback   byte = 0x02
)

const (
	defaultSampleRate = 16000
	defaultReadLimit  = 64 << 10
	playbackQueue     = 64
)

// Link is the per-connection pipeline driven by the server.
type Link interface {
	Events() <-chan event.Event
	IngestMicrophone(ctx context.Context, frame audio.AudioFrame) error
	IngestWearable(ctx context.Context, packet []byte) error
	Control(ctx context.Context, sig pipeline.Signal) event.Ack
	Close() error
}

var _ Link = (*pipeline.Pipeline)(nil)

// Device describes a connecting host.
type Device struct {
	ID string
	// SampleRate is the rate of inbound microphone frames.
	SampleRate int
}

// Factory builds the pipeline for a newly connected device. Playback audio
// produced by the pipeline must be passed to output.
type Factory func(ctx context.Context, dev Device, output func(audio.AudioFrame)) (Link, error)

// ControlMessage is an inbound text frame.
type ControlMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
}

// Option configures a [Server].
type Option func(*Server)

// WithOriginPatterns allows cross-origin connections from the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithReadLimit caps the size of one inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// Server is an [http.Handler] accepting host connections.
type Server struct {
	factory   Factory
	origins   []string
	readLimit int64
	active    atomic.Int64
}

// New returns a server that builds one pipeline per connection via factory.
func New(factory Factory, opts ...Option) *Server {
	s := &Server{factory: factory, readLimit: defaultReadLimit}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Active returns the number of open connections.
func (s *Server) Active() int64 { return s.active.Load() }

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device")
	if deviceID == "" {
		http.Error(w, "missing device parameter", http.StatusBadRequest)
		return
	}
	rate := defaultSampleRate
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid rate parameter", http.StatusBadRequest)
			return
		}
		rate = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("hostlink: accept failed", "device", deviceID, "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	s.active.Add(1)
	defer s.active.Add(-1)

	err = s.serve(r.Context(), conn, deviceID, rate)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
		// Peer closed the connection.
	default:
		slog.Warn("hostlink: connection ended with error", "device", deviceID, "err", err)
		conn.Close(websocket.StatusInternalError, "internal error")
	}
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, deviceID string, rate int) error {
	ctx, cancel := context.WithCancel(observe.WithDevice(ctx, deviceID))
	defer cancel()

	playback := make(chan audio.AudioFrame, playbackQueue)
	output := func(f audio.AudioFrame) {
		select {
		case playback <- f:
		case <-ctx.Done():
		}
	}
	link, err := s.factory(ctx, Device{ID: deviceID, SampleRate: rate}, output)
	if err != nil {
		return fmt.Errorf("hostlink: open pipeline for %q: %w", deviceID, err)
	}
	defer link.Close()
	slog.Info("hostlink: device connected", "device", deviceID, "rate", rate)
	defer slog.Info("hostlink: device disconnected", "device", deviceID)

	c := &connection{conn: conn, link: link, deviceID: deviceID, rate: rate}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return c.writeLoop(gctx, playback)
	})
	return g.Wait()
}

type connection struct {
	conn     *websocket.Conn
	link     Link
	deviceID string
	rate     int

	malformed int64
}

func (c *connection) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageText:
			if err := c.handleControl(ctx, data); err != nil {
				return err
			}
		case websocket.MessageBinary:
			if err := c.handleAudio(ctx, data); err != nil {
				return err
			}
		}
	}
}

func (c *connection) handleControl(ctx context.Context, data []byte) error {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("hostlink: invalid control message", "device", c.deviceID, "err", err)
		return c.writeEvent(ctx, event.Ack{Error: "invalid control message"})
	}
	ack := c.link.Control(ctx, pipeline.Signal{Kind: pipeline.SignalKind(msg.Type), DeviceID: msg.DeviceID})
	return c.writeEvent(ctx, ack)
}

func (c *connection) handleAudio(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var err error
	switch data[0] {
	case TagMicrophone:
		err = c.link.IngestMicrophone(ctx, audio.AudioFrame{
			Data:       data[1:],
			SampleRate: c.rate,
			Channels:   1,
			Source:     audio.SourceMicrophone,
		})
	case TagWearable:
		err = c.link.IngestWearable(ctx, data[1:])
	default:
		err = fmt.Errorf("hostlink: unknown frame tag 0x%02x", data[0])
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrClosed), ctx.Err() != nil:
		return err
	}
	c.malformed++
	if c.malformed%100 == 1 {
		slog.Warn("hostlink: rejected audio frame", "device", c.deviceID, "err", err, "rejected_total", c.malformed)
	}
	return nil
}

func (c *connection) writeLoop(ctx context.Context, playback <-chan audio.AudioFrame) error {
	events := c.link.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.writeEvent(ctx, e); err != nil {
				return err
			}
		case f := <-playback:
			if err := c.conn.Write(ctx, websocket.MessageBinary, PlaybackFrame(f)); err != nil {
				return fmt.Errorf("hostlink: write playback: %w", err)
			}
		}
	}
}

func (c *connection) writeEvent(ctx context.Context, e event.Event) error {
	data, err := event.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("hostlink: write %s event: %w", e.Type(), err)
	}
	return nil
}

// PlaybackFrame encodes f as a tagged binary frame.
func PlaybackFrame(f audio.AudioFrame) []byte {
	out := make([]byte, 5+len(f.Data))
	out[0] = TagPlayback
	binary.LittleEndian.PutUint32(out[1:5], uint32(f.SampleRate))
	copy(out[5:], f.Data)
	return out
}
