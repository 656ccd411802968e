package app

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/hostlink"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
)

// OpenFunc builds the pipeline for a device. release, if non-nil, is called
// after the pipeline has been closed.
type OpenFunc func(ctx context.Context, dev hostlink.Device, output func(audio.AudioFrame)) (p *pipeline.Pipeline, release func() error, err error)

// DeviceInfo holds metadata about a connected device.
type DeviceInfo struct {
	DeviceID    string    `json:"device_id"`
	SampleRate  int       `json:"sample_rate"`
	ConnectedAt time.Time `json:"connected_at"`
	DialogMode  bool      `json:"dialog_mode"`
}

// DeviceManager tracks one pipeline per connected device. A second
// connection for the same device ID replaces the first: the old pipeline is
// closed, which ends its connection. All exported methods are safe for
// concurrent use.
type DeviceManager struct {
	open    OpenFunc
	metrics *observe.Metrics

	mu     sync.Mutex
	active map[string]*deviceLink
	closed bool
}

// NewDeviceManager creates a DeviceManager that builds pipelines with open.
func NewDeviceManager(open OpenFunc, metrics *observe.Metrics) *DeviceManager {
	return &DeviceManager{open: open, metrics: metrics, active: make(map[string]*deviceLink)}
}

// Open is a [hostlink.Factory].
func (m *DeviceManager) Open(ctx context.Context, dev hostlink.Device, output func(audio.AudioFrame)) (hostlink.Link, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("app: shutting down")
	}
	prev := m.active[dev.ID]
	m.mu.Unlock()

	if prev != nil {
		slog.Info("app: device reconnected, replacing pipeline", "device", dev.ID)
		_ = prev.Close()
	}

	p, release, err := m.open(ctx, dev, output)
	if err != nil {
		return nil, err
	}
	l := &deviceLink{
		Pipeline: p,
		manager:  m,
		release:  release,
		info:     DeviceInfo{DeviceID: dev.ID, SampleRate: dev.SampleRate, ConnectedAt: time.Now().UTC()},
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = l.shutdown()
		return nil, errors.New("app: shutting down")
	}
	if cur := m.active[dev.ID]; cur != nil {
		// Another connection won the race for this device.
		m.mu.Unlock()
		_ = cur.Close()
		m.mu.Lock()
	}
	m.active[dev.ID] = l
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActivePipelines.Add(ctx, 1)
	}
	return l, nil
}

// Count returns the number of live pipelines.
func (m *DeviceManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Devices returns the connected devices sorted by ID.
func (m *DeviceManager) Devices() []DeviceInfo {
	m.mu.Lock()
	links := make([]*deviceLink, 0, len(m.active))
	for _, l := range m.active {
		links = append(links, l)
	}
	m.mu.Unlock()

	out := make([]DeviceInfo, 0, len(links))
	for _, l := range links {
		info := l.info
		info.DialogMode = l.DialogActive()
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b DeviceInfo) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// Each calls fn for every live pipeline.
func (m *DeviceManager) Each(fn func(*pipeline.Pipeline)) {
	m.mu.Lock()
	links := make([]*deviceLink, 0, len(m.active))
	for _, l := range m.active {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		fn(l.Pipeline)
	}
}

// CloseAll closes every pipeline and rejects further connections.
func (m *DeviceManager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	links := make([]*deviceLink, 0, len(m.active))
	for _, l := range m.active {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}

func (m *DeviceManager) remove(l *deviceLink) {
	m.mu.Lock()
	if m.active[l.info.DeviceID] == l {
		delete(m.active, l.info.DeviceID)
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActivePipelines.Add(context.Background(), -1)
	}
}

// deviceLink is the [hostlink.Link] handed to a connection.
type deviceLink struct {
	*pipeline.Pipeline
	manager *DeviceManager
	release func() error
	info    DeviceInfo

	once sync.Once
	err  error
}

// Close closes the pipeline, releases its resources and unregisters it.
func (l *deviceLink) Close() error {
	l.once.Do(func() {
		l.err = l.shutdown()
		l.manager.remove(l)
	})
	return l.err
}

func (l *deviceLink) shutdown() error {
	err := l.Pipeline.Close()
	if l.release != nil {
		err = errors.Join(err, l.release())
	}
	return err
}
