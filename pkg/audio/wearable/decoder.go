// Package wearable decodes the fixed-size audio packets streamed by the
// wearable over BLE.
//
// Each packet is [PacketSize] bytes. Byte 0 classifies the packet: one of two
// audio markers, or a bone-conduction heartbeat on/off marker. Audio packets
// carry [SubFrames] sub-frames of [SubFrameSize] coefficients starting at
// offset 1; each is reconstructed to PCM through a [Codebook]. Reconstructed
// samples accumulate across packets and are released in batches of exactly
// [BatchSamples].
//
// A [Decoder] is not safe for concurrent use; callers serialise access.
package wearable

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Wire format constants.
const (
	PacketSize   = 244
	SubFrameSize = 80
	SubFrames    = 3
	BatchSamples = 512

	// SampleRate of reconstructed audio.
	SampleRate = 16000
)

// Default marker bytes.
const (
	MarkerAudioA       byte = 0x01
	MarkerAudioB       byte = 0x02
	MarkerHeartbeatOn  byte = 0xA1
	MarkerHeartbeatOff byte = 0xA0
)

// DefaultHeartbeatDebounce is how long after the last heartbeat-on a
// heartbeat-off is ignored.
const DefaultHeartbeatDebounce = 2000 * time.Millisecond

// dropLogEvery rate-limits malformed packet warnings.
const dropLogEvery = 100

var (
	// ErrPacketLength is returned for packets that are not PacketSize bytes.
	ErrPacketLength = errors.New("wearable: invalid packet length")

	// ErrUnknownMarker is returned when byte 0 matches no configured marker.
	ErrUnknownMarker = errors.New("wearable: unknown packet marker")
)

// Kind classifies a decoded packet.
type Kind int

const (
	KindAudio Kind = iota
	KindHeartbeatOn
	KindHeartbeatOff
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindHeartbeatOn:
		return "heartbeat_on"
	case KindHeartbeatOff:
		return "heartbeat_off"
	default:
		return "unknown"
	}
}

// Markers are the byte-0 values that select each packet class.
type Markers struct {
	AudioA       byte
	AudioB       byte
	HeartbeatOn  byte
	HeartbeatOff byte
}

// DefaultMarkers returns the stock marker assignment.
func DefaultMarkers() Markers {
	return Markers{
		AudioA:       MarkerAudioA,
		AudioB:       MarkerAudioB,
		HeartbeatOn:  MarkerHeartbeatOn,
		HeartbeatOff: MarkerHeartbeatOff,
	}
}

// Decoded is the outcome of one [Decoder.Decode] call.
type Decoded struct {
	// Kind of the packet.
	Kind Kind

	// Chunks holds every completed 512-sample batch as PCM16 LE bytes.
	Chunks [][]byte

	// BoneConductionChanged is true when this packet flipped the
	// bone-conduction flag; BoneConduction holds the new value.
	BoneConductionChanged bool
	BoneConduction        bool
}

// Option configures a [Decoder].
type Option func(*Decoder)

// WithCodebook replaces the default reconstruction transforms.
func WithCodebook(cb *Codebook) Option {
	return func(d *Decoder) {
		d.codebook = cb
	}
}

// WithMarkers overrides the packet class markers.
func WithMarkers(m Markers) Option {
	return func(d *Decoder) {
		d.markers = m
	}
}

// WithHeartbeatDebounce sets how long a heartbeat-on suppresses heartbeat-off.
func WithHeartbeatDebounce(dur time.Duration) Option {
	return func(d *Decoder) {
		d.debounce = dur
	}
}

// WithClock injects the time source used for heartbeat debouncing.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		d.now = now
	}
}

// Decoder turns wearable packets into PCM chunks and tracks the
// bone-conduction heartbeat.
type Decoder struct {
	codebook *Codebook
	markers  Markers
	debounce time.Duration
	now      func() time.Time

	recon *reconstructor
	acc   []float64

	boneActive      bool
	lastHeartbeatOn time.Time
	dropped         uint64
}

// NewDecoder creates a Decoder. It fails only if a supplied codebook is
// inconsistent.
func NewDecoder(opts ...Option) (*Decoder, error) {
	d := &Decoder{
		markers:  DefaultMarkers(),
		debounce: DefaultHeartbeatDebounce,
		now:      time.Now,
		acc:      make([]float64, 0, BatchSamples),
	}
	for _, o := range opts {
		o(d)
	}
	if d.codebook == nil {
		d.codebook = DefaultCodebook()
	}
	if err := d.codebook.Validate(); err != nil {
		return nil, err
	}
	d.recon = newReconstructor(d.codebook)
	return d, nil
}

// Decode processes one packet. Malformed packets return an error and leave
// the decoder untouched.
func (d *Decoder) Decode(packet []byte) (Decoded, error) {
	if len(packet) != PacketSize {
		d.logDrop("length", len(packet))
		return Decoded{}, fmt.Errorf("%w: got %d bytes, want %d", ErrPacketLength, len(packet), PacketSize)
	}

	switch packet[0] {
	case d.markers.AudioA, d.markers.AudioB:
		return d.decodeAudio(packet), nil
	case d.markers.HeartbeatOn:
		return d.heartbeatOn(), nil
	case d.markers.HeartbeatOff:
		return d.heartbeatOff(), nil
	default:
		d.logDrop("marker", int(packet[0]))
		return Decoded{}, fmt.Errorf("%w: 0x%02x", ErrUnknownMarker, packet[0])
	}
}

func (d *Decoder) decodeAudio(packet []byte) Decoded {
	out := Decoded{Kind: KindAudio}
	for i := range SubFrames {
		off := 1 + i*SubFrameSize
		samples := d.recon.apply(packet[off : off+SubFrameSize])
		for len(samples) > 0 {
			n := min(BatchSamples-len(d.acc), len(samples))
			d.acc = append(d.acc, samples[:n]...)
			samples = samples[n:]
			if len(d.acc) == BatchSamples {
				out.Chunks = append(out.Chunks, audio.Float64ToPCM16(d.acc))
				d.acc = d.acc[:0]
			}
		}
	}
	return out
}

func (d *Decoder) heartbeatOn() Decoded {
	out := Decoded{Kind: KindHeartbeatOn, BoneConduction: true}
	d.lastHeartbeatOn = d.now()
	if !d.boneActive {
		d.boneActive = true
		out.BoneConductionChanged = true
	}
	return out
}

func (d *Decoder) heartbeatOff() Decoded {
	out := Decoded{Kind: KindHeartbeatOff, BoneConduction: d.boneActive}
	if !d.boneActive {
		return out
	}
	if d.now().Sub(d.lastHeartbeatOn) <= d.debounce {
		return out
	}
	d.boneActive = false
	out.BoneConduction = false
	out.BoneConductionChanged = true
	return out
}

// BoneConductionActive reports the current heartbeat state.
func (d *Decoder) BoneConductionActive() bool {
	return d.boneActive
}

// Pending returns the number of reconstructed samples not yet released.
func (d *Decoder) Pending() int {
	return len(d.acc)
}

// Reset discards buffered samples and heartbeat state, for use when a new
// device connects.
func (d *Decoder) Reset() {
	d.acc = d.acc[:0]
	d.boneActive = false
	d.lastHeartbeatOn = time.Time{}
}

func (d *Decoder) logDrop(reason string, value int) {
	d.dropped++
	if d.dropped%dropLogEvery != 1 {
		return
	}
	slog.Warn("wearable: dropping malformed packet",
		"reason", reason,
		"value", value,
		"dropped_total", d.dropped,
	)
}
