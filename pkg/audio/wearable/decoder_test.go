package wearable_test

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio/wearable"
)

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newDecoder(t *testing.T, opts ...wearable.Option) *wearable.Decoder {
	t.Helper()
	d, err := wearable.NewDecoder(opts...)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

func packet(marker byte) []byte {
	p := make([]byte, wearable.PacketSize)
	p[0] = marker
	return p
}

func audioPacket(dc int8) []byte {
	p := packet(wearable.MarkerAudioA)
	for i := range wearable.SubFrames {
		p[1+i*wearable.SubFrameSize] = byte(dc)
	}
	return p
}

func TestDecode_RejectsWrongLength(t *testing.T) {
	d := newDecoder(t)
	if _, err := d.Decode(audioPacket(10)); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pending := d.Pending()

	for _, n := range []int{0, 1, 243, 245, 488} {
		got, err := d.Decode(make([]byte, n))
		if !errors.Is(err, wearable.ErrPacketLength) {
			t.Errorf("len %d: err = %v, want ErrPacketLength", n, err)
		}
		if len(got.Chunks) != 0 || got.BoneConductionChanged {
			t.Errorf("len %d: decoded output %+v, want empty", n, got)
		}
	}
	if d.Pending() != pending {
		t.Errorf("Pending() = %d after rejected packets, want %d", d.Pending(), pending)
	}
}

func TestDecode_UnknownMarker(t *testing.T) {
	d := newDecoder(t)
	_, err := d.Decode(packet(0x7F))
	if !errors.Is(err, wearable.ErrUnknownMarker) {
		t.Fatalf("err = %v, want ErrUnknownMarker", err)
	}
	if d.Pending() != 0 || d.BoneConductionActive() {
		t.Error("unknown marker mutated decoder state")
	}
}

func TestDecode_BatchesExactly512(t *testing.T) {
	d := newDecoder(t)
	perPacket := wearable.SubFrames * wearable.DefaultSamples

	emitted := 0
	for i := 1; i <= 20; i++ {
		marker := wearable.MarkerAudioA
		if i%2 == 0 {
			marker = wearable.MarkerAudioB
		}
		p := audioPacket(32)
		p[0] = marker
		got, err := d.Decode(p)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		for _, c := range got.Chunks {
			if len(c) != wearable.BatchSamples*2 {
				t.Fatalf("chunk size = %d bytes, want %d", len(c), wearable.BatchSamples*2)
			}
			emitted += wearable.BatchSamples
		}
		if d.Pending() >= wearable.BatchSamples {
			t.Fatalf("Pending() = %d, must stay below %d", d.Pending(), wearable.BatchSamples)
		}
		if emitted+d.Pending() != i*perPacket {
			t.Fatalf("after %d packets: emitted %d + pending %d != reconstructed %d",
				i, emitted, d.Pending(), i*perPacket)
		}
	}
}

func TestDecode_FirstChunkOnSecondPacket(t *testing.T) {
	d := newDecoder(t)
	got, _ := d.Decode(audioPacket(0))
	if len(got.Chunks) != 0 || d.Pending() != 480 {
		t.Fatalf("after one packet: chunks=%d pending=%d, want 0 and 480", len(got.Chunks), d.Pending())
	}
	got, _ = d.Decode(audioPacket(0))
	if len(got.Chunks) != 1 || d.Pending() != 448 {
		t.Fatalf("after two packets: chunks=%d pending=%d, want 1 and 448", len(got.Chunks), d.Pending())
	}
}

func TestDecode_DCCoefficientReconstructsConstant(t *testing.T) {
	d := newDecoder(t)
	var chunk []byte
	for chunk == nil {
		got, err := d.Decode(audioPacket(64)) // 0.5 in the DC bin
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if len(got.Chunks) > 0 {
			chunk = got.Chunks[0]
		}
	}
	want := int16(math.Round(0.5 * math.Sqrt(1.0/wearable.DefaultBins) * 32768))
	for i := 0; i < len(chunk); i += 2 {
		s := int16(binary.LittleEndian.Uint16(chunk[i:]))
		if diff := int(s) - int(want); diff > 1 || diff < -1 {
			t.Fatalf("sample %d = %d, want %d", i/2, s, want)
		}
	}
}

func TestHeartbeat_OnEdgeOnly(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	d := newDecoder(t, wearable.WithClock(clk.Now))

	got, _ := d.Decode(packet(wearable.MarkerHeartbeatOn))
	if !got.BoneConductionChanged || !got.BoneConduction {
		t.Fatalf("first heartbeat-on: %+v, want change to true", got)
	}
	clk.Advance(100 * time.Millisecond)
	got, _ = d.Decode(packet(wearable.MarkerHeartbeatOn))
	if got.BoneConductionChanged {
		t.Error("second heartbeat-on emitted a change event")
	}
}

func TestHeartbeat_OffDebounce(t *testing.T) {
	tests := []struct {
		name        string
		gap         time.Duration
		wantActive  bool
		wantChanged bool
	}{
		{"within debounce", 1500 * time.Millisecond, true, false},
		{"exactly debounce", 2000 * time.Millisecond, true, false},
		{"after debounce", 2500 * time.Millisecond, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{t: time.Unix(1000, 0)}
			d := newDecoder(t, wearable.WithClock(clk.Now))

			if _, err := d.Decode(packet(wearable.MarkerHeartbeatOn)); err != nil {
				t.Fatalf("heartbeat-on: %v", err)
			}
			clk.Advance(tt.gap)
			got, err := d.Decode(packet(wearable.MarkerHeartbeatOff))
			if err != nil {
				t.Fatalf("heartbeat-off: %v", err)
			}
			if got.BoneConductionChanged != tt.wantChanged {
				t.Errorf("BoneConductionChanged = %v, want %v", got.BoneConductionChanged, tt.wantChanged)
			}
			if d.BoneConductionActive() != tt.wantActive {
				t.Errorf("BoneConductionActive() = %v, want %v", d.BoneConductionActive(), tt.wantActive)
			}
		})
	}
}

func TestWithMarkers(t *testing.T) {
	d := newDecoder(t, wearable.WithMarkers(wearable.Markers{AudioA: 0x10, AudioB: 0x11, HeartbeatOn: 0x20, HeartbeatOff: 0x21}))
	if _, err := d.Decode(packet(wearable.MarkerAudioA)); !errors.Is(err, wearable.ErrUnknownMarker) {
		t.Errorf("default marker accepted with custom markers, err = %v", err)
	}
	got, err := d.Decode(packet(0x20))
	if err != nil || got.Kind != wearable.KindHeartbeatOn {
		t.Errorf("custom heartbeat-on: kind=%v err=%v", got.Kind, err)
	}
}

func TestReset(t *testing.T) {
	d := newDecoder(t)
	_, _ = d.Decode(audioPacket(1))
	_, _ = d.Decode(packet(wearable.MarkerHeartbeatOn))
	d.Reset()
	if d.Pending() != 0 || d.BoneConductionActive() {
		t.Errorf("after Reset: pending=%d bone=%v", d.Pending(), d.BoneConductionActive())
	}
}

func writeMatrix(t *testing.T, path string, rows, cols int, f func(r, c int) float32) {
	t.Helper()
	buf := make([]byte, rows*cols*4)
	for r := range rows {
		for c := range cols {
			binary.LittleEndian.PutUint32(buf[(r*cols+c)*4:], math.Float32bits(f(r, c)))
		}
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write matrix: %v", err)
	}
}

func TestLoadCodebook(t *testing.T) {
	dir := t.TempDir()
	expand := filepath.Join(dir, "expand.bin")
	inverse := filepath.Join(dir, "inverse.bin")
	// 80 bins identity, 128 samples each copying bin 0.
	writeMatrix(t, expand, 80, wearable.SubFrameSize, func(r, c int) float32 {
		if r == c {
			return 1
		}
		return 0
	})
	writeMatrix(t, inverse, 128, 80, func(_, c int) float32 {
		if c == 0 {
			return 1
		}
		return 0
	})

	cb, err := wearable.LoadCodebook(expand, inverse, 80, 128)
	if err != nil {
		t.Fatalf("LoadCodebook: %v", err)
	}
	if cb.SamplesPerSubFrame() != 128 {
		t.Errorf("SamplesPerSubFrame() = %d, want 128", cb.SamplesPerSubFrame())
	}

	d := newDecoder(t, wearable.WithCodebook(cb))
	got, _ := d.Decode(audioPacket(64))
	// 3 × 128 = 384 samples, no batch yet.
	if len(got.Chunks) != 0 || d.Pending() != 384 {
		t.Errorf("chunks=%d pending=%d, want 0 and 384", len(got.Chunks), d.Pending())
	}
}

func TestLoadCodebook_WrongSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := wearable.LoadCodebook(path, path, 80, 80); err == nil {
		t.Error("expected error for truncated codebook")
	}
}
