package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the canonical format consumed by segmentation and recognition.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// FormatConverter turns [AudioFrame] values into float32 samples in the
// Target format. It logs a warning on the first format mismatch and on the
// first misaligned frame. Resampling state is kept per source rate so that
// consecutive frames are filtered continuously.
//
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target Format

	resamplers     map[int]*Resampler
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns the frame as float32 samples in [-1, 1] at the target
// rate. Frames with an odd byte count are dropped (nil, nil). Only mono
// targets are supported; stereo input is averaged down to mono first.
func (c *FormatConverter) Convert(frame AudioFrame) ([]float32, error) {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
				"source", frame.Source,
			)
		})
		return nil, nil
	}
	if c.Target.Channels > 1 {
		return nil, fmt.Errorf("audio: unsupported target channel count %d", c.Target.Channels)
	}

	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	samples := PCM16ToFloat32(pcm)

	if frame.SampleRate == c.Target.SampleRate || frame.SampleRate <= 0 {
		return samples, nil
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio: format mismatch, resampling",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	r, ok := c.resamplers[frame.SampleRate]
	if !ok {
		var err error
		r, err = NewResampler(frame.SampleRate, c.Target.SampleRate)
		if err != nil {
			return nil, err
		}
		if c.resamplers == nil {
			c.resamplers = make(map[int]*Resampler)
		}
		c.resamplers[frame.SampleRate] = r
	}
	return r.Process(samples)
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Float32ToPCM16 converts float samples to 16-bit little-endian PCM,
// clamping anything outside [-1, 1].
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(float64(s))))
	}
	return out
}

// Float64ToPCM16 is [Float32ToPCM16] for float64 samples.
func Float64ToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float64) int16 {
	v := math.Round(s * 32768.0)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
