package dialogue

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Beep parameters for the built-in exit cue.
const (
	beepFrequency = 880
	beepDuration  = 0.15
	beepFade      = 0.01
	beepAmplitude = 0.3
)

// cueChunkMs is the playback chunk size for cues.
const cueChunkMs = 20

// Cue is a short mono PCM16 sound played when a dialogue ends.
type Cue struct {
	PCM        []byte
	SampleRate int
}

// Beep returns an 880 Hz tone of 150 ms at sampleRate with short fades.
func Beep(sampleRate int) Cue {
	n := int(float64(sampleRate) * beepDuration)
	fade := int(float64(sampleRate) * beepFade)
	samples := make([]float32, n)
	for i := range samples {
		gain := 1.0
		if i < fade {
			gain = float64(i) / float64(fade)
		} else if n-i < fade {
			gain = float64(n-i) / float64(fade)
		}
		samples[i] = float32(beepAmplitude * gain * math.Sin(2*math.Pi*beepFrequency*float64(i)/float64(sampleRate)))
	}
	return Cue{PCM: audio.Float32ToPCM16(samples), SampleRate: sampleRate}
}

// LoadCue reads a cue from path. Files ending in .wav are decoded and
// down-mixed to mono; anything else is read as raw mono PCM16 at
// defaultRate.
func LoadCue(path string, defaultRate int) (Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Cue{}, fmt.Errorf("dialogue: load cue: %w", err)
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		if len(data)%2 != 0 {
			return Cue{}, fmt.Errorf("dialogue: load cue %q: odd byte count %d", path, len(data))
		}
		return Cue{PCM: data, SampleRate: defaultRate}, nil
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return Cue{}, fmt.Errorf("dialogue: load cue %q: %w", path, err)
	}
	switch format.Channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return Cue{}, fmt.Errorf("dialogue: load cue %q: unsupported channel count %d", path, format.Channels)
	}
	return Cue{PCM: pcm, SampleRate: format.SampleRate}, nil
}

// Clip wraps the cue for playback.
func (c Cue) Clip(label string) *audio.Clip {
	chunk := c.SampleRate * 2 * cueChunkMs / 1000
	return audio.ClipFromPCM(label, c.PCM, c.SampleRate, chunk)
}
