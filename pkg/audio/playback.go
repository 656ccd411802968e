package audio

import "sync/atomic"

// InterruptReason identifies why the current clip was cut short.
type InterruptReason int

const (
	// Stopped indicates an explicit stop, for example when the dialogue
	// returns to ambient mode.
	Stopped InterruptReason = iota

	// BargeIn indicates that the user started speaking over playback.
	BargeIn

	// Replaced indicates that a newer clip took over the output.
	Replaced
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case Stopped:
		return "STOPPED"
	case BargeIn:
		return "BARGE_IN"
	case Replaced:
		return "REPLACED"
	default:
		return "UNKNOWN"
	}
}

// Clip is one unit of playback: a synthesized reply or an audio cue.
// Audio is streamed so playback can start before synthesis completes.
type Clip struct {
	// Label names the clip in logs ("reply", "exit-cue").
	Label string

	// Audio is a read-only channel of mono PCM16 chunks. The producer closes
	// it when the clip ends or a mid-stream error occurs.
	Audio <-chan []byte

	// SampleRate of the PCM on Audio. Must be > 0.
	SampleRate int

	streamErr atomic.Pointer[error]
}

// Err returns the error that closed the Audio channel early, or nil.
func (c *Clip) Err() error {
	if p := c.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. Call before closing Audio.
func (c *Clip) SetStreamErr(err error) {
	c.streamErr.Store(&err)
}

// ClipFromPCM wraps a fully rendered PCM buffer as a clip delivered in
// chunkBytes pieces.
func ClipFromPCM(label string, pcm []byte, sampleRate, chunkBytes int) *Clip {
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}
	n := 0
	if chunkBytes > 0 {
		n = (len(pcm) + chunkBytes - 1) / chunkBytes
	}
	ch := make(chan []byte, n)
	for off := 0; off < len(pcm); off += chunkBytes {
		ch <- pcm[off:min(off+chunkBytes, len(pcm))]
	}
	close(ch)
	return &Clip{Label: label, Audio: ch, SampleRate: sampleRate}
}

// Player owns the single audio output of a pipeline. At most one clip plays
// at any time: Play stops whatever is current before the new clip starts.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play stops the current clip with [Replaced] and starts clip. The
	// returned channel is closed once clip has finished or was interrupted.
	Play(clip *Clip) <-chan struct{}

	// Stop interrupts the current clip. It reports whether anything was
	// playing.
	Stop(reason InterruptReason) bool

	// Playing reports whether a clip is currently being output.
	Playing() bool
}
