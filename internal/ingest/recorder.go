package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

const wavHeaderSize = 44

// Recorder is a [DiagnosticSink] that writes each source to its own mono
// WAV file under a directory. Files are created on the first chunk of a
// source and their headers are finalised by Close.
type Recorder struct {
	dir    string
	prefix string
	rates  map[audio.Source]int

	mu     sync.Mutex
	files  map[audio.Source]*wavFile
	closed bool
}

var _ DiagnosticSink = (*Recorder)(nil)

type wavFile struct {
	f    *os.File
	rate int
	size int64
	err  error
}

// NewRecorder returns a recorder writing "<device>-<timestamp>-<source>.wav"
// files to dir. micRate is the rate of raw microphone frames; wearable audio
// is always 16 kHz.
func NewRecorder(dir, deviceID string, micRate int, now time.Time) (*Recorder, error) {
	if dir == "" {
		return nil, errors.New("ingest: recorder directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest: create recorder directory: %w", err)
	}
	return &Recorder{
		dir:    dir,
		prefix: fmt.Sprintf("%s-%s", filepath.Base(deviceID), now.UTC().Format("20060102T150405Z")),
		rates: map[audio.Source]int{
			audio.SourceMicrophone: micRate,
			audio.SourceWearable:   audio.Mono16k.SampleRate,
		},
		files: make(map[audio.Source]*wavFile),
	}, nil
}

// Mirror appends pcm to the file for source. Write errors are logged once
// per file and further chunks for that source are discarded.
func (r *Recorder) Mirror(source audio.Source, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	w, ok := r.files[source]
	if !ok {
		w = r.open(source)
		r.files[source] = w
	}
	if w.err != nil {
		return
	}
	n, err := w.f.Write(pcm)
	w.size += int64(n)
	if err != nil {
		w.err = err
		slog.Warn("ingest: recorder write failed", "file", w.f.Name(), "err", err)
	}
}

func (r *Recorder) open(source audio.Source) *wavFile {
	name := filepath.Join(r.dir, fmt.Sprintf("%s-%s.wav", r.prefix, source))
	rate := r.rates[source]
	if rate <= 0 {
		rate = audio.Mono16k.SampleRate
	}
	f, err := os.Create(name)
	if err != nil {
		slog.Warn("ingest: recorder create failed", "file", name, "err", err)
		return &wavFile{err: err}
	}
	w := &wavFile{f: f, rate: rate}
	if _, err := f.Write(audio.EncodeWAV(nil, rate, 1)); err != nil {
		w.err = err
		slog.Warn("ingest: recorder header write failed", "file", name, "err", err)
	}
	return w
}

// Close patches every WAV header with the final data size and closes the
// files. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, w := range r.files {
		if w.f == nil {
			continue
		}
		if w.err == nil {
			errs = append(errs, patchHeader(w.f, w.size))
		}
		errs = append(errs, w.f.Close())
	}
	return errors.Join(errs...)
}

func patchHeader(f *os.File, dataSize int64) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(36+dataSize))
	if _, err := f.WriteAt(b[:], 4); err != nil {
		return fmt.Errorf("ingest: patch riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(b[:], uint32(dataSize))
	if _, err := f.WriteAt(b[:], wavHeaderSize-4); err != nil {
		return fmt.Errorf("ingest: patch data size: %w", err)
	}
	return nil
}
