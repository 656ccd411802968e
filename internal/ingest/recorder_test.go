package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestRecorder_WritesOneFilePerSource(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, err := NewRecorder(dir, "glasses", 48000, now)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	r.Mirror(audio.SourceMicrophone, []byte{1, 0, 2, 0})
	r.Mirror(audio.SourceMicrophone, []byte{3, 0})
	r.Mirror(audio.SourceWearable, []byte{9, 0})
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r.Mirror(audio.SourceWearable, []byte{7, 0})

	tests := []struct {
		source   audio.Source
		wantRate int
		wantPCM  []byte
	}{
		{audio.SourceMicrophone, 48000, []byte{1, 0, 2, 0, 3, 0}},
		{audio.SourceWearable, 16000, []byte{9, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.source.String(), func(t *testing.T) {
			name := filepath.Join(dir, "glasses-20260301T120000Z-"+tt.source.String()+".wav")
			data, err := os.ReadFile(name)
			if err != nil {
				t.Fatalf("read %s: %v", name, err)
			}
			pcm, format, err := audio.DecodeWAV(data)
			if err != nil {
				t.Fatalf("DecodeWAV: %v", err)
			}
			if format.SampleRate != tt.wantRate || format.Channels != 1 {
				t.Errorf("format = %+v, want %d Hz mono", format, tt.wantRate)
			}
			if string(pcm) != string(tt.wantPCM) {
				t.Errorf("pcm = %v, want %v", pcm, tt.wantPCM)
			}
		})
	}
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), "dev", 16000, time.Now())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNewRecorder_EmptyDir(t *testing.T) {
	if _, err := NewRecorder("", "dev", 16000, time.Now()); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
