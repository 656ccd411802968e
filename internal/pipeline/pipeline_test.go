package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/event"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wearable"
	"github.com/MrWong99/earshot/pkg/memory"
	memmock "github.com/MrWong99/earshot/pkg/memory/mock"
	embmock "github.com/MrWong99/earshot/pkg/provider/embeddings/mock"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

// ---- helpers ----------------------------------------------------------------

var voice = []float32{1, 0.2, 0, 0}

type fixture struct {
	p     *pipeline.Pipeline
	det   *vadmock.Detector
	store *memmock.Store
	local *sttmock.Recognizer
	ext   *embmock.Extractor
	chat  *llmmock.Provider
}

func newFixture(t *testing.T, autoStart bool) *fixture {
	t.Helper()
	f := &fixture{
		det: &vadmock.Detector{MinWindowResult: 100},
		store: &memmock.Store{PrimaryResult: &memory.SpeakerProfile{
			Name: "primary", Embedding: voice, ModelID: "ecapa", Primary: true,
		}},
		local: &sttmock.Recognizer{},
		ext:   &embmock.Extractor{EmbedResult: voice, DimensionsValue: 4, ModelIDValue: "ecapa"},
		chat:  &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Sunny.", FinishReason: "stop"}}},
	}
	p, err := pipeline.New(pipeline.Deps{
		Detector:  f.det,
		Store:     f.store,
		Local:     f.local,
		Extractor: f.ext,
		Chat:      f.chat,
	}, pipeline.Config{
		DeviceID:          "dev-1",
		AutoStart:         autoStart,
		PaddingSamples:    10,
		WakePhrases:       []string{"hey earshot"},
		ExitPhrases:       []string{"goodbye earshot"},
		EnrollmentPhrases: []string{"open the pod bay doors", "what a lovely day"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.p = p
	t.Cleanup(func() { _ = p.Close() })
	return f
}

func micFrame() audio.AudioFrame {
	return audio.AudioFrame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1, Source: audio.SourceMicrophone}
}

// say queues one speech segment recognised as text and feeds a frame.
func (f *fixture) say(t *testing.T, text string) {
	t.Helper()
	f.local.Text = text
	f.det.QueueSegment(make([]float32, 200))
	if err := f.p.IngestMicrophone(context.Background(), micFrame()); err != nil {
		t.Fatalf("IngestMicrophone: %v", err)
	}
}

// next returns the first event satisfying match, failing after a timeout.
func next[T event.Event](t *testing.T, p *pipeline.Pipeline, match func(T) bool) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-p.Events():
			if !ok {
				t.Fatal("event stream closed")
			}
			if v, ok := e.(T); ok && (match == nil || match(v)) {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T event arrived", zero)
		}
	}
}

func finalTranscript(tr event.Transcript) bool { return tr.IsFinal }

// ---- ingest -----------------------------------------------------------------

func TestIngest_NoopWhileRecordingDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.say(t, "hello")
	if n := f.local.CallCount(); n != 0 {
		t.Errorf("recognizer calls = %d, want 0", n)
	}
	if n := len(f.det.AcceptedSamples); n != 0 {
		t.Errorf("detector received %d chunks, want 0", n)
	}
}

func TestIngest_MicrophoneDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.p.Control(context.Background(), pipeline.Signal{Kind: pipeline.SignalStopMicrophone})
	f.say(t, "hello")
	if n := f.local.CallCount(); n != 0 {
		t.Errorf("recognizer calls = %d, want 0", n)
	}
	if f.p.State().MicrophoneEnabled {
		t.Error("MicrophoneEnabled still true")
	}
}

func TestIngest_ShortSegmentNeverReachesRecognizerOrAttributor(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.local.Text = "ghost"
	f.det.QueueSegment(make([]float32, 99))
	if err := f.p.IngestMicrophone(context.Background(), micFrame()); err != nil {
		t.Fatal(err)
	}
	if n := f.local.CallCount(); n != 0 {
		t.Errorf("recognizer calls = %d, want 0", n)
	}
	if n := f.ext.CallCount(); n != 0 {
		t.Errorf("extractor calls = %d, want 0", n)
	}
}

func TestIngest_SpeechEventOnChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.det.SetSpeechActive(true)
	_ = f.p.IngestMicrophone(context.Background(), micFrame())
	_ = f.p.IngestMicrophone(context.Background(), micFrame())
	f.det.SetSpeechActive(false)
	_ = f.p.IngestMicrophone(context.Background(), micFrame())

	if got := next[event.Speech](t, f.p, nil); !got.Detected {
		t.Errorf("first speech event = %+v, want detected", got)
	}
	if got := next[event.Speech](t, f.p, nil); got.Detected {
		t.Errorf("second speech event = %+v, want not detected", got)
	}
}

func TestIngestWearable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.p.IngestWearable(ctx, make([]byte, 100))
	if !errors.Is(err, wearable.ErrPacketLength) {
		t.Errorf("short packet: err = %v, want ErrPacketLength", err)
	}

	hb := make([]byte, wearable.PacketSize)
	hb[0] = wearable.MarkerHeartbeatOn
	if err := f.p.IngestWearable(ctx, hb); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got := next[event.BoneConduction](t, f.p, nil); !got.Active {
		t.Errorf("bone conduction event = %+v, want active", got)
	}
	if !f.p.State().BoneConductionActive {
		t.Error("state not updated")
	}

	pkt := make([]byte, wearable.PacketSize)
	pkt[0] = wearable.MarkerAudioA
	for range 4 {
		if err := f.p.IngestWearable(ctx, pkt); err != nil {
			t.Fatalf("audio packet: %v", err)
		}
	}
	// 4 packets x 3 sub-frames x 160 samples = 1920 samples = 3 batches of 512.
	if n := len(f.det.AcceptedSamples); n != 3 {
		t.Errorf("detector received %d batches, want 3", n)
	}
}

// ---- attribution and dialogue ----------------------------------------------

func TestDispatch_AmbientTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.say(t, "[music] nice day")

	tr := next(t, f.p, finalTranscript)
	if tr.Text != "nice day" || tr.Speaker != memory.SpeakerUser || tr.DialogMode {
		t.Errorf("transcript = %+v", tr)
	}
	recs := f.store.Records()
	if len(recs) != 1 || recs[0].Category != memory.CategoryAmbient || recs[0].DeviceID != "dev-1" {
		t.Errorf("records = %+v", recs)
	}
	if n := len(f.chat.Calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
}

func TestDispatch_EmptyTextEmitsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.say(t, "[BLANK_AUDIO]")
	f.say(t, "fine")
	if tr := next(t, f.p, finalTranscript); tr.Text != "fine" {
		t.Errorf("first final = %q, want fine", tr.Text)
	}
	if n := f.store.CallCount("Insert"); n != 1 {
		t.Errorf("Insert calls = %d, want 1", n)
	}
}

func TestDispatch_WakeAndExit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)

	f.say(t, "hey earshot, weather?")
	tr := next(t, f.p, finalTranscript)
	if !tr.DialogMode || tr.SessionChars == 0 {
		t.Errorf("wake transcript = %+v, want dialog mode with session chars", tr)
	}
	done := next(t, f.p, func(c event.Completion) bool { return c.IsFinished })
	if done.PartialReplyText != "Sunny." {
		t.Errorf("reply = %q", done.PartialReplyText)
	}
	if !f.p.State().DialogMode {
		t.Error("State().DialogMode = false")
	}

	f.say(t, "goodbye earshot")
	tr = next(t, f.p, finalTranscript)
	if tr.DialogMode {
		t.Errorf("exit transcript = %+v, want ambient", tr)
	}
	if f.det.ClearCallCount != 1 {
		t.Errorf("detector cleared %d times, want 1", f.det.ClearCallCount)
	}
}

func TestDispatch_OtherSpeakerCannotWake(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.ext.EmbedResult = []float32{0, 0, 1, 0.1}
	f.say(t, "hey earshot")
	tr := next(t, f.p, finalTranscript)
	if tr.Speaker != memory.SpeakerOthers || tr.DialogMode {
		t.Errorf("transcript = %+v, want others in ambient", tr)
	}
}

// ---- enrollment ------------------------------------------------------------

func TestEnrollment_ConsumesFinals(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()
	f.store.PrimaryResult = nil

	ack := f.p.Control(ctx, pipeline.Signal{Kind: pipeline.SignalBeginEnrollment})
	if ack.Error != "" || ack.Signal != string(pipeline.SignalBeginEnrollment) {
		t.Fatalf("ack = %+v", ack)
	}
	started := next[event.Enrollment](t, f.p, nil)
	if started.Status != event.EnrollmentStarted || started.Phrase != "open the pod bay doors" {
		t.Errorf("started = %+v", started)
	}

	f.say(t, "bananas are yellow")
	tr := next(t, f.p, finalTranscript)
	if tr.Speaker != "" || tr.DialogMode {
		t.Errorf("enrollment transcript = %+v, want no speaker and no dialogue", tr)
	}
	retry := next[event.Enrollment](t, f.p, nil)
	if retry.Status != event.EnrollmentRetry || retry.Step != 0 {
		t.Errorf("outcome = %+v, want retry at step 0", retry)
	}

	f.say(t, "Open the pod bay doors.")
	if got := next[event.Enrollment](t, f.p, nil); got.Status != event.EnrollmentAccepted || got.Step != 1 {
		t.Errorf("outcome = %+v, want step_accepted 1", got)
	}
	if st := f.p.State(); !st.EnrollmentInProgress || st.EnrollmentStep != 1 {
		t.Errorf("state = %+v", st)
	}

	f.say(t, "what a lovely day")
	if got := next[event.Enrollment](t, f.p, nil); got.Status != event.EnrollmentCompleted {
		t.Errorf("outcome = %+v, want completed", got)
	}
	if f.p.State().EnrollmentInProgress {
		t.Error("still enrolling after completion")
	}
	if n := f.store.CallCount("Insert"); n != 0 {
		t.Errorf("Insert calls = %d, want 0 during enrollment", n)
	}
	if n := len(f.chat.Calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0 during enrollment", n)
	}
}

func TestEnrollment_StartDuringRecognitionDropsFinal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()
	f.local.Delay = 200 * time.Millisecond
	f.local.Text = "hey earshot what is the weather"
	f.det.QueueSegment(make([]float32, 200))

	done := make(chan error, 1)
	go func() { done <- f.p.IngestMicrophone(ctx, micFrame()) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.local.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("recognition never started")
		}
		time.Sleep(time.Millisecond)
	}
	if ack := f.p.Control(ctx, pipeline.Signal{Kind: pipeline.SignalBeginEnrollment}); ack.Error != "" {
		t.Fatalf("ack = %+v", ack)
	}
	if err := <-done; err != nil {
		t.Fatalf("IngestMicrophone: %v", err)
	}

	tr := next(t, f.p, finalTranscript)
	if tr.Speaker != "" || tr.DialogMode {
		t.Errorf("transcript = %+v, want no speaker and no dialogue", tr)
	}
	if n := f.store.CallCount("Insert"); n != 0 {
		t.Errorf("Insert calls = %d, want 0 once enrollment started", n)
	}
	if n := len(f.chat.Calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
	if st := f.p.State(); !st.EnrollmentInProgress || st.EnrollmentStep != 0 || st.DialogMode {
		t.Errorf("state = %+v, want enrollment at step 0", st)
	}
}

func TestEnrollment_DoneAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	ctx := context.Background()
	f.p.Control(ctx, pipeline.Signal{Kind: pipeline.SignalBeginEnrollment})
	f.p.Control(ctx, pipeline.Signal{Kind: pipeline.SignalEnrollmentDone})

	next[event.Enrollment](t, f.p, func(e event.Enrollment) bool { return e.Status == event.EnrollmentAborted })
	if f.p.State().EnrollmentInProgress {
		t.Error("still enrolling after enrollment_done")
	}
}

// ---- control ---------------------------------------------------------------

func TestControl_AcknowledgesEverySignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sig     pipeline.Signal
		wantErr bool
	}{
		{pipeline.Signal{Kind: pipeline.SignalStartRecording}, false},
		{pipeline.Signal{Kind: pipeline.SignalStopRecording}, false},
		{pipeline.Signal{Kind: pipeline.SignalStartMicrophone}, false},
		{pipeline.Signal{Kind: pipeline.SignalStopMicrophone}, false},
		{pipeline.Signal{Kind: pipeline.SignalBeginEnrollment}, false},
		{pipeline.Signal{Kind: pipeline.SignalEnrollmentDone}, false},
		{pipeline.Signal{Kind: pipeline.SignalDeviceConnect, DeviceID: "glasses-7"}, false},
		{pipeline.Signal{Kind: pipeline.SignalDeviceConnect}, true},
		{pipeline.Signal{Kind: "reboot"}, true},
	}
	f := newFixture(t, false)
	for _, tt := range tests {
		ack := f.p.Control(context.Background(), tt.sig)
		if ack.Signal != string(tt.sig.Kind) {
			t.Errorf("%s: ack signal = %q", tt.sig.Kind, ack.Signal)
		}
		if (ack.Error != "") != tt.wantErr {
			t.Errorf("%s: ack error = %q, wantErr %v", tt.sig.Kind, ack.Error, tt.wantErr)
		}
	}
	if got := f.p.State().DeviceID; got != "glasses-7" {
		t.Errorf("DeviceID = %q, want glasses-7", got)
	}
}

func TestControl_EnrollmentStoreFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.store.PrimaryResult = nil
	f.store.PrimaryErr = errors.New("db down")
	ack := f.p.Control(context.Background(), pipeline.Signal{Kind: pipeline.SignalBeginEnrollment})
	if ack.Error == "" {
		t.Error("expected ack error")
	}
}

func TestControl_StartRecordingEnablesIngest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.p.Control(context.Background(), pipeline.Signal{Kind: pipeline.SignalStartRecording})
	f.say(t, "hello")
	if n := f.local.CallCount(); n != 1 {
		t.Errorf("recognizer calls = %d, want 1", n)
	}
}

// ---- lifecycle -------------------------------------------------------------

func TestClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	if err := f.p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-f.p.Events():
		case <-timeout:
			t.Fatal("events channel not closed")
		}
	}
	if err := f.p.IngestMicrophone(context.Background(), micFrame()); !errors.Is(err, pipeline.ErrClosed) {
		t.Errorf("IngestMicrophone after Close: err = %v, want ErrClosed", err)
	}
	if ack := f.p.Control(context.Background(), pipeline.Signal{Kind: pipeline.SignalStartRecording}); ack.Error == "" {
		t.Error("Control after Close: want ack error")
	}
}

func TestNew_RequiresDetectorAndStore(t *testing.T) {
	t.Parallel()
	if _, err := pipeline.New(pipeline.Deps{Store: &memmock.Store{}}, pipeline.Config{}); err == nil {
		t.Error("missing detector: expected error")
	}
	if _, err := pipeline.New(pipeline.Deps{Detector: &vadmock.Detector{}}, pipeline.Config{}); err == nil {
		t.Error("missing store: expected error")
	}
}

func TestDispatch_DegradedExtractorAttributesToUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true)
	f.ext.EmbedErr = errors.New("model missing")
	f.say(t, "hello there")
	if tr := next(t, f.p, finalTranscript); tr.Speaker != memory.SpeakerUser {
		t.Errorf("speaker = %q, want user for degraded embedding", tr.Speaker)
	}
}
