// Package coqui provides the local TTS backend. It talks to either a Coqui
// XTTS v2 server or a standard Coqui TTS server over REST and implements the
// tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with URL query
//     parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body.
//
// Both servers work in batch mode, one HTTP call per utterance, so
// SynthesizeStream accumulates text fragments into complete sentences and
// dispatches concurrent requests with a small lookahead while preserving
// sentence order. Audio is resampled to the configured output rate.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	audio, err := p.SynthesizeStream(ctx, textCh, tts.VoiceProfile{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 16000
	ttsEndpoint       = "/tts_to_audio/"
	apiTTSEndpoint    = "/api/tts"

	// sentenceLookaheadBuf bounds the synthesis requests in flight at once.
	sentenceLookaheadBuf = 4

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// ---- APIMode ----

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// ---- options ----

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate sets the rate PCM is resampled to before it is
// emitted. Defaults to 16000.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// ---- Provider ----

// Provider implements tts.Provider backed by a locally-running Coqui server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider for the TTS server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	if p.outputRate <= 0 {
		return nil, fmt.Errorf("coqui: output sample rate must be positive, got %d", p.outputRate)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.outputRate }

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// audioResult carries a synthesised sentence or an error from a worker goroutine.
type audioResult struct {
	pcm    []byte
	format audio.Format
	err    error
}

// ---- SynthesizeStream ----

// SynthesizeStream accumulates text fragments into sentences (see
// tts.SentenceBoundary) and synthesises each one with its own HTTP request.
// Up to sentenceLookaheadBuf requests run concurrently; output keeps sentence
// order. A failed sentence ends the stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	// XTTS always needs a speaker_wav. Standard mode works without one for
	// single-speaker models.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice ID must not be empty in XTTS mode")
	}

	audioCh := make(chan []byte, audioChanBuf)
	sentences := make(chan string, sentenceLookaheadBuf)
	resultQueue := make(chan chan audioResult, sentenceLookaheadBuf)

	go p.accumulate(ctx, text, sentences)

	// Dispatcher: one request per sentence, with an ordered result slot.
	go func() {
		defer close(resultQueue)
		for {
			select {
			case sentence, ok := <-sentences:
				if !ok {
					return
				}
				slot := make(chan audioResult, 1)
				select {
				case resultQueue <- slot:
				case <-ctx.Done():
					return
				}
				go func(s string) {
					pcm, format, err := p.synthesize(ctx, s, voice)
					slot <- audioResult{pcm: pcm, format: format, err: err}
				}(sentence)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Collector: drains results in order, resamples, chunks.
	go func() {
		defer close(audioCh)
		rs := &resampleState{dstRate: p.outputRate}
		for slot := range resultQueue {
			var result audioResult
			select {
			case result = <-slot:
			case <-ctx.Done():
				return
			}
			if result.err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: synthesis failed", "err", result.err)
				}
				return
			}
			pcm, err := rs.convert(result.pcm, result.format)
			if err != nil {
				slog.Warn("coqui: resample failed", "err", err)
				return
			}
			for len(pcm) > 0 {
				end := min(pcmChunkSize, len(pcm))
				select {
				case audioCh <- pcm[:end]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[end:]
			}
		}
	}()

	return audioCh, nil
}

// accumulate reads fragments and emits complete sentences. The remainder is
// flushed as a final sentence when text is closed.
func (p *Provider) accumulate(ctx context.Context, text <-chan string, sentences chan<- string) {
	defer close(sentences)
	var buf strings.Builder
	emit := func(s string) bool {
		if s == "" {
			return true
		}
		select {
		case sentences <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				emit(strings.TrimSpace(buf.String()))
				return
			}
			buf.WriteString(fragment)
			for {
				s := buf.String()
				idx := tts.SentenceBoundary(s)
				if idx < 0 {
					break
				}
				buf.Reset()
				buf.WriteString(s[idx+1:])
				if !emit(strings.TrimSpace(s[:idx+1])) {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// synthesize runs one request in the configured API mode and returns the
// decoded PCM with its format.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, audio.Format, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, sentence, voice)
	} else {
		req, err = p.standardRequest(ctx, sentence, voice)
	}
	if err != nil {
		return nil, audio.Format{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, audio.Format{}, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	return pcm, format, nil
}

// xttsRequest builds POST /tts_to_audio/ (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds GET /api/tts (standard server mode).
func (p *Provider) standardRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// ---- resampling ----

// resampleState keeps one resampler per stream so filter state carries across
// sentences.
type resampleState struct {
	dstRate int
	srcRate int
	r       *audio.Resampler
}

// convert downmixes pcm and resamples it to dstRate. The resampler is
// replaced when the source rate changes.
func (rs *resampleState) convert(pcm []byte, format audio.Format) ([]byte, error) {
	if format.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if format.SampleRate == rs.dstRate || format.SampleRate <= 0 {
		return pcm, nil
	}
	if rs.r == nil || rs.srcRate != format.SampleRate {
		r, err := audio.NewResampler(format.SampleRate, rs.dstRate)
		if err != nil {
			return nil, err
		}
		rs.r, rs.srcRate = r, format.SampleRate
	}
	out, err := rs.r.Process(audio.PCM16ToFloat32(pcm))
	if err != nil {
		return nil, err
	}
	return audio.Float32ToPCM16(out), nil
}
