// Package whisper provides speech-to-text backed by whisper.cpp, either
// through a running whisper-server process (REST, POST /inference) or
// in-process via the CGO bindings.
//
// whisper.cpp is a batch transcription engine, so neither backend produces
// true low-latency partials. The package simulates streaming instead: floor
// audio is buffered, an energy-based pause detector cuts it into utterances,
// and each utterance is transcribed in one shot. When the stream requests
// interim results, every final is preceded by a partial carrying the same
// text so activity indicators still move.
//
// Keyword hints from the stream configuration have no effect; whisper.cpp
// exposes no vocabulary boosting. Deck jargon reaches the transcript through
// the correction pass instead.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MrWong99/hotseat/pkg/audio"
	"github.com/MrWong99/hotseat/pkg/provider/stt"
)

const (
	defaultLanguage       = "en"
	defaultSampleRate     = 16000
	defaultPauseMs        = 500
	defaultMaxUtteranceMs = 10_000
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithModel names the model the server should use (e.g. "base.en", "small").
// Leave empty to use whatever model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the transcription language code (e.g. "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the expected sample rate of incoming PCM in Hz.
// Defaults to 16000, which matches the session pipeline's capture format.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceThresholdMs sets how long a speaker must pause before the
// buffered utterance is sent for transcription. Lower values respond faster
// but may split sentences. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.pauseMs = ms
	}
}

// WithMaxBufferDurationMs caps how much continuous speech may accumulate
// before transcription is forced mid-utterance. The cap keeps memory bounded
// when a presenter never pauses. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.maxUtteranceMs = ms
	}
}

// Provider transcribes through a whisper-server HTTP endpoint. One Provider
// may serve many concurrent sessions; each session buffers and cuts
// utterances independently.
type Provider struct {
	serverURL      string
	model          string
	language       string
	sampleRate     int
	pauseMs        int
	maxUtteranceMs int
	client         *http.Client
}

// New returns a Provider talking to the whisper-server at serverURL (e.g.
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:      serverURL,
		language:       defaultLanguage,
		sampleRate:     defaultSampleRate,
		pauseMs:        defaultPauseMs,
		maxUtteranceMs: defaultMaxUtteranceMs,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a transcription session. The handle accepts audio
// immediately; no connection is made until the first utterance is cut, so an
// unreachable server surfaces as dropped utterances rather than a failed
// start. cfg.Keywords is accepted but ignored.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	sampleRate, channels, language := resolveStream(cfg, p.sampleRate, p.language)
	rc := &restClient{
		endpoint: p.serverURL + "/inference",
		model:    p.model,
		language: language,
		http:     p.client,
	}
	buf := newUtteranceBuffer(sampleRate, channels, p.pauseMs, p.maxUtteranceMs)
	return startPump(ctx, buf, cfg.InterimResults, func(ctx context.Context, pcm []byte) (string, error) {
		return rc.transcribe(ctx, audio.EncodeWAV(pcm, sampleRate, channels))
	}), nil
}

// restClient submits single WAV files to the whisper-server inference route
// as multipart/form-data and decodes the JSON reply.
type restClient struct {
	endpoint string
	model    string
	language string
	http     *http.Client
}

func (c *restClient) transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav: %w", err)
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: post utterance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned %s", resp.Status)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return result.Text, nil
}
