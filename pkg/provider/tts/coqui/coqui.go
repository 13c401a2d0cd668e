// Package coqui provides agent speech through a self-hosted Coqui TTS server,
// covering deployments where board material must not leave the network for a
// hosted voice API.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server image
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis goes through GET /api/tts and the
//     voice catalogue comes from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis goes through
//     POST /tts_to_audio/, voices come from GET /studio_speakers, and new
//     voices can be cloned from reference audio via POST /clone_speaker.
//
// Both servers are batch engines — one HTTP call per utterance — so
// SynthesizeStream assembles streamed text into whole sentences and keeps a
// small window of concurrent requests in flight, emitting PCM in sentence
// order while later sentences synthesise in the background.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/hotseat/pkg/audio"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	cloneSpeakerEndpoint   = "/clone_speaker"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// lookahead bounds how many synthesis requests may be in flight at once.
	// More hides server latency better; less is kinder to a shared box.
	lookahead = 4

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/). It
	// supports voice listing via /studio_speakers and cloning via
	// /clone_speaker.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts). This
	// is the default. Voices are listed via /details; cloning is unavailable.
	APIModeStandard APIMode = "standard"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent with every synthesis request
// (e.g. "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s, which
// leaves room for CPU-only servers to synthesise longer sentences.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode selects the server flavour: APIModeStandard (default) for the
// standard Coqui TTS image or APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate resamples synthesised mono PCM to the given rate so it
// matches the session's playback format regardless of the model's native
// rate. 0 (the default) emits PCM unchanged.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider against a locally running Coqui TTS
// server. It is safe for concurrent use; the session runtime synthesises
// several agent voices in parallel through one Provider.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int // target sample rate; 0 = no resampling
}

// New returns a Provider for the Coqui server at serverURL (e.g.
// "http://localhost:5002"). serverURL must be non-empty. The default API mode
// is APIModeStandard.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body for POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// audioResult carries one sentence's PCM or error from a synthesis goroutine.
type audioResult struct {
	pcm []byte
	err error
}

// cloneSpeakerResponse is the JSON body returned by POST /clone_speaker.
type cloneSpeakerResponse struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// detailsResponse is the JSON body returned by GET /details (standard mode).
// Speakers is nil for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// SynthesizeStream assembles text fragments into complete sentences (split on
// '.', '!' or '?' followed by whitespace or end of input) and issues one
// synthesis request per sentence, with up to `lookahead` requests in flight.
// The WAV responses are stripped to raw PCM and emitted in sentence order.
//
// The returned channel closes when all text is synthesised, a sentence fails,
// or ctx is cancelled; the caller must drain it. In XTTS mode voice.ID names
// the speaker and must be non-empty. Standard mode tolerates an empty ID for
// single-speaker models.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty in XTTS mode")
	}

	audioCh := make(chan []byte, audioChanBuf)
	sentences := make(chan string, lookahead)
	pending := make(chan chan audioResult, lookahead)

	go p.splitSentences(ctx, text, sentences)
	go p.dispatch(ctx, voice, sentences, pending)
	go p.collect(ctx, pending, audioCh)

	return audioCh, nil
}

// splitSentences buffers streamed fragments and forwards whole sentences so
// each request carries natural prosody. Any unterminated tail is flushed when
// the text channel closes.
func (p *Provider) splitSentences(ctx context.Context, text <-chan string, sentences chan<- string) {
	defer close(sentences)
	var buf strings.Builder
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				if tail := strings.TrimSpace(buf.String()); tail != "" {
					select {
					case sentences <- tail:
					case <-ctx.Done():
					}
				}
				return
			}
			buf.WriteString(fragment)
			for {
				s := buf.String()
				idx := findSentenceBoundary(s)
				if idx < 0 {
					break
				}
				sentence := strings.TrimSpace(s[:idx+1])
				buf.Reset()
				buf.WriteString(s[idx+1:])
				if sentence == "" {
					continue
				}
				select {
				case sentences <- sentence:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatch starts one synthesis goroutine per sentence and queues the result
// channels in sentence order. The bounded pending channel is what enforces
// the lookahead window.
func (p *Provider) dispatch(ctx context.Context, voice tts.VoiceProfile, sentences <-chan string, pending chan<- chan audioResult) {
	defer close(pending)
	for {
		select {
		case sentence, ok := <-sentences:
			if !ok {
				return
			}
			ch := make(chan audioResult, 1)
			select {
			case pending <- ch:
			case <-ctx.Done():
				return
			}
			go func(s string, out chan<- audioResult) {
				pcm, err := p.synthesize(ctx, s, voice)
				out <- audioResult{pcm: pcm, err: err}
			}(sentence, ch)
		case <-ctx.Done():
			return
		}
	}
}

// collect drains results in sentence order and re-chunks the PCM onto the
// audio channel. A synthesis error closes the stream early; callers tell that
// apart from cancellation via ctx.Err().
func (p *Provider) collect(ctx context.Context, pending <-chan chan audioResult, audioCh chan<- []byte) {
	defer close(audioCh)
	for {
		select {
		case ch, ok := <-pending:
			if !ok {
				return
			}
			select {
			case res := <-ch:
				if res.err != nil {
					return
				}
				pcm := res.pcm
				for len(pcm) > 0 {
					n := min(pcmChunkSize, len(pcm))
					select {
					case audioCh <- pcm[:n]:
					case <-ctx.Done():
						return
					}
					pcm = pcm[n:]
				}
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// synthesize routes one sentence to the configured server flavour.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	if p.apiMode == APIModeStandard {
		return p.synthesizeStandard(ctx, sentence, voice)
	}
	return p.synthesizeXTTS(ctx, sentence, voice)
}

// synthesizeXTTS performs one POST /tts_to_audio/ call and returns raw PCM.
func (p *Provider) synthesizeXTTS(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{
		Text:       sentence,
		SpeakerWav: voice.ID,
		Language:   p.language,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coqui: build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.fetchWAV(req, ttsEndpoint)
	if err != nil {
		return nil, err
	}
	return p.decodePCM(wav)
}

// synthesizeStandard performs one GET /api/tts call (query parameters) and
// returns raw PCM.
func (p *Provider) synthesizeStandard(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.fetchWAV(req, apiTTSEndpoint)
	if err != nil {
		return nil, err
	}
	return p.decodePCM(wav)
}

// fetchWAV executes a synthesis request and returns the WAV response body.
func (p *Provider) fetchWAV(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// decodePCM strips the WAV container and, when an output rate is configured,
// resamples mono audio to it. Multi-channel audio is passed through at the
// model's native rate.
func (p *Provider) decodePCM(wav []byte) ([]byte, error) {
	f, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode synthesis response: %w", err)
	}
	if p.outputRate > 0 && f.SampleRate != p.outputRate && f.Channels == 1 {
		pcm = audio.ResampleMono16(pcm, f.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// ListVoices retrieves the voice catalogue from the server. XTTS mode maps
// each studio speaker to a VoiceProfile; standard mode returns one profile
// per speaker for multi-speaker models, or a single profile named after the
// model otherwise.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		return p.listVoicesStandard(ctx)
	}
	return p.listVoicesXTTS(ctx)
}

func (p *Provider) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+studioSpeakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", studioSpeakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", studioSpeakersEndpoint, resp.StatusCode)
	}

	// Only the keys matter; the embeddings payload per speaker is opaque.
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{
				"type": "studio",
			},
		})
	}
	return profiles, nil
}

func (p *Provider) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", detailsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", detailsEndpoint, resp.StatusCode)
	}

	var details detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: decode details response: %w", err)
	}

	if len(details.Speakers) > 0 {
		speakers := make([]string, len(details.Speakers))
		copy(speakers, details.Speakers)
		sort.Strings(speakers)

		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	// Single-speaker model: one profile named after the model.
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{
		{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{
				"type":       "single-speaker",
				"model_name": name,
			},
		},
	}, nil
}

// CloneVoice creates a new speaker from WAV reference samples via
// POST /clone_speaker, giving an agent persona a bespoke voice. Each element
// of samples must be a complete WAV file. Only XTTS mode supports cloning.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		return nil, errors.New("coqui: voice cloning is not supported in standard API mode")
	}
	if len(samples) == 0 {
		return nil, errors.New("coqui: CloneVoice requires at least one audio sample")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for i, sample := range samples {
		fw, err := mw.CreateFormFile("wav_files", fmt.Sprintf("sample_%02d.wav", i))
		if err != nil {
			return nil, fmt.Errorf("coqui: build form file %d: %w", i, err)
		}
		if _, err := fw.Write(sample); err != nil {
			return nil, fmt.Errorf("coqui: write form file %d: %w", i, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("coqui: finish multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("coqui: build clone-speaker request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", cloneSpeakerEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", cloneSpeakerEndpoint, resp.StatusCode)
	}

	var cloneResp cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return nil, fmt.Errorf("coqui: decode clone-speaker response: %w", err)
	}
	if cloneResp.Name == "" {
		return nil, errors.New("coqui: clone-speaker response missing name")
	}

	return &tts.VoiceProfile{
		ID:       cloneResp.Name,
		Name:     cloneResp.Name,
		Provider: "coqui",
		Metadata: map[string]string{
			"type": "cloned",
		},
	}, nil
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that
// ends the string or is followed by whitespace, or -1 if none. Requiring the
// trailing whitespace keeps decimals like "3.14" intact; abbreviations such
// as "Dr." still split, which is acceptable for speech pacing.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
