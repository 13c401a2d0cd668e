// Package elevenlabs provides agent speech through the ElevenLabs hosted
// streaming API. Text fragments go out over a WebSocket as they arrive and
// PCM comes back in small chunks, which keeps first-audio latency low enough
// for back-and-forth exchanges.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/hotseat/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"

	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// Default voice rendering knobs; see WithVoiceSettings.
	defaultStability  = 0.5
	defaultSimilarity = 0.75

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 256
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5" for the
// lowest latency, "eleven_multilingual_v2" for non-English panels).
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g. "pcm_16000",
// "pcm_24000"). The session playback path expects raw PCM formats here, not
// the mp3_* variants.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoiceSettings tunes rendering: stability trades expressiveness for
// consistency, similarityBoost pulls the output closer to the reference
// voice. Both range 0..1.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.stability = stability
		p.similarity = similarityBoost
	}
}

// Provider implements tts.Provider on the ElevenLabs streaming API. It is
// safe for concurrent use; each SynthesizeStream call opens its own socket.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	stability    float64
	similarity   float64
	httpClient   *http.Client
}

// New returns a Provider authenticated with apiKey, which must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		stability:    defaultStability,
		similarity:   defaultSimilarity,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// textFrame is one outgoing text fragment. An empty Text tells the server to
// flush whatever it has buffered.
type textFrame struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// openFrame is the first message on a new socket; it authenticates the
// stream and pins the output format.
type openFrame struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioFrame is one incoming server message.
type audioFrame struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// SynthesizeStream opens a WebSocket for voice.ID, forwards text fragments
// as they arrive, and returns a channel of raw PCM chunks. The channel
// closes once the server marks the stream final after the text channel
// closes, or when ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, streamURL(voice.ID, p.model), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial stream: %w", err)
	}
	if err := p.openStream(ctx, conn); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, err
	}

	audioCh := make(chan []byte, audioChanBuf)
	go p.pump(ctx, conn, text, audioCh)
	return audioCh, nil
}

// openStream authenticates a fresh socket. The leading single space is the
// non-empty first text value the API insists on.
func (p *Provider) openStream(ctx context.Context, conn *websocket.Conn) error {
	payload, err := json.Marshal(openFrame{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: p.stability, SimilarityBoost: p.similarity},
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	})
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal open frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("elevenlabs: open stream: %w", err)
	}
	return nil
}

// pump forwards text fragments to the socket while a reader goroutine
// mirrors decoded audio onto audioCh. It owns the socket and the audio
// channel; both are released when it returns.
func (p *Provider) pump(ctx context.Context, conn *websocket.Conn, text <-chan string, audioCh chan<- []byte) {
	defer close(audioCh)
	defer conn.Close(websocket.StatusNormalClosure, "synthesis complete")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		p.readAudio(ctx, conn, audioCh)
	}()

	// Voice settings ride only on the first fragment; the server keeps them
	// for the rest of the stream.
	vs := &voiceSettings{Stability: p.stability, SimilarityBoost: p.similarity}

	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				// Text exhausted: an empty frame makes the server render its
				// buffered tail, then it marks the stream final.
				flush, _ := encodeTextFrame("", nil)
				_ = conn.Write(ctx, websocket.MessageText, flush)
				<-readDone
				return
			}
			if fragment == "" {
				continue
			}
			payload, err := encodeTextFrame(fragment, vs)
			if err != nil {
				return
			}
			vs = nil
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readAudio decodes server frames onto audioCh until the stream is marked
// final, the socket drops, or ctx is cancelled.
func (p *Provider) readAudio(ctx context.Context, conn *websocket.Conn, audioCh chan<- []byte) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame audioFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Message != "" {
			slog.Warn("elevenlabs stream notice", "message", frame.Message)
		}
		if frame.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err == nil {
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
		}
		if frame.IsFinal {
			return
		}
	}
}

// voicesResponse is the top-level body of GET /v1/voices.
type voicesResponse struct {
	Voices []voiceEntry `json:"voices"`
}

// voiceEntry is one catalogue entry from the ElevenLabs API.
type voiceEntry struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns every voice the configured API key can use. Label
// key/values (accent, gender, age, ...) land in the profile metadata along
// with the catalogue category.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build voices request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: GET /v1/voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: GET /v1/voices returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read voices response: %w", err)
	}
	return decodeVoiceList(body)
}

// streamURL builds the stream-input WebSocket URL for a voice and model.
func streamURL(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// encodeTextFrame marshals one outgoing text frame. Passing vs == nil omits
// voice_settings; empty text with nil vs produces the flush frame.
func encodeTextFrame(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textFrame{Text: text, VoiceSettings: vs})
}

// decodeVoiceList maps a /v1/voices response body to voice profiles.
func decodeVoiceList(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices response: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}
