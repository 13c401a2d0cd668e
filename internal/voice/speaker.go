// Package voice turns agent and moderator text into servable audio files.
//
// The [Speaker] synthesizes one WAV per utterance under the session media
// directory and returns the /api/files/ URL the gateway serves it from.
// Repeated text is deduplicated by content hash so re-used lines (moderator
// bridges, fallback questions) are synthesized once per session.
//
// The [Fillers] library is scanned once at startup from pre-recorded clips
// and never touches the TTS provider.
package voice

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hotseat/internal/resilience"
	"github.com/MrWong99/hotseat/pkg/audio"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
)

const (
	// defaultSampleRate matches the elevenlabs provider's pcm_16000 output.
	defaultSampleRate = 16000

	// filesPrefix is where the gateway mounts the media directory.
	filesPrefix = "/api/files"
)

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithVoices maps agent ids to their configured voice profiles. Agents
// without an entry synthesize with the default voice.
func WithVoices(voices map[string]tts.VoiceProfile) SpeakerOption {
	return func(s *Speaker) {
		for id, v := range voices {
			s.voices[id] = v
		}
	}
}

// WithDefaultVoice sets the profile used for agents with no configured voice.
func WithDefaultVoice(v tts.VoiceProfile) SpeakerOption {
	return func(s *Speaker) { s.defaultVoice = v }
}

// WithSampleRate sets the PCM sample rate the provider was configured for,
// so WAV headers match the actual audio. Default: 16000.
func WithSampleRate(hz int) SpeakerOption {
	return func(s *Speaker) { s.sampleRate = hz }
}

// WithBreaker routes every synthesis call through cb. While the circuit is
// open, Say fails fast with [resilience.ErrCircuitOpen] and callers fall back
// to text-only delivery instead of stalling on a dead TTS backend.
func WithBreaker(cb *resilience.CircuitBreaker) SpeakerOption {
	return func(s *Speaker) { s.breaker = cb }
}

// Speaker synthesizes text to WAV files under the session media directory.
// It is safe for concurrent use.
type Speaker struct {
	tts          tts.Provider
	mediaDir     string
	sessionID    string
	sampleRate   int
	voices       map[string]tts.VoiceProfile
	defaultVoice tts.VoiceProfile
	breaker      *resilience.CircuitBreaker

	mu    sync.Mutex
	cache map[string]string // file name → URL, hit skips synthesis
}

// NewSpeaker returns a [Speaker] writing under mediaDir/<sessionID>/tts.
func NewSpeaker(p tts.Provider, mediaDir, sessionID string, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		tts:        p,
		mediaDir:   mediaDir,
		sessionID:  sessionID,
		sampleRate: defaultSampleRate,
		voices:     make(map[string]tts.VoiceProfile),
		cache:      make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Say synthesizes text in the agent's voice and returns the URL of the
// resulting WAV. The file name is <agent>_<md5(text)[:12]>.wav; an existing
// file short-circuits synthesis.
func (s *Speaker) Say(ctx context.Context, agentID, text string) (string, error) {
	name := fmt.Sprintf("%s_%s.wav", agentID, contentHash(text))
	url := path.Join(filesPrefix, s.sessionID, "tts", name)
	file := filepath.Join(s.mediaDir, s.sessionID, "tts", name)

	s.mu.Lock()
	if _, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return url, nil
	}
	s.mu.Unlock()

	if _, err := os.Stat(file); err == nil {
		s.remember(name, url)
		return url, nil
	}

	pcm, err := s.guardedSynthesize(ctx, agentID, text)
	if err != nil {
		return "", fmt.Errorf("voice: synthesize for %s: %w", agentID, err)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("voice: media dir: %w", err)
	}
	wav := audio.EncodeWAV(pcm, s.sampleRate, 1)
	if err := os.WriteFile(file, wav, 0o644); err != nil {
		return "", fmt.Errorf("voice: write %s: %w", name, err)
	}

	s.remember(name, url)
	return url, nil
}

// SayAll synthesizes each sentence concurrently and returns the URLs in
// sentence order. A sentence whose synthesis fails is logged and dropped;
// SayAll never fails as a whole.
func (s *Speaker) SayAll(ctx context.Context, agentID string, sentences []string) []string {
	results := make([]string, len(sentences))
	var eg errgroup.Group
	for i, sentence := range sentences {
		eg.Go(func() error {
			url, err := s.Say(ctx, agentID, sentence)
			if err != nil {
				slog.Warn("voice: sentence synthesis failed", "agent", agentID, "error", err)
				return nil
			}
			results[i] = url
			return nil
		})
	}
	_ = eg.Wait()

	urls := make([]string, 0, len(results))
	for _, u := range results {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// guardedSynthesize runs the provider call through the breaker when one is
// configured. File system work stays outside the breaker: only the backend's
// health is being judged.
func (s *Speaker) guardedSynthesize(ctx context.Context, agentID, text string) ([]byte, error) {
	if s.breaker == nil {
		return s.synthesize(ctx, agentID, text)
	}
	var pcm []byte
	err := s.breaker.Execute(func() error {
		var synthErr error
		pcm, synthErr = s.synthesize(ctx, agentID, text)
		return synthErr
	})
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

func (s *Speaker) synthesize(ctx context.Context, agentID, text string) ([]byte, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	out, err := s.tts.SynthesizeStream(ctx, in, s.voiceFor(agentID))
	if err != nil {
		return nil, err
	}

	var pcm []byte
	for chunk := range out {
		pcm = append(pcm, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("provider returned no audio")
	}
	return pcm, nil
}

func (s *Speaker) voiceFor(agentID string) tts.VoiceProfile {
	if v, ok := s.voices[agentID]; ok {
		return v
	}
	return s.defaultVoice
}

func (s *Speaker) remember(name, url string) {
	s.mu.Lock()
	s.cache[name] = url
	s.mu.Unlock()
}

// contentHash is the first 12 hex chars of the text's MD5. Collisions only
// cost a reused utterance, never correctness.
func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}

// MediaKey converts a served media URL back into its storage key:
// "/api/files/sess-1/tts/cfo_ab12.wav" → "sess-1/tts/cfo_ab12.wav".
func MediaKey(url string) string {
	return strings.TrimPrefix(url, filesPrefix+"/")
}
