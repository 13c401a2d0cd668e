// Native transcription through the whisper.cpp CGO bindings. Building this
// file needs libwhisper.a and whisper.h reachable via LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/hotseat/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process, with no server round trip. The
// model file is loaded once and shared by every session; each inference gets
// its own context, so concurrent sessions do not serialize against each
// other.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	sampleRate     int
	pauseMs        int
	maxUtteranceMs int
}

// NativeOption configures a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the transcription language code (e.g. "en", "de").
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the expected sample rate of incoming PCM in Hz.
// Defaults to 16000.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets how long a speaker must pause before the
// buffered utterance is transcribed. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.pauseMs = ms }
}

// WithNativeMaxBufferDurationMs caps how much continuous speech may
// accumulate before transcription is forced mid-utterance. Defaults to
// 10 000 ms.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxUtteranceMs = ms }
}

// NewNative loads the whisper model at modelPath. The caller must Close the
// provider to free the model when it is retired.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:          model,
		language:       defaultLanguage,
		sampleRate:     defaultSampleRate,
		pauseMs:        defaultPauseMs,
		maxUtteranceMs: defaultMaxUtteranceMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close frees the loaded model. Sessions still running will fail their next
// inference.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a transcription session. The handle accepts audio
// immediately. cfg.Keywords is accepted but ignored.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	sampleRate, channels, language := resolveStream(cfg, p.sampleRate, p.language)
	buf := newUtteranceBuffer(sampleRate, channels, p.pauseMs, p.maxUtteranceMs)
	return startPump(ctx, buf, cfg.InterimResults, func(_ context.Context, pcm []byte) (string, error) {
		return p.infer(pcm, channels, language)
	}), nil
}

// infer runs one batch inference over an utterance. Contexts from the shared
// model are cheap to create but not goroutine-safe, so each call gets its
// own.
func (p *NativeProvider) infer(pcm []byte, channels int, language string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper language not applied", "language", language, "error", err)
	}

	if err := wctx.Process(floatSamples(pcm, channels), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process utterance: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
