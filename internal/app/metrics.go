package app

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/hotseat/internal/observe"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
	"github.com/MrWong99/hotseat/pkg/types"
)

// errLLMStream marks a stream that opened fine but reported an error chunk.
var errLLMStream = errors.New("llm stream reported error")

var (
	_ llm.Provider = meteredLLM{}
	_ tts.Provider = meteredTTS{}
)

// meteredLLM decorates an LLM provider with latency and failure metrics.
// Context cancellation is not counted as a failure; the provider did not
// misbehave, the caller left.
type meteredLLM struct {
	inner   llm.Provider
	metrics *observe.Metrics
}

func (m meteredLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	start := time.Now()
	chunks, err := m.inner.StreamCompletion(ctx, req)
	if err != nil {
		m.metrics.RecordLLMCall(ctx, time.Since(start), err)
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var failure error
		defer func() {
			m.metrics.RecordLLMCall(ctx, time.Since(start), failure)
		}()
		for c := range chunks {
			if c.FinishReason == "error" {
				failure = errLLMStream
			}
			select {
			case out <- c:
			case <-ctx.Done():
				// Consumer left; drain the inner stream so the
				// provider's goroutine can finish.
				for range chunks {
				}
				return
			}
		}
	}()
	return out, nil
}

func (m meteredLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.inner.Complete(ctx, req)
	recorded := err
	if errors.Is(err, context.Canceled) {
		recorded = nil
	}
	m.metrics.RecordLLMCall(ctx, time.Since(start), recorded)
	return resp, err
}

func (m meteredLLM) CountTokens(messages []types.Message) (int, error) {
	return m.inner.CountTokens(messages)
}

func (m meteredLLM) Capabilities() types.ModelCapabilities {
	return m.inner.Capabilities()
}

// meteredTTS decorates a TTS provider with synthesis latency and failure
// metrics. Latency spans stream open to last audio byte.
type meteredTTS struct {
	inner   tts.Provider
	metrics *observe.Metrics
}

func (m meteredTTS) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	start := time.Now()
	audio, err := m.inner.SynthesizeStream(ctx, text, voice)
	if err != nil {
		m.metrics.RecordTTSCall(ctx, time.Since(start), err)
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() {
			m.metrics.RecordTTSCall(ctx, time.Since(start), nil)
		}()
		for b := range audio {
			select {
			case out <- b:
			case <-ctx.Done():
				for range audio {
				}
				return
			}
		}
	}()
	return out, nil
}

func (m meteredTTS) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return m.inner.ListVoices(ctx)
}
