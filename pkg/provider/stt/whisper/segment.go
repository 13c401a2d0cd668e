package whisper

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hotseat/pkg/audio"
	"github.com/MrWong99/hotseat/pkg/provider/stt"
	"github.com/MrWong99/hotseat/pkg/types"
)

// quietRMS is the energy level (in 16-bit PCM units, max 32767) below which a
// chunk counts as room noise rather than speech.
const quietRMS = 300.0

// bytesPerSample is fixed by the 16-bit signed little-endian PCM the session
// pipeline delivers.
const bytesPerSample = 2

// resolveStream applies per-stream overrides from cfg on top of the provider
// defaults. Channels falls back to mono.
func resolveStream(cfg stt.StreamConfig, sampleRate int, language string) (int, int, string) {
	if cfg.SampleRate > 0 {
		sampleRate = cfg.SampleRate
	}
	channels := 1
	if cfg.Channels > 0 {
		channels = cfg.Channels
	}
	if cfg.Language != "" {
		language = cfg.Language
	}
	return sampleRate, channels, language
}

// pcmDuration reports how much wall-clock audio a PCM byte slice holds.
func pcmDuration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := audio.SampleCount(pcm) / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// utteranceBuffer turns a continuous PCM feed into discrete utterances. It
// drops leading room noise, then accumulates until the speaker pauses for
// pauseMs, or until maxMs of audio has piled up mid-sentence.
type utteranceBuffer struct {
	sampleRate int
	channels   int
	pauseMs    int
	maxBytes   int

	pcm     []byte
	voiced  bool
	quietMs int
}

func newUtteranceBuffer(sampleRate, channels, pauseMs, maxMs int) *utteranceBuffer {
	bytesPerMs := sampleRate * channels * bytesPerSample / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // 16 kHz mono
	}
	return &utteranceBuffer{
		sampleRate: sampleRate,
		channels:   channels,
		pauseMs:    pauseMs,
		maxBytes:   maxMs * bytesPerMs,
	}
}

// push folds one chunk into the buffer and reports whether the current
// utterance is complete and should be cut.
func (b *utteranceBuffer) push(chunk []byte) bool {
	if audio.RMS(chunk) < quietRMS {
		if !b.voiced {
			// Nobody has spoken yet; discard the noise floor.
			return false
		}
		b.pcm = append(b.pcm, chunk...)
		b.quietMs += int(pcmDuration(chunk, b.sampleRate, b.channels) / time.Millisecond)
		return b.quietMs >= b.pauseMs
	}

	b.voiced = true
	b.quietMs = 0
	b.pcm = append(b.pcm, chunk...)
	return b.maxBytes > 0 && len(b.pcm) >= b.maxBytes
}

// take returns the buffered utterance, or nil when nothing voiced is pending,
// and resets the buffer for the next speaker turn.
func (b *utteranceBuffer) take() []byte {
	pcm := b.pcm
	voiced := b.voiced
	b.pcm = nil
	b.voiced = false
	b.quietMs = 0
	if !voiced {
		return nil
	}
	return pcm
}

var errSessionClosed = errors.New("whisper: session is closed")

// pump is the session goroutine shared by the REST and native backends. It
// owns the audio queue, cuts utterances, runs the backend's transcribe
// function on each cut, and fans results out to the Partials and Finals
// channels. It implements stt.SessionHandle.
//
// All buffer state lives inside the run goroutine, so no locking is needed
// beyond the channel operations themselves.
type pump struct {
	buf        *utteranceBuffer
	interim    bool
	transcribe func(ctx context.Context, pcm []byte) (string, error)

	audioCh  chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*pump)(nil)

func startPump(ctx context.Context, buf *utteranceBuffer, interim bool, transcribe func(context.Context, []byte) (string, error)) *pump {
	p := &pump{
		buf:        buf,
		interim:    interim,
		transcribe: transcribe,
		audioCh:    make(chan []byte, 256),
		partials:   make(chan types.Transcript, 64),
		finals:     make(chan types.Transcript, 64),
		done:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run(ctx)
	return p
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM. The chunk
// must match the sample rate and channel count agreed in StreamConfig.
// Calling SendAudio after Close returns an error.
func (p *pump) SendAudio(chunk []byte) error {
	select {
	case <-p.done:
		return errSessionClosed
	default:
	}
	select {
	case p.audioCh <- chunk:
		return nil
	case <-p.done:
		return errSessionClosed
	}
}

// Partials emits an interim copy of each transcript when interim results were
// requested; otherwise the channel stays silent. Closed when the session ends.
func (p *pump) Partials() <-chan types.Transcript { return p.partials }

// Finals emits one authoritative Transcript per utterance. Closed when the
// session ends.
func (p *pump) Finals() <-chan types.Transcript { return p.finals }

// Close stops the session, transcribing any voiced audio still buffered, and
// closes the Partials and Finals channels. Safe to call more than once.
func (p *pump) Close() error {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

func (p *pump) run(ctx context.Context) {
	defer p.wg.Done()
	// Self-close so SendAudio fails fast if the context dies before Close.
	defer p.once.Do(func() { close(p.done) })
	defer close(p.finals)
	defer close(p.partials)

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.done:
			p.drain()
			return
		case chunk, ok := <-p.audioCh:
			if !ok {
				p.drain()
				return
			}
			if p.buf.push(chunk) {
				p.cut(ctx)
			}
		}
	}
}

// cut transcribes the completed utterance and publishes the result. A failed
// or empty inference drops the utterance; the session keeps running.
func (p *pump) cut(ctx context.Context) {
	pcm := p.buf.take()
	if pcm == nil {
		return
	}

	text, err := p.transcribe(ctx, pcm)
	if err != nil {
		slog.Warn("whisper utterance dropped", "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	tr := types.Transcript{
		Text:     text,
		Duration: pcmDuration(pcm, p.buf.sampleRate, p.buf.channels),
	}
	// Non-blocking sends: the channels are buffered, and a stalled consumer
	// must not wedge the session during shutdown.
	if p.interim {
		select {
		case p.partials <- tr:
		default:
		}
	}
	tr.IsFinal = true
	select {
	case p.finals <- tr:
	default:
	}
}

// drain flushes whatever is still buffered as the session winds down. The
// caller's context may already be cancelled, so inference runs under a fresh
// deadline.
func (p *pump) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.cut(ctx)
}
