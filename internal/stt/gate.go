// Package stt hosts the live transcription gate between presenter audio and
// the rest of the session.
//
// The Gate owns the streaming STT session: it forwards raw PCM to the
// provider, tracks speech activity with a small RMS-based VAD, survives
// provider drops with lazy serialized reconnects, and turns raw provider
// finals into clean presenter segments (post-filtered, vocabulary-corrected)
// that it hands to the session callback and publishes on the bus.
package stt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/transcript"
	"github.com/MrWong99/hotseat/pkg/audio"
	provider "github.com/MrWong99/hotseat/pkg/provider/stt"
	"github.com/MrWong99/hotseat/pkg/types"
)

const (
	// speechThreshold is the RMS level that flips the VAD to SPEAKING.
	speechThreshold = 500

	// silenceThreshold is the RMS level below which a chunk counts toward
	// the end of an utterance while SPEAKING.
	silenceThreshold = 300

	// silenceChunksForEnd is how many consecutive quiet chunks end the
	// utterance (~800ms at 100ms chunks).
	silenceChunksForEnd = 8

	// reconnectCooldown is the wait after a failed connect before the gate
	// tries again.
	reconnectCooldown = 3 * time.Second

	// maxReconnects bounds connect attempts per gate lifetime; past it the
	// gate stays dead for the rest of the session.
	maxReconnects = 50

	speakerPresenter = "presenter"
)

// ErrClosed is returned by ProcessChunk after Close.
var ErrClosed = errors.New("stt: gate closed")

type vadState int

const (
	vadSilent vadState = iota
	vadSpeaking
)

// Gate consumes 16-bit little-endian PCM at 16kHz mono and produces
// presenter segments. Safe for concurrent use, though audio normally
// arrives from a single reader goroutine.
type Gate struct {
	provider  provider.Provider
	cfg       provider.StreamConfig
	bus       *event.Bus
	corrector *transcript.Corrector
	onFinal   func(session.Segment)
	slide     func() int
	now       func() time.Time
	start     time.Time

	mu             sync.Mutex
	handle         provider.SessionHandle
	reconnecting   bool
	needsReconnect bool
	lastFailure    time.Time
	attempts       int
	dead           bool
	closed         bool

	vad       vadState
	silentRun int

	segments   atomic.Uint64
	rejected   atomic.Uint64
	reconnects atomic.Uint64

	wg sync.WaitGroup
}

// Option configures a [Gate].
type Option func(*Gate)

// WithCorrector attaches the vocabulary corrector applied to finals.
func WithCorrector(c *transcript.Corrector) Option {
	return func(g *Gate) { g.corrector = c }
}

// WithOnFinal sets the callback invoked with every accepted final segment,
// in addition to the bus publish.
func WithOnFinal(fn func(session.Segment)) Option {
	return func(g *Gate) { g.onFinal = fn }
}

// WithSlideSource sets the function segments are stamped from; usually the
// context window's CurrentSlide.
func WithSlideSource(fn func() int) Option {
	return func(g *Gate) { g.slide = fn }
}

// WithGateClock injects the clock used for segment offsets and reconnect
// cooldowns.
func WithGateClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate over p. No provider session is opened until the
// first audio chunk arrives.
func NewGate(p provider.Provider, cfg provider.StreamConfig, bus *event.Bus, opts ...Option) *Gate {
	g := &Gate{
		provider: p,
		cfg:      cfg,
		bus:      bus,
		slide:    func() int { return 0 },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.start = g.now()
	return g
}

// ProcessChunk advances the VAD with one PCM chunk and forwards it to the
// provider while an utterance is in progress. Chunks that arrive during
// silence are dropped, so the provider session opens (and reconnects) only
// when someone is actually speaking. Provider trouble never surfaces to the
// caller: a failed send marks the session for reconnect and audio is dropped
// until the next utterance brings a new session up.
func (g *Gate) ProcessChunk(ctx context.Context, chunk []byte) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.advanceVADLocked(audio.RMS(chunk))
	speaking := g.vad == vadSpeaking
	g.mu.Unlock()

	if !speaking {
		return nil
	}

	h := g.ensureSession(ctx)
	if h == nil {
		return nil
	}

	if err := h.SendAudio(chunk); err != nil {
		slog.Warn("stt gate: send failed, scheduling reconnect", "error", err)
		g.mu.Lock()
		g.needsReconnect = true
		// Mid-utterance audio is abandoned; the next loud chunk re-opens.
		g.vad = vadSilent
		g.silentRun = 0
		g.mu.Unlock()
	}
	return nil
}

// advanceVADLocked applies one chunk's RMS to the speaking/silent machine.
func (g *Gate) advanceVADLocked(rms float64) {
	switch g.vad {
	case vadSilent:
		if rms > speechThreshold {
			g.vad = vadSpeaking
			g.silentRun = 0
		}
	case vadSpeaking:
		if rms < silenceThreshold {
			g.silentRun++
			if g.silentRun >= silenceChunksForEnd {
				g.vad = vadSilent
				g.silentRun = 0
			}
		} else {
			g.silentRun = 0
		}
	}
}

// Speaking reports whether the VAD currently believes the presenter is
// mid-utterance.
func (g *Gate) Speaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.vad == vadSpeaking
}

// ensureSession returns a live provider session, opening one lazily when
// needed. Only one goroutine reconnects at a time; concurrent callers drop
// their chunk rather than wait.
func (g *Gate) ensureSession(ctx context.Context) provider.SessionHandle {
	g.mu.Lock()
	if g.closed || g.dead {
		g.mu.Unlock()
		return nil
	}
	if g.handle != nil && !g.needsReconnect {
		h := g.handle
		g.mu.Unlock()
		return h
	}
	if g.reconnecting {
		g.mu.Unlock()
		return nil
	}
	if !g.lastFailure.IsZero() && g.now().Sub(g.lastFailure) < reconnectCooldown {
		g.mu.Unlock()
		return nil
	}
	if g.attempts >= maxReconnects {
		g.dead = true
		g.mu.Unlock()
		slog.Error("stt gate: reconnect budget exhausted, transcription disabled for this session",
			"attempts", maxReconnects)
		return nil
	}
	g.reconnecting = true
	g.attempts++
	old := g.handle
	g.handle = nil
	g.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	h, err := g.provider.StartStream(ctx, g.cfg)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.reconnecting = false
	if err != nil {
		g.lastFailure = g.now()
		slog.Warn("stt gate: connect failed", "error", err, "attempt", g.attempts)
		return nil
	}
	if g.closed {
		go h.Close()
		return nil
	}
	g.handle = h
	g.needsReconnect = false
	g.lastFailure = time.Time{}
	g.reconnects.Add(1)
	slog.Info("stt gate: provider session open", "attempt", g.attempts)

	g.wg.Add(1)
	go g.consume(h)
	return h
}

// consume drains one provider session's result channels until both close.
func (g *Gate) consume(h provider.SessionHandle) {
	defer g.wg.Done()
	finals, partials := h.Finals(), h.Partials()
	for finals != nil || partials != nil {
		select {
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			g.handleFinal(tr)
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			g.handleInterim(tr)
		}
	}
}

// handleFinal post-filters, corrects and publishes one provider final.
func (g *Gate) handleFinal(tr types.Transcript) {
	text, ok := postFilter(tr.Text)
	if !ok {
		g.rejected.Add(1)
		slog.Debug("stt gate: final rejected", "text", tr.Text)
		return
	}

	if g.corrector != nil && g.corrector.Enabled() {
		corrected, corrections := g.corrector.Correct(text)
		if len(corrections) > 0 {
			slog.Debug("stt gate: vocabulary corrections applied", "count", len(corrections))
		}
		text = corrected
	}

	end := g.now().Sub(g.start)
	start := end - tr.Duration
	if start < 0 {
		start = 0
	}
	seg := session.Segment{
		Text:       text,
		Confidence: tr.Confidence,
		Start:      start,
		End:        end,
		SlideIndex: g.slide(),
		Speaker:    speakerPresenter,
	}

	g.segments.Add(1)
	if g.onFinal != nil {
		g.onFinal(seg)
	}
	g.bus.Publish(context.Background(), event.Event{
		Type:   event.TranscriptUpdate,
		Data:   event.TranscriptData{Segment: seg},
		Source: "stt",
	})
}

// handleInterim publishes a provider partial for UI display only.
func (g *Gate) handleInterim(tr types.Transcript) {
	if !g.cfg.InterimResults {
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	g.bus.Publish(context.Background(), event.Event{
		Type: event.TranscriptInterim,
		Data: event.TranscriptData{Segment: session.Segment{
			Text:       text,
			Confidence: tr.Confidence,
			SlideIndex: g.slide(),
			Speaker:    speakerPresenter,
		}},
		Source: "stt",
	})
}

// InjectFinal feeds a typed presenter response through the final pipeline,
// bypassing audio and VAD entirely.
func (g *Gate) InjectFinal(text string) {
	g.handleFinal(types.Transcript{Text: text, IsFinal: true, Confidence: 1.0})
}

// Segments returns how many finals passed the filters.
func (g *Gate) Segments() uint64 { return g.segments.Load() }

// Rejected returns how many finals the filters dropped.
func (g *Gate) Rejected() uint64 { return g.rejected.Load() }

// Reconnects returns how many provider sessions were opened.
func (g *Gate) Reconnects() uint64 { return g.reconnects.Load() }

// Close shuts the provider session and waits for the result consumer to
// drain. Safe to call more than once.
func (g *Gate) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	h := g.handle
	g.handle = nil
	g.mu.Unlock()

	var err error
	if h != nil {
		err = h.Close()
	}
	g.wg.Wait()
	return err
}

// noiseTokens are provider artifacts stripped from finals before any other
// filtering.
var noiseTokens = []string{
	"<noise>", "(noise)", "[noise]",
	"<silence>", "(silence)", "[silence]",
}

// fillerBlacklist rejects finals that are a lone acknowledgement sound.
var fillerBlacklist = map[string]struct{}{
	"ok": {}, "okay": {}, "um": {}, "uh": {}, "hmm": {}, "mm": {}, "ah": {}, "yeah": {},
}

// postFilter cleans a raw provider final and reports whether it should be
// kept. Filters run in order: noise-token strip, minimum alphabetic signal,
// foreign-script rejection, filler blacklist.
func postFilter(raw string) (string, bool) {
	text := stripNoiseTokens(strings.TrimSpace(raw))

	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 4 {
		return "", false
	}

	if hasForeignScript(text) {
		return "", false
	}

	norm := strings.ToLower(strings.TrimFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
	if _, blacklisted := fillerBlacklist[norm]; blacklisted || norm == "" {
		return "", false
	}

	return text, true
}

// stripNoiseTokens removes noise markers case-insensitively and re-trims.
func stripNoiseTokens(text string) string {
	for _, tok := range noiseTokens {
		for {
			idx := indexFold(text, tok)
			if idx < 0 {
				break
			}
			text = text[:idx] + text[idx+len(tok):]
		}
	}
	return strings.TrimSpace(text)
}

// indexFold finds tok in s under ASCII-safe case folding, returning a byte
// offset valid in s itself. Lowering the haystack first is not safe here:
// folding can change byte length (U+0130 lowers to two runes), so offsets
// from the lowered copy can point past the end of the original.
func indexFold(s, tok string) int {
	for i := 0; i+len(tok) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(tok)], tok) {
			return i
		}
	}
	return -1
}

// hasForeignScript reports whether text contains runes from scripts the
// session does not transcribe (the session language is English); providers
// occasionally hallucinate these on noise.
func hasForeignScript(text string) bool {
	for _, r := range text {
		switch {
		case r >= 0x0600 && r <= 0x06FF, // Arabic
			r >= 0x0E00 && r <= 0x0E7F, // Thai
			r >= 0x4E00 && r <= 0x9FFF, // CJK unified
			r >= 0x3040 && r <= 0x309F, // Hiragana
			r >= 0x30A0 && r <= 0x30FF, // Katakana
			r >= 0xAC00 && r <= 0xD7AF, // Hangul
			r >= 0x0400 && r <= 0x04FF, // Cyrillic
			r >= 0x0900 && r <= 0x097F, // Devanagari
			r >= 0x0980 && r <= 0x09FF: // Bengali
			return true
		}
	}
	return false
}
