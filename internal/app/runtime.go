package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/claims"
	"github.com/MrWong99/hotseat/internal/coordinator"
	"github.com/MrWong99/hotseat/internal/deck"
	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/internal/gateway"
	"github.com/MrWong99/hotseat/internal/journal"
	"github.com/MrWong99/hotseat/internal/observe"
	"github.com/MrWong99/hotseat/internal/recall"
	"github.com/MrWong99/hotseat/internal/resilience"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/MrWong99/hotseat/internal/stt"
	"github.com/MrWong99/hotseat/internal/transcript"
	"github.com/MrWong99/hotseat/internal/voice"
	"github.com/MrWong99/hotseat/pkg/archive"
	sttprovider "github.com/MrWong99/hotseat/pkg/provider/stt"
	"github.com/MrWong99/hotseat/pkg/types"
)

// Gate stream parameters. Capture audio is normalized to 16 kHz mono before
// it reaches the socket, and deck vocabulary is boosted on providers that
// support keyword hints.
const (
	gateSampleRate   = 16000
	gateLanguage     = "en"
	deckKeywordBoost = 1.5
)

var _ gateway.Runtime = (*SessionRuntime)(nil)

// SessionRuntime is the live component graph of one boardroom session: bus,
// state, context window, transcription gate, agent runners, coordinator,
// claim extraction, journal and speaker. The [SessionManager] assembles it;
// the gateway drives it. Nothing runs until [SessionRuntime.Start].
type SessionRuntime struct {
	id      string
	cfg     session.Config
	log     *slog.Logger
	events  sink.Sink
	metrics *observe.Metrics

	bus       *event.Bus
	state     *session.State
	window    *session.Window
	gate      *stt.Gate
	speaker   *voice.Speaker
	journal   *journal.Journal
	recall    *recall.Checker
	coord     *coordinator.Coordinator
	runners   []*agent.Runner
	extractor *claims.Extractor
	manifest  *deck.Manifest
	fillers   *voice.Fillers
	mediaDir  string

	// runCtx scopes every session goroutine; it outlives the Start ctx,
	// which belongs to the gateway request.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// newRuntime assembles the component graph for one session. The shared LLM
// semaphore gates the runners and the claim extractor together, so a busy
// board cannot starve extraction (or the other way around).
func (m *SessionManager) newRuntime(id string, events sink.Sink, cfg session.Config, manifest *deck.Manifest) (*SessionRuntime, error) {
	personas, err := agent.LoadPersonas(m.templatesDir, cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("app: load personas: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &SessionRuntime{
		id:       id,
		cfg:      cfg,
		log:      slog.With("component", "session", "session_id", id),
		events:   events,
		metrics:  m.metrics,
		manifest: manifest,
		fillers:  m.fillers,
		mediaDir: m.mediaDir,
		runCtx:   runCtx,
		cancel:   cancel,
	}

	rt.bus = event.NewBus()
	rt.state = session.NewState(id, cfg, session.WithStartTime(m.clock()))

	notes := map[int]string{}
	vocab := []string{}
	if manifest != nil {
		notes = manifest.Notes()
		vocab = manifest.Vocabulary()
	}
	rt.window = session.NewWindow(notes, session.WithWindowClock(m.clock))

	// The corrector knows the deck's proper nouns and who is in the room.
	for _, p := range personas {
		vocab = append(vocab, p.Name)
	}
	corrector := transcript.NewCorrector(vocab)

	rt.speaker = voice.NewSpeaker(m.providers.TTS, m.mediaDir, id,
		voice.WithVoices(m.voices),
		voice.WithDefaultVoice(m.defaultVoice),
		voice.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts"})),
	)

	logStore := m.providers.Archive.Log
	if logStore == nil {
		logStore = archive.Discard
	}
	rt.journal = journal.New(logStore, id)

	if m.recall.Enabled && m.providers.Embeddings != nil && m.providers.Archive.Questions != nil {
		opts := []recall.Option{
			recall.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "embeddings"})),
		}
		if m.recall.Threshold > 0 {
			opts = append(opts, recall.WithThreshold(m.recall.Threshold))
		}
		rt.recall = recall.New(m.providers.Embeddings, m.providers.Archive.Questions, id, opts...)
	}

	rt.gate = stt.NewGate(m.providers.STT, sttprovider.StreamConfig{
		SampleRate:     gateSampleRate,
		Channels:       1,
		Language:       gateLanguage,
		Keywords:       keywordBoosts(manifest),
		InterimResults: cfg.InterimTranscripts,
	}, rt.bus,
		stt.WithCorrector(corrector),
		stt.WithSlideSource(rt.window.CurrentSlide),
		stt.WithOnFinal(rt.PresenterSegment),
		stt.WithGateClock(m.clock),
	)

	concurrency := cfg.LLMConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	rt.extractor = claims.NewExtractor(m.providers.LLM, sem)

	assessors := make(map[string]coordinator.Assessor, len(personas))
	for i, p := range personas {
		opts := []agent.Option{
			agent.WithClock(m.clock),
			agent.WithQuestionTimer(func(d time.Duration) {
				rt.metrics.RecordQuestionGen(runCtx, d)
			}),
		}
		if m.timings != nil {
			opts = append(opts, agent.WithTimings(*m.timings))
		}
		if rt.recall != nil {
			opts = append(opts, agent.WithRecall(rt.recall))
		}
		r := agent.NewRunner(p, i, agent.Deps{
			State:   rt.state,
			Window:  rt.window,
			Bus:     rt.bus,
			Events:  events,
			LLM:     m.providers.LLM,
			Speaker: rt.speaker,
			Sem:     sem,
		}, opts...)
		rt.runners = append(rt.runners, r)
		assessors[p.ID] = r
	}

	coordOpts := []coordinator.Option{
		coordinator.WithPhrases(m.phrases),
		coordinator.WithClock(m.clock),
	}
	if m.pacing != nil {
		coordOpts = append(coordOpts, coordinator.WithPacing(*m.pacing))
	}
	rt.coord = coordinator.New(coordinator.Deps{
		State:     rt.state,
		Window:    rt.window,
		Bus:       rt.bus,
		Events:    events,
		Speaker:   rt.speaker,
		Journal:   rt.journal,
		Fillers:   m.fillers,
		Recall:    rt.recall,
		Assessors: assessors,
	}, coordOpts...)

	return rt, nil
}

// keywordBoosts turns the deck vocabulary into STT keyword hints.
func keywordBoosts(m *deck.Manifest) []types.KeywordBoost {
	if m == nil {
		return nil
	}
	vocab := m.Vocabulary()
	out := make([]types.KeywordBoost, 0, len(vocab))
	for _, kw := range vocab {
		out = append(out, types.KeywordBoost{Keyword: kw, Boost: deckKeywordBoost})
	}
	return out
}

// ID returns the session id.
func (rt *SessionRuntime) ID() string { return rt.id }

// Config returns the session configuration the runtime was built with.
func (rt *SessionRuntime) Config() session.Config { return rt.cfg }

// Start brings the session to life: the coordinator greets the presenter,
// claim extraction kicks off against the deck, the runners begin their
// lifecycles and the filler library is announced to the client. ctx covers
// only this call; the session itself runs on its own context until
// [SessionRuntime.Stop].
func (rt *SessionRuntime) Start(ctx context.Context) error {
	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return fmt.Errorf("app: session %s already started", rt.id)
	}
	rt.started = true
	rt.mu.Unlock()

	rt.attachBridges()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.coord.Run(rt.runCtx)
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.extractClaims(rt.runCtx)
	}()

	for _, r := range rt.runners {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			r.Run(rt.runCtx)
		}()
	}

	if err := rt.events.Emit(ctx, sink.EventFillerURLs, sink.FillerURLs{Fillers: rt.fillers.All()}); err != nil {
		rt.log.Warn("filler announcement failed", "error", err)
	}

	rt.log.Info("session started",
		"agents", rt.cfg.Agents,
		"intensity", rt.cfg.Intensity,
		"duration", rt.cfg.Duration,
		"deck", rt.manifest != nil,
	)
	return nil
}

// attachBridges subscribes the journal and the client-facing forwarders to
// the bus: transcript frames out to the sink, flow counters into metrics.
func (rt *SessionRuntime) attachBridges() {
	rt.unsubs = append(rt.unsubs,
		rt.journal.Attach(rt.bus),
		rt.bus.Subscribe(event.TranscriptUpdate, func(ev event.Event) {
			d, ok := ev.Data.(event.TranscriptData)
			if !ok {
				return
			}
			rt.metrics.STTSegments.Add(rt.runCtx, 1)
			rt.emitTranscript(d.Segment, true)
		}),
		rt.bus.Subscribe(event.AgentSpoke, func(ev event.Event) {
			if d, ok := ev.Data.(event.AgentSpokeData); ok {
				rt.metrics.RecordQuestionAsked(rt.runCtx, d.AgentID)
			}
		}),
		rt.bus.Subscribe(event.ExchangeResolved, func(ev event.Event) {
			if d, ok := ev.Data.(event.ExchangeResolvedData); ok {
				rt.metrics.RecordExchangeResolved(rt.runCtx, string(d.Outcome))
			}
		}),
	)
	if rt.cfg.InterimTranscripts {
		rt.unsubs = append(rt.unsubs, rt.bus.Subscribe(event.TranscriptInterim, func(ev event.Event) {
			if d, ok := ev.Data.(event.TranscriptData); ok {
				rt.emitTranscript(d.Segment, false)
			}
		}))
	}
}

func (rt *SessionRuntime) emitTranscript(seg session.Segment, final bool) {
	err := rt.events.Emit(rt.runCtx, sink.EventTranscript, sink.TranscriptSegment{
		Text:       seg.Text,
		Confidence: seg.Confidence,
		IsFinal:    final,
		Start:      seg.Start.Seconds(),
		End:        seg.End.Seconds(),
		Speaker:    seg.Speaker,
	})
	if err != nil {
		rt.log.Warn("transcript emit failed", "error", err)
	}
}

// extractClaims mines the deck and publishes the result. Runners hold their
// first evaluation until ClaimsReady lands, so a deckless session publishes
// an empty table rather than leaving them waiting out the claims budget.
func (rt *SessionRuntime) extractClaims(ctx context.Context) {
	bySlide := map[int][]session.Claim{}
	if rt.manifest != nil {
		var err error
		bySlide, err = rt.extractor.ExtractDeck(ctx, rt.manifest)
		if err != nil {
			rt.log.Warn("claim extraction aborted", "error", err)
			return
		}
	}
	rt.state.SetClaims(bySlide)
	rt.bus.Publish(ctx, event.Event{
		Type:   event.ClaimsReady,
		Data:   event.ClaimsReadyData{ClaimsBySlide: bySlide},
		Source: "claims",
	})

	total := 0
	for _, cl := range bySlide {
		total += len(cl)
	}
	if total > 0 {
		if err := rt.writeClaimsFile(bySlide); err != nil {
			rt.log.Warn("claims file not written", "error", err)
		}
	}
	rt.log.Info("claims ready", "slides", len(bySlide), "claims", total)
}

// writeClaimsFile renders the extracted claim table as markdown under the
// session media directory, next to the synthesized audio, where the client
// can fetch it via /api/files/.
func (rt *SessionRuntime) writeClaimsFile(bySlide map[int][]session.Claim) error {
	slides := make([]int, 0, len(bySlide))
	for idx := range bySlide {
		slides = append(slides, idx)
	}
	sort.Ints(slides)

	var b []byte
	b = append(b, "# Extracted Claims\n"...)
	for _, idx := range slides {
		if len(bySlide[idx]) == 0 {
			continue
		}
		b = fmt.Appendf(b, "\n## Slide %d\n", idx)
		for _, c := range bySlide[idx] {
			b = fmt.Appendf(b, "- %s `[%s]`\n", c.Text, c.Type)
		}
	}

	dir := filepath.Join(rt.mediaDir, rt.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("app: claims file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "claims.md"), b, 0o644); err != nil {
		return fmt.Errorf("app: claims file: %w", err)
	}
	return nil
}

// SlideChanged moves the context window to the new slide and announces it.
// The coordinator reacts with schedule warnings; nothing else interrupts.
func (rt *SessionRuntime) SlideChanged(index int) {
	rt.window.SetSlide(index)
	rt.bus.Publish(rt.runCtx, event.Event{
		Type:   event.SlideChanged,
		Data:   event.SlideChangedData{SlideIndex: index},
		Source: "gateway",
	})
}

// PresenterSegment routes one accepted final of presenter speech: during an
// exchange it is the presenter's answer, otherwise it accrues in the context
// window. The gate calls this for every final it passes.
func (rt *SessionRuntime) PresenterSegment(seg session.Segment) {
	if rt.state.ExchangeActive() {
		rt.coord.PresenterResponse(rt.runCtx, seg.Text)
		return
	}
	rt.window.AddSegment(seg)
}

// PresenterTyped feeds a typed response through the same final pipeline as
// speech, correction and routing included.
func (rt *SessionRuntime) PresenterTyped(text string) {
	rt.gate.InjectFinal(text)
}

// AudioChunk forwards one PCM chunk to the transcription gate.
func (rt *SessionRuntime) AudioChunk(chunk []byte) error {
	return rt.gate.ProcessChunk(rt.runCtx, chunk)
}

// Stop winds the session down in dependency order: the coordinator says
// goodbye and releases the runners, the goroutines drain, the gate closes
// its stream, the journal flushes to the archive and the bus shuts down.
// Stop is idempotent and safe on a never-started runtime.
func (rt *SessionRuntime) Stop(reason string) {
	rt.stopOnce.Do(func() {
		rt.coord.End(context.Background(), reason)
		rt.cancel()
		rt.wg.Wait()

		for _, u := range rt.unsubs {
			u()
		}
		if err := rt.gate.Close(); err != nil {
			rt.log.Warn("gate close failed", "error", err)
		}
		if n := rt.gate.Rejected(); n > 0 {
			rt.metrics.STTRejected.Add(context.Background(), int64(n))
		}
		if n := rt.gate.Reconnects(); n > 0 {
			rt.metrics.STTReconnects.Add(context.Background(), int64(n))
		}
		rt.journal.Close()
		rt.bus.Close()
		rt.log.Info("session stopped",
			"reason", reason,
			"segments", rt.gate.Segments(),
			"journalled", rt.journal.Written(),
		)
	})
}

// QueueDepth reports pending hand raises, for the sessions gauge.
func (rt *SessionRuntime) QueueDepth() int {
	return rt.coord.QueueDepth()
}

// BusStats reports the session bus's published and dropped counters.
func (rt *SessionRuntime) BusStats() (published, dropped uint64) {
	return rt.bus.Published(), rt.bus.Dropped()
}
