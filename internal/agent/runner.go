package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/internal/recall"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/MrWong99/hotseat/internal/voice"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	"github.com/MrWong99/hotseat/pkg/types"
)

const (
	// questionRelevance is the priority attached to every raised hand.
	// Scoring happens in the coordinator; runners do not self-rank.
	questionRelevance = 0.8

	questionTemperature = 0.7
	assessTemperature   = 0.3

	// minGrowth is the new-segment floor below which an evaluation is not
	// worth an LLM call unless an unchallenged claim is waiting.
	minGrowth = 2
)

// Timings groups the runner's pacing knobs so tests can compress them.
type Timings struct {
	// ClaimsWait bounds the wait for claim extraction at load. On expiry
	// the runner proceeds without claims.
	ClaimsWait time.Duration

	// WarmupPoll is how often the runner re-checks the presenter word
	// count while warming up.
	WarmupPoll time.Duration

	// StaggerBase plus half the eval interval delays the first evaluation
	// so runners don't fire in lockstep.
	StaggerBase time.Duration

	// Cooldown suppresses evaluation after this runner's exchange resolves.
	Cooldown time.Duration

	// IdleLimit is how long a raised hand may wait, excluding time another
	// exchange is running, before it is lowered as stale.
	IdleLimit time.Duration

	// IdleTick is the hand-staleness sampling interval.
	IdleTick time.Duration

	// AssessBudget bounds a follow-up assessment LLM call.
	AssessBudget time.Duration
}

// DefaultTimings returns production pacing.
func DefaultTimings() Timings {
	return Timings{
		ClaimsWait:   30 * time.Second,
		WarmupPoll:   3 * time.Second,
		StaggerBase:  5 * time.Second,
		Cooldown:     15 * time.Second,
		IdleLimit:    120 * time.Second,
		IdleTick:     time.Second,
		AssessBudget: 20 * time.Second,
	}
}

// Deps wires a Runner into the session runtime.
type Deps struct {
	State   *session.State
	Window  *session.Window
	Bus     *event.Bus
	Events  sink.Sink
	LLM     llm.Provider
	Speaker *voice.Speaker

	// Sem is the LLM concurrency gate shared across all runners and the
	// claim extractor.
	Sem *semaphore.Weighted
}

// Option tunes a Runner.
type Option func(*Runner)

// WithRecall enables duplicate-question checking before a hand raise.
func WithRecall(c *recall.Checker) Option {
	return func(r *Runner) { r.recall = c }
}

// WithTimings overrides the default pacing.
func WithTimings(t Timings) Option {
	return func(r *Runner) { r.timings = t }
}

// WithClock overrides wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithQuestionTimer installs fn, called with the elapsed time of each
// generate-to-hand-raise run, synthesis included.
func WithQuestionTimer(fn func(time.Duration)) Option {
	return func(r *Runner) { r.questionTimer = fn }
}

// Runner drives one board member through the session: wait for claims, warm
// up on presenter speech, evaluate on a cadence, generate a question, raise
// a hand and hold it until called on or stale.
//
// All loop state is owned by the Run goroutine. AssessFollowUp is the one
// method safe to call from outside while Run is active.
type Runner struct {
	persona  Persona
	position int
	state    *session.State
	window   *session.Window
	bus      *event.Bus
	events   sink.Sink
	llm      llm.Provider
	speaker  *voice.Speaker
	sem      *semaphore.Weighted
	recall   *recall.Checker
	timings  Timings
	interval time.Duration
	now      func() time.Time

	questionTimer func(time.Duration)

	lastEvalSegments int
	cooldownUntil    time.Time

	claims   chan struct{}
	calledOn chan struct{}
	resolved chan event.Event
	wake     chan struct{}
	ending   chan struct{}
	endOnce  sync.Once
}

// NewRunner builds the runner for persona p at the given roster position.
// Position selects the evaluation cadence.
func NewRunner(p Persona, position int, d Deps, opts ...Option) *Runner {
	r := &Runner{
		persona:  p,
		position: position,
		state:    d.State,
		window:   d.Window,
		bus:      d.Bus,
		events:   d.Events,
		llm:      d.LLM,
		speaker:  d.Speaker,
		sem:      d.Sem,
		timings:  DefaultTimings(),
		interval: d.State.Config().EvalIntervalFor(position),
		now:      time.Now,
		claims:   make(chan struct{}, 1),
		calledOn: make(chan struct{}, 2),
		resolved: make(chan event.Event, 8),
		wake:     make(chan struct{}, 1),
		ending:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the agent id.
func (r *Runner) ID() string { return r.persona.ID }

// Persona returns the runner's persona.
func (r *Runner) Persona() Persona { return r.persona }

// Run executes the runner lifecycle until ctx is cancelled or the session
// ends. It blocks; callers start it in a goroutine.
func (r *Runner) Run(ctx context.Context) {
	// One subscriber for all runner events, so a call-on and the resolution
	// that follows it arrive in publish order.
	unsub := r.bus.SubscribeTypes(r.onBusEvent,
		event.ClaimsReady, event.AgentCalledOn, event.ExchangeResolved,
		event.SessionEnding, event.TranscriptUpdate)
	defer unsub()

	if !r.waitForClaims(ctx) {
		return
	}
	r.emit(ctx, sink.EventAgentLoaded, sink.AgentLoaded{
		AgentID:    r.persona.ID,
		ClaimCount: r.state.ClaimCount(),
	})
	slog.Info("agent: loaded", "agent", r.persona.ID, "interval", r.interval)

	if !r.warmUp(ctx) {
		return
	}
	if !r.sleep(ctx, r.timings.StaggerBase+r.interval/2) {
		return
	}
	r.listen(ctx)
}

// waitForClaims blocks until claim extraction announces itself, the wait
// budget expires, or the session dies. Extraction may have finished before
// this runner subscribed, so the bus history is checked first.
func (r *Runner) waitForClaims(ctx context.Context) bool {
	for _, ev := range r.bus.History(0) {
		if ev.Type == event.ClaimsReady {
			return true
		}
	}
	t := time.NewTimer(r.timings.ClaimsWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.ending:
		return false
	case <-r.claims:
		return true
	case <-t.C:
		slog.Warn("agent: claims not ready, proceeding without", "agent", r.persona.ID)
		return true
	}
}

// warmUp polls until enough presenter speech has accumulated.
func (r *Runner) warmUp(ctx context.Context) bool {
	t := time.NewTicker(r.timings.WarmupPoll)
	defer t.Stop()
	for {
		if r.window.WordsTotal() >= r.state.Config().WarmupWords {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-r.ending:
			return false
		case <-t.C:
		}
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.ending:
		return false
	case <-t.C:
		return true
	}
}

// listen is the steady state: evaluate on the cadence, sooner when new
// speech arrives or another exchange resolves.
func (r *Runner) listen(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ending:
			return
		case <-r.calledOn:
			// A call-on without a live hand raise means the coordinator
			// popped us just as the hand went stale. Honor it anyway.
			r.inExchange(ctx)
		case ev := <-r.resolved:
			r.noteResolution(ev)
			r.evaluate(ctx)
		case <-r.wake:
			r.evaluate(ctx)
		case <-t.C:
			r.evaluate(ctx)
		}
	}
}

// evaluate decides whether the moment justifies generating a question.
func (r *Runner) evaluate(ctx context.Context) {
	if r.state.ExchangeActive() {
		return
	}
	now := r.now()
	if now.Before(r.cooldownUntil) {
		return
	}

	segs := r.window.SegmentsTotal()
	growth := segs - r.lastEvalSegments
	r.lastEvalSegments = segs

	slide := r.window.CurrentSlide()
	unchallenged := r.state.UnchallengedClaims(slide)
	if growth < minGrowth && len(unchallenged) == 0 {
		return
	}

	asked := r.state.TotalQuestions(r.persona.ID)
	cfg := r.state.Config()
	elapsed := now.Sub(r.state.StartedAt())

	trigger := ""
	switch {
	case asked == 0 && growth >= 2:
		trigger = "first_question"
	case len(unchallenged) > 0:
		trigger = "unchallenged_claim"
	case growth >= 3 && cfg.Duration > 0 && float64(elapsed)/float64(cfg.Duration) > 0.3:
		trigger = "time_pressure"
	case growth >= 5:
		trigger = "long_stretch"
	}
	if trigger == "" {
		return
	}
	slog.Debug("agent: evaluation triggered",
		"agent", r.persona.ID, "trigger", trigger, "growth", growth, "slide", slide)
	r.generate(ctx, slide, unchallenged)
}

// generate produces a question candidate and raises the hand. A slide
// change during generation discards the candidate; once raised, the
// candidate survives slide changes.
func (r *Runner) generate(ctx context.Context, slide int, unchallenged []session.Claim) {
	started := r.now()
	r.emit(ctx, sink.EventAgentThinking, sink.AgentThinking{AgentID: r.persona.ID})

	target := ""
	if len(unchallenged) > 0 {
		target = unchallenged[0].Text
	}

	text, err := r.generateText(ctx, slide, target)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil && ctx.Err() == nil {
			slog.Warn("agent: generation failed, using fallback",
				"agent", r.persona.ID, "error", err)
		}
		text = FallbackQuestion(r.persona.ID, r.state.TotalQuestions(r.persona.ID))
	} else if r.recall != nil && r.recall.IsDuplicate(ctx, text) {
		slog.Debug("agent: near-duplicate question, regenerating once", "agent", r.persona.ID)
		if retry, rerr := r.generateText(ctx, slide, target); rerr == nil && strings.TrimSpace(retry) != "" {
			text = retry
		}
	}
	text = strings.TrimSpace(text)

	urls := r.speaker.SayAll(ctx, r.persona.ID, llm.SplitSentences(text))

	if ctx.Err() != nil {
		return
	}
	if r.window.CurrentSlide() != slide {
		slog.Debug("agent: slide moved during generation, candidate discarded",
			"agent", r.persona.ID, "slide", slide)
		return
	}

	cand := session.Candidate{
		Text:        text,
		TargetClaim: target,
		SlideIndex:  slide,
		AudioURLs:   urls,
		Relevance:   questionRelevance,
		GeneratedAt: r.now(),
	}
	r.bus.Publish(ctx, event.Event{
		Type:   event.HandRaised,
		Data:   event.HandRaisedData{AgentID: r.persona.ID, Candidate: cand, Priority: cand.Relevance},
		Source: r.persona.ID,
	})
	r.emit(ctx, sink.EventAgentHandRaise, sink.AgentHandRaise{AgentID: r.persona.ID})
	slog.Info("agent: hand raised", "agent", r.persona.ID, "slide", slide)
	if r.questionTimer != nil {
		r.questionTimer(r.now().Sub(started))
	}

	r.readyWait(ctx)
}

// generateText runs one streamed completion under the shared LLM gate.
func (r *Runner) generateText(ctx context.Context, slide int, target string) (string, error) {
	prompt := BuildQuestionPrompt(r.persona, QuestionInputs{
		Intensity:     r.state.Config().Intensity,
		SlideIndex:    slide,
		Window:        r.window.Render(r.now()),
		Claims:        r.state.ClaimsForSlide(slide),
		IsChallenged:  r.state.IsChallenged,
		History:       r.state.AgentExchanges(r.persona.ID),
		PresenterRead: r.state.Presenter(r.persona.ID).Render(),
		TargetClaim:   target,
	})

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("agent: acquire llm slot: %w", err)
	}
	defer r.sem.Release(1)

	chunks, err := r.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Temperature:  questionTemperature,
		Messages:     []types.Message{{Role: "user", Content: "Ask your question now."}},
	})
	if err != nil {
		return "", fmt.Errorf("agent: stream question: %w", err)
	}
	text, err := llm.Accumulate(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("agent: stream question: %w", err)
	}
	return text, nil
}

// readyWait holds the raised hand until the coordinator calls on us or the
// hand goes stale. Idle time accrues only while no exchange is running.
func (r *Runner) readyWait(ctx context.Context) {
	var idle time.Duration
	t := time.NewTicker(r.timings.IdleTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ending:
			return
		case <-r.calledOn:
			r.inExchange(ctx)
			return
		case ev := <-r.resolved:
			r.noteResolution(ev)
		case <-t.C:
			if r.state.ExchangeActive() {
				continue
			}
			idle += r.timings.IdleTick
			if idle >= r.timings.IdleLimit {
				r.bus.Publish(ctx, event.Event{
					Type:   event.HandLowered,
					Data:   event.HandLoweredData{AgentID: r.persona.ID, Reason: "stale"},
					Source: r.persona.ID,
				})
				r.emit(ctx, sink.EventAgentHandLowered, sink.AgentHandLowered{AgentID: r.persona.ID})
				slog.Info("agent: hand lowered", "agent", r.persona.ID, "reason", "stale")
				return
			}
		}
	}
}

// inExchange covers the span from being called on to resolution. The
// coordinator owns the exchange itself; the runner only keeps count and
// waits out its turn.
func (r *Runner) inExchange(ctx context.Context) {
	n := r.state.IncrementQuestions(r.persona.ID)
	slog.Info("agent: called on", "agent", r.persona.ID, "questions", n)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ending:
			return
		case ev := <-r.resolved:
			r.noteResolution(ev)
			if d, ok := ev.Data.(event.ExchangeResolvedData); ok && d.AgentID == r.persona.ID {
				return
			}
		}
	}
}

func (r *Runner) noteResolution(ev event.Event) {
	d, ok := ev.Data.(event.ExchangeResolvedData)
	if !ok || d.AgentID != r.persona.ID {
		return
	}
	r.cooldownUntil = r.now().Add(r.timings.Cooldown)
}

func (r *Runner) emit(ctx context.Context, name string, payload any) {
	if err := r.events.Emit(ctx, name, payload); err != nil {
		slog.Warn("agent: emit failed", "agent", r.persona.ID, "event", name, "error", err)
	}
}

// ─── bus handlers, run on subscriber goroutines ───

func (r *Runner) onBusEvent(ev event.Event) {
	switch ev.Type {
	case event.ClaimsReady:
		r.onClaims(ev)
	case event.AgentCalledOn:
		r.onCalledOn(ev)
	case event.ExchangeResolved:
		r.onResolved(ev)
	case event.SessionEnding:
		r.onEnding(ev)
	case event.TranscriptUpdate:
		r.onTranscript(ev)
	}
}

func (r *Runner) onClaims(event.Event) {
	select {
	case r.claims <- struct{}{}:
	default:
	}
}

func (r *Runner) onCalledOn(ev event.Event) {
	d, ok := ev.Data.(event.AgentCalledOnData)
	if !ok || d.AgentID != r.persona.ID {
		return
	}
	select {
	case r.calledOn <- struct{}{}:
	default:
	}
}

func (r *Runner) onResolved(ev event.Event) {
	select {
	case r.resolved <- ev:
	default:
	}
}

func (r *Runner) onEnding(event.Event) {
	r.endOnce.Do(func() { close(r.ending) })
}

func (r *Runner) onTranscript(event.Event) {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
