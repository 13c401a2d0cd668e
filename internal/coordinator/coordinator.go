// Package coordinator owns the moderator: the hand-raise queue, exchange
// lifecycle, session phase transitions, and every line the moderator speaks.
package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/internal/journal"
	"github.com/MrWong99/hotseat/internal/recall"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/MrWong99/hotseat/internal/voice"
	"github.com/MrWong99/hotseat/pkg/archive"
)

// Assessor judges whether an exchange's latest answer settles the question.
// Runners implement it; the coordinator never talks to the LLM directly.
type Assessor interface {
	AssessFollowUp(ctx context.Context, ex *session.Exchange) *session.FollowUp
}

// Pacing groups the coordinator's timers so tests can compress them.
type Pacing struct {
	// StartupDelay postpones the first moderator selection tick.
	StartupDelay time.Duration

	// ModeratorTick is the queue selection cadence.
	ModeratorTick time.Duration

	// ResolvePause suppresses selection after a resolution so the
	// presenter gets the floor back before the next question.
	ResolvePause time.Duration

	// ExchangeTimeout resolves an unanswered exchange TIMEOUT.
	ExchangeTimeout time.Duration

	// Debounce batches presenter speech into one answer.
	Debounce time.Duration
}

// DefaultPacing returns production timer values.
func DefaultPacing() Pacing {
	return Pacing{
		StartupDelay:    3 * time.Second,
		ModeratorTick:   2 * time.Second,
		ResolvePause:    5 * time.Second,
		ExchangeTimeout: 45 * time.Second,
		Debounce:        3 * time.Second,
	}
}

// Deps wires the coordinator into the session runtime.
type Deps struct {
	State     *session.State
	Window    *session.Window
	Bus       *event.Bus
	Events    sink.Sink
	Speaker   *voice.Speaker
	Journal   *journal.Journal
	Fillers   *voice.Fillers
	Recall    *recall.Checker // optional; indexes delivered questions
	Assessors map[string]Assessor
}

// Option tunes a Coordinator.
type Option func(*Coordinator)

// WithPacing overrides the default timers.
func WithPacing(p Pacing) Option {
	return func(c *Coordinator) { c.pacing = p }
}

// WithPhrases installs a phrase library (template-themed moderator lines).
func WithPhrases(p *Phrases) Option {
	return func(c *Coordinator) { c.phrases = p }
}

// WithClock overrides wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator moderates the session. One per session; Run owns the
// selection loop, bus handlers feed the queue, and PresenterResponse is
// called by the runtime for final presenter speech during an exchange.
type Coordinator struct {
	state     *session.State
	window    *session.Window
	bus       *event.Bus
	events    sink.Sink
	speaker   *voice.Speaker
	journal   *journal.Journal
	fillers   *voice.Fillers
	recall    *recall.Checker
	assessors map[string]Assessor
	phrases   *Phrases
	pacing    Pacing
	now       func() time.Time

	queue *Queue

	mu            sync.Mutex
	respBuf       []string
	debounce      *time.Timer
	exchangeTimer *time.Timer
	assessing     bool
	lastResolve   time.Time
	warned80      bool
	warned90      bool

	ending   chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
}

// New builds a Coordinator.
func New(d Deps, opts ...Option) *Coordinator {
	c := &Coordinator{
		state:     d.State,
		window:    d.Window,
		bus:       d.Bus,
		events:    d.Events,
		speaker:   d.Speaker,
		journal:   d.Journal,
		fillers:   d.Fillers,
		recall:    d.Recall,
		assessors: d.Assessors,
		phrases:   LoadPhrases(""),
		pacing:    DefaultPacing(),
		now:       time.Now,
		queue:     NewQueue(),
		ending:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run greets the room and drives the moderator selection loop until ctx is
// cancelled or the session ends. It blocks; callers start it in a goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	// One subscriber for all coordinator events keeps raises and lowers for
	// the same agent in publish order.
	unsub := c.bus.SubscribeTypes(c.onBusEvent,
		event.HandRaised, event.HandLowered, event.SlideChanged, event.SessionEnding)
	defer func() {
		unsub()
		c.mu.Lock()
		if c.exchangeTimer != nil {
			c.exchangeTimer.Stop()
		}
		if c.debounce != nil {
			c.debounce.Stop()
		}
		c.mu.Unlock()
	}()

	c.say(ctx, c.phrases.Greeting)

	startup := time.NewTimer(c.pacing.StartupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-c.ending:
		return
	case <-startup.C:
	}

	t := time.NewTicker(c.pacing.ModeratorTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ending:
			return
		case <-t.C:
			c.maybeCallOn(ctx)
		}
	}
}

// End closes the session: announces the ending state, stops the runners via
// the bus, and emits the final session_ended event. Idempotent.
func (c *Coordinator) End(ctx context.Context, reason string) {
	c.endOnce.Do(func() {
		slog.Info("coordinator: session ending", "reason", reason)
		c.emit(ctx, sink.EventSessionState, sink.SessionState{State: "ending"})
		c.bus.Publish(ctx, event.Event{
			Type:   event.SessionEnding,
			Data:   event.SessionEndingData{Reason: reason},
			Source: "coordinator",
		})
		c.emit(ctx, sink.EventSessionEnded, sink.SessionEnded{Reason: reason})
		c.stopOnce.Do(func() { close(c.ending) })
	})
}

// QueueDepth reports how many raised hands are waiting.
func (c *Coordinator) QueueDepth() int {
	return c.queue.Len()
}

// maybeCallOn pops the best raised hand unless an exchange is running or
// the post-resolution pause is still in effect.
func (c *Coordinator) maybeCallOn(ctx context.Context) {
	if c.state.Phase() == session.PhaseExchange {
		return
	}
	c.mu.Lock()
	paused := !c.lastResolve.IsZero() && c.now().Sub(c.lastResolve) < c.pacing.ResolvePause
	c.mu.Unlock()
	if paused {
		return
	}

	agentID, cand, ok := c.queue.Pop(c.now(), c.state.TotalQuestions)
	if !ok {
		return
	}
	c.callOnAgent(ctx, agentID, cand)
}

// callOnAgent hands the floor to an agent and opens the exchange. The
// candidate is the one that was queued; later slide changes do not touch it.
func (c *Coordinator) callOnAgent(ctx context.Context, agentID string, cand session.Candidate) {
	if strings.TrimSpace(cand.Text) == "" {
		slog.Warn("coordinator: dropping empty candidate", "agent", agentID)
		c.emitQueue(ctx)
		return
	}

	c.state.SetPhase(session.PhaseQATrigger)

	c.say(ctx, c.phrases.Transition(agentID))

	c.emit(ctx, sink.EventAgentQuestion, sink.AgentQuestion{
		AgentID:    agentID,
		AgentName:  agent.Names[agentID],
		AgentRole:  agent.Roles[agentID],
		AgentTitle: agent.Titles[agentID],
		Text:       cand.Text,
		AudioURL:   sink.FirstURL(cand.AudioURLs),
		AudioURLs:  cand.AudioURLs,
		SlideRef:   cand.SlideIndex,
	})

	entry := archive.Entry{
		Speaker:      archive.SpeakerAgent,
		SpeakerName:  agent.Names[agentID],
		AgentRole:    agent.Roles[agentID],
		Text:         cand.Text,
		StartTime:    c.elapsed(),
		EndTime:      c.elapsed(),
		SlideIndex:   cand.SlideIndex,
		EntryType:    archive.EntryQuestion,
		TriggerClaim: cand.TargetClaim,
	}
	if len(cand.AudioURLs) > 0 {
		entry.AudioKey = voice.MediaKey(cand.AudioURLs[0])
	}
	c.journal.Record(entry)

	if c.recall != nil {
		go c.recall.Record(context.WithoutCancel(ctx), agentID, cand.Text)
	}

	c.bus.Publish(ctx, event.Event{
		Type:   event.AgentCalledOn,
		Data:   event.AgentCalledOnData{AgentID: agentID},
		Source: "coordinator",
	})
	c.bus.Publish(ctx, event.Event{
		Type:   event.AgentSpoke,
		Data:   event.AgentSpokeData{AgentID: agentID, Text: cand.Text, SlideIndex: cand.SlideIndex},
		Source: "coordinator",
	})

	ex := session.NewExchange(agentID, cand.Text, cand.TargetClaim, cand.SlideIndex)
	ex.AppendTurn(session.TurnAgent, cand.Text)
	c.state.SetExchange(ex)
	c.bus.Publish(ctx, event.Event{
		Type:   event.ExchangeStarted,
		Data:   event.ExchangeStartedData{AgentID: agentID, ExchangeID: ex.ID},
		Source: "coordinator",
	})
	slog.Info("coordinator: agent called on",
		"agent", agentID, "exchange", ex.ID, "slide", cand.SlideIndex)

	c.emit(ctx, sink.EventSessionState, sink.SessionState{
		State:      "exchange",
		AgentID:    agentID,
		ExchangeID: ex.ID,
		MaxTurns:   c.state.Config().Intensity.MaxPresenterTurns(),
	})
	c.armExchangeTimer(ex)
	c.emitQueue(ctx)
}

// say delivers one moderator line: synthesized when TTS cooperates,
// text-only otherwise, always archived and emitted.
func (c *Coordinator) say(ctx context.Context, text string) {
	var urlPtr *string
	entry := archive.Entry{
		Speaker:     archive.SpeakerModerator,
		SpeakerName: agent.Names[agent.ModeratorID],
		Text:        text,
		StartTime:   c.elapsed(),
		EndTime:     c.elapsed(),
		SlideIndex:  c.window.CurrentSlide(),
		EntryType:   archive.EntryModerator,
	}
	if url, err := c.speaker.Say(ctx, agent.ModeratorID, text); err != nil {
		slog.Warn("coordinator: moderator tts failed, delivering text only", "error", err)
	} else {
		urlPtr = &url
		entry.AudioKey = voice.MediaKey(url)
	}
	c.journal.Record(entry)
	c.emit(ctx, sink.EventModeratorMessage, sink.ModeratorMessage{
		Text:      text,
		AudioURL:  urlPtr,
		AgentName: agent.Names[agent.ModeratorID],
		AgentRole: agent.Roles[agent.ModeratorID],
	})
}

func (c *Coordinator) emit(ctx context.Context, name string, payload any) {
	if err := c.events.Emit(ctx, name, payload); err != nil {
		slog.Warn("coordinator: emit failed", "event", name, "error", err)
	}
}

func (c *Coordinator) emitQueue(ctx context.Context) {
	c.emit(ctx, sink.EventHandRaiseQueue, sink.HandRaiseQueue{Queue: c.queue.Positions()})
}

func (c *Coordinator) elapsed() float64 {
	return c.now().Sub(c.state.StartedAt()).Seconds()
}

// ─── bus handlers, run on the coordinator's subscriber goroutine ───

func (c *Coordinator) onBusEvent(ev event.Event) {
	switch ev.Type {
	case event.HandRaised:
		c.onHandRaised(ev)
	case event.HandLowered:
		c.onHandLowered(ev)
	case event.SlideChanged:
		c.onSlideChanged(ev)
	case event.SessionEnding:
		c.onEnding(ev)
	}
}

func (c *Coordinator) onHandRaised(ev event.Event) {
	d, ok := ev.Data.(event.HandRaisedData)
	if !ok {
		return
	}
	c.queue.Add(d.AgentID, d.Candidate, c.now())
	c.emitQueue(context.Background())
	slog.Debug("coordinator: hand raised", "agent", d.AgentID, "queued", c.queue.Len())
}

func (c *Coordinator) onHandLowered(ev event.Event) {
	d, ok := ev.Data.(event.HandLoweredData)
	if !ok {
		return
	}
	c.queue.Remove(d.AgentID)
	c.emitQueue(context.Background())
	slog.Debug("coordinator: hand lowered", "agent", d.AgentID, "reason", d.Reason)
}

// onSlideChanged advances the context window and checks schedule warnings.
// A running exchange is never disturbed by slide movement.
func (c *Coordinator) onSlideChanged(ev event.Event) {
	d, ok := ev.Data.(event.SlideChangedData)
	if !ok {
		return
	}
	c.window.SetSlide(d.SlideIndex)

	dur := c.state.Config().Duration
	if dur <= 0 {
		return
	}
	frac := float64(c.now().Sub(c.state.StartedAt())) / float64(dur)

	c.mu.Lock()
	var warn int
	switch {
	case frac >= 0.9 && !c.warned90:
		c.warned90, c.warned80 = true, true
		warn = 90
	case frac >= 0.8 && !c.warned80:
		c.warned80 = true
		warn = 80
	}
	c.mu.Unlock()

	if warn > 0 {
		go c.say(context.Background(), c.phrases.TimeWarning(warn))
	}
}

func (c *Coordinator) onEnding(event.Event) {
	c.stopOnce.Do(func() { close(c.ending) })
}
