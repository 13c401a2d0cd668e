package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/internal/recall"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
	sinkmock "github.com/MrWong99/hotseat/internal/sink/mock"
	"github.com/MrWong99/hotseat/internal/voice"
	"github.com/MrWong99/hotseat/pkg/archive"
	archmock "github.com/MrWong99/hotseat/pkg/archive/mock"
	embmock "github.com/MrWong99/hotseat/pkg/provider/embeddings/mock"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	llmmock "github.com/MrWong99/hotseat/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/hotseat/pkg/provider/tts/mock"
)

const defaultQuestion = "What is the source for that figure?"

// fastTimings compresses production pacing to test scale. Cooldown and hand
// staleness stay gated by the fake clock where the runner consults it.
func fastTimings() agent.Timings {
	return agent.Timings{
		ClaimsWait:   300 * time.Millisecond,
		WarmupPoll:   5 * time.Millisecond,
		StaggerBase:  5 * time.Millisecond,
		Cooldown:     50 * time.Millisecond,
		IdleLimit:    40 * time.Millisecond,
		IdleTick:     10 * time.Millisecond,
		AssessBudget: time.Second,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seg(text string, slide int) session.Segment {
	return session.Segment{Text: text, Confidence: 0.9, SlideIndex: slide, Speaker: "presenter"}
}

type fixture struct {
	t       *testing.T
	clock   *testClock
	state   *session.State
	window  *session.Window
	bus     *event.Bus
	events  *sinkmock.Sink
	runner  *agent.Runner
	raised  chan event.HandRaisedData
	lowered chan event.HandLoweredData
	done    chan struct{}
}

func newFixture(t *testing.T, opts ...agent.Option) *fixture {
	t.Helper()
	return newFixtureWith(t, &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: defaultQuestion}},
	}, opts...)
}

func newFixtureWith(t *testing.T, provider llm.Provider, opts ...agent.Option) *fixture {
	t.Helper()

	clk := newTestClock()
	cfg := session.Config{
		Intensity:      session.IntensityModerate,
		Duration:       20 * time.Minute,
		Agents:         []string{"skeptic"},
		WarmupWords:    5,
		LLMConcurrency: 2,
		EvalIntervals:  []time.Duration{15 * time.Millisecond},
	}
	f := &fixture{
		t:       t,
		clock:   clk,
		state:   session.NewState("sess-1", cfg, session.WithStartTime(clk.Now())),
		window:  session.NewWindow(nil, session.WithWindowClock(clk.Now)),
		bus:     event.NewBus(),
		events:  &sinkmock.Sink{},
		raised:  make(chan event.HandRaisedData, 4),
		lowered: make(chan event.HandLoweredData, 4),
	}

	unsubR := f.bus.Subscribe(event.HandRaised, func(ev event.Event) {
		if d, ok := ev.Data.(event.HandRaisedData); ok {
			f.raised <- d
		}
	})
	unsubL := f.bus.Subscribe(event.HandLowered, func(ev event.Event) {
		if d, ok := ev.Data.(event.HandLoweredData); ok {
			f.lowered <- d
		}
	})
	t.Cleanup(func() { unsubR(); unsubL() })

	speaker := voice.NewSpeaker(&ttsmock.Provider{EchoText: true}, t.TempDir(), "sess-1")
	persona, _ := agent.Builtin("skeptic")
	opts = append([]agent.Option{
		agent.WithTimings(fastTimings()),
		agent.WithClock(clk.Now),
	}, opts...)
	f.runner = agent.NewRunner(persona, 0, agent.Deps{
		State:   f.state,
		Window:  f.window,
		Bus:     f.bus,
		Events:  f.events,
		LLM:     provider,
		Speaker: speaker,
		Sem:     semaphore.NewWeighted(2),
	}, opts...)
	return f
}

func (f *fixture) start() {
	f.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.done = make(chan struct{})
	go func() {
		f.runner.Run(ctx)
		close(f.done)
	}()
	f.t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(3 * time.Second):
			f.t.Error("runner did not stop on context cancel")
		}
	})
}

// publishClaims marks extraction complete before the runner subscribes, so
// the history check makes loading deterministic.
func (f *fixture) publishClaims(bySlide map[int][]session.Claim) {
	f.t.Helper()
	if bySlide == nil {
		bySlide = map[int][]session.Claim{}
	}
	f.state.SetClaims(bySlide)
	f.bus.Publish(context.Background(), event.Event{
		Type:   event.ClaimsReady,
		Data:   event.ClaimsReadyData{ClaimsBySlide: bySlide},
		Source: "claims",
	})
}

func (f *fixture) waitEvent(name string, n int) {
	f.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.events.CountOf(name) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	f.t.Fatalf("timed out waiting for %d %q events, have %d", n, name, f.events.CountOf(name))
}

func (f *fixture) recvRaised() event.HandRaisedData {
	f.t.Helper()
	select {
	case d := <-f.raised:
		return d
	case <-time.After(3 * time.Second):
		f.t.Fatal("timed out waiting for hand raise")
		return event.HandRaisedData{}
	}
}

func (f *fixture) recvLowered() event.HandLoweredData {
	f.t.Helper()
	select {
	case d := <-f.lowered:
		return d
	case <-time.After(3 * time.Second):
		f.t.Fatal("timed out waiting for hand lower")
		return event.HandLoweredData{}
	}
}

// ─────────────────────────────────────────────────────────────────────────────

func TestRunner_WarmsUpEvaluatesAndRaisesHand(t *testing.T) {
	f := newFixture(t)
	f.publishClaims(nil)
	f.start()

	f.waitEvent(sink.EventAgentLoaded, 1)

	// Presenter hasn't spoken: the runner must stay quiet.
	time.Sleep(40 * time.Millisecond)
	if n := f.events.CountOf(sink.EventAgentThinking); n != 0 {
		t.Fatalf("thinking before warmup: %d events", n)
	}

	f.window.AddSegment(seg("Revenue grew forty percent this quarter after the pricing change", 0))
	f.window.AddSegment(seg("And churn stayed flat across every customer cohort we track", 0))

	d := f.recvRaised()
	if d.AgentID != "skeptic" {
		t.Errorf("AgentID = %q, want skeptic", d.AgentID)
	}
	if d.Candidate.Text != defaultQuestion {
		t.Errorf("candidate text = %q, want %q", d.Candidate.Text, defaultQuestion)
	}
	if d.Priority != 0.8 || d.Candidate.Relevance != 0.8 {
		t.Errorf("priority = %v, relevance = %v, want 0.8", d.Priority, d.Candidate.Relevance)
	}
	if d.Candidate.SlideIndex != 0 {
		t.Errorf("candidate slide = %d, want 0", d.Candidate.SlideIndex)
	}
	if len(d.Candidate.AudioURLs) != 1 {
		t.Errorf("audio urls = %v, want one", d.Candidate.AudioURLs)
	}

	f.waitEvent(sink.EventAgentHandRaise, 1)
	order := map[string]int{}
	for i, c := range f.events.Calls() {
		if _, seen := order[c.Event]; !seen {
			order[c.Event] = i
		}
	}
	if !(order[sink.EventAgentLoaded] < order[sink.EventAgentThinking] &&
		order[sink.EventAgentThinking] < order[sink.EventAgentHandRaise]) {
		t.Errorf("event order wrong: %v", order)
	}
}

func TestRunner_FallsBackWhenGenerationFails(t *testing.T) {
	f := newFixtureWith(t, &llmmock.Provider{StreamErr: errors.New("model offline")})
	f.publishClaims(nil)
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	f.window.AddSegment(seg("We expect to double the enterprise pipeline by next June", 0))
	f.window.AddSegment(seg("Hiring is already underway in both new regions", 0))

	d := f.recvRaised()
	if want := agent.FallbackQuestion("skeptic", 0); d.Candidate.Text != want {
		t.Errorf("fallback text = %q, want %q", d.Candidate.Text, want)
	}
	if len(d.Candidate.AudioURLs) == 0 {
		t.Error("fallback question should still get audio")
	}
}

func TestRunner_TargetsFirstUnchallengedClaim(t *testing.T) {
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: defaultQuestion}}}
	f := newFixtureWith(t, p)
	f.publishClaims(map[int][]session.Claim{0: {
		{Text: "Revenue grew 40% year over year", Type: session.ClaimFinancial, Confidence: 0.9},
		{Text: "Payback period is six months", Type: session.ClaimFinancial, Confidence: 0.8},
	}})
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	// One segment is enough: an unchallenged claim opens the gate without
	// segment growth.
	f.window.AddSegment(seg("Let me start with the headline revenue numbers for the year", 0))

	d := f.recvRaised()
	if d.Candidate.TargetClaim != "Revenue grew 40% year over year" {
		t.Errorf("target claim = %q", d.Candidate.TargetClaim)
	}

	req := p.StreamCalls[0].Req
	for _, want := range []string{"## Target claim", "Revenue grew 40% year over year", "currently on slide 1"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("question prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}
}

func TestRunner_DefersToActiveExchange(t *testing.T) {
	f := newFixture(t)
	f.publishClaims(nil)
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	ex := session.NewExchange("analyst", "How does this compare to plan?", "", 0)
	f.state.SetExchange(ex)

	f.window.AddSegment(seg("Gross margin expanded two points on the back of automation", 0))
	f.window.AddSegment(seg("And we expect another point of expansion next year", 0))

	time.Sleep(60 * time.Millisecond)
	if n := f.events.CountOf(sink.EventAgentThinking); n != 0 {
		t.Fatalf("evaluated during another exchange: %d thinking events", n)
	}

	ex.Resolve(session.OutcomeSatisfied)
	f.state.RecordResolution(ex, session.PhasePresenting)
	f.bus.Publish(context.Background(), event.Event{
		Type:   event.ExchangeResolved,
		Data:   event.ExchangeResolvedData{AgentID: "analyst", Outcome: session.OutcomeSatisfied, ExchangeID: ex.ID},
		Source: "coordinator",
	})

	// Resolution wakes the runner; buffered growth now triggers.
	f.waitEvent(sink.EventAgentThinking, 1)
	f.recvRaised()
}

func TestRunner_LowersStaleHand(t *testing.T) {
	f := newFixture(t)
	f.publishClaims(nil)
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	f.window.AddSegment(seg("Our retention cohorts look stronger than last year", 0))
	f.window.AddSegment(seg("Net revenue retention is above one hundred twenty percent", 0))
	f.recvRaised()

	d := f.recvLowered()
	if d.Reason != "stale" {
		t.Errorf("lower reason = %q, want stale", d.Reason)
	}
	f.waitEvent(sink.EventAgentHandLowered, 1)

	// Back to listening: fresh speech raises the hand again.
	f.window.AddSegment(seg("Now turning to the cost side of the ledger", 0))
	f.window.AddSegment(seg("Infrastructure spend is flat despite doubled traffic", 0))
	f.recvRaised()
}

func TestRunner_CooldownAfterResolution(t *testing.T) {
	f := newFixture(t)
	f.publishClaims(map[int][]session.Claim{0: {
		{Text: "We will hit break-even by Q4", Type: session.ClaimTimeline, Confidence: 0.85},
	}})
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	f.window.AddSegment(seg("The path to break-even is the core of this plan", 0))
	f.recvRaised()

	f.bus.Publish(context.Background(), event.Event{
		Type:   event.AgentCalledOn,
		Data:   event.AgentCalledOnData{AgentID: "skeptic"},
		Source: "coordinator",
	})
	deadline := time.Now().Add(3 * time.Second)
	for f.state.TotalQuestions("skeptic") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("question count never incremented after call-on")
		}
		time.Sleep(2 * time.Millisecond)
	}

	f.bus.Publish(context.Background(), event.Event{
		Type:   event.ExchangeResolved,
		Data:   event.ExchangeResolvedData{AgentID: "skeptic", Outcome: session.OutcomeSatisfied, ExchangeID: "ex-1"},
		Source: "coordinator",
	})

	// The claim is still unchallenged, but the fake clock is frozen inside
	// the cooldown window, so no second evaluation may fire.
	time.Sleep(60 * time.Millisecond)
	if n := f.events.CountOf(sink.EventAgentThinking); n != 1 {
		t.Fatalf("thinking events during cooldown = %d, want 1", n)
	}

	f.clock.Advance(60 * time.Millisecond)
	f.waitEvent(sink.EventAgentThinking, 2)
	f.recvRaised()

	if got := f.state.TotalQuestions("skeptic"); got != 1 {
		t.Errorf("TotalQuestions = %d, want 1", got)
	}
}

// streamGate blocks StreamCompletion until released, so tests can change
// session state mid-generation.
type streamGate struct {
	*llmmock.Provider
	entered chan struct{}
	release chan struct{}
}

func (g *streamGate) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.Provider.StreamCompletion(ctx, req)
}

func TestRunner_DiscardsCandidateWhenSlideMovesMidGeneration(t *testing.T) {
	gate := &streamGate{
		Provider: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: defaultQuestion}}},
		entered:  make(chan struct{}, 2),
		release:  make(chan struct{}),
	}
	f := newFixtureWith(t, gate)
	f.publishClaims(nil)
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	f.window.AddSegment(seg("This architecture consolidates four legacy systems into one", 0))
	f.window.AddSegment(seg("Migration finishes before the end of the fiscal year", 0))

	select {
	case <-gate.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("generation never started")
	}
	f.window.SetSlide(1)
	close(gate.release)

	select {
	case d := <-f.raised:
		t.Fatalf("hand raised despite slide change: %+v", d)
	case <-time.After(80 * time.Millisecond):
	}
	if n := f.events.CountOf(sink.EventAgentHandRaise); n != 0 {
		t.Fatalf("hand raise events = %d, want 0", n)
	}

	// Still listening: speech on the new slide produces a fresh candidate.
	f.window.AddSegment(seg("On this slide we look at the delivery milestones", 1))
	f.window.AddSegment(seg("Each milestone has a named owner and a budget line", 1))

	d := f.recvRaised()
	if d.Candidate.SlideIndex != 1 {
		t.Errorf("new candidate slide = %d, want 1", d.Candidate.SlideIndex)
	}
}

func TestRunner_StopsOnSessionEnding(t *testing.T) {
	f := newFixture(t)
	// No claims published: the runner is parked in its loading wait.
	f.start()

	f.bus.Publish(context.Background(), event.Event{
		Type:   event.SessionEnding,
		Data:   event.SessionEndingData{Reason: "client"},
		Source: "gateway",
	})

	select {
	case <-f.done:
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop on session ending")
	}
	if n := f.events.CountOf(sink.EventAgentLoaded); n != 0 {
		t.Errorf("agent_loaded emitted after ending during load: %d", n)
	}
}

func TestRunner_RegeneratesDuplicateQuestionOnce(t *testing.T) {
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}}
	idx := &archmock.QuestionIndex{MostSimilarResult: []archive.Scored{
		{Question: archive.Question{Text: "Asked this before"}, Similarity: 0.97},
	}}
	checker := recall.New(emb, idx, "sess-1")

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: defaultQuestion}}}
	f := newFixtureWith(t, p, agent.WithRecall(checker))
	f.publishClaims(nil)
	f.start()
	f.waitEvent(sink.EventAgentLoaded, 1)

	f.window.AddSegment(seg("Customer acquisition cost dropped below two hundred dollars", 0))
	f.window.AddSegment(seg("That makes the unit economics work at current pricing", 0))

	d := f.recvRaised()
	if d.Candidate.Text != defaultQuestion {
		t.Errorf("candidate text = %q, want the regenerated question accepted", d.Candidate.Text)
	}
	if got := p.Calls(); got != 2 {
		t.Errorf("llm calls = %d, want 2 (original + one regeneration)", got)
	}
}
