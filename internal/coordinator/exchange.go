package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
	"github.com/MrWong99/hotseat/pkg/archive"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
)

// PresenterResponse feeds one final presenter segment into the active
// exchange. The runtime routes segments here instead of the context window
// while an exchange runs. Segments are buffered and assessed as one answer
// after a debounce quiet period; each segment also defers the no-answer
// timeout, which measures inactivity rather than total exchange length.
func (c *Coordinator) PresenterResponse(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	ex := c.state.ActiveExchange()
	if ex == nil {
		return
	}
	bg := context.WithoutCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.respBuf = append(c.respBuf, text)
	c.armDebounceLocked(bg)
	c.armExchangeTimerLocked(ex)
}

// armDebounceLocked (re)starts the quiet-period timer. Callers hold c.mu.
func (c *Coordinator) armDebounceLocked(ctx context.Context) {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.pacing.Debounce, func() { c.flushResponses(ctx) })
}

// flushResponses runs when the presenter has been quiet for the debounce
// period. A buffer under five words keeps waiting (the inactivity timeout is
// the backstop for an answer that never grows); a flush that lands
// mid-assessment re-arms so buffered speech is never stranded.
func (c *Coordinator) flushResponses(ctx context.Context) {
	c.mu.Lock()
	if len(c.respBuf) == 0 {
		c.mu.Unlock()
		return
	}
	if c.assessing {
		c.armDebounceLocked(ctx)
		c.mu.Unlock()
		return
	}
	joined := strings.Join(c.respBuf, " ")
	if len(strings.Fields(joined)) < 5 {
		c.armDebounceLocked(ctx)
		c.mu.Unlock()
		return
	}
	c.respBuf = nil
	c.assessing = true
	c.mu.Unlock()

	c.assess(ctx, joined)

	c.mu.Lock()
	c.assessing = false
	c.mu.Unlock()
}

// assess records the presenter's answer and decides how the exchange
// continues: escalation or turn limit resolve it outright, otherwise the
// agent's runner judges the answer.
func (c *Coordinator) assess(ctx context.Context, text string) {
	ex := c.state.ActiveExchange()
	if ex == nil {
		return
	}

	c.mu.Lock()
	if ex.Resolved() {
		c.mu.Unlock()
		return
	}
	ex.AppendTurn(session.TurnPresenter, text)
	pending := ex.PendingEscalation
	turns := ex.PresenterTurnCount()
	c.mu.Unlock()

	c.journal.Record(archive.Entry{
		Speaker:    archive.SpeakerPresenter,
		Text:       text,
		StartTime:  c.elapsed(),
		EndTime:    c.elapsed(),
		SlideIndex: ex.SlideIndex,
		EntryType:  archive.EntryAnswer,
	})

	if pending {
		c.resolveExchange(ctx, ex, session.OutcomeEscalated)
		return
	}
	if turns >= c.state.Config().Intensity.MaxPresenterTurns() {
		c.resolveExchange(ctx, ex, session.OutcomeTurnLimit)
		return
	}

	c.emit(ctx, sink.EventAgentThinking, sink.AgentThinking{AgentID: ex.AgentID})
	if c.fillers != nil {
		if clip, ok := c.fillers.Random(ex.AgentID); ok {
			c.emit(ctx, sink.EventAgentFiller, sink.AgentFiller{AgentID: ex.AgentID, AudioURL: clip})
		}
	}

	assessor := c.assessors[ex.AgentID]
	if assessor == nil {
		c.resolveExchange(ctx, ex, session.OutcomeSatisfied)
		return
	}
	fu := assessor.AssessFollowUp(ctx, ex)
	if fu == nil {
		c.resolveExchange(ctx, ex, session.OutcomeSatisfied)
		return
	}
	c.deliverFollowUp(ctx, ex, fu)
}

// deliverFollowUp pushes the agent's follow-up text-first: the client gets
// the text immediately and audio chunks stream in behind it.
func (c *Coordinator) deliverFollowUp(ctx context.Context, ex *session.Exchange, fu *session.FollowUp) {
	c.mu.Lock()
	if ex.Resolved() {
		c.mu.Unlock()
		return
	}
	ex.AppendTurn(session.TurnAgent, fu.Text)
	ex.EvaluationReasoning = fu.Reasoning
	if fu.Verdict == session.VerdictEscalate {
		ex.PendingEscalation = true
	}
	turn := ex.PresenterTurnCount()
	c.mu.Unlock()

	c.journal.Record(archive.Entry{
		Speaker:     archive.SpeakerAgent,
		SpeakerName: agent.Names[ex.AgentID],
		AgentRole:   agent.Roles[ex.AgentID],
		Text:        fu.Text,
		StartTime:   c.elapsed(),
		EndTime:     c.elapsed(),
		SlideIndex:  ex.SlideIndex,
		EntryType:   archive.EntryFollowUp,
	})

	c.emit(ctx, sink.EventAgentFollowUp, sink.AgentFollowUp{
		AgentID:    ex.AgentID,
		AgentName:  agent.Names[ex.AgentID],
		AgentRole:  agent.Roles[ex.AgentID],
		Text:       fu.Text,
		AudioURL:   nil,
		AudioURLs:  []string{},
		TurnNumber: turn,
		MaxTurns:   c.state.Config().Intensity.MaxPresenterTurns(),
		ExchangeID: ex.ID,
	})
	slog.Info("coordinator: follow-up delivered",
		"agent", ex.AgentID, "exchange", ex.ID, "verdict", fu.Verdict)

	c.armExchangeTimer(ex)
	go c.synthesizeFollowUp(context.WithoutCancel(ctx), ex.AgentID, ex.ID, fu.Text)
}

// synthesizeFollowUp speaks a follow-up sentence by sentence, emitting one
// audio event per finished chunk. Failed sentences are skipped; the text
// was already delivered.
func (c *Coordinator) synthesizeFollowUp(ctx context.Context, agentID, exchangeID, text string) {
	sentences := llm.SplitSentences(text)
	var urls []string
	for i, s := range sentences {
		url, err := c.speaker.Say(ctx, agentID, s)
		if err != nil {
			slog.Warn("coordinator: follow-up tts failed",
				"agent", agentID, "chunk", i, "error", err)
			continue
		}
		urls = append(urls, url)
		c.emit(ctx, sink.EventFollowUpAudio, sink.AgentFollowUpAudio{
			AgentID:     agentID,
			ExchangeID:  exchangeID,
			AudioURL:    url,
			AudioURLs:   slices.Clone(urls),
			ChunkIndex:  i,
			TotalChunks: len(sentences),
		})
	}
}

// resolveExchange closes the exchange exactly once. The 45s timeout fires
// on a timer goroutine and races the assessment path, so the first-resolver
// decision happens under the coordinator lock.
func (c *Coordinator) resolveExchange(ctx context.Context, ex *session.Exchange, outcome session.Outcome) {
	c.mu.Lock()
	if c.exchangeTimer != nil {
		c.exchangeTimer.Stop()
		c.exchangeTimer = nil
	}
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.respBuf = nil
	if !ex.Resolve(outcome) {
		c.mu.Unlock()
		return
	}
	rec := archive.ExchangeRecord{
		ExchangeID:   ex.ID,
		AgentID:      ex.AgentID,
		AgentName:    agent.Names[ex.AgentID],
		TriggerClaim: ex.TargetClaim,
		Outcome:      string(outcome),
		SlideIndex:   ex.SlideIndex,
		Turns:        make([]archive.Turn, len(ex.Turns)),
		StartedAt:    ex.StartedAt,
		ResolvedAt:   ex.ResolvedAt,
	}
	for i, t := range ex.Turns {
		rec.Turns[i] = archive.Turn{Speaker: t.Speaker, Text: t.Text, At: t.At}
	}
	c.mu.Unlock()

	c.journal.RecordExchange(rec)

	c.state.RecordResolution(ex, session.PhaseResolving)

	c.emit(ctx, sink.EventExchangeResolved, sink.ExchangeResolved{
		ExchangeID: ex.ID,
		AgentID:    ex.AgentID,
		Outcome:    string(outcome),
	})

	c.state.SetPhase(session.PhasePresenting)
	c.emit(ctx, sink.EventSessionState, sink.SessionState{State: "presenting"})

	c.mu.Lock()
	c.lastResolve = c.now()
	c.mu.Unlock()

	c.bus.Publish(ctx, event.Event{
		Type:   event.ExchangeResolved,
		Data:   event.ExchangeResolvedData{AgentID: ex.AgentID, Outcome: outcome, ExchangeID: ex.ID},
		Source: "coordinator",
	})
	slog.Info("coordinator: exchange resolved",
		"exchange", ex.ID, "agent", ex.AgentID, "outcome", outcome, "turns", ex.TurnCount())

	go c.say(context.WithoutCancel(ctx), c.phrases.BridgeBack(outcome))
}

// armExchangeTimer (re)starts the no-answer timeout for ex.
func (c *Coordinator) armExchangeTimer(ex *session.Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armExchangeTimerLocked(ex)
}

func (c *Coordinator) armExchangeTimerLocked(ex *session.Exchange) {
	if c.exchangeTimer != nil {
		c.exchangeTimer.Stop()
	}
	c.exchangeTimer = time.AfterFunc(c.pacing.ExchangeTimeout, func() {
		slog.Info("coordinator: exchange timed out", "exchange", ex.ID)
		c.resolveExchange(context.Background(), ex, session.OutcomeTimeout)
	})
}
