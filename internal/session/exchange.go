package session

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is one question-and-answer thread between a single agent and the
// presenter. It is created by the coordinator when the agent is called on
// and mutated only by the coordinator goroutine; other components receive
// it read-only.
type Exchange struct {
	// ID is the first 8 hex characters of a UUID.
	ID string

	AgentID      string
	QuestionText string
	TargetClaim  string
	SlideIndex   int

	// Turns is the ordered back-and-forth, speakers [TurnAgent] and
	// [TurnPresenter]. The opening question is the first turn.
	Turns []Turn

	// Outcome is empty until the exchange resolves and is then set exactly
	// once.
	Outcome Outcome

	// EvaluationReasoning is the model's reasoning from the last follow-up
	// assessment.
	EvaluationReasoning string

	// PendingEscalation is set when an ESCALATE follow-up has been delivered;
	// the next presenter answer resolves the exchange ESCALATED.
	PendingEscalation bool

	StartedAt  time.Time
	ResolvedAt time.Time
}

// NewExchange opens an exchange for agentID's question. The opening agent
// turn is appended by the caller so delivery and bookkeeping stay in one
// place.
func NewExchange(agentID, questionText, targetClaim string, slideIndex int) *Exchange {
	return &Exchange{
		ID:           uuid.NewString()[:8],
		AgentID:      agentID,
		QuestionText: questionText,
		TargetClaim:  targetClaim,
		SlideIndex:   slideIndex,
		StartedAt:    time.Now(),
	}
}

// AppendTurn records an utterance, stamping it with the current time.
func (e *Exchange) AppendTurn(speaker, text string) {
	e.Turns = append(e.Turns, Turn{Speaker: speaker, Text: text, At: time.Now()})
}

// AgentTurnCount returns how many turns the agent has taken.
func (e *Exchange) AgentTurnCount() int { return e.countTurns(TurnAgent) }

// PresenterTurnCount returns how many answers the presenter has given.
func (e *Exchange) PresenterTurnCount() int { return e.countTurns(TurnPresenter) }

// TurnCount returns the total number of turns.
func (e *Exchange) TurnCount() int { return len(e.Turns) }

func (e *Exchange) countTurns(speaker string) int {
	n := 0
	for _, t := range e.Turns {
		if t.Speaker == speaker {
			n++
		}
	}
	return n
}

// Resolved reports whether an outcome has been recorded.
func (e *Exchange) Resolved() bool { return e.Outcome != "" }

// Resolve sets the outcome and resolution time exactly once; later calls
// are no-ops and report false.
func (e *Exchange) Resolve(outcome Outcome) bool {
	if e.Resolved() {
		return false
	}
	e.Outcome = outcome
	e.ResolvedAt = time.Now()
	return true
}
