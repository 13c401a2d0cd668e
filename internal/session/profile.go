package session

import (
	"fmt"
	"strings"
	"sync"
)

// DataReadiness grades how well the presenter backs answers with data,
// updated from exchange outcomes.
type DataReadiness string

const (
	ReadinessUnknown  DataReadiness = "unknown"
	ReadinessStrong   DataReadiness = "strong"
	ReadinessModerate DataReadiness = "moderate"
	ReadinessWeak     DataReadiness = "weak"
)

// Strategy is the recommended questioning posture for the board.
type Strategy string

const (
	StrategyStandard   Strategy = "standard"
	StrategyPushHarder Strategy = "push_harder"
	StrategySupportive Strategy = "supportive"
)

// behavioralNoteRunes caps the question excerpt embedded in a note.
const behavioralNoteRunes = 80

// PresenterProfile derives behavioral traits from how the presenter has
// handled exchanges so far. The rules are deterministic, not model output:
// a SATISFIED outcome after a single answer reads as a strong direct
// answer, SATISFIED after several turns as eventually answered, TURN_LIMIT
// and MODERATOR_INTERVENED as questions the presenter could not address,
// TIMEOUT as no response, and an escalation flips the recommended strategy
// to push_harder.
//
// The profile is internally synchronized; the coordinator records outcomes
// and runners render it into prompts concurrently.
type PresenterProfile struct {
	mu sync.Mutex

	total          int
	outcomes       map[Outcome]int
	satisfiedInOne int

	patterns  []string
	notes     []string
	readiness DataReadiness
	strategy  Strategy
}

// NewPresenterProfile returns an empty profile.
func NewPresenterProfile() *PresenterProfile {
	return &PresenterProfile{
		outcomes:  make(map[Outcome]int),
		readiness: ReadinessUnknown,
		strategy:  StrategyStandard,
	}
}

// RecordExchange folds a resolved exchange into the profile. Unresolved
// exchanges are ignored.
func (p *PresenterProfile) RecordExchange(ex *Exchange) {
	if ex == nil || !ex.Resolved() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.outcomes[ex.Outcome]++

	switch ex.Outcome {
	case OutcomeSatisfied:
		if ex.PresenterTurnCount() <= 1 {
			p.satisfiedInOne++
			p.patterns = append(p.patterns, "strong direct answer")
			p.readiness = ReadinessStrong
		} else {
			p.patterns = append(p.patterns, "eventually answered")
			p.readiness = ReadinessModerate
		}
	case OutcomeTurnLimit, OutcomeModeratorIntervened:
		p.patterns = append(p.patterns, "could not address")
		p.readiness = ReadinessWeak
		p.notes = append(p.notes, fmt.Sprintf("struggled with: %q",
			truncateRunes(ex.QuestionText, behavioralNoteRunes)))
	case OutcomeEscalated:
		p.strategy = StrategyPushHarder
	case OutcomeTimeout:
		p.patterns = append(p.patterns, "no response")
		p.readiness = ReadinessWeak
	}
}

// DefensiveScore is the fraction of exchanges the presenter dragged to the
// turn limit or escalation.
func (p *PresenterProfile) DefensiveScore() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratioLocked(p.outcomes[OutcomeTurnLimit] + p.outcomes[OutcomeEscalated])
}

// EvasiveScore is the fraction of exchanges that timed out unanswered.
func (p *PresenterProfile) EvasiveScore() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratioLocked(p.outcomes[OutcomeTimeout])
}

// DirectScore is the fraction of exchanges settled with a single direct
// answer.
func (p *PresenterProfile) DirectScore() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratioLocked(p.satisfiedInOne)
}

func (p *PresenterProfile) ratioLocked(n int) float64 {
	if p.total == 0 {
		return 0
	}
	return float64(n) / float64(p.total)
}

// ExchangesRecorded returns how many resolved exchanges have been folded in.
func (p *PresenterProfile) ExchangesRecorded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// ResponsePatterns returns the per-exchange pattern labels, oldest first.
func (p *PresenterProfile) ResponsePatterns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.patterns...)
}

// BehavioralNotes returns the accumulated notes, oldest first.
func (p *PresenterProfile) BehavioralNotes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notes...)
}

// DataReadiness returns the current readiness grade.
func (p *PresenterProfile) DataReadiness() DataReadiness {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readiness
}

// RecommendedStrategy returns the posture agents should take.
func (p *PresenterProfile) RecommendedStrategy() Strategy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strategy
}

// traitThreshold is the score above which a trait shows up in the rendered
// profile block.
const traitThreshold = 0.4

// Render produces the short prompt block describing the presenter, or ""
// when no exchange has resolved yet.
func (p *PresenterProfile) Render() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total == 0 {
		return ""
	}

	var traits []string
	if p.ratioLocked(p.satisfiedInOne) >= traitThreshold {
		traits = append(traits, "answers directly and settles questions quickly")
	}
	if p.ratioLocked(p.outcomes[OutcomeTurnLimit]+p.outcomes[OutcomeEscalated]) >= traitThreshold {
		traits = append(traits, "gets defensive under sustained pressure")
	}
	if p.ratioLocked(p.outcomes[OutcomeTimeout]) >= traitThreshold {
		traits = append(traits, "tends to move on without addressing hard questions")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Presenter read (%d exchange", p.total)
	if p.total != 1 {
		b.WriteString("s")
	}
	b.WriteString(" so far): ")
	if len(traits) == 0 {
		b.WriteString("no strong pattern yet.")
	} else {
		b.WriteString(strings.Join(traits, "; "))
		b.WriteString(".")
	}
	if p.readiness != ReadinessUnknown {
		fmt.Fprintf(&b, " Data readiness: %s.", p.readiness)
	}
	if p.strategy == StrategyPushHarder {
		b.WriteString(" They have dodged an escalation before; push harder.")
	}
	if n := len(p.notes); n > 0 {
		b.WriteString(" ")
		b.WriteString(p.notes[n-1])
	}
	return b.String()
}
