// Package session holds the shared state of one live boardroom session: the
// phase machine, the active exchange, per-agent contexts, the presenter
// profile and the bounded context window of presenter speech.
//
// State is the synchronization point between the coordinator (the only
// mutator of phase and exchange), the agent runners (readers plus their own
// contexts) and the transcription gate (segment producer).
package session

import (
	"time"
)

// Phase is the coarse state of the session. Values are the lowercase wire
// form used by the client sink.
type Phase string

const (
	PhasePresenting Phase = "presenting"
	PhaseQATrigger  Phase = "qa_trigger"
	PhaseExchange   Phase = "exchange"
	PhaseResolving  Phase = "resolving"
)

// Intensity controls how aggressive the board is.
type Intensity string

const (
	IntensityFriendly    Intensity = "friendly"
	IntensityModerate    Intensity = "moderate"
	IntensityAdversarial Intensity = "adversarial"
)

// MaxPresenterTurns is the number of presenter answers an exchange may
// absorb before the moderator cuts it off.
func (i Intensity) MaxPresenterTurns() int {
	switch i {
	case IntensityFriendly:
		return 2
	case IntensityAdversarial:
		return 4
	default:
		return 3
	}
}

// DefaultEvalIntervals staggers how often each runner re-evaluates the
// presentation; index is the agent's position in the session config (wraps).
var DefaultEvalIntervals = []time.Duration{
	8 * time.Second,
	10 * time.Second,
	12 * time.Second,
	9 * time.Second,
	11 * time.Second,
	7 * time.Second,
	13 * time.Second,
	8500 * time.Millisecond,
	10500 * time.Millisecond,
	11500 * time.Millisecond,
}

// Config carries the per-session tunables resolved from configuration.
type Config struct {
	// Intensity selects question tone and the exchange turn limit.
	Intensity Intensity

	// Duration is the planned presentation length; time-pressure triggers
	// and moderator time warnings derive from it.
	Duration time.Duration

	// Agents lists the active persona ids, in order. Order determines each
	// runner's evaluation interval.
	Agents []string

	// WarmupWords is how many presenter words must accumulate before agents
	// start evaluating.
	WarmupWords int

	// LLMConcurrency caps concurrent LLM calls across all runners.
	LLMConcurrency int

	// InterimTranscripts enables publishing interim STT results.
	InterimTranscripts bool

	// EvalIntervals overrides DefaultEvalIntervals when non-empty.
	EvalIntervals []time.Duration
}

// EvalIntervalFor returns the evaluation cadence for the agent at position.
func (c Config) EvalIntervalFor(position int) time.Duration {
	intervals := c.EvalIntervals
	if len(intervals) == 0 {
		intervals = DefaultEvalIntervals
	}
	if position < 0 {
		position = 0
	}
	return intervals[position%len(intervals)]
}

// Segment is one final transcript unit of presenter speech. Start and End
// are offsets from session start.
type Segment struct {
	Text       string
	Confidence float64
	Start      time.Duration
	End        time.Duration
	SlideIndex int
	Speaker    string
}

// ClaimType classifies an extracted presenter claim.
type ClaimType string

const (
	ClaimFinancial   ClaimType = "financial"
	ClaimMarket      ClaimType = "market"
	ClaimTimeline    ClaimType = "timeline"
	ClaimCapability  ClaimType = "capability"
	ClaimCompetitive ClaimType = "competitive"
)

// CoerceClaimType maps free-form model output onto the claim enum;
// anything unrecognized becomes [ClaimCapability].
func CoerceClaimType(s string) ClaimType {
	switch ClaimType(s) {
	case ClaimFinancial, ClaimMarket, ClaimTimeline, ClaimCapability, ClaimCompetitive:
		return ClaimType(s)
	default:
		return ClaimCapability
	}
}

// Claim is a challengeable statement extracted from the deck or speech.
type Claim struct {
	Text       string
	Type       ClaimType
	Confidence float64
}

// Candidate is a generated, ready-to-deliver question held by a runner (and
// later by the coordinator's hand-raise queue).
type Candidate struct {
	Text        string
	TargetClaim string
	SlideIndex  int
	AudioURLs   []string
	Relevance   float64
	GeneratedAt time.Time
}

// Verdict is a follow-up assessment result.
type Verdict string

const (
	VerdictSatisfied Verdict = "SATISFIED"
	VerdictFollowUp  Verdict = "FOLLOW_UP"
	VerdictEscalate  Verdict = "ESCALATE"
)

// FollowUp is a non-satisfied assessment: the agent wants another turn.
type FollowUp struct {
	Verdict   Verdict
	Reasoning string
	Text      string
}

// Outcome records how an exchange ended.
type Outcome string

const (
	OutcomeSatisfied           Outcome = "SATISFIED"
	OutcomeTurnLimit           Outcome = "TURN_LIMIT"
	OutcomeTimeout             Outcome = "TIMEOUT"
	OutcomeModeratorIntervened Outcome = "MODERATOR_INTERVENED"
	OutcomeEscalated           Outcome = "ESCALATED"
)

// Turn speakers.
const (
	TurnAgent     = "agent"
	TurnPresenter = "presenter"
)

// Turn is one utterance inside an exchange.
type Turn struct {
	Speaker string
	Text    string
	At      time.Time
}
