package event

import "github.com/MrWong99/hotseat/internal/session"

// TranscriptData accompanies [TranscriptUpdate] (filtered, corrected finals)
// and [TranscriptInterim] (raw partials).
type TranscriptData struct {
	Segment session.Segment
}

// SlideChangedData accompanies [SlideChanged].
type SlideChangedData struct {
	SlideIndex int
}

// ClaimsReadyData accompanies [ClaimsReady] once deck claim extraction has
// finished.
type ClaimsReadyData struct {
	ClaimsBySlide map[int][]session.Claim
}

// HandRaisedData accompanies [HandRaised]. Priority is the candidate's
// relevance; the coordinator combines it with fairness terms when selecting.
type HandRaisedData struct {
	AgentID   string
	Candidate session.Candidate
	Priority  float64
}

// HandLoweredData accompanies [HandLowered]. Reason is "stale" when the
// runner withdrew an unanswered hand, "slide_changed" when the candidate
// became obsolete before queueing.
type HandLoweredData struct {
	AgentID string
	Reason  string
}

// AgentCalledOnData accompanies [AgentCalledOn]: the coordinator granted
// the floor to this agent.
type AgentCalledOnData struct {
	AgentID string
}

// AgentSpokeData accompanies [AgentSpoke]: the agent's question was
// delivered to the presenter.
type AgentSpokeData struct {
	AgentID    string
	Text       string
	SlideIndex int
}

// ExchangeStartedData accompanies [ExchangeStarted].
type ExchangeStartedData struct {
	AgentID    string
	ExchangeID string
}

// ExchangeResolvedData accompanies [ExchangeResolved].
type ExchangeResolvedData struct {
	AgentID    string
	Outcome    session.Outcome
	ExchangeID string
}

// SessionEndingData accompanies [SessionEnding]. Reason is "completed",
// "client" or "error".
type SessionEndingData struct {
	Reason string
}
