package session

import (
	"sync"
	"time"
)

// AgentContext accumulates one agent's history across the session. The
// owning runner reads it freely for prompt building; every mutation goes
// through [State] methods so the coordinator and runner never race.
type AgentContext struct {
	AgentID          string
	TotalQuestions   int
	ChallengedClaims []string
	Exchanges        []*Exchange

	// Satisfaction maps exchange id to the recorded outcome.
	Satisfaction map[string]string

	// Profile is this agent's private read of the presenter, built only
	// from exchanges this agent asked.
	Profile *PresenterProfile
}

// State is the shared mutable state of one session. All access is guarded
// by a single RWMutex; phase and exchange mutators are reserved to the
// coordinator.
type State struct {
	mu sync.RWMutex

	sessionID string
	config    Config
	startedAt time.Time

	phase              Phase
	activeExchange     *Exchange
	completedExchanges []*Exchange

	agents     map[string]*AgentContext
	claims     map[int][]Claim
	challenged map[string]struct{}
}

// StateOption configures a [State] at construction.
type StateOption func(*State)

// WithStartTime overrides the session start instant (tests use a fixed
// clock).
func WithStartTime(t time.Time) StateOption {
	return func(s *State) { s.startedAt = t }
}

// NewState creates session state in [PhasePresenting].
func NewState(sessionID string, cfg Config, opts ...StateOption) *State {
	s := &State{
		sessionID:  sessionID,
		config:     cfg,
		startedAt:  time.Now(),
		phase:      PhasePresenting,
		agents:     make(map[string]*AgentContext),
		claims:     make(map[int][]Claim),
		challenged: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID returns the session identifier.
func (s *State) SessionID() string { return s.sessionID }

// Config returns the session configuration (immutable after construction).
func (s *State) Config() Config { return s.config }

// StartedAt returns the session start instant.
func (s *State) StartedAt() time.Time { return s.startedAt }

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase moves the session to p. Coordinator only.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// ExchangeActive reports whether a question exchange currently holds the
// floor. Runners poll this to pause their evaluation loops.
func (s *State) ExchangeActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeExchange != nil
}

// ActiveExchange returns the exchange holding the floor, or nil.
func (s *State) ActiveExchange() *Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeExchange
}

// SetExchange installs ex as the active exchange and moves the phase to
// [PhaseExchange]. Coordinator only.
func (s *State) SetExchange(ex *Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeExchange = ex
	s.phase = PhaseExchange
}

// ClearExchange drops the active exchange and moves the phase to next,
// which must not be [PhaseExchange]. Coordinator only.
func (s *State) ClearExchange(next Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeExchange = nil
	s.phase = next
}

// RecordResolution books a resolved exchange in one step: appends it to the
// agent's context, folds it into that agent's presenter profile, marks its
// target claim challenged, records satisfaction, appends to the completed
// list, clears the active exchange and moves the phase to next. Coordinator
// only.
func (s *State) RecordResolution(ex *Exchange, next Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac := s.agentContextLocked(ex.AgentID)
	ac.Exchanges = append(ac.Exchanges, ex)
	ac.Satisfaction[ex.ID] = string(ex.Outcome)
	ac.Profile.RecordExchange(ex)
	if ex.TargetClaim != "" {
		ac.ChallengedClaims = append(ac.ChallengedClaims, ex.TargetClaim)
		s.challenged[ex.TargetClaim] = struct{}{}
	}

	s.completedExchanges = append(s.completedExchanges, ex)
	if s.activeExchange == ex {
		s.activeExchange = nil
	}
	s.phase = next
}

// GetAgentContext returns the context for id, creating it on first use.
func (s *State) GetAgentContext(id string) *AgentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentContextLocked(id)
}

func (s *State) agentContextLocked(id string) *AgentContext {
	ac, ok := s.agents[id]
	if !ok {
		ac = &AgentContext{
			AgentID:      id,
			Satisfaction: make(map[string]string),
			Profile:      NewPresenterProfile(),
		}
		s.agents[id] = ac
	}
	return ac
}

// IncrementQuestions bumps the agent's question counter and returns the new
// total.
func (s *State) IncrementQuestions(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac := s.agentContextLocked(agentID)
	ac.TotalQuestions++
	return ac.TotalQuestions
}

// TotalQuestions returns how many questions the agent has asked.
func (s *State) TotalQuestions(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ac, ok := s.agents[agentID]; ok {
		return ac.TotalQuestions
	}
	return 0
}

// AgentExchanges returns a copy of the agent's completed exchange list.
func (s *State) AgentExchanges(agentID string) []*Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ac, ok := s.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]*Exchange, len(ac.Exchanges))
	copy(out, ac.Exchanges)
	return out
}

// SetClaims replaces the extracted claim table (on CLAIMS_READY).
func (s *State) SetClaims(bySlide map[int][]Claim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = make(map[int][]Claim, len(bySlide))
	for idx, claims := range bySlide {
		cp := make([]Claim, len(claims))
		copy(cp, claims)
		s.claims[idx] = cp
	}
}

// ClaimCount returns how many claims were extracted across all slides.
func (s *State) ClaimCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, claims := range s.claims {
		n += len(claims)
	}
	return n
}

// ClaimsForSlide returns a copy of the claims extracted for slide idx.
func (s *State) ClaimsForSlide(idx int) []Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claims := s.claims[idx]
	out := make([]Claim, len(claims))
	copy(out, claims)
	return out
}

// IsChallenged reports whether any resolved exchange targeted this claim.
func (s *State) IsChallenged(claimText string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.challenged[claimText]
	return ok
}

// UnchallengedClaims returns the claims on slide idx no exchange has
// targeted yet, in extraction order.
func (s *State) UnchallengedClaims(idx int) []Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Claim
	for _, c := range s.claims[idx] {
		if _, ok := s.challenged[c.Text]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// CompletedExchanges returns a copy of the resolved exchange list, oldest
// first.
func (s *State) CompletedExchanges() []*Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Exchange, len(s.completedExchanges))
	copy(out, s.completedExchanges)
	return out
}

// Presenter returns the agent's private presenter profile, creating the
// agent context on first use. The profile is internally synchronized.
func (s *State) Presenter(agentID string) *PresenterProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentContextLocked(agentID).Profile
}

// Snapshot is a read-only view of the session for logging and status.
type Snapshot struct {
	SessionID          string
	Phase              Phase
	ActiveExchangeID   string
	ActiveAgentID      string
	CompletedExchanges int
	StartedAt          time.Time
}

// Snapshot returns a consistent copy of the headline state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		SessionID:          s.sessionID,
		Phase:              s.phase,
		CompletedExchanges: len(s.completedExchanges),
		StartedAt:          s.startedAt,
	}
	if s.activeExchange != nil {
		snap.ActiveExchangeID = s.activeExchange.ID
		snap.ActiveAgentID = s.activeExchange.AgentID
	}
	return snap
}
