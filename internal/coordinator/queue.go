package coordinator

import (
	"sync"
	"time"

	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/internal/sink"
)

// questionCountPenalty discounts agents who have already had the floor.
const questionCountPenalty = 0.3

type handEntry struct {
	agentID   string
	candidate session.Candidate
	raisedAt  time.Time
}

// Queue is the hand-raise queue: at most one pending candidate per agent,
// scored at pop time. Safe for concurrent use; hand raises arrive on bus
// goroutines while the moderator loop pops.
type Queue struct {
	mu      sync.Mutex
	entries []handEntry
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add inserts the agent's candidate. A raise from an agent already queued is
// a no-op: the original candidate and raise time stand.
func (q *Queue) Add(agentID string, cand session.Candidate, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].agentID == agentID {
			return
		}
	}
	q.entries = append(q.entries, handEntry{agentID: agentID, candidate: cand, raisedAt: at})
}

// Remove drops the agent's pending raise, if any.
func (q *Queue) Remove(agentID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].agentID == agentID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending raises.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Positions renders the queue for the client, in arrival order.
func (q *Queue) Positions() []sink.QueuePosition {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]sink.QueuePosition, len(q.entries))
	for i, e := range q.entries {
		out[i] = sink.QueuePosition{AgentID: e.agentID, Position: i + 1}
	}
	return out
}

// Pop removes and returns the best raise. A single entry skips scoring.
// Otherwise each entry scores
//
//	relevance − 0.3·totalQuestions + 1/(waitSeconds+1)
//
// so relevant hands from agents who have spoken less win, with recency as
// the tiebreaker. An entry without a generated candidate scores with
// relevance 0.5.
func (q *Queue) Pop(now time.Time, totalQuestions func(agentID string) int) (string, session.Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch len(q.entries) {
	case 0:
		return "", session.Candidate{}, false
	case 1:
		e := q.entries[0]
		q.entries = q.entries[:0]
		return e.agentID, e.candidate, true
	}

	best, bestScore := 0, scoreEntry(q.entries[0], now, totalQuestions)
	for i := 1; i < len(q.entries); i++ {
		if s := scoreEntry(q.entries[i], now, totalQuestions); s > bestScore {
			best, bestScore = i, s
		}
	}
	e := q.entries[best]
	q.entries = append(q.entries[:best], q.entries[best+1:]...)
	return e.agentID, e.candidate, true
}

func scoreEntry(e handEntry, now time.Time, totalQuestions func(string) int) float64 {
	rel := e.candidate.Relevance
	if e.candidate.Text == "" {
		rel = 0.5
	}
	wait := now.Sub(e.raisedAt).Seconds()
	if wait < 0 {
		wait = 0
	}
	return rel - questionCountPenalty*float64(totalQuestions(e.agentID)) + 1/(wait+1)
}
