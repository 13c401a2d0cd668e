package coordinator_test

import (
	"testing"
	"time"

	"github.com/MrWong99/hotseat/internal/coordinator"
	"github.com/MrWong99/hotseat/internal/session"
)

func TestQueue_PopScoresWaitAgainstFatigue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	q := coordinator.NewQueue()
	q.Add("skeptic", session.Candidate{Text: "How defensible is that margin?", Relevance: 0.9}, now.Add(-10*time.Second))
	q.Add("analyst", session.Candidate{Text: "Which cohort backs that number?", Relevance: 0.7}, now.Add(-2*time.Second))

	totals := map[string]int{"skeptic": 3, "analyst": 0}
	lookup := func(id string) int { return totals[id] }

	// skeptic: 0.9 − 0.3·3 + 1/11 ≈ 0.09; analyst: 0.7 − 0 + 1/3 ≈ 1.03.
	id, cand, ok := q.Pop(now, lookup)
	if !ok {
		t.Fatal("Pop() ok = false, want an entry")
	}
	if id != "analyst" {
		t.Errorf("Pop() agent = %q, want analyst (fresh hand, no questions yet)", id)
	}
	if cand.Text != "Which cohort backs that number?" {
		t.Errorf("Pop() candidate text = %q", cand.Text)
	}

	if id, _, _ = q.Pop(now, lookup); id != "skeptic" {
		t.Errorf("second Pop() agent = %q, want skeptic", id)
	}
	if _, _, ok = q.Pop(now, lookup); ok {
		t.Error("Pop() on empty queue ok = true, want false")
	}
}

func TestQueue_ReRaiseIsNoOp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	q := coordinator.NewQueue()
	q.Add("skeptic", session.Candidate{Text: "first question", Relevance: 0.8}, now.Add(-30*time.Second))
	q.Add("skeptic", session.Candidate{Text: "second question", Relevance: 0.8}, now)
	q.Add("analyst", session.Candidate{Text: "Which cohort backs that number?", Relevance: 0.2}, now)

	if got := q.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 after re-raise", got)
	}
	// skeptic's original raise time stands: 0.8 + 1/31 ≈ 0.83 against the
	// analyst's 0.2 + 1 = 1.2. Had the re-raise reset raisedAt, skeptic
	// would score 1.8 and win this pop.
	id, _, ok := q.Pop(now, func(string) int { return 0 })
	if !ok || id != "analyst" {
		t.Fatalf("Pop() agent = %q, ok = %v; want analyst", id, ok)
	}
	id, cand, _ := q.Pop(now, func(string) int { return 0 })
	if id != "skeptic" || cand.Text != "first question" {
		t.Errorf("second Pop() = %q/%q, want skeptic's original raise kept", id, cand.Text)
	}
}

func TestQueue_RemoveAndPositions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	q := coordinator.NewQueue()
	for i, id := range []string{"skeptic", "analyst", "contrarian"} {
		q.Add(id, session.Candidate{Text: "q", Relevance: 0.8}, now.Add(time.Duration(i)*time.Second))
	}
	q.Remove("analyst")
	q.Remove("analyst") // second remove is a no-op

	pos := q.Positions()
	if len(pos) != 2 {
		t.Fatalf("Positions() len = %d, want 2", len(pos))
	}
	want := []string{"skeptic", "contrarian"}
	for i, p := range pos {
		if p.AgentID != want[i] || p.Position != i+1 {
			t.Errorf("Positions()[%d] = {%s %d}, want {%s %d}", i, p.AgentID, p.Position, want[i], i+1)
		}
	}
}

func TestQueue_MissingCandidateScoresNeutral(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	q := coordinator.NewQueue()
	q.Add("skeptic", session.Candidate{}, now)
	q.Add("analyst", session.Candidate{Text: "Where does the churn assumption come from?", Relevance: 0.9}, now)

	id, _, _ := q.Pop(now, func(string) int { return 0 })
	if id != "analyst" {
		t.Errorf("Pop() agent = %q, want analyst to outrank the empty candidate", id)
	}
}
