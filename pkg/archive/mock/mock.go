// Package mock provides in-memory test doubles for the archive interfaces.
//
// Unlike pure stub mocks, these doubles actually store what is written:
// [Log] keeps entries and exchange records, and [QuestionIndex] computes
// real cosine similarity over indexed embeddings, so duplicate-detection
// logic can be exercised without a database.
//
// Each mock additionally records every method call for assertion in tests
// and exposes exported *Err fields that force failures. All mocks are safe
// for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	log := &mock.Log{}
//
//	// inject log into the system under test …
//
//	if got := log.CallCount("WriteEntry"); got != 3 {
//	    t.Errorf("expected 3 WriteEntry calls, got %d", got)
//	}
package mock

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/hotseat/pkg/archive"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// Log mock
// ─────────────────────────────────────────────────────────────────────────────

// Log is a configurable in-memory test double for [archive.Log].
// All exported *Err fields default to nil (success).
type Log struct {
	mu sync.Mutex

	calls     []Call
	entries   []archive.Entry
	exchanges []archive.ExchangeRecord

	// WriteEntryErr is returned by [Log.WriteEntry] when non-nil;
	// the entry is not stored.
	WriteEntryErr error

	// WriteExchangeErr is returned by [Log.WriteExchange] when non-nil;
	// the record is not stored.
	WriteExchangeErr error

	// EntriesBySessionErr is returned by [Log.EntriesBySession] when non-nil.
	EntriesBySessionErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Log) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Log) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored data without altering error
// configuration.
func (m *Log) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.entries = nil
	m.exchanges = nil
}

// WriteEntry implements [archive.Log]. Entries sharing a
// (SessionID, EntryIndex) pair replace the stored entry, mirroring the
// upsert behaviour of the PostgreSQL implementation.
func (m *Log) WriteEntry(_ context.Context, entry archive.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteEntry", Args: []any{entry}})
	if m.WriteEntryErr != nil {
		return m.WriteEntryErr
	}
	for i, e := range m.entries {
		if e.SessionID == entry.SessionID && e.EntryIndex == entry.EntryIndex {
			m.entries[i] = entry
			return nil
		}
	}
	m.entries = append(m.entries, entry)
	return nil
}

// WriteExchange implements [archive.Log]. Records sharing an ExchangeID
// replace the stored record.
func (m *Log) WriteExchange(_ context.Context, rec archive.ExchangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "WriteExchange", Args: []any{rec}})
	if m.WriteExchangeErr != nil {
		return m.WriteExchangeErr
	}
	for i, r := range m.exchanges {
		if r.ExchangeID == rec.ExchangeID {
			m.exchanges[i] = rec
			return nil
		}
	}
	m.exchanges = append(m.exchanges, rec)
	return nil
}

// EntriesBySession implements [archive.Log]. Stored entries are returned
// ordered by EntryIndex.
func (m *Log) EntriesBySession(_ context.Context, sessionID string) ([]archive.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "EntriesBySession", Args: []any{sessionID}})
	if m.EntriesBySessionErr != nil {
		return nil, m.EntriesBySessionErr
	}
	out := []archive.Entry{}
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b archive.Entry) int {
		return cmp.Compare(a.EntryIndex, b.EntryIndex)
	})
	return out, nil
}

// Exchanges returns a copy of all stored exchange records, in write order.
// Test-only accessor; [archive.Log] has no exchange read operation.
func (m *Log) Exchanges() []archive.ExchangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]archive.ExchangeRecord, len(m.exchanges))
	copy(out, m.exchanges)
	return out
}

// Ensure Log satisfies the interface at compile time.
var _ archive.Log = (*Log)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// QuestionIndex mock
// ─────────────────────────────────────────────────────────────────────────────

// QuestionIndex is a configurable in-memory test double for
// [archive.QuestionIndex]. MostSimilar computes genuine cosine similarity
// over the indexed embeddings unless MostSimilarResult is set.
type QuestionIndex struct {
	mu sync.Mutex

	calls     []Call
	questions []archive.Question

	// IndexQuestionErr is returned by [QuestionIndex.IndexQuestion] when
	// non-nil; the question is not stored.
	IndexQuestionErr error

	// MostSimilarResult, when non-nil, is returned verbatim by
	// [QuestionIndex.MostSimilar] instead of computing similarities.
	MostSimilarResult []archive.Scored

	// MostSimilarErr is returned by [QuestionIndex.MostSimilar] when non-nil.
	MostSimilarErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *QuestionIndex) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *QuestionIndex) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored questions without altering response
// configuration.
func (m *QuestionIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.questions = nil
}

// IndexQuestion implements [archive.QuestionIndex]. Questions sharing an ID
// replace the stored question.
func (m *QuestionIndex) IndexQuestion(_ context.Context, q archive.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "IndexQuestion", Args: []any{q}})
	if m.IndexQuestionErr != nil {
		return m.IndexQuestionErr
	}
	for i, existing := range m.questions {
		if existing.ID == q.ID {
			m.questions[i] = q
			return nil
		}
	}
	m.questions = append(m.questions, q)
	return nil
}

// MostSimilar implements [archive.QuestionIndex]. When MostSimilarResult is
// nil it scores every stored question from sessionID by cosine similarity to
// embedding and returns the top limit matches, most similar first.
func (m *QuestionIndex) MostSimilar(_ context.Context, sessionID string, embedding []float32, limit int) ([]archive.Scored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "MostSimilar", Args: []any{sessionID, embedding, limit}})
	if m.MostSimilarErr != nil {
		return nil, m.MostSimilarErr
	}
	if m.MostSimilarResult != nil {
		out := make([]archive.Scored, len(m.MostSimilarResult))
		copy(out, m.MostSimilarResult)
		return out, nil
	}

	scored := []archive.Scored{}
	for _, q := range m.questions {
		if q.SessionID != sessionID {
			continue
		}
		scored = append(scored, archive.Scored{
			Question:   q,
			Similarity: cosineSimilarity(embedding, q.Embedding),
		})
	}
	slices.SortStableFunc(scored, func(a, b archive.Scored) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Mismatched dimensions or zero-magnitude vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Ensure QuestionIndex satisfies the interface at compile time.
var _ archive.QuestionIndex = (*QuestionIndex)(nil)
