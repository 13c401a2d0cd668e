// Package archive defines the durable record of a boardroom session.
//
// Two concerns are covered:
//
//   - [Log]: an append-only transcript of everything said in a session —
//     presenter segments, agent questions, answers, follow-ups and moderator
//     interjections — plus the resolved exchange records that group them.
//   - [QuestionIndex]: a vector index over every question the agents have
//     asked, used to suppress near-duplicate questions later in the same
//     session.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …) without depending on
// hotseat internals.
//
// Every implementation must be safe for concurrent use.
package archive

import (
	"context"
	"time"
)

// Speaker values for [Entry.Speaker].
const (
	SpeakerPresenter = "presenter"
	SpeakerAgent     = "agent"
	SpeakerModerator = "moderator"
)

// EntryType values for [Entry.EntryType].
const (
	EntryPresentation = "presentation"
	EntryQuestion     = "question"
	EntryAnswer       = "answer"
	EntryFollowUp     = "follow_up"
	EntryModerator    = "moderator"
)

// Entry is a single line of the session transcript.
type Entry struct {
	// SessionID is the session this entry belongs to.
	SessionID string

	// EntryIndex is the position of this entry within the session.
	// Indexes are assigned by the writer and are unique per session;
	// writing the same (SessionID, EntryIndex) twice replaces the entry.
	EntryIndex int64

	// Speaker classifies who spoke: [SpeakerPresenter], [SpeakerAgent] or
	// [SpeakerModerator].
	Speaker string

	// SpeakerName is the display name of the speaker (e.g. "Diana Chen").
	SpeakerName string

	// AgentRole is the board role of the speaking agent ("cfo", "cto", …).
	// Empty for presenter and moderator entries.
	AgentRole string

	// Text is what was said.
	Text string

	// StartTime and EndTime are offsets from session start, in seconds.
	StartTime float64
	EndTime   float64

	// SlideIndex is the slide that was showing when this was said.
	SlideIndex int

	// EntryType classifies the entry: [EntryPresentation], [EntryQuestion],
	// [EntryAnswer], [EntryFollowUp] or [EntryModerator].
	EntryType string

	// TriggerClaim is the presenter claim that provoked this entry.
	// Set on question entries, empty otherwise.
	TriggerClaim string

	// AudioKey is the media path of the synthesized audio for this entry,
	// when one exists (e.g. "sess-1/tts/cfo_a1b2c3d4e5f6.wav").
	AudioKey string
}

// Turn is one utterance within an exchange, in order.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// ExchangeRecord is the durable summary of one resolved question exchange:
// which agent challenged what, how the back-and-forth went, and how it ended.
type ExchangeRecord struct {
	// ExchangeID is the short unique id of the exchange.
	ExchangeID string

	// SessionID is the session the exchange took place in.
	SessionID string

	// AgentID and AgentName identify the agent that held the floor.
	AgentID   string
	AgentName string

	// TriggerClaim is the presenter claim the opening question challenged.
	TriggerClaim string

	// Outcome records how the exchange was resolved ("SATISFIED",
	// "TURN_LIMIT", "TIMEOUT", "MODERATOR_INTERVENED", "ESCALATED").
	Outcome string

	// SlideIndex is the slide that was showing when the exchange opened.
	SlideIndex int

	// Turns is the ordered back-and-forth of the exchange.
	Turns []Turn

	// StartedAt and ResolvedAt bound the exchange in wall-clock time.
	StartedAt  time.Time
	ResolvedAt time.Time
}

// Question is an agent question prepared for the similarity index.
// A Question carries its pre-computed embedding so the index does not need
// to re-embed on insertion.
type Question struct {
	// ID is the unique identifier for this question (e.g. a short UUID).
	ID string

	// SessionID is the session the question was asked in.
	SessionID string

	// AgentID identifies the asking agent.
	AgentID string

	// Text is the question as delivered.
	Text string

	// Embedding is the vector representation of Text. Dimension must match
	// the index configuration (e.g. 1536 for OpenAI text-embedding-3-small).
	Embedding []float32

	// AskedAt is when the question was delivered.
	AskedAt time.Time
}

// Scored pairs an indexed question with its cosine similarity to a query
// embedding. Similarity is 1 - cosine distance: 1.0 means identical
// direction, 0 orthogonal, negative values opposite.
type Scored struct {
	Question Question

	Similarity float64
}

// Log is the transcript log of a session: a time-ordered, append-only record
// of entries plus the exchange records that group them.
//
// Implementations must be safe for concurrent use.
type Log interface {
	// WriteEntry appends entry to the session transcript. Writing an entry
	// with an (SessionID, EntryIndex) pair that already exists replaces the
	// stored entry, so retries are safe.
	WriteEntry(ctx context.Context, entry Entry) error

	// WriteExchange upserts the record of a resolved exchange, keyed by
	// ExchangeID.
	WriteExchange(ctx context.Context, rec ExchangeRecord) error

	// EntriesBySession returns all entries for sessionID ordered by
	// EntryIndex. Returns an empty (non-nil) slice when the session has no
	// entries.
	EntriesBySession(ctx context.Context, sessionID string) ([]Entry, error)
}

// QuestionIndex is a vector index over asked questions, supporting
// similarity lookups scoped to a single session.
//
// Callers are responsible for producing embeddings before calling
// IndexQuestion or MostSimilar. Implementations must be safe for concurrent
// use.
type QuestionIndex interface {
	// IndexQuestion stores a pre-embedded [Question]. If a question with the
	// same ID already exists it is replaced (upsert).
	IndexQuestion(ctx context.Context, q Question) error

	// MostSimilar returns up to limit indexed questions from sessionID,
	// ordered by descending cosine similarity to embedding.
	// Returns an empty (non-nil) slice when the session has no questions.
	MostSimilar(ctx context.Context, sessionID string, embedding []float32, limit int) ([]Scored, error)
}
