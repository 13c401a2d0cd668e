package postgres_test

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/hotseat/pkg/archive"
	"github.com/MrWong99/hotseat/pkg/archive/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if HOTSEAT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HOTSEAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HOTSEAT_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop and recreate the schema.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// mustPool opens a pgxpool with pgvector types registered.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS agent_questions CASCADE",
		"DROP TABLE IF EXISTS exchanges CASCADE",
		"DROP TABLE IF EXISTS session_entries CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcript log
// ─────────────────────────────────────────────────────────────────────────────

func TestLog_WriteEntryAndReadBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	log := store.Log()

	entries := []archive.Entry{
		{
			SessionID:  "sess-1",
			EntryIndex: 0,
			Speaker:    archive.SpeakerPresenter,
			Text:       "Q3 revenue grew forty percent quarter over quarter.",
			StartTime:  2.5,
			EndTime:    6.0,
			SlideIndex: 1,
			EntryType:  archive.EntryPresentation,
		},
		{
			SessionID:    "sess-1",
			EntryIndex:   1,
			Speaker:      archive.SpeakerAgent,
			SpeakerName:  "Victor Reyes",
			AgentRole:    "cfo",
			Text:         "Forty percent against which baseline, exactly?",
			StartTime:    8.0,
			EndTime:      11.5,
			SlideIndex:   1,
			EntryType:    archive.EntryQuestion,
			TriggerClaim: "Q3 revenue grew forty percent quarter over quarter.",
			AudioKey:     "sess-1/tts/cfo_a1b2c3d4e5f6.wav",
		},
		{
			SessionID:  "sess-1",
			EntryIndex: 2,
			Speaker:    archive.SpeakerPresenter,
			Text:       "Against Q2 recognized revenue, net of the pilot discounts.",
			StartTime:  13.0,
			EndTime:    17.0,
			SlideIndex: 1,
			EntryType:  archive.EntryAnswer,
		},
	}

	// Write out of order; EntriesBySession must sort by index.
	for _, i := range []int{2, 0, 1} {
		if err := log.WriteEntry(ctx, entries[i]); err != nil {
			t.Fatalf("WriteEntry(%d): %v", i, err)
		}
	}

	got, err := log.EntriesBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("EntriesBySession: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(got))
	}
	for i, want := range entries {
		if got[i] != want {
			t.Errorf("entry %d mismatch:\n got  %+v\n want %+v", i, got[i], want)
		}
	}
}

func TestLog_WriteEntry_ReplacesSameIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	log := store.Log()

	entry := archive.Entry{
		SessionID:  "sess-1",
		EntryIndex: 7,
		Speaker:    archive.SpeakerPresenter,
		Text:       "first version",
		EntryType:  archive.EntryPresentation,
	}
	if err := log.WriteEntry(ctx, entry); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	entry.Text = "corrected version"
	entry.SlideIndex = 3
	if err := log.WriteEntry(ctx, entry); err != nil {
		t.Fatalf("WriteEntry (replace): %v", err)
	}

	got, err := log.EntriesBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("EntriesBySession: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", len(got))
	}
	if got[0].Text != "corrected version" {
		t.Errorf("expected replaced text, got %q", got[0].Text)
	}
	if got[0].SlideIndex != 3 {
		t.Errorf("expected replaced slide index 3, got %d", got[0].SlideIndex)
	}
}

func TestLog_EntriesBySession_Empty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.Log().EntriesBySession(ctx, "no-such-session")
	if err != nil {
		t.Fatalf("EntriesBySession: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestLog_WriteExchange_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dsn := testDSN(t)

	started := time.Now().UTC().Truncate(time.Microsecond)
	rec := archive.ExchangeRecord{
		ExchangeID:   "ab12cd34",
		SessionID:    "sess-1",
		AgentID:      "cfo",
		AgentName:    "Victor Reyes",
		TriggerClaim: "CAC payback is under six months.",
		Outcome:      "SATISFIED",
		SlideIndex:   4,
		Turns: []archive.Turn{
			{Speaker: "agent", Text: "Under six months on blended or paid CAC?", At: started},
			{Speaker: "presenter", Text: "Blended, paid is closer to nine.", At: started.Add(12 * time.Second)},
		},
		StartedAt:  started,
		ResolvedAt: started.Add(30 * time.Second),
	}
	if err := store.Log().WriteExchange(ctx, rec); err != nil {
		t.Fatalf("WriteExchange: %v", err)
	}

	// Re-writing the same exchange must update in place, not duplicate.
	rec.Outcome = "TURN_LIMIT"
	rec.Turns = append(rec.Turns, archive.Turn{
		Speaker: "agent", Text: "Fair enough, that answers it.", At: started.Add(25 * time.Second),
	})
	if err := store.Log().WriteExchange(ctx, rec); err != nil {
		t.Fatalf("WriteExchange (update): %v", err)
	}

	pool := mustPool(t, ctx, dsn)
	t.Cleanup(pool.Close)

	var (
		count    int
		outcome  string
		turnsRaw []byte
	)
	if err := pool.QueryRow(ctx,
		"SELECT count(*) FROM exchanges WHERE session_id = $1", rec.SessionID,
	).Scan(&count); err != nil {
		t.Fatalf("count exchanges: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 exchange row, got %d", count)
	}

	if err := pool.QueryRow(ctx,
		"SELECT outcome, turns FROM exchanges WHERE exchange_id = $1", rec.ExchangeID,
	).Scan(&outcome, &turnsRaw); err != nil {
		t.Fatalf("read exchange: %v", err)
	}
	if outcome != "TURN_LIMIT" {
		t.Errorf("expected updated outcome %q, got %q", "TURN_LIMIT", outcome)
	}

	var turns []archive.Turn
	if err := json.Unmarshal(turnsRaw, &turns); err != nil {
		t.Fatalf("unmarshal turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[2].Text != "Fair enough, that answers it." {
		t.Errorf("unexpected final turn text %q", turns[2].Text)
	}
	if !turns[0].At.Equal(started) {
		t.Errorf("turn timestamp drifted: got %v want %v", turns[0].At, started)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Question index
// ─────────────────────────────────────────────────────────────────────────────

func TestQuestions_MostSimilar_RanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	idx := store.Questions()

	asked := time.Now().UTC().Truncate(time.Microsecond)
	questions := []archive.Question{
		{
			ID:        "q-exact",
			SessionID: "sess-1",
			AgentID:   "cfo",
			Text:      "What is the churn rate?",
			Embedding: []float32{1, 0, 0, 0},
			AskedAt:   asked,
		},
		{
			ID:        "q-near",
			SessionID: "sess-1",
			AgentID:   "cto",
			Text:      "How does churn trend month over month?",
			Embedding: []float32{1, 1, 0, 0},
			AskedAt:   asked.Add(time.Minute),
		},
		{
			ID:        "q-far",
			SessionID: "sess-1",
			AgentID:   "investor",
			Text:      "Who owns the patent portfolio?",
			Embedding: []float32{0, 1, 0, 0},
			AskedAt:   asked.Add(2 * time.Minute),
		},
		{
			// Identical embedding but a different session: must never surface.
			ID:        "q-other-session",
			SessionID: "sess-2",
			AgentID:   "cfo",
			Text:      "What is the churn rate?",
			Embedding: []float32{1, 0, 0, 0},
			AskedAt:   asked,
		},
	}
	for _, q := range questions {
		if err := idx.IndexQuestion(ctx, q); err != nil {
			t.Fatalf("IndexQuestion(%s): %v", q.ID, err)
		}
	}

	got, err := idx.MostSimilar(ctx, "sess-1", []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("MostSimilar: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}

	if got[0].Question.ID != "q-exact" {
		t.Errorf("expected best match q-exact, got %s", got[0].Question.ID)
	}
	if got[0].Similarity < 0.999 {
		t.Errorf("expected similarity ~1.0 for identical vector, got %f", got[0].Similarity)
	}

	if got[1].Question.ID != "q-near" {
		t.Errorf("expected second match q-near, got %s", got[1].Question.ID)
	}
	// cos([1,0,0,0], [1,1,0,0]) = 1/sqrt(2)
	if want := 1 / math.Sqrt2; math.Abs(got[1].Similarity-want) > 1e-3 {
		t.Errorf("expected similarity ~%f, got %f", want, got[1].Similarity)
	}

	if !got[0].Question.AskedAt.Equal(asked) {
		t.Errorf("asked_at drifted: got %v want %v", got[0].Question.AskedAt, asked)
	}
	if len(got[0].Question.Embedding) != testEmbeddingDim {
		t.Errorf("expected embedding to round-trip with %d dims, got %d",
			testEmbeddingDim, len(got[0].Question.Embedding))
	}
}

func TestQuestions_MostSimilar_Empty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.Questions().MostSimilar(ctx, "no-such-session", []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("MostSimilar: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}

func TestQuestions_IndexQuestion_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	idx := store.Questions()

	q := archive.Question{
		ID:        "q-1",
		SessionID: "sess-1",
		AgentID:   "cfo",
		Text:      "original phrasing",
		Embedding: []float32{0, 0, 1, 0},
		AskedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := idx.IndexQuestion(ctx, q); err != nil {
		t.Fatalf("IndexQuestion: %v", err)
	}

	q.Text = "rephrased question"
	if err := idx.IndexQuestion(ctx, q); err != nil {
		t.Fatalf("IndexQuestion (upsert): %v", err)
	}

	got, err := idx.MostSimilar(ctx, "sess-1", []float32{0, 0, 1, 0}, 10)
	if err != nil {
		t.Fatalf("MostSimilar: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 question after upsert, got %d", len(got))
	}
	if got[0].Question.Text != "rephrased question" {
		t.Errorf("expected upserted text, got %q", got[0].Question.Text)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Store lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dsn := testDSN(t)

	pool := mustPool(t, ctx, dsn)
	t.Cleanup(pool.Close)

	// NewStore already migrated once; a second run must be a no-op.
	if err := postgres.Migrate(ctx, pool, testEmbeddingDim); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping after re-migrate: %v", err)
	}
}
