// Package postgres provides a PostgreSQL-backed implementation of the hotseat
// session archive (transcript log, exchange records, question similarity index).
//
// All tables share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	// transcript log
//	_ = store.Log().WriteEntry(ctx, entry)
//
//	// question index
//	_ = store.Questions().IndexQuestion(ctx, question)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transcript log DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessionEntries = `
CREATE TABLE IF NOT EXISTS session_entries (
    id            BIGSERIAL         PRIMARY KEY,
    session_id    TEXT              NOT NULL,
    entry_index   BIGINT            NOT NULL,
    speaker       TEXT              NOT NULL,
    speaker_name  TEXT              NOT NULL DEFAULT '',
    agent_role    TEXT              NOT NULL DEFAULT '',
    text          TEXT              NOT NULL,
    start_time    DOUBLE PRECISION  NOT NULL DEFAULT 0,
    end_time      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    slide_index   INT               NOT NULL DEFAULT 0,
    entry_type    TEXT              NOT NULL,
    trigger_claim TEXT              NOT NULL DEFAULT '',
    audio_key     TEXT              NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ       NOT NULL DEFAULT now(),
    UNIQUE (session_id, entry_index)
);

CREATE INDEX IF NOT EXISTS idx_session_entries_session_id
    ON session_entries (session_id);
`

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    exchange_id   TEXT         PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    agent_id      TEXT         NOT NULL,
    agent_name    TEXT         NOT NULL DEFAULT '',
    trigger_claim TEXT         NOT NULL DEFAULT '',
    outcome       TEXT         NOT NULL,
    slide_index   INT          NOT NULL DEFAULT 0,
    turns         JSONB        NOT NULL DEFAULT '[]',
    started_at    TIMESTAMPTZ  NOT NULL,
    resolved_at   TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_id
    ON exchanges (session_id);
`

// ddlQuestions returns the question index DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlQuestions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS agent_questions (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    agent_id    TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    embedding   vector(%d),
    asked_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_questions_session_id
    ON agent_questions (session_id);

CREATE INDEX IF NOT EXISTS idx_agent_questions_embedding
    ON agent_questions USING ivfflat (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your deployment
// (e.g., 1536 for OpenAI text-embedding-3-small, 768 for nomic-embed-text).
// Changing this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessionEntries,
		ddlExchanges,
		ddlQuestions(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
