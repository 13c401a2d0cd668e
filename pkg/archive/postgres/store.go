package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/hotseat/pkg/archive"
)

// Compile-time interface checks. The transcript log and the question index
// are exposed as sub-types via [Store.Log] and [Store.Questions].
var (
	_ archive.Log           = (*LogImpl)(nil)
	_ archive.QuestionIndex = (*QuestionIndexImpl)(nil)
)

// Store is the PostgreSQL-backed session archive. It holds a single
// [pgxpool.Pool] and exposes the two archive facets:
//
//   - [Store.Log] returns a [LogImpl] implementing [archive.Log]
//   - [Store.Questions] returns a [QuestionIndexImpl] implementing [archive.QuestionIndex]
//
// All operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	log       *LogImpl
	questions *QuestionIndexImpl
}

// NewStore creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [archive.Question.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: migrate: %w", err)
	}

	return &Store{
		pool:      pool,
		log:       &LogImpl{pool: pool},
		questions: &QuestionIndexImpl{pool: pool},
	}, nil
}

// Log returns the transcript log implementation which satisfies [archive.Log].
func (s *Store) Log() *LogImpl { return s.log }

// Questions returns the question index implementation which satisfies
// [archive.QuestionIndex].
func (s *Store) Questions() *QuestionIndexImpl { return s.questions }

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres archive: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
