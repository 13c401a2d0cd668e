package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/hotseat/pkg/archive"
)

// QuestionIndexImpl is the question similarity index backed by the
// agent_questions table with a pgvector IVFFlat index for approximate
// nearest-neighbour search.
//
// Obtain one via [Store.Questions] rather than constructing directly.
// All methods are safe for concurrent use.
type QuestionIndexImpl struct {
	pool *pgxpool.Pool
}

// IndexQuestion implements [archive.QuestionIndex]. It upserts a pre-embedded
// [archive.Question]. If a question with the same ID already exists it is
// completely replaced.
func (s *QuestionIndexImpl) IndexQuestion(ctx context.Context, q archive.Question) error {
	const stmt = `
		INSERT INTO agent_questions
		    (id, session_id, agent_id, text, embedding, asked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    agent_id   = EXCLUDED.agent_id,
		    text       = EXCLUDED.text,
		    embedding  = EXCLUDED.embedding,
		    asked_at   = EXCLUDED.asked_at`

	vec := pgvector.NewVector(q.Embedding)
	_, err := s.pool.Exec(ctx, stmt,
		q.ID,
		q.SessionID,
		q.AgentID,
		q.Text,
		vec,
		q.AskedAt,
	)
	if err != nil {
		return fmt.Errorf("question index: index question: %w", err)
	}
	return nil
}

// MostSimilar implements [archive.QuestionIndex]. It returns up to limit
// questions from sessionID ordered by descending cosine similarity to the
// supplied embedding.
//
// The ORDER BY uses the raw <=> operator so the IVFFlat index can serve the
// scan; similarity is computed as 1 - distance in the select list.
func (s *QuestionIndexImpl) MostSimilar(ctx context.Context, sessionID string, embedding []float32, limit int) ([]archive.Scored, error) {
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT id, session_id, agent_id, text, embedding, asked_at,
		       1 - (embedding <=> $1) AS similarity
		FROM   agent_questions
		WHERE  session_id = $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, queryVec, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("question index: most similar: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Scored, error) {
		var (
			sc  archive.Scored
			vec pgvector.Vector
		)
		if err := row.Scan(
			&sc.Question.ID,
			&sc.Question.SessionID,
			&sc.Question.AgentID,
			&sc.Question.Text,
			&vec,
			&sc.Question.AskedAt,
			&sc.Similarity,
		); err != nil {
			return archive.Scored{}, err
		}
		sc.Question.Embedding = vec.Slice()
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("question index: scan rows: %w", err)
	}
	if results == nil {
		results = []archive.Scored{}
	}
	return results, nil
}
