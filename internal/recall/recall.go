// Package recall suppresses near-duplicate agent questions within a session.
//
// Before a runner buffers a candidate it checks the question text against
// everything already asked this session, using cosine similarity over
// embeddings. Recall is strictly advisory: a duplicate verdict asks the
// runner to regenerate once, and any embedding or index failure counts as
// not-a-duplicate — a flaky vector store must never silence the board.
package recall

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hotseat/internal/resilience"
	"github.com/MrWong99/hotseat/pkg/archive"
	"github.com/MrWong99/hotseat/pkg/provider/embeddings"
)

// defaultThreshold is the cosine similarity at which two questions count as
// the same question.
const defaultThreshold = 0.92

// Option configures a [Checker].
type Option func(*Checker)

// WithThreshold overrides the duplicate similarity threshold.
func WithThreshold(t float64) Option {
	return func(c *Checker) { c.threshold = t }
}

// WithClock overrides the wall clock used for AskedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithBreaker routes embedding calls through cb. Because recall is fail-open,
// an open circuit simply means every candidate counts as fresh until the
// embeddings backend recovers.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Checker) { c.breaker = cb }
}

// Checker answers "has the board effectively asked this already?" for one
// session. It is safe for concurrent use.
type Checker struct {
	embed     embeddings.Provider
	index     archive.QuestionIndex
	sessionID string
	threshold float64
	now       func() time.Time
	breaker   *resilience.CircuitBreaker
}

// New returns a [Checker] for sessionID.
func New(embed embeddings.Provider, index archive.QuestionIndex, sessionID string, opts ...Option) *Checker {
	c := &Checker{
		embed:     embed,
		index:     index,
		sessionID: sessionID,
		threshold: defaultThreshold,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsDuplicate reports whether text is too similar to a question already
// asked this session. Failures anywhere in the lookup report false.
func (c *Checker) IsDuplicate(ctx context.Context, text string) bool {
	emb, err := c.embedText(ctx, text)
	if err != nil {
		slog.Warn("recall: embed failed, treating as fresh", "error", err)
		return false
	}

	scored, err := c.index.MostSimilar(ctx, c.sessionID, emb, 1)
	if err != nil {
		slog.Warn("recall: similarity lookup failed, treating as fresh", "error", err)
		return false
	}
	if len(scored) == 0 {
		return false
	}
	if scored[0].Similarity >= c.threshold {
		slog.Debug("recall: duplicate question detected",
			"similarity", scored[0].Similarity, "prior", scored[0].Question.Text)
		return true
	}
	return false
}

// Record indexes a delivered question so later candidates are checked
// against it. Indexing is best-effort; failures are logged and dropped.
func (c *Checker) Record(ctx context.Context, agentID, text string) {
	emb, err := c.embedText(ctx, text)
	if err != nil {
		slog.Warn("recall: embed for indexing failed", "agent", agentID, "error", err)
		return
	}
	q := archive.Question{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		AgentID:   agentID,
		Text:      text,
		Embedding: emb,
		AskedAt:   c.now(),
	}
	if err := c.index.IndexQuestion(ctx, q); err != nil {
		slog.Warn("recall: indexing failed", "agent", agentID, "error", err)
	}
}

// embedText runs the embedding call through the breaker when one is
// configured.
func (c *Checker) embedText(ctx context.Context, text string) ([]float32, error) {
	if c.breaker == nil {
		return c.embed.Embed(ctx, text)
	}
	var emb []float32
	err := c.breaker.Execute(func() error {
		var embErr error
		emb, embErr = c.embed.Embed(ctx, text)
		return embErr
	})
	if err != nil {
		return nil, err
	}
	return emb, nil
}
