// Package claims extracts challengeable claims from presentation decks.
//
// Extraction runs once at session load: every slide with enough content is
// sent to the LLM concurrently, bounded by the shared completion semaphore,
// and the model returns a JSON array of claims. A slide whose request or
// parse fails contributes an empty list — one bad slide never fails the
// deck. The caller publishes CLAIMS_READY once the full table is assembled.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hotseat/internal/deck"
	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	"github.com/MrWong99/hotseat/pkg/types"
)

const (
	defaultTemperature = 0.2

	// minSlideContent is the smallest slide content (title, bullets and
	// notes joined) worth sending to the model.
	minSlideContent = 20
)

// extractionPrompt is the fixed system prompt for deck claim extraction.
const extractionPrompt = `You are preparing a board of executives for a strategic presentation.

Your task: extract the challengeable claims a sharp executive would probe from the slide content provided.

A claim is a specific, falsifiable assertion — a number, a growth projection, a market position, a delivery date, a capability statement. Skip section headers, pleasantries, and anything too vague to challenge.

Claim types:
- "financial": revenue, margin, cost or other money figures
- "market": market size, share, demand or customer assertions
- "timeline": dates, deadlines and delivery commitments
- "capability": what the team or product claims it can do
- "competitive": comparisons against competitors

Respond with ONLY a JSON array in this exact format (no markdown, no prose):
[
  {"text": "<the claim, quoted or tightly paraphrased>", "type": "<one of the five types>", "confidence": <0.0-1.0>}
]

Return an empty array if the slide contains nothing worth challenging.`

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more consistent extraction. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(e *Extractor) {
		e.temperature = temp
	}
}

// Extractor asks an [llm.Provider] for the challengeable claims on each deck
// slide. It is safe for concurrent use.
type Extractor struct {
	llm         llm.Provider
	sem         *semaphore.Weighted
	temperature float64
}

// NewExtractor returns an [Extractor] backed by the given provider. sem is
// the session-wide completion semaphore shared with the agent runners so
// deck extraction and question generation compete for the same budget.
func NewExtractor(provider llm.Provider, sem *semaphore.Weighted, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         provider,
		sem:         sem,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractDeck extracts claims for every slide in m, keyed by slide index.
// Slides run concurrently under the shared semaphore. Slides with fewer than
// 20 characters of content are skipped; slides whose request or parse fails
// yield an empty list. Only context cancellation fails the whole deck.
func (e *Extractor) ExtractDeck(ctx context.Context, m *deck.Manifest) (map[int][]session.Claim, error) {
	results := make([][]session.Claim, len(m.Slides))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, sl := range m.Slides {
		content := strings.TrimSpace(sl.Content())
		if utf8.RuneCountInString(content) < minSlideContent {
			continue
		}
		eg.Go(func() error {
			if err := e.sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)

			list, err := e.extractSlide(egCtx, sl, content)
			if err != nil {
				slog.Warn("claims: slide extraction failed", "slide", sl.Index, "error", err)
				return nil
			}
			results[i] = list
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("claims: extract deck: %w", err)
	}

	out := make(map[int][]session.Claim, len(m.Slides))
	total := 0
	for i, sl := range m.Slides {
		out[sl.Index] = results[i]
		total += len(results[i])
	}
	slog.Info("claims: deck extracted", "slides", len(m.Slides), "claims", total)
	return out, nil
}

func (e *Extractor) extractSlide(ctx context.Context, sl deck.Slide, content string) ([]session.Claim, error) {
	req := llm.CompletionRequest{
		SystemPrompt: extractionPrompt,
		Temperature:  e.temperature,
		JSONMode:     true,
		Messages: []types.Message{
			{Role: "user", Content: fmt.Sprintf("Slide %d: %s\n\n%s", sl.Index+1, sl.Title, content)},
		},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	return parseClaims(resp.Content)
}

// claimJSON is the expected element shape of the model's JSON array.
type claimJSON struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// parseClaims unmarshals the model output into claims. It strips markdown
// code fences, skips any prose before the first '[', and ignores trailing
// text after the array.
func parseClaims(content string) ([]session.Claim, error) {
	cleaned := stripFences(content)
	idx := strings.IndexByte(cleaned, '[')
	if idx < 0 {
		return nil, errors.New("no JSON array in response")
	}
	cleaned = cleaned[idx:]

	var raw []claimJSON
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	out := make([]session.Claim, 0, len(raw))
	for _, c := range raw {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		out = append(out, session.Claim{
			Text:       text,
			Type:       session.CoerceClaimType(c.Type),
			Confidence: c.Confidence,
		})
	}
	return out, nil
}

// stripFences removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
