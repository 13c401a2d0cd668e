package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	"github.com/MrWong99/hotseat/pkg/types"
)

type verdictJSON struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
	FollowUp  string `json:"follow_up"`
}

// AssessFollowUp judges whether the presenter's answers in ex settle this
// agent's question. It returns nil when the agent is satisfied — and on any
// failure, since a broken assessment must not stall the session. Safe to
// call from the coordinator goroutine while Run is active.
func (r *Runner) AssessFollowUp(ctx context.Context, ex *session.Exchange) *session.FollowUp {
	ctx, cancel := context.WithTimeout(ctx, r.timings.AssessBudget)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer r.sem.Release(1)

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: BuildEvaluationPrompt(r.persona, ex),
		Temperature:  assessTemperature,
		JSONMode:     true,
		Messages:     []types.Message{{Role: "user", Content: "Assess the presenter's latest answer."}},
	})
	if err != nil {
		slog.Warn("agent: assessment failed, treating as satisfied",
			"agent", r.persona.ID, "exchange", ex.ID, "error", err)
		return nil
	}

	fu, err := parseVerdict(resp.Content)
	if err != nil {
		slog.Warn("agent: unparseable assessment, treating as satisfied",
			"agent", r.persona.ID, "exchange", ex.ID, "error", err)
		return nil
	}
	if fu.Verdict == session.VerdictSatisfied || fu.Text == "" {
		return nil
	}
	return fu
}

// parseVerdict tolerates markdown fences and prose around the JSON object.
func parseVerdict(raw string) (*session.FollowUp, error) {
	cleaned := stripVerdictFences(raw)
	i := strings.IndexByte(cleaned, '{')
	if i < 0 {
		return nil, errors.New("no JSON object in response")
	}
	var v verdictJSON
	if err := json.NewDecoder(strings.NewReader(cleaned[i:])).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	verdict := session.Verdict(strings.ToUpper(strings.TrimSpace(v.Verdict)))
	switch verdict {
	case session.VerdictSatisfied, session.VerdictFollowUp, session.VerdictEscalate:
	default:
		return nil, fmt.Errorf("unknown verdict %q", v.Verdict)
	}
	return &session.FollowUp{
		Verdict:   verdict,
		Reasoning: strings.TrimSpace(v.Reasoning),
		Text:      strings.TrimSpace(v.FollowUp),
	}, nil
}

func stripVerdictFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	if rest, ok := strings.CutSuffix(s, "```"); ok {
		s = rest
	}
	return strings.TrimSpace(s)
}
