package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/hotseat/internal/session"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	llmmock "github.com/MrWong99/hotseat/pkg/provider/llm/mock"
)

func assessExchange() *session.Exchange {
	ex := session.NewExchange("skeptic", "What backs the 40% figure?", "Revenue grew 40%", 1)
	ex.AppendTurn(session.TurnAgent, "What backs the 40% figure?")
	ex.AppendTurn(session.TurnPresenter, "We saw strong momentum across the board.")
	return ex
}

func TestAssessFollowUp(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantNil bool
		verdict session.Verdict
		text    string
	}{
		{
			name:    "satisfied",
			content: `{"verdict": "SATISFIED", "reasoning": "Named the audit.", "follow_up": ""}`,
			wantNil: true,
		},
		{
			name:    "follow up",
			content: `{"verdict": "FOLLOW_UP", "reasoning": "No source named.", "follow_up": "Which dataset specifically?"}`,
			verdict: session.VerdictFollowUp,
			text:    "Which dataset specifically?",
		},
		{
			name:    "escalate fenced with prose",
			content: "Here is my assessment:\n```json\n{\"verdict\": \"ESCALATE\", \"reasoning\": \"Second dodge.\", \"follow_up\": \"I need a number, not a narrative.\"}\n```",
			verdict: session.VerdictEscalate,
			text:    "I need a number, not a narrative.",
		},
		{
			name:    "lowercase verdict normalized",
			content: `{"verdict": "follow_up", "reasoning": "Partial.", "follow_up": "And the denominator?"}`,
			verdict: session.VerdictFollowUp,
			text:    "And the denominator?",
		},
		{
			name:    "follow up without text treated as satisfied",
			content: `{"verdict": "FOLLOW_UP", "reasoning": "Hmm.", "follow_up": ""}`,
			wantNil: true,
		},
		{
			name:    "no json at all",
			content: "Sure, happy to assess! The answer seemed fine to me.",
			wantNil: true,
		},
		{
			name:    "unknown verdict",
			content: `{"verdict": "SHRUG", "reasoning": "?", "follow_up": "?"}`,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: tt.content}}
			f := newFixtureWith(t, p)

			got := f.runner.AssessFollowUp(context.Background(), assessExchange())
			if tt.wantNil {
				if got != nil {
					t.Fatalf("AssessFollowUp() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("AssessFollowUp() = nil, want follow-up")
			}
			if got.Verdict != tt.verdict {
				t.Errorf("Verdict = %q, want %q", got.Verdict, tt.verdict)
			}
			if got.Text != tt.text {
				t.Errorf("Text = %q, want %q", got.Text, tt.text)
			}
		})
	}
}

func TestAssessFollowUp_RequestShape(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"verdict": "SATISFIED", "reasoning": "ok"}`,
	}}
	f := newFixtureWith(t, p)
	f.runner.AssessFollowUp(context.Background(), assessExchange())

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if !req.JSONMode {
		t.Error("assessment request must set JSONMode")
	}
	if !strings.Contains(req.SystemPrompt, "Marcus Webb") ||
		!strings.Contains(req.SystemPrompt, "What backs the 40% figure?") {
		t.Errorf("assessment prompt incomplete:\n%s", req.SystemPrompt)
	}
}

func TestAssessFollowUp_LLMFailureMeansSatisfied(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	f := newFixtureWith(t, p)

	if got := f.runner.AssessFollowUp(context.Background(), assessExchange()); got != nil {
		t.Fatalf("AssessFollowUp() = %+v, want nil on provider failure", got)
	}
}
