package agent

import (
	"fmt"
	"strings"

	"github.com/MrWong99/hotseat/internal/session"
)

// questionTail is the fixed closing instruction for every question prompt.
const questionTail = `Ask exactly ONE focused question. At most two sentences. It must be speakable aloud: no preamble, no stage directions, no markdown.`

// evaluationContract is the response format for answer assessment.
const evaluationContract = `Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "verdict": "SATISFIED" | "FOLLOW_UP" | "ESCALATE",
  "reasoning": "<one sentence on why>",
  "follow_up": "<your next question; required for FOLLOW_UP and ESCALATE>"
}

Verdict guide:
- SATISFIED: the answer addressed the substance of your concern.
- FOLLOW_UP: the answer was partial or evasive; press once more.
- ESCALATE: repeated evasion; register the concern formally with one final question.`

// defaultCriteria applies when a persona prompt carries no
// "## Satisfaction Criteria" section.
const defaultCriteria = `The presenter addresses the substance of your question with specifics rather than deflection.`

// intensityInstructions tunes tone per session intensity.
var intensityInstructions = map[session.Intensity]string{
	session.IntensityFriendly:    `Tone: collegial and constructive. You want the presenter to succeed; ask to understand, not to corner.`,
	session.IntensityModerate:    `Tone: professionally direct. Courteous, but do not soften the substance of the question.`,
	session.IntensityAdversarial: `Tone: adversarial. Press hard on weaknesses, name the gap explicitly, and do not accept vague answers.`,
}

// QuestionInputs carries the session material a question prompt is built from.
type QuestionInputs struct {
	Intensity     session.Intensity
	SlideIndex    int
	Window        string              // rendered recent presenter speech
	Claims        []session.Claim     // claims on the current slide
	IsChallenged  func(string) bool   // nil means none challenged yet
	History       []*session.Exchange // this agent's resolved exchanges
	PresenterRead string              // behavioral read on the presenter
	TargetClaim   string              // claim to aim at, empty for open question
}

// BuildQuestionPrompt assembles the system prompt for question generation.
// Layers, in order: persona, domain knowledge, intensity, session context,
// exchange history, presenter read, target claim, fixed tail.
func BuildQuestionPrompt(p Persona, in QuestionInputs) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Prompt))

	if d := strings.TrimSpace(p.Domain); d != "" {
		b.WriteString("\n\n")
		b.WriteString(d)
	}

	if inst, ok := intensityInstructions[in.Intensity]; ok {
		b.WriteString("\n\n")
		b.WriteString(inst)
	}

	b.WriteString("\n\n## Session context\n")
	fmt.Fprintf(&b, "The presenter is currently on slide %d.\n", in.SlideIndex+1)
	if w := strings.TrimSpace(in.Window); w != "" {
		b.WriteString("\n")
		b.WriteString(w)
		b.WriteString("\n")
	}
	if len(in.Claims) > 0 {
		b.WriteString("\nClaims made on this slide:\n")
		for _, c := range in.Claims {
			marker := ""
			if in.IsChallenged != nil && in.IsChallenged(c.Text) {
				marker = " [already challenged]"
			}
			fmt.Fprintf(&b, "- %s (%s)%s\n", c.Text, c.Type, marker)
		}
	}

	if len(in.History) > 0 {
		b.WriteString("\n## Your previous exchanges\n")
		for _, ex := range in.History {
			fmt.Fprintf(&b, "- You asked: %q — outcome: %s\n", ex.QuestionText, ex.Outcome)
		}
		b.WriteString("Do not repeat ground you have already covered.\n")
	}

	if pr := strings.TrimSpace(in.PresenterRead); pr != "" {
		b.WriteString("\n")
		b.WriteString(pr)
		b.WriteString("\n")
	}

	if tc := strings.TrimSpace(in.TargetClaim); tc != "" {
		b.WriteString("\n## Target claim\n")
		fmt.Fprintf(&b, "Direct your question at this specific claim: %q\n", tc)
	}

	b.WriteString("\n")
	b.WriteString(questionTail)
	return b.String()
}

// BuildEvaluationPrompt assembles the system prompt for assessing whether
// the presenter's answers in ex resolve the persona's question.
func BuildEvaluationPrompt(p Persona, ex *session.Exchange) string {
	criteria := ExtractSection(p.Prompt, "Satisfaction Criteria")
	if criteria == "" {
		criteria = defaultCriteria
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s. You asked a question during a board presentation and must now judge the presenter's answer.\n\n", p.Name, p.Title)
	b.WriteString(evaluationContract)
	b.WriteString("\n\n## Satisfaction Criteria\n")
	b.WriteString(criteria)
	b.WriteString("\n\n## Exchange so far\n")
	for _, t := range ex.Turns {
		label := "Presenter"
		if t.Speaker == session.TurnAgent {
			label = p.Name
		}
		fmt.Fprintf(&b, "%s: %s\n", label, t.Text)
	}
	return b.String()
}

// ExtractSection returns the body of the markdown section with the given
// "## " heading, trimmed, or "" when the heading is absent. The section
// ends at the next heading of any level.
func ExtractSection(md, heading string) string {
	lines := strings.Split(md, "\n")
	var body []string
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if in {
				break
			}
			if strings.EqualFold(strings.TrimSpace(strings.TrimLeft(trimmed, "# ")), heading) {
				in = true
			}
			continue
		}
		if in {
			body = append(body, line)
		}
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
