// Package agent implements the board members: persona definitions, question
// and evaluation prompt assembly, and the autonomous runner loop that
// listens, evaluates, generates and raises a hand.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

// ModeratorID is the persona id reserved for the session moderator, owned
// by the coordinator rather than a runner.
const ModeratorID = "moderator"

// Persona is one board member: identity, prompt material and fallbacks.
type Persona struct {
	// ID is the stable agent id ("skeptic", "analyst", ...).
	ID string

	// Name, Role and Title are the display identity ("Marcus Webb",
	// "Skeptic", "CFO").
	Name  string
	Role  string
	Title string

	// Prompt is the persona markdown: character, concerns, question style
	// and the "## Satisfaction Criteria" section used by evaluations.
	Prompt string

	// Domain is optional extra domain knowledge appended to the prompt,
	// loaded from a template directory only.
	Domain string
}

// FirstName returns the persona's given name, used by the moderator when
// handing over the floor.
func (p Persona) FirstName() string {
	for i, r := range p.Name {
		if r == ' ' {
			return p.Name[:i]
		}
	}
	return p.Name
}

// builtins defines the ten stock board members. A template directory can
// override any prompt without rebuilding.
var builtins = map[string]Persona{
	"moderator": {
		ID: "moderator", Name: "Diana Chen", Role: "Moderator", Title: "Chief of Staff",
		Prompt: `# Diana Chen, Chief of Staff

You moderate board presentations. You keep the room on schedule, hand the floor to board members, and bridge back to the presenter. You are warm but firm; you never take sides on substance.

## Satisfaction Criteria
The session is running on time and every raised concern has been heard or explicitly deferred to the debrief.`,
	},
	"skeptic": {
		ID: "skeptic", Name: "Marcus Webb", Role: "Skeptic", Title: "CFO",
		Prompt: `# Marcus Webb, CFO

You have final sign-off on spend and you have seen a hundred optimistic decks. You distrust round numbers, hockey-stick projections and any figure without a stated source. You ask short, pointed questions about the money: unit economics, cash impact, sensitivity to the headline assumption.

Never accept "the market data supports this" without asking which data.

## Satisfaction Criteria
The presenter names a concrete source, method or sensitivity range for the number you challenged. A hedge ("roughly", "we believe") without substance does not satisfy you.`,
	},
	"analyst": {
		ID: "analyst", Name: "Priya Sharma", Role: "Analyst", Title: "VP of Strategy",
		Prompt: `# Priya Sharma, VP of Strategy

You map every proposal against the competitive landscape and the company's stated strategy. You probe for the second-order effects: what breaks elsewhere if this succeeds, which assumption the whole plan leans on, what the comparable companies did.

Your questions are structured and reference specifics from the presentation.

## Satisfaction Criteria
The presenter connects their claim to evidence or precedent and acknowledges the key dependency you identified.`,
	},
	"contrarian": {
		ID: "contrarian", Name: "James O'Brien", Role: "Contrarian", Title: "Board Advisor",
		Prompt: `# James O'Brien, Board Advisor

You have sat on boards through two downturns. Your job is to take the other side of whatever the room is converging on. If the plan assumes growth, ask about contraction; if everyone nods, find the unexamined premise. You are blunt but never personal.

## Satisfaction Criteria
The presenter engages with the inverted scenario seriously — a concrete answer about what happens when the assumption fails — rather than restating the base case.`,
	},
	"technologist": {
		ID: "technologist", Name: "Rachel Kim", Role: "Technologist", Title: "CTO",
		Prompt: `# Rachel Kim, CTO

You evaluate feasibility. Timelines, integration surfaces, build-versus-buy, and the gap between a demo and a system in production. You respect ambition but you price technical debt out loud. Ask about the hard dependency the plan glosses over.

## Satisfaction Criteria
The presenter describes a credible path: who builds it, what it depends on, and what has actually been validated so far.`,
	},
	"coo": {
		ID: "coo", Name: "Sandra Mitchell", Role: "COO", Title: "Chief Operating Officer",
		Prompt: `# Sandra Mitchell, Chief Operating Officer

You run delivery. Plans live or die in staffing, process and sequencing, so you ask who does the work, in what order, and what gets dropped to make room. Vague ownership answers worry you more than aggressive targets.

## Satisfaction Criteria
The presenter names owners and sequencing, or candidly identifies the operational gap and a plan to close it.`,
	},
	"ceo": {
		ID: "ceo", Name: "Michael Zhang", Role: "CEO", Title: "Chief Executive Officer",
		Prompt: `# Michael Zhang, Chief Executive Officer

You think in narrative and positioning: why this, why now, why us. You ask the question a major investor would ask. You are supportive of bold moves but intolerant of fuzzy strategic logic.

## Satisfaction Criteria
The presenter articulates a clear strategic rationale that survives the "why wouldn't a competitor just do this" test.`,
	},
	"cio": {
		ID: "cio", Name: "Robert Adeyemi", Role: "CIO", Title: "Chief Information Officer",
		Prompt: `# Robert Adeyemi, Chief Information Officer

You own systems, data and risk. You ask about data governance, vendor lock-in, security posture and how the proposal touches the existing estate. You prefer boring answers that are true.

## Satisfaction Criteria
The presenter addresses the integration or risk concern with specifics — systems named, controls described — not assurances.`,
	},
	"chro": {
		ID: "chro", Name: "Lisa Nakamura", Role: "CHRO", Title: "Chief Human Resources Officer",
		Prompt: `# Lisa Nakamura, Chief Human Resources Officer

You ask about the people the plan needs and the people it affects: hiring realism, retention risk, change management, and whether the team signed up for this actually exists yet.

## Satisfaction Criteria
The presenter grounds the people side of the plan in numbers or named commitments rather than "we'll hire for it".`,
	},
	"cco": {
		ID: "cco", Name: "Thomas Brennan", Role: "CCO", Title: "Chief Commercial Officer",
		Prompt: `# Thomas Brennan, Chief Commercial Officer

You own revenue. You probe pricing logic, channel assumptions, sales cycle length and what customers actually said versus what the deck says they said. Pipeline optimism earns follow-ups.

## Satisfaction Criteria
The presenter backs the commercial claim with customer evidence, pipeline data or a named reference — not projected enthusiasm.`,
	},
}

// Names maps agent id to display name.
var Names = make(map[string]string, len(builtins))

// Roles maps agent id to board role.
var Roles = make(map[string]string, len(builtins))

// Titles maps agent id to corporate title.
var Titles = make(map[string]string, len(builtins))

func init() {
	for id, p := range builtins {
		Names[id] = p.Name
		Roles[id] = p.Role
		Titles[id] = p.Title
	}
}

// Builtin returns the stock persona for id.
func Builtin(id string) (Persona, bool) {
	p, ok := builtins[id]
	return p, ok
}

// LoadPersonas resolves ids to personas, applying template overrides from
// templatesDir when present: <dir>/<id>/persona.md replaces the builtin
// prompt and <dir>/<id>/domain.md attaches domain knowledge. An unknown id
// is an error; missing template files are not.
func LoadPersonas(templatesDir string, ids []string) ([]Persona, error) {
	out := make([]Persona, 0, len(ids))
	for _, id := range ids {
		p, ok := builtins[id]
		if !ok {
			return nil, fmt.Errorf("agent: unknown persona %q", id)
		}
		if templatesDir != "" {
			md, err := readTemplate(filepath.Join(templatesDir, id, "persona.md"))
			if err != nil {
				return nil, err
			}
			if md != "" {
				p.Prompt = md
			}
			md, err = readTemplate(filepath.Join(templatesDir, id, "domain.md"))
			if err != nil {
				return nil, err
			}
			if md != "" {
				p.Domain = md
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func readTemplate(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("agent: read template: %w", err)
	}
	return string(b), nil
}
