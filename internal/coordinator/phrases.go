package coordinator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/hotseat/internal/agent"
	"github.com/MrWong99/hotseat/internal/session"
)

// defaultGreeting opens every session.
const defaultGreeting = "Good morning everyone. We're here today for a strategic presentation. Presenter, the floor is yours. We'll hold questions per the agreed format. Please begin when ready."

// Phrases is the moderator's line library. Transition lines can be themed
// per agent through the template directory; everything else is fixed.
type Phrases struct {
	Greeting    string
	transitions map[string]string
}

// LoadPhrases builds the library, reading per-agent transition lines from
// <templatesDir>/moderator/phrases.md sections titled "To <FirstName>".
// A missing file or directory yields the defaults.
func LoadPhrases(templatesDir string) *Phrases {
	p := &Phrases{Greeting: defaultGreeting, transitions: map[string]string{}}
	if templatesDir == "" {
		return p
	}
	b, err := os.ReadFile(filepath.Join(templatesDir, "moderator", "phrases.md"))
	if err != nil {
		return p
	}
	md := string(b)
	for id := range agent.Names {
		persona, ok := agent.Builtin(id)
		if !ok {
			continue
		}
		if line := agent.ExtractSection(md, "To "+persona.FirstName()); line != "" {
			p.transitions[id] = line
		}
	}
	return p
}

// Transition returns the hand-over line for calling on an agent.
func (p *Phrases) Transition(agentID string) string {
	if line, ok := p.transitions[agentID]; ok {
		return line
	}
	name := agent.Names[agentID]
	if name == "" {
		name = agentID
	}
	return fmt.Sprintf("Thank you for that. %s, go ahead with your question.", name)
}

// BridgeBack returns the line that hands the floor back to the presenter
// after an exchange.
func (p *Phrases) BridgeBack(outcome session.Outcome) string {
	switch outcome {
	case session.OutcomeSatisfied:
		return "Good. I think that concern has been addressed. Let's continue."
	case session.OutcomeTurnLimit, session.OutcomeModeratorIntervened:
		return "We've surfaced an important issue here. We'll capture this in the debrief. Let's keep moving."
	case session.OutcomeTimeout:
		return "It seems we've moved on from that topic. Let's note it for the debrief and continue."
	default:
		return "Let's continue with the presentation."
	}
}

// TimeWarning returns the schedule nudge for the given threshold (80 or 90).
func (p *Phrases) TimeWarning(percent int) string {
	if percent >= 90 {
		return "We are nearly at time. Presenter, please move to your closing points."
	}
	return "A quick time check: we are about eighty percent through our scheduled time, so let's make sure the remaining material gets covered."
}
