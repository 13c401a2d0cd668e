package agent

// Static questions used when generation fails. Deliberately generic enough
// to land on any slide, specific enough to sound like the persona.
var fallbackQuestions = map[string][]string{
	"moderator": {
		"Could you expand on that last point for the board?",
		"Before we move on, is there anything on this slide you'd like to flag?",
		"Can you summarize the key takeaway here in one sentence?",
	},
	"skeptic": {
		"What's the source for the headline number on this slide?",
		"If that assumption is off by twenty percent, what happens to the plan?",
		"What does this cost us in the first year, all-in?",
	},
	"analyst": {
		"How does this position us against our two closest competitors?",
		"Which single assumption does this plan depend on most?",
		"What did comparable companies see when they tried this?",
	},
	"contrarian": {
		"What's the strongest argument against doing this at all?",
		"If this fails, what will we wish we had asked today?",
		"Why is everyone in this room comfortable with that assumption?",
	},
	"technologist": {
		"What's the hardest technical dependency here, and have we validated it?",
		"How much of this exists today versus still needing to be built?",
		"What breaks in our current systems if we ship this?",
	},
	"coo": {
		"Who owns delivery of this, and what do they stop doing to make room?",
		"What's the sequencing here — what has to land first?",
		"Where does this plan strain the teams we already have?",
	},
	"ceo": {
		"Why is now the right time for this, and not a year from now?",
		"What stops a better-funded competitor from doing exactly this?",
		"How does this change the story we tell investors?",
	},
	"cio": {
		"How does this touch our existing systems and data?",
		"What's the security and compliance exposure here?",
		"Are we locking ourselves into a vendor with this choice?",
	},
	"chro": {
		"Do the people this plan needs actually exist on the team today?",
		"What's the retention risk while we push this through?",
		"How are we bringing the affected teams along?",
	},
	"cco": {
		"What have customers actually said about this, in their words?",
		"What does this do to our sales cycle?",
		"How much of the revenue projection is pipeline versus hope?",
	},
}

var genericFallbacks = []string{
	"Can you walk us through the evidence behind that?",
	"What would have to be true for this to work as described?",
	"What's the biggest risk on this slide that we haven't discussed?",
}

// FallbackQuestion returns a canned question for the agent, cycling through
// the persona's list by how many questions it has already asked.
func FallbackQuestion(agentID string, asked int) string {
	qs, ok := fallbackQuestions[agentID]
	if !ok || len(qs) == 0 {
		qs = genericFallbacks
	}
	if asked < 0 {
		asked = 0
	}
	return qs[asked%len(qs)]
}
