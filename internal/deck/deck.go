// Package deck models the slide deck a session presents: the manifest the
// client uploads, per-slide content for claim extraction, speaker notes for
// the context window, and the proper-noun vocabulary that seeds STT keyword
// boosts and the transcript corrector.
package deck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode"
)

// Slide is one slide of the deck.
type Slide struct {
	Index        int      `json:"index"`
	Title        string   `json:"title"`
	Bullets      []string `json:"bullets"`
	SpeakerNotes string   `json:"speakerNotes"`
}

// Content returns the slide's text joined for claim extraction: title,
// bullets, then speaker notes.
func (s Slide) Content() string {
	parts := make([]string, 0, len(s.Bullets)+2)
	if t := strings.TrimSpace(s.Title); t != "" {
		parts = append(parts, t)
	}
	for _, b := range s.Bullets {
		if b = strings.TrimSpace(b); b != "" {
			parts = append(parts, b)
		}
	}
	if n := strings.TrimSpace(s.SpeakerNotes); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, "\n")
}

// Manifest is the uploaded deck: a title and ordered slides.
type Manifest struct {
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

// LoadManifest reads and validates a manifest from a JSON file. Unknown
// fields are rejected. Slides missing explicit indexes are numbered by
// position; explicit indexes are honored and the slides sorted by them.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deck: read manifest: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("deck: parse manifest: %w", err)
	}
	if len(m.Slides) == 0 {
		return nil, fmt.Errorf("deck: manifest %q has no slides", path)
	}

	m.Normalize()
	return &m, nil
}

// Normalize numbers slides by position when the manifest carries no explicit
// indexes, and otherwise sorts slides by the declared index. LoadManifest
// normalizes automatically; manifests decoded from other sources (an inline
// deck on a start request) need an explicit call before use.
func (m *Manifest) Normalize() {
	allZero := true
	for _, s := range m.Slides {
		if s.Index != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		for i := range m.Slides {
			m.Slides[i].Index = i
		}
		return
	}
	slices.SortStableFunc(m.Slides, func(a, b Slide) int { return a.Index - b.Index })
}

// SlideCount returns the number of slides.
func (m *Manifest) SlideCount() int { return len(m.Slides) }

// Slide returns the slide with the given index.
func (m *Manifest) Slide(idx int) (Slide, bool) {
	for _, s := range m.Slides {
		if s.Index == idx {
			return s, true
		}
	}
	return Slide{}, false
}

// Notes maps slide index to speaker notes, for the context window's
// per-slide summaries. Slides without notes are omitted.
func (m *Manifest) Notes() map[int]string {
	notes := make(map[int]string, len(m.Slides))
	for _, s := range m.Slides {
		if n := strings.TrimSpace(s.SpeakerNotes); n != "" {
			notes[s.Index] = n
		}
	}
	return notes
}

// Vocabulary extracts the deck's proper nouns: runs of capitalized words
// (multi-grams) across the title, slide titles, bullets and notes. Grams
// are deduplicated in first-seen order. Single capitalized words that open
// a sentence are skipped unless they are acronyms, so ordinary sentence
// case does not flood the STT keyword list.
func (m *Manifest) Vocabulary() []string {
	var grams []string
	seen := make(map[string]struct{})
	add := func(g string) {
		if _, ok := seen[g]; ok {
			return
		}
		seen[g] = struct{}{}
		grams = append(grams, g)
	}

	collect := func(text string) {
		for _, g := range capitalizedGrams(text) {
			add(g)
		}
	}

	collect(m.Title)
	for _, s := range m.Slides {
		collect(s.Title)
		for _, b := range s.Bullets {
			collect(b)
		}
		collect(s.SpeakerNotes)
	}
	return grams
}

// gramStopwords are words that never carry proper-noun value on their own
// and are trimmed from the front of multi-grams.
var gramStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "at": {}, "but": {}, "by": {}, "for": {},
	"in": {}, "it": {}, "if": {}, "on": {}, "or": {}, "our": {}, "so": {},
	"the": {}, "this": {}, "that": {}, "these": {}, "those": {}, "to": {},
	"we": {}, "with": {}, "you": {},
}

// capitalizedGrams returns runs of consecutive capitalized tokens in text.
func capitalizedGrams(text string) []string {
	var (
		grams        []string
		run          []string
		runAtStart   bool
		atSentenceSt = true
	)

	flush := func() {
		defer func() { run = nil }()
		if len(run) == 0 {
			return
		}
		for len(run) > 0 && isStopword(run[0]) {
			run = run[1:]
			runAtStart = false
		}
		if len(run) == 0 {
			return
		}
		if len(run) == 1 && runAtStart && !isAcronym(run[0]) {
			return
		}
		grams = append(grams, strings.Join(run, " "))
	}

	for _, field := range strings.Fields(text) {
		word, endsSentence := trimToken(field)
		if word != "" && isCapitalized(word) {
			if len(run) == 0 {
				runAtStart = atSentenceSt
			}
			run = append(run, word)
		} else {
			flush()
		}
		if endsSentence {
			flush()
		}
		atSentenceSt = endsSentence
	}
	flush()
	return grams
}

// trimToken strips surrounding punctuation and reports whether the token
// closed a sentence.
func trimToken(tok string) (word string, endsSentence bool) {
	trimmed := strings.TrimRightFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	endsSentence = strings.ContainsAny(tok[len(trimmed):], ".!?:")
	word = strings.TrimLeftFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return word, endsSentence
}

func isCapitalized(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	return unicode.IsUpper(runes[0])
}

// isAcronym reports whether word is all upper-case letters or digits, like
// EMEA or Q3.
func isAcronym(word string) bool {
	for _, r := range word {
		if unicode.IsLower(r) {
			return false
		}
	}
	return len(word) >= 2
}

func isStopword(word string) bool {
	_, ok := gramStopwords[strings.ToLower(word)]
	return ok
}
