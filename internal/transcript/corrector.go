// Package transcript post-processes final speech segments from the gate.
//
// The Corrector snaps misheard tokens back to the session vocabulary (deck
// proper nouns plus persona names) using Double Metaphone phonetic keys and
// optimal-string-alignment edit distance. It is deliberately conservative:
// only whole tokens are replaced, a candidate must both sound like the
// vocabulary word and sit within two edits of it, and the corrector is off
// entirely when the vocabulary is empty.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// minTokenRunes keeps short function words out of the matcher; tokens
	// below this length carry too little phonetic signal to correct safely.
	minTokenRunes = 4

	// maxEditDistance bounds how far a token may drift from a vocabulary
	// word and still be considered the same word misheard.
	maxEditDistance = 2
)

// Correction records one replaced token.
type Correction struct {
	Original  string
	Corrected string
}

type term struct {
	canonical string
	lower     string
	primary   string
	secondary string
}

// Corrector rewrites misheard vocabulary words in transcript text. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	terms    []term
	lowerSet map[string]struct{}
}

// NewCorrector builds a corrector from the session vocabulary. Multi-word
// entries ("Meridian Bank") contribute each of their words. Words shorter
// than four runes are ignored.
func NewCorrector(vocabulary []string) *Corrector {
	c := &Corrector{lowerSet: make(map[string]struct{})}
	for _, entry := range vocabulary {
		for _, word := range strings.Fields(entry) {
			word = strings.TrimFunc(word, isTokenEdge)
			if len([]rune(word)) < minTokenRunes {
				continue
			}
			lower := strings.ToLower(word)
			if _, ok := c.lowerSet[lower]; ok {
				continue
			}
			c.lowerSet[lower] = struct{}{}
			p, s := matchr.DoubleMetaphone(lower)
			c.terms = append(c.terms, term{canonical: word, lower: lower, primary: p, secondary: s})
		}
	}
	return c
}

// Enabled reports whether the corrector has any vocabulary to match.
func (c *Corrector) Enabled() bool { return len(c.terms) > 0 }

// Correct returns text with misheard vocabulary tokens replaced, plus the
// list of replacements made. Surrounding punctuation is preserved; a token
// that already matches a vocabulary word is left alone.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if !c.Enabled() || strings.TrimSpace(text) == "" {
		return text, nil
	}

	fields := strings.Fields(text)
	var corrections []Correction
	for i, field := range fields {
		prefix, word, suffix := splitToken(field)
		if len([]rune(word)) < minTokenRunes {
			continue
		}
		lower := strings.ToLower(word)
		if _, ok := c.lowerSet[lower]; ok {
			continue
		}

		match, ok := c.match(lower)
		if !ok {
			continue
		}
		replacement := matchCase(match.canonical, word)
		fields[i] = prefix + replacement + suffix
		corrections = append(corrections, Correction{Original: word, Corrected: replacement})
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(fields, " "), corrections
}

// match finds the closest vocabulary word that shares a phonetic key with
// lower and sits within the edit-distance bound.
func (c *Corrector) match(lower string) (term, bool) {
	p, s := matchr.DoubleMetaphone(lower)

	var best term
	bestDist := maxEditDistance + 1
	for _, t := range c.terms {
		if !codesOverlap(p, s, t.primary, t.secondary) {
			continue
		}
		d := matchr.OSA(lower, t.lower)
		if d > 0 && d < bestDist {
			best, bestDist = t, d
		}
	}
	return best, bestDist <= maxEditDistance
}

// codesOverlap reports whether the two Double Metaphone code pairs share
// any non-empty code.
func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range [2]string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || (s2 != "" && a == s2) {
			return true
		}
	}
	return false
}

// splitToken separates a whitespace field into leading punctuation, the
// word itself, and trailing punctuation.
func splitToken(field string) (prefix, word, suffix string) {
	start := 0
	runes := []rune(field)
	for start < len(runes) && isTokenEdge(runes[start]) {
		start++
	}
	end := len(runes)
	for end > start && isTokenEdge(runes[end-1]) {
		end--
	}
	return string(runes[:start]), string(runes[start:end]), string(runes[end:])
}

func isTokenEdge(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// matchCase applies the heard token's case shape to the canonical word:
// an all-caps token keeps shouting, anything else takes the vocabulary
// casing.
func matchCase(canonical, heard string) string {
	if heard == strings.ToUpper(heard) && heard != strings.ToLower(heard) {
		return strings.ToUpper(canonical)
	}
	return canonical
}
