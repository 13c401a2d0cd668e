package llm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations are tokens that end with a period without terminating a
// sentence. Matched case-insensitively against the final word before a
// period, with interior periods removed ("e.g." matches "eg").
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
	"sr": {}, "jr": {}, "st": {}, "vs": {}, "etc": {},
	"inc": {}, "ltd": {}, "corp": {}, "co": {}, "dept": {},
	"div": {}, "est": {}, "approx": {}, "min": {}, "max": {},
	"no": {}, "vol": {}, "pp": {}, "fig": {}, "ref": {},
	"ca": {}, "al": {}, "eg": {}, "ie": {},
	"qtr": {}, "fy": {}, "q1": {}, "q2": {}, "q3": {}, "q4": {},
}

// minFragmentRunes is the threshold below which a split piece is merged with
// its neighbour instead of standing as its own sentence.
const minFragmentRunes = 10

// SplitSentences splits text into sentences for per-sentence speech synthesis.
//
// A sentence ends at '.', '?' or '!' followed by whitespace or end-of-text,
// except when the preceding word is a known abbreviation ("Dr.", "approx.",
// "Q3."). Fragments shorter than 10 runes are merged with the adjacent
// sentence. Joining the result with single spaces reproduces the input up to
// whitespace.
func SplitSentences(text string) []string {
	var pieces []string
	var cur strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && endsWithAbbreviation(cur.String()) {
			continue
		}
		if s := strings.TrimSpace(cur.String()); s != "" {
			pieces = append(pieces, s)
		}
		cur.Reset()
	}
	if tail := strings.TrimSpace(cur.String()); tail != "" {
		pieces = append(pieces, tail)
	}

	return mergeFragments(pieces)
}

// endsWithAbbreviation reports whether the final whitespace-delimited word of
// s (which ends with a period) is a known abbreviation.
func endsWithAbbreviation(s string) bool {
	s = strings.TrimRight(s, " \t\n")
	idx := strings.LastIndexFunc(s, unicode.IsSpace)
	word := s[idx+1:]
	word = strings.ToLower(strings.ReplaceAll(word, ".", ""))
	if word == "" {
		return false
	}
	_, ok := abbreviations[word]
	return ok
}

// mergeFragments folds pieces shorter than minFragmentRunes into their
// neighbour: backward when a previous sentence exists, forward for a short
// leading piece.
func mergeFragments(pieces []string) []string {
	if len(pieces) <= 1 {
		return pieces
	}
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if len(out) > 0 && utf8.RuneCountInString(p) < minFragmentRunes {
			out[len(out)-1] += " " + p
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && utf8.RuneCountInString(out[0]) < minFragmentRunes {
		out[1] = out[0] + " " + out[1]
		out = out[1:]
	}
	return out
}
