package session

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hotseat/pkg/provider/llm"
)

const (
	// windowSoftLimit bounds the rendered prompt block in bytes. Over the
	// limit, old verbatim speech degrades to its key claims.
	windowSoftLimit = 8 * 1024

	// verbatimMaxAge is how long a segment stays in the verbatim view once
	// the window is over its soft limit.
	verbatimMaxAge = 5 * time.Minute

	// maxKeyClaims caps the key-claim list; oldest are dropped first.
	maxKeyClaims = 20

	// slideSummaryRunes caps each slide's speaker-note summary.
	slideSummaryRunes = 500
)

// keyClaimPatterns mark sentences worth keeping verbatim even after the
// window compresses: numbers, money, multipliers and forward-looking verbs.
var keyClaimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+%`),
	regexp.MustCompile(`\$[\d,.]+`),
	regexp.MustCompile(`(?i)\d+[BMK]\b`),
	regexp.MustCompile(`(?i)\d+x\b`),
	regexp.MustCompile(`(?i)will\s+\w+`),
	regexp.MustCompile(`(?i)expect\w*`),
	regexp.MustCompile(`(?i)project\w*`),
	regexp.MustCompile(`(?i)target\w*`),
}

// timedSegment pairs a segment with its ingestion instant for age-based
// compression.
type timedSegment struct {
	Segment
	addedAt time.Time
}

// Window is the bounded memory of presenter speech that feeds agent
// prompts: recent verbatim segments, per-slide history, slide-note
// summaries and a rolling key-claim list. Safe for concurrent use.
type Window struct {
	mu sync.Mutex

	now   func() time.Time
	notes map[int]string

	current   int
	slides    map[int][]Segment
	recent    []timedSegment
	keyClaims []string

	segmentsTotal int
	wordsTotal    int
}

// WindowOption configures a [Window].
type WindowOption func(*Window)

// WithWindowClock injects the clock used to stamp added segments.
func WithWindowClock(now func() time.Time) WindowOption {
	return func(w *Window) { w.now = now }
}

// NewWindow creates a window. notes maps slide index to the deck's speaker
// notes, rendered (truncated) as per-slide summaries for visited slides.
func NewWindow(notes map[int]string, opts ...WindowOption) *Window {
	w := &Window{
		now:    time.Now,
		notes:  notes,
		slides: make(map[int][]Segment),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddSegment appends a final transcript segment to the current slide's
// history and the recency list, updates counters, and records any key-claim
// sentences.
func (w *Window) AddSegment(seg Segment) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.slides[w.current] = append(w.slides[w.current], seg)
	w.recent = append(w.recent, timedSegment{Segment: seg, addedAt: w.now()})
	w.segmentsTotal++
	w.wordsTotal += len(strings.Fields(seg.Text))

	for _, sentence := range llm.SplitSentences(seg.Text) {
		if isKeyClaim(sentence) {
			w.keyClaims = append(w.keyClaims, sentence)
		}
	}
	if n := len(w.keyClaims) - maxKeyClaims; n > 0 {
		w.keyClaims = w.keyClaims[n:]
	}
}

func isKeyClaim(sentence string) bool {
	for _, p := range keyClaimPatterns {
		if p.MatchString(sentence) {
			return true
		}
	}
	return false
}

// SetSlide switches the current slide. Prior slides keep their history.
func (w *Window) SetSlide(idx int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = idx
	if _, ok := w.slides[idx]; !ok {
		w.slides[idx] = nil
	}
}

// CurrentSlide returns the slide the presenter is on.
func (w *Window) CurrentSlide() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SegmentsTotal returns how many segments have been added.
func (w *Window) SegmentsTotal() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentsTotal
}

// WordsTotal returns how many presenter words have been heard.
func (w *Window) WordsTotal() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wordsTotal
}

// KeyClaims returns a copy of the rolling key-claim list, oldest first.
func (w *Window) KeyClaims() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.keyClaims))
	copy(out, w.keyClaims)
	return out
}

// SlideSpeech returns the joined presenter speech recorded on slide idx.
func (w *Window) SlideSpeech(idx int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	segs := w.slides[idx]
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// Render produces the prompt block: recent verbatim speech (newest last),
// slide-note summaries for visited slides, then the key-claim list. When
// the block exceeds the soft limit, segments older than five minutes leave
// the verbatim view (their key claims remain); if that is not enough, the
// oldest remaining segments are trimmed until the block fits.
func (w *Window) Render(now time.Time) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.renderLocked(w.recent)
	if len(out) <= windowSoftLimit {
		return out
	}

	cutoff := now.Add(-verbatimMaxAge)
	kept := make([]timedSegment, 0, len(w.recent))
	for _, ts := range w.recent {
		if ts.addedAt.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	out = w.renderLocked(kept)
	for len(out) > windowSoftLimit && len(kept) > 0 {
		kept = kept[1:]
		out = w.renderLocked(kept)
	}
	return out
}

func (w *Window) renderLocked(verbatim []timedSegment) string {
	var b strings.Builder

	if len(verbatim) > 0 {
		b.WriteString("## Recent presenter speech\n")
		for _, ts := range verbatim {
			fmt.Fprintf(&b, "[slide %d] %s\n", ts.SlideIndex, ts.Text)
		}
	}

	if summaries := w.renderSummariesLocked(); summaries != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(summaries)
	}

	if len(w.keyClaims) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Key claims so far\n")
		for _, c := range w.keyClaims {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	return b.String()
}

func (w *Window) renderSummariesLocked() string {
	visited := make([]int, 0, len(w.slides))
	for idx := range w.slides {
		if w.notes[idx] != "" {
			visited = append(visited, idx)
		}
	}
	if len(visited) == 0 {
		return ""
	}
	sort.Ints(visited)

	var b strings.Builder
	b.WriteString("## Slide notes\n")
	for _, idx := range visited {
		fmt.Fprintf(&b, "Slide %d: %s\n", idx, truncateRunes(w.notes[idx], slideSummaryRunes))
	}
	return b.String()
}

// truncateRunes shortens s to at most max runes, marking the cut with an
// ellipsis.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
