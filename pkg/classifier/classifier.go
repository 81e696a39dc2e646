// Package classifier decides whether a page changed enough to be worth an
// extraction call.
package classifier

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/dtnitsch/pagewatch/pkg/textsim"
)

// DefaultThreshold is the Jaccard similarity above which a changed page
// counts as cosmetically edited.
const DefaultThreshold = 0.92

// State is the outcome of a classification.
type State string

const (
	StateIdentical     State = "identical"
	StateInsignificant State = "insignificant"
	StateSignificant   State = "significant"
)

// importantPatterns catch the facts a reader cares about: dates, prices,
// registration and availability. Any difference in their matches makes a
// change significant regardless of overall similarity.
var importantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}`),
	regexp.MustCompile(`\d{4}[/.\-]\d{1,2}[/.\-]\d{1,2}`),
	regexp.MustCompile(`€\s?\d+[\d\s,.]*`),
	regexp.MustCompile(`\$\s?\d+[\d\s,.]*`),
	regexp.MustCompile(`(?i)\d+\s?EUR\b`),
	regexp.MustCompile(`(?i)\b(registration|enroll|sign\s?up|book\s?now)\b`),
	regexp.MustCompile(`(?i)\b(sold\s?out|cancelled|canceled|postponed|full)\b`),
}

// Snapshot is the persisted state of a page at one check.
type Snapshot struct {
	Fingerprint string
	Segments    []string
}

// Decision explains a classification.
type Decision struct {
	HasChange    bool    `json:"has_change"`
	State        State   `json:"state"`
	Similarity   float64 `json:"similarity"`
	PatternDelta bool    `json:"pattern_delta"`
	Reason       string  `json:"reason"`
}

type Classifier struct {
	threshold float64
}

// New returns a classifier; a non-positive threshold means DefaultThreshold.
func New(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Classify compares the previous snapshot of a page with the current one.
func (c *Classifier) Classify(prev, next Snapshot) Decision {
	if prev.Fingerprint != "" && prev.Fingerprint == next.Fingerprint {
		return Decision{State: StateIdentical, Similarity: 1, Reason: "fingerprint unchanged"}
	}

	if prev.Fingerprint == "" && len(prev.Segments) == 0 {
		return Decision{HasChange: true, State: StateSignificant, Reason: "first snapshot"}
	}

	oldText := strings.Join(prev.Segments, " ")
	newText := strings.Join(next.Segments, " ")

	if pattern, changed := ImportantDelta(oldText, newText); changed {
		return Decision{
			HasChange:    true,
			State:        StateSignificant,
			Similarity:   textsim.Jaccard(oldText, newText),
			PatternDelta: true,
			Reason:       fmt.Sprintf("important pattern changed: %s", pattern),
		}
	}

	similarity := textsim.Jaccard(oldText, newText)
	if similarity > c.threshold {
		return Decision{
			State:      StateInsignificant,
			Similarity: similarity,
			Reason:     fmt.Sprintf("similarity %.3f above %.2f", similarity, c.threshold),
		}
	}

	return Decision{
		HasChange:  true,
		State:      StateSignificant,
		Similarity: similarity,
		Reason:     fmt.Sprintf("similarity %.3f at or below %.2f", similarity, c.threshold),
	}
}

// ImportantDelta reports the first important pattern whose sorted matches
// differ between the two texts.
func ImportantDelta(oldText, newText string) (string, bool) {
	for _, re := range importantPatterns {
		if !slices.Equal(matches(re, oldText), matches(re, newText)) {
			return re.String(), true
		}
	}
	return "", false
}

func matches(re *regexp.Regexp, text string) []string {
	found := re.FindAllString(text, -1)
	for i := range found {
		found[i] = strings.ToLower(strings.TrimSpace(found[i]))
	}
	slices.Sort(found)
	return found
}
