// Package textsim holds the lexical similarity measures shared by the
// change classifier and the event dedup index.
package textsim

import (
	"strings"
	"unicode/utf8"

	"github.com/xrash/smetrics"
)

// MinWordLength is the shortest word, exclusive, that counts for Jaccard.
const MinWordLength = 3

// Words returns the set of lower-cased whitespace-separated words longer
// than MinWordLength characters.
func Words(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if utf8.RuneCountInString(w) > MinWordLength {
			set[w] = struct{}{}
		}
	}
	return set
}

// Jaccard is |A∩B| / |A∪B| over Words(a) and Words(b). Two texts with no
// qualifying words are considered identical.
func Jaccard(a, b string) float64 {
	wa, wb := Words(a), Words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}

	intersection := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			intersection++
		}
	}
	union := len(wa) + len(wb) - intersection
	return float64(intersection) / float64(union)
}

// TitleSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)) on the
// lower-cased, trimmed titles.
func TitleSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1
	}
	distance := smetrics.WagnerFischer(a, b, 1, 1, 1)
	return 1 - float64(distance)/float64(maxLen)
}

// TitlesMatch reports whether two titles name the same thing: either one
// contains the other (case-insensitive), or their similarity exceeds threshold.
func TitlesMatch(a, b string, threshold float64) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}
	return TitleSimilarity(la, lb) > threshold
}
