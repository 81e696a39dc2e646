// Package segmenter turns page text into ordered, de-noised text blocks
// that can be fingerprinted and compared between runs.
package segmenter

import (
	"bufio"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinSegmentLength is the shortest chunk, in characters, kept as content.
const MinSegmentLength = 20

// noisePatterns match boilerplate phrases that change independently of the
// page's real content.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(we|this (site|website)) uses? cookies\b[^.!?]*`),
	regexp.MustCompile(`(?i)\baccept (all )?cookies\b`),
	regexp.MustCompile(`(?i)\bcookie (policy|settings|preferences|consent)\b`),
	regexp.MustCompile(`(?i)(©|\(c\)|\bcopyright\b)\s*\d{0,4}`),
	regexp.MustCompile(`(?i)\ball rights reserved\b`),
	regexp.MustCompile(`(?i)\bsubscribe to (our|the) newsletter\b[^.!?]*`),
	regexp.MustCompile(`(?i)\bsign up for (our|the) newsletter\b[^.!?]*`),
	regexp.MustCompile(`(?i)\bprivacy policy\b`),
	regexp.MustCompile(`(?i)\bterms (of (use|service)|and conditions)\b`),
	regexp.MustCompile(`(?i)^\s*(skip to (main )?content|back to top)\s*$`),
	regexp.MustCompile(`(?i)\bfollow us on\b[^.!?]*`),
}

// Segment splits text into paragraph-level chunks. Output order is the order
// in which each distinct chunk first appears, so identical input always
// produces an identical sequence.
func Segment(text string) []string {
	segments := []string{}
	if strings.TrimSpace(text) == "" {
		return segments
	}

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(stripControl(text)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		chunk := normalizeWhitespace(scanner.Text())
		if utf8.RuneCountInString(chunk) < MinSegmentLength {
			continue
		}
		if isNoise(chunk) {
			continue
		}
		if _, ok := seen[chunk]; ok {
			continue
		}
		seen[chunk] = struct{}{}
		segments = append(segments, chunk)
	}
	return segments
}

// isNoise reports whether a chunk is mostly boilerplate. A chunk that only
// mentions a boilerplate phrase is kept when enough text remains once the
// phrases are cut out.
func isNoise(chunk string) bool {
	rest, matched := chunk, false
	for _, re := range noisePatterns {
		if re.MatchString(rest) {
			matched = true
			rest = re.ReplaceAllString(rest, " ")
		}
	}
	if !matched {
		return false
	}
	n := utf8.RuneCountInString(normalizeWhitespace(rest))
	return n < MinSegmentLength || 2*n < utf8.RuneCountInString(chunk)
}

// stripControl drops control characters except line breaks and tabs, and
// replaces invalid UTF-8 with nothing.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r == utf8.RuneError:
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

func normalizeWhitespace(line string) string {
	return strings.Join(strings.Fields(line), " ")
}
