// Package detector derives cheap signals from fetched pages: whether static
// HTML carries enough content to skip the browser, and which language the
// page text is written in.
package detector

import (
	"bytes"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	lingua "github.com/pemistahl/lingua-go"
)

// DefaultMinHTMLBytes is the smallest static response considered usable.
const DefaultMinHTMLBytes = 500

const (
	minVisibleText = 200
	minTextRatio   = 0.10
)

// spaShells are mount points that stay empty until JavaScript runs.
var spaShells = []string{"#root", "#app", "#__next", "#__nuxt", "[data-reactroot]"}

// Sufficiency explains a Sufficient decision.
type Sufficiency struct {
	OK          bool    `json:"ok"`
	Reason      string  `json:"reason,omitempty"`
	VisibleText int     `json:"visible_text"`
	TextRatio   float64 `json:"text_ratio"`
}

// Sufficient reports whether static HTML is worth parsing or the page
// should be rendered in a browser instead.
func Sufficient(html []byte, minBytes int) Sufficiency {
	if minBytes <= 0 {
		minBytes = DefaultMinHTMLBytes
	}
	if len(html) < minBytes {
		return Sufficiency{Reason: "html too short"}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Sufficiency{Reason: "unparseable html"}
	}

	doc.Find("script,style,noscript,template").Remove()
	body := doc.Find("body")
	text := countVisible(body.Text())
	ratio := float64(text) / float64(len(html))
	s := Sufficiency{VisibleText: text, TextRatio: ratio}

	for _, sel := range spaShells {
		if shell := body.Find(sel); shell.Length() > 0 && strings.TrimSpace(shell.Text()) == "" {
			s.Reason = "empty app shell " + sel
			return s
		}
	}
	if text < minVisibleText {
		s.Reason = "too little visible text"
		return s
	}
	if ratio < minTextRatio {
		s.Reason = "mostly markup"
		return s
	}

	s.OK = true
	return s
}

func countVisible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// maxSample bounds the text handed to the language models.
const maxSample = 4000

var (
	detectorOnce sync.Once
	langDetector lingua.LanguageDetector
)

// Language is a detected page language.
type Language struct {
	Code string `json:"code"` // ISO 639-1, lower case
	Name string `json:"name"` // e.g. "FINNISH"
}

// DetectLanguage guesses the language of text. ok is false when the sample
// is too short or no language is confident enough.
func DetectLanguage(text string) (Language, bool) {
	sample := strings.TrimSpace(text)
	if len(sample) > maxSample {
		cut := maxSample
		for cut > 0 && !utf8.RuneStart(sample[cut]) {
			cut--
		}
		sample = sample[:cut]
	}

	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 20 {
		return Language{}, false
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return Language{}, false
	}

	return Language{
		Code: strings.ToLower(language.IsoCode639_1().String()),
		Name: strings.ToUpper(language.String()),
	}, true
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		// Models load lazily; a run usually sees a handful of languages.
		langDetector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return langDetector
}
