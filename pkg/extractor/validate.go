package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/dtnitsch/pagewatch/models"
)

const (
	defaultPriceInfo    = "Contact for pricing"
	defaultLocation     = "See website"
	defaultDateText     = "Date TBA"
	defaultSiteCategory = "Unknown"
	failedSiteCategory  = "Analysis failed"
)

var kindLabels = map[string]string{
	models.KindEvent:    "Event",
	models.KindCourse:   "Training course",
	models.KindWorkshop: "Workshop",
	models.KindOffer:    "Special offer",
	models.KindNews:     "Announcement",
}

// validateFinding repairs one untrusted finding. ok is false when the
// finding has no title and must be dropped.
func validateFinding(raw map[string]any, pageURL string, minSummaryWords int) (models.Finding, bool) {
	f := models.Finding{
		Title:        stringField(raw["title"]),
		Kind:         strings.ToUpper(stringField(raw["type"])),
		Summary:      stringField(raw["summary"]),
		Price:        stringField(raw["price"]),
		PriceInfo:    stringField(raw["price_info"]),
		Location:     stringField(raw["location"]),
		Registration: stringField(raw["registration_info"]),
		DateISO:      normalizeDate(stringField(raw["date_iso"])),
		DateText:     stringField(raw["date_text"]),
		IsPast:       boolField(raw["is_past"]),
		Link:         resolveLink(stringField(raw["link"]), pageURL),
	}
	if f.Title == "" {
		return models.Finding{}, false
	}

	if _, known := kindLabels[f.Kind]; !known {
		f.Kind = models.KindEvent
	}
	if f.PriceInfo == "" {
		f.PriceInfo = defaultPriceInfo
	}
	if f.Location == "" {
		f.Location = defaultLocation
	}
	if f.DateText == "" {
		f.DateText = defaultDateText
	}
	if len(strings.Fields(f.Summary)) < minSummaryWords {
		f.Summary = buildEnhancedSummary(f)
	}
	return f, true
}

// normalizeDate returns YYYY-MM-DD, or "" when the value is not a date.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// resolveLink falls back to the page URL and makes relative links absolute.
func resolveLink(link, pageURL string) string {
	if link == "" {
		return pageURL
	}
	ref, err := url.Parse(link)
	if err != nil {
		return pageURL
	}
	if ref.IsAbs() {
		return link
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

// buildEnhancedSummary writes a summary from the structured fields when the
// model's own summary is too thin to be useful.
func buildEnhancedSummary(f models.Finding) string {
	label, ok := kindLabels[f.Kind]
	if !ok {
		label = kindLabels[models.KindEvent]
	}

	parts := []string{fmt.Sprintf(`%s: "%s".`, label, f.Title)}
	if f.Location != "" && f.Location != defaultLocation {
		parts = append(parts, fmt.Sprintf("Taking place in %s.", f.Location))
	}
	if f.DateText != "" && f.DateText != defaultDateText {
		parts = append(parts, fmt.Sprintf("Scheduled for %s.", f.DateText))
	}
	switch {
	case f.PriceInfo == "Free":
		parts = append(parts, "This is a free event.")
	case f.Price != "":
		parts = append(parts, fmt.Sprintf("Price: %s.", f.Price))
	}

	reg := strings.ToLower(f.Registration)
	switch {
	case strings.Contains(reg, "sold out"):
		parts = append(parts, "Currently sold out - check for waitlist.")
	case strings.Contains(reg, "open"):
		parts = append(parts, "Registration is currently open.")
	}

	parts = append(parts, "Visit the source link for complete details and registration.")
	return strings.Join(parts, " ")
}

// finalize validates every finding and fills the envelope defaults.
func finalize(raw *rawAnalysis, pageURL string, minSummaryWords int) *models.Analysis {
	a := &models.Analysis{
		SiteCategory: raw.SiteCategory,
		FutureEvents: []models.Finding{},
		PastEvents:   []models.Finding{},
		Insights:     raw.Insights,
	}
	if a.SiteCategory == "" {
		a.SiteCategory = defaultSiteCategory
	}
	for _, r := range raw.FutureEvents {
		if f, ok := validateFinding(r, pageURL, minSummaryWords); ok {
			a.FutureEvents = append(a.FutureEvents, f)
		}
	}
	for _, r := range raw.PastEvents {
		if f, ok := validateFinding(r, pageURL, minSummaryWords); ok {
			f.IsPast = true
			a.PastEvents = append(a.PastEvents, f)
		}
	}
	if len(a.Insights) == 0 {
		a.Insights = []string{
			fmt.Sprintf("Analyzed content from %s", pageURL),
			fmt.Sprintf("Found %d upcoming and %d past events", len(a.FutureEvents), len(a.PastEvents)),
		}
	}
	return a
}

func degraded(pageURL string, err error) *models.Analysis {
	return &models.Analysis{
		SiteCategory: failedSiteCategory,
		FutureEvents: []models.Finding{},
		PastEvents:   []models.Finding{},
		Insights:     []string{fmt.Sprintf("Error analyzing %s: %v", pageURL, err)},
		Degraded:     true,
	}
}
