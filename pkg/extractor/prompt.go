package extractor

import (
	"strings"
)

const analysisPrompt = `You are analyzing the content of a website that publishes events, courses, workshops, offers and news.

Current date: {{DATE}}
Source URL: {{URL}}
Source language: {{SOURCE_LANGUAGE}}

Write every text field of your answer in {{LANGUAGE}}, translating when the page uses another language.

Tasks:
1. Classify the site in a short site_category (for example "Wellness center", "Yoga studio", "Sauna club").
2. List every upcoming event, course, workshop, special offer or announcement in future_events.
3. List items whose date is before the current date in past_events.
4. Add short insights about the site and its activity.

For each item return:
- title: exact name of the item
- type: one of EVENT, COURSE, WORKSHOP, OFFER, NEWS
- summary: at least 30 words describing what it is, who it is for and what to expect
- price: the price as written on the page, or empty
- price_info: "Free", "Paid" or "Contact for pricing"
- location: venue or city, or "See website"
- registration_info: "Open", "Sold Out", "Closed" or empty
- date_iso: the start date as YYYY-MM-DD, or null when no exact date is given
- date_text: the date as written on the page, or "Date TBA"
- is_past: true when the date is before the current date
- link: the most specific URL for the item, or null

Answer with JSON only, no commentary, in exactly this format:
{
  "site_category": "string",
  "future_events": [
    {"title": "", "type": "EVENT", "summary": "", "price": "", "price_info": "", "location": "", "registration_info": "", "date_iso": null, "date_text": "", "is_past": false, "link": null}
  ],
  "past_events": [],
  "insights": ["string"]
}

Page content:`

const linkFilterPrompt = `You are selecting links worth watching for new events.

Source page: {{URL}}

Below is a JSON array of links found on the source page, each with href and text.
Keep only links that point to other organizations, venues or sites likely to publish their own events, courses or offers.
Skip social networks, login pages, legal pages, shops, news articles and links back to the same site.

Answer with a JSON array only, in this format:
[{"href": "https://...", "title": "short name of the site", "reason": "why it is relevant"}]

Return [] when nothing qualifies.

Links:`

// BuildAnalysisPrompt fills the analysis template.
func BuildAnalysisPrompt(url, date, language, sourceLanguage string) string {
	if sourceLanguage == "" {
		sourceLanguage = "unknown"
	}
	r := strings.NewReplacer(
		"{{DATE}}", date,
		"{{URL}}", url,
		"{{LANGUAGE}}", language,
		"{{SOURCE_LANGUAGE}}", sourceLanguage,
	)
	return r.Replace(analysisPrompt)
}

// BuildLinkFilterPrompt fills the link filter template.
func BuildLinkFilterPrompt(url string) string {
	return strings.ReplaceAll(linkFilterPrompt, "{{URL}}", url)
}
