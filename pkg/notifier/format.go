package notifier

import (
	"fmt"
	"html"
	"strings"

	"github.com/dtnitsch/pagewatch/models"
)

const maxListedDiscoveries = 5

// FormatEvents renders the new-events message for one page.
func FormatEvents(sourceURL string, events []models.Event) string {
	var b strings.Builder
	b.WriteString("🚨 <b>New Events Found!</b>\n\n")
	for _, e := range events {
		writeEvent(&b, e, true)
	}
	fmt.Fprintf(&b, "Source: %s", html.EscapeString(sourceURL))
	return b.String()
}

// FormatDiscoveries renders the message for newly discovered sites.
func FormatDiscoveries(sourceURL string, newCount int, found []models.DiscoveredURL) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 <b>Discovered %d new site(s) from %s!</b>\n\n", newCount, html.EscapeString(sourceURL))
	for i, d := range found {
		if i == maxListedDiscoveries {
			break
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := d.Title
		if title == "" {
			title = d.URL
		}
		fmt.Fprintf(&b, "• %s\n  %s", html.EscapeString(title), html.EscapeString(d.Reason))
	}
	b.WriteString("\n\nUse the discoveries command to review and add them.")
	return b.String()
}

// FormatUpcoming renders the pending events list.
func FormatUpcoming(events []models.Event) string {
	if len(events) == 0 {
		return "📅 No upcoming events found."
	}
	var b strings.Builder
	b.WriteString("📅 <b>Upcoming Events:</b>\n\n")
	for _, e := range events {
		writeEvent(&b, e, false)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPages renders the tracked pages list.
func FormatPages(pages []models.TrackedPage) string {
	if len(pages) == 0 {
		return "📋 <b>Monitored Sites:</b>\n\nNo sites yet"
	}
	var b strings.Builder
	b.WriteString("📋 <b>Monitored Sites:</b>\n\n")
	for i, p := range pages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, html.EscapeString(p.URL))
	}
	return strings.TrimRight(b.String(), "\n")
}

// HelpText lists the bot commands.
func HelpText() string {
	return "<b>pagewatch</b>\n\n" +
		"Commands:\n" +
		"/list - Show monitored sites\n" +
		"/events - Show upcoming events\n" +
		"/run - Check all sites now\n" +
		"/help - This message"
}

func writeEvent(b *strings.Builder, e models.Event, detailed bool) {
	fmt.Fprintf(b, "<b>%s</b>\n", html.EscapeString(e.Title))
	if e.DateISO != "" {
		fmt.Fprintf(b, "📅 %s\n", e.DateISO)
	}
	if detailed && e.Location != "" {
		fmt.Fprintf(b, "📍 %s\n", html.EscapeString(e.Location))
	}
	if detailed && e.PriceInfo != "" {
		fmt.Fprintf(b, "💰 %s\n", html.EscapeString(e.PriceInfo))
	}
	if e.Summary != "" {
		fmt.Fprintf(b, "%s\n", html.EscapeString(e.Summary))
	}
	if detailed && e.SourceLink != "" {
		fmt.Fprintf(b, "🔗 <a href=\"%s\">More Info</a>\n", html.EscapeString(e.SourceLink))
	}
	b.WriteString("\n")
}
