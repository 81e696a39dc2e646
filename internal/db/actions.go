package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dtnitsch/pagewatch/internal/common"
	"github.com/dtnitsch/pagewatch/models"
	dbpkg "github.com/dtnitsch/pagewatch/pkg/db"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

func PagesAddAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("Error: at least one URL is required", 1)
	}

	database, _, logger, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	mode, err := models.ParseRenderMode(c.String("mode"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	urls, invalid := common.SanitizeAndValidateURLs(c.Args().Slice())
	for _, u := range invalid {
		fmt.Fprintf(c.App.ErrWriter, "Skipping invalid URL: %s\n", u)
	}

	ctx := common.Context(c)
	for _, u := range urls {
		id, created, err := database.AddPage(ctx, u, mode)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", u, err)
		}
		status := "added"
		if !created {
			status = "already tracked (reactivated)"
		}
		logger.Debug("page added", "page_id", id, "url", u, "created", created)
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\n", id, u, status)
	}

	if len(invalid) > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func PagesListAction(c *cli.Context) error {
	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	pages, err := database.ListPages(common.Context(c), !c.Bool("all"))
	if err != nil {
		return err
	}

	if common.Structured(c) {
		return common.WriteOutput(c, pages)
	}
	if len(pages) == 0 {
		fmt.Fprintln(c.App.Writer, "No pages tracked. Add one with 'pagewatch pages add <url>'")
		return nil
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%-5s %-7s %-8s %-7s %-16s %s\n", "ID", "Active", "Mode", "Errors", "Last Checked", "URL")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, p := range pages {
		checked := "never"
		if p.LastCheckedAt != nil {
			checked = humanize.Time(*p.LastCheckedAt)
		}
		fmt.Fprintf(w, "%-5d %-7t %-8s %-7d %-16s %s\n", p.ID, p.Active, p.RenderMode, p.ErrorCount, checked, p.URL)
	}
	fmt.Fprintf(w, "\nTotal: %d pages\n", len(pages))
	return nil
}

type pageDetail struct {
	Page       *models.TrackedPage     `json:"page" yaml:"page"`
	LastAccess *dbpkg.AccessRecord     `json:"last_access,omitempty" yaml:"last_access,omitempty"`
	Changes    []models.ChangeLogEntry `json:"changes" yaml:"changes"`
}

// PagesShowAction prints one page with its last fetch and recent changes.
func PagesShowAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("Error: page id or URL is required", 1)
	}

	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := common.Context(c)
	page, err := ResolvePage(ctx, c.Args().First(), database)
	if errors.Is(err, dbpkg.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("Error: page %s not found", c.Args().First()), 1)
	}
	if err != nil {
		return err
	}

	detail := pageDetail{Page: page}
	if detail.LastAccess, err = database.GetLastAccess(ctx, page.ID); err != nil {
		return err
	}
	if detail.Changes, err = database.ListChanges(ctx, page.ID, c.Int("limit")); err != nil {
		return err
	}

	if common.Structured(c) {
		return common.WriteOutput(c, detail)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Page %d: %s\n", page.ID, page.URL)
	if page.Title != "" {
		fmt.Fprintf(w, "  Title:       %s\n", page.Title)
	}
	fmt.Fprintf(w, "  Active:      %t (%s)\n", page.Active, page.RenderMode)
	fmt.Fprintf(w, "  Errors:      %d\n", page.ErrorCount)
	fmt.Fprintf(w, "  Segments:    %d\n", len(page.LastSegments))
	if a := detail.LastAccess; a != nil {
		status := "ok"
		if !a.Success {
			status = "failed (" + a.ErrorType + ")"
		}
		fmt.Fprintf(w, "  Last fetch:  %s via %s, status %d, %s\n", humanize.Time(a.AccessedAt), a.Method, a.StatusCode, status)
	}
	if len(detail.Changes) == 0 {
		fmt.Fprintln(w, "  No changes recorded")
		return nil
	}
	fmt.Fprintln(w, "  Changes:")
	for _, ch := range detail.Changes {
		fmt.Fprintf(w, "    #%d %s (%s)\n", ch.ID, humanize.Time(ch.CreatedAt), humanize.Bytes(uint64(len(ch.Findings))))
	}
	return nil
}

// PagesSetActiveAction returns the action for activate or deactivate.
func PagesSetActiveAction(active bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.Exit("Error: page id or URL is required", 1)
		}

		database, _, _, err := common.OpenDB(c)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := common.Context(c)
		page, err := ResolvePage(ctx, c.Args().First(), database)
		if errors.Is(err, dbpkg.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("Error: page %s not found", c.Args().First()), 1)
		}
		if err != nil {
			return err
		}

		if err := database.SetPageActive(ctx, page.ID, active); err != nil {
			return err
		}
		state := "deactivated"
		if active {
			state = "activated"
		}
		fmt.Fprintf(c.App.Writer, "Page %d %s: %s\n", page.ID, state, page.URL)
		return nil
	}
}

func EventsListAction(c *cli.Context) error {
	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := common.Context(c)
	var events []models.Event
	if c.IsSet("page") {
		page, err := ResolvePage(ctx, c.String("page"), database)
		if err != nil {
			return err
		}
		events, err = database.ListEvents(ctx, page.ID, c.Int("limit"))
		if err != nil {
			return err
		}
	} else {
		today := time.Now().Format("2006-01-02")
		events, err = database.ListPendingEvents(ctx, today, c.Int("limit"))
		if err != nil {
			return err
		}
	}

	if common.Structured(c) {
		return common.WriteOutput(c, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(c.App.Writer, "No upcoming events found")
		return nil
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%-6s %-11s %-8s %-40s %s\n", "ID", "Date", "Type", "Title", "Link")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, e := range events {
		date := e.DateISO
		if date == "" {
			date = "TBA"
		}
		fmt.Fprintf(w, "%-6d %-11s %-8s %-40s %s\n", e.ID, date, e.Kind, truncate(e.Title, 40), e.SourceLink)
	}
	fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
	return nil
}

func EventsSuspectsAction(c *cli.Context) error {
	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	suspects, err := database.ListDuplicateSuspects(common.Context(c), c.Int("limit"))
	if err != nil {
		return err
	}

	if common.Structured(c) {
		return common.WriteOutput(c, suspects)
	}
	if len(suspects) == 0 {
		fmt.Fprintln(c.App.Writer, "No duplicate suspects recorded")
		return nil
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%-6s %-11s %-35s %-35s %-5s %s\n", "Event", "Date", "Suppressed", "Matched", "Sim", "Seen")
	fmt.Fprintln(w, strings.Repeat("-", 116))
	for _, s := range suspects {
		fmt.Fprintf(w, "%-6d %-11s %-35s %-35s %-5.2f %s\n", s.EventID, s.DateISO,
			truncate(s.Title, 35), truncate(s.EventTitle, 35), s.Similarity, humanize.Time(s.CreatedAt))
	}
	return nil
}

func EventsDeleteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("Error: event id is required", 1)
	}
	id, err := ParseID(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.DeleteEvent(common.Context(c), id); err != nil {
		if errors.Is(err, dbpkg.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("Error: event %d not found", id), 1)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "Event %d deleted\n", id)
	return nil
}

func SettingsGetAction(c *cli.Context) error {
	database, cfg, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	key := models.SettingLanguage
	if c.NArg() > 0 {
		key = c.Args().First()
	}
	def := ""
	if key == models.SettingLanguage {
		def = cfg.Run.Language
	}

	value, err := database.GetSetting(common.Context(c), key, def)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s=%s\n", key, value)
	return nil
}

func SettingsSetAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("Usage: pagewatch settings set <key> <value>", 1)
	}

	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	key, value := c.Args().Get(0), c.Args().Get(1)
	if key == models.SettingLanguage {
		value = strings.ToUpper(strings.TrimSpace(value))
	}
	if err := database.SetSetting(common.Context(c), key, value); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s=%s\n", key, value)
	return nil
}

func TelemetryAction(c *cli.Context) error {
	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListTelemetry(common.Context(c), c.Int("limit"))
	if err != nil {
		return err
	}

	if common.Structured(c) {
		return common.WriteOutput(c, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.App.Writer, "No runs recorded")
		return nil
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%-16s %-6s %-8s %-6s %-7s %-7s %s\n", "When", "Pages", "Changes", "Calls", "Notify", "Errors", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, t := range runs {
		fmt.Fprintf(w, "%-16s %-6d %-8d %-6d %-7d %-7d %s\n",
			humanize.Time(t.CreatedAt), t.PagesChecked, t.ChangesFound, t.ExtractionCalls,
			t.NotificationsSent, t.Errors, time.Duration(t.DurationMs)*time.Millisecond)
	}
	return nil
}

func DiscoveriesAction(c *cli.Context) error {
	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	found, err := database.ListDiscoveredURLs(common.Context(c), c.Int("limit"))
	if err != nil {
		return err
	}

	if common.Structured(c) {
		return common.WriteOutput(c, found)
	}
	if len(found) == 0 {
		fmt.Fprintln(c.App.Writer, "No discovered sites yet")
		return nil
	}

	w := c.App.Writer
	for _, d := range found {
		fmt.Fprintf(w, "%d. %s (%s)\n", d.ID, d.URL, humanize.Time(d.CreatedAt))
		if d.Title != "" {
			fmt.Fprintf(w, "   %s\n", d.Title)
		}
		if d.Reason != "" {
			fmt.Fprintf(w, "   %s\n", d.Reason)
		}
	}
	fmt.Fprintf(w, "\nTip: Use 'pagewatch pages add <url>' to start tracking a site\n")
	return nil
}

func ErrorsAction(c *cli.Context) error {
	database, _, _, err := common.OpenDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := database.ListErrors(common.Context(c), c.Int("limit"))
	if err != nil {
		return err
	}

	if common.Structured(c) {
		return common.WriteOutput(c, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.App.Writer, "No errors recorded")
		return nil
	}

	w := c.App.Writer
	for _, e := range entries {
		page := "-"
		if e.PageID != nil {
			page = fmt.Sprintf("%d", *e.PageID)
		}
		fmt.Fprintf(w, "%-16s page=%-5s %-8s %-12s %s\n", humanize.Time(e.CreatedAt), page, e.Level, e.Kind, e.Message)
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
