package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/pagewatch/internal/common"
	"github.com/dtnitsch/pagewatch/internal/db"
	dbpkg "github.com/dtnitsch/pagewatch/pkg/db"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

// RunAction checks every active page once.
func RunAction(c *cli.Context) error {
	app, err := common.NewApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	tel, runErr := app.Runner.Run(common.Context(c))
	if tel == nil {
		return runErr
	}

	if common.Structured(c) {
		if err := common.WriteOutput(c, tel); err != nil {
			return err
		}
	} else {
		w := c.App.Writer
		fmt.Fprintf(w, "Run %s finished in %s\n", tel.RunID, time.Duration(tel.DurationMs)*time.Millisecond)
		fmt.Fprintf(w, "  Pages checked:      %s\n", humanize.Comma(int64(tel.PagesChecked)))
		fmt.Fprintf(w, "  New findings:       %s\n", humanize.Comma(int64(tel.ChangesFound)))
		fmt.Fprintf(w, "  Extraction calls:   %s\n", humanize.Comma(int64(tel.ExtractionCalls)))
		fmt.Fprintf(w, "  Notifications sent: %s\n", humanize.Comma(int64(tel.NotificationsSent)))
		fmt.Fprintf(w, "  Errors:             %s\n", humanize.Comma(int64(tel.Errors)))
	}
	return runErr
}

// RunPageAction checks one page, identified by id or URL, outside a run.
func RunPageAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("Error: page id or URL is required", 1)
	}

	app, err := common.NewApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := common.Context(c)
	page, err := db.ResolvePage(ctx, c.Args().First(), app.DB)
	if errors.Is(err, dbpkg.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("Error: page %s not found", c.Args().First()), 1)
	}
	if err != nil {
		return err
	}

	res, err := app.Runner.RunPage(ctx, page.ID)
	if err != nil {
		return fmt.Errorf("page %d (%s): %w", page.ID, page.URL, err)
	}

	if common.Structured(c) {
		return common.WriteOutput(c, res)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Page %d: %s\n", res.PageID, res.URL)
	fmt.Fprintf(w, "  Fetched via:  %s (%d segments)\n", res.Method, res.Segments)
	fmt.Fprintf(w, "  Change:       %s\n", res.Decision.Reason)
	if res.Outcome != nil {
		fmt.Fprintf(w, "  New findings: %d (%d to notify, %d exact and %d fuzzy duplicates)\n",
			len(res.Outcome.Created), len(res.Outcome.Notify), res.Outcome.ExactDuplicates, res.Outcome.FuzzyDuplicates)
	}
	if len(res.Discovered) > 0 {
		fmt.Fprintf(w, "  Discovered:   %d new sites\n", len(res.Discovered))
	}
	return nil
}
