package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dtnitsch/pagewatch/internal/db"
	"github.com/dtnitsch/pagewatch/internal/run"
	"github.com/dtnitsch/pagewatch/internal/serve"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	limitFlag := &cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum rows to show"}

	return &cli.App{
		Name:  "pagewatch",
		Usage: "Watch web pages for new events and get notified once per event",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yaml", Usage: "path to the YAML config file"},
			&cli.StringFlag{Name: "db", Usage: "override the database path"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log debug output"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "output format: text, json or yaml"},
			&cli.StringFlag{Name: "fields", Usage: "comma-separated fields to keep in json/yaml output"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Check every active page once",
				Action: run.RunAction,
			},
			{
				Name:      "run-page",
				Usage:     "Check one page now, outside the schedule",
				ArgsUsage: "<id|url>",
				Action:    run.RunPageAction,
			},
			{
				Name:  "pages",
				Usage: "Manage tracked pages",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Start tracking one or more URLs",
						ArgsUsage: "<url> [url...]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "mode", Value: "static", Usage: "render mode: static or dynamic"},
						},
						Action: db.PagesAddAction,
					},
					{
						Name:  "list",
						Usage: "List tracked pages",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "all", Usage: "include inactive pages"},
						},
						Action: db.PagesListAction,
					},
					{
						Name:      "show",
						Usage:     "Show one page with its last fetch and recent changes",
						ArgsUsage: "<id|url>",
						Flags:     []cli.Flag{&cli.IntFlag{Name: "limit", Value: 10, Usage: "changes to show"}},
						Action:    db.PagesShowAction,
					},
					{
						Name:      "deactivate",
						Aliases:   []string{"remove"},
						Usage:     "Stop checking a page, keeping its history",
						ArgsUsage: "<id|url>",
						Action:    db.PagesSetActiveAction(false),
					},
					{
						Name:      "activate",
						Usage:     "Resume checking a page",
						ArgsUsage: "<id|url>",
						Action:    db.PagesSetActiveAction(true),
					},
				},
			},
			{
				Name:  "events",
				Usage: "Inspect stored events",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List upcoming events, or every event of one page",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "page", Usage: "page id or URL"},
							limitFlag,
						},
						Action: db.EventsListAction,
					},
					{
						Name:   "suspects",
						Usage:  "List findings folded into an existing event by fuzzy title match",
						Flags:  []cli.Flag{limitFlag},
						Action: db.EventsSuspectsAction,
					},
					{
						Name:      "delete",
						Usage:     "Delete an event so it can be detected again",
						ArgsUsage: "<id>",
						Action:    db.EventsDeleteAction,
					},
				},
			},
			{
				Name:  "settings",
				Usage: "Read or change stored settings",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Show a setting (default: language)",
						ArgsUsage: "[key]",
						Action:    db.SettingsGetAction,
					},
					{
						Name:      "set",
						Usage:     "Change a setting",
						ArgsUsage: "<key> <value>",
						Action:    db.SettingsSetAction,
					},
				},
			},
			{
				Name:   "telemetry",
				Usage:  "Show recent run statistics",
				Flags:  []cli.Flag{limitFlag},
				Action: db.TelemetryAction,
			},
			{
				Name:   "discoveries",
				Usage:  "Show related sites found through outbound links",
				Flags:  []cli.Flag{limitFlag},
				Action: db.DiscoveriesAction,
			},
			{
				Name:   "errors",
				Usage:  "Show recent page errors",
				Flags:  []cli.Flag{limitFlag},
				Action: db.ErrorsAction,
			},
			{
				Name:  "serve",
				Usage: "Run the HTTP API, Telegram webhook and scheduler",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "listen port (overrides config)"},
					&cli.DurationFlag{Name: "interval", Usage: "run interval, 0 disables the scheduler (overrides config)"},
				},
				Action: serve.ServeAction,
			},
		},
	}
}
