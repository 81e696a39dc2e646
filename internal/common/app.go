package common

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/caching"
	"github.com/dtnitsch/pagewatch/pkg/db"
	"github.com/dtnitsch/pagewatch/pkg/extractor"
	"github.com/dtnitsch/pagewatch/pkg/fetcher"
	"github.com/dtnitsch/pagewatch/pkg/llm"
	"github.com/dtnitsch/pagewatch/pkg/notifier"
	"github.com/dtnitsch/pagewatch/pkg/runner"
	"github.com/urfave/cli/v2"
)

// App is the fully wired pipeline used by run and serve.
type App struct {
	Config   *models.Config
	Logger   *slog.Logger
	DB       *db.DB
	Fetcher  *fetcher.Fetcher
	Telegram *notifier.Telegram
	Runner   *runner.Runner
}

// NewLogger builds the JSON stderr logger. --quiet and --verbose win over
// the configured level.
func NewLogger(c *cli.Context, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// LoadConfig reads --config and applies the --db override.
func LoadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("db") {
		cfg.Database.Path = c.String("db")
	}
	return cfg, nil
}

// OpenDB loads the config and opens the database, for commands that only
// read or edit stored state.
func OpenDB(c *cli.Context) (*db.DB, *models.Config, *slog.Logger, error) {
	cfg, err := LoadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := NewLogger(c, cfg.LogLevel)
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, cfg, logger, nil
}

// NewApp wires config, storage, fetcher, extractor and notifier into a runner.
func NewApp(c *cli.Context) (*App, error) {
	database, cfg, logger, err := OpenDB(c)
	if err != nil {
		return nil, err
	}

	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set; extraction calls will fail")
	}

	var renderer fetcher.Renderer
	if cfg.Fetch.BrowserEnabled {
		renderer = fetcher.NewBrowser(cfg.Fetch.BrowserURL, cfg.Fetch.Timeout, logger)
	}
	f := fetcher.NewFetcher(fetcher.Options{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MinHTMLBytes: cfg.Fetch.MinHTMLBytes,
	}, renderer, logger)

	var cache extractor.Cache
	if cfg.Extraction.CacheDir != "" {
		fc, err := caching.NewCache(cfg.Extraction.CacheDir, cfg.Extraction.CacheTTL)
		if err != nil {
			database.Close()
			return nil, err
		}
		if removed, err := fc.Prune(); err != nil {
			logger.Warn("failed to prune extraction cache", "error", err)
		} else if removed > 0 {
			logger.Debug("pruned extraction cache", "removed", removed)
		}
		cache = fc
	}

	gemini := llm.NewGemini(cfg.Gemini, 0, logger)
	orchestrator := extractor.New(gemini, extractor.Options{
		MaxChars:        cfg.Extraction.MaxChars,
		MaxAttempts:     cfg.Extraction.MaxAttempts,
		BackoffBase:     cfg.Extraction.BackoffBase,
		MinSummaryWords: cfg.Extraction.MinSummaryWords,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxTokens,
	}, cache, logger)

	tg := notifier.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
	var sender notifier.Sender
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "" {
		sender = tg
	} else {
		logger.Info("telegram not configured; notifications are disabled")
	}

	r := runner.New(database, f, orchestrator, sender, runner.OptionsFromConfig(cfg), logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Fetcher:  f,
		Telegram: tg,
		Runner:   r,
	}, nil
}

// Close releases the browser and the database.
func (a *App) Close() {
	if err := a.Fetcher.Close(); err != nil {
		a.Logger.Warn("failed to close browser", "error", err)
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("failed to close database", "error", err)
	}
}

// Context returns the command context, which main cancels on SIGINT.
func Context(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
