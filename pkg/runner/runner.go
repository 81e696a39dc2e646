// Package runner drives the watch pipeline: one page at a time, each page
// isolated from the others, with a throttle between pages.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/classifier"
	"github.com/dtnitsch/pagewatch/pkg/dedup"
	"github.com/dtnitsch/pagewatch/pkg/extractor"
	"github.com/dtnitsch/pagewatch/pkg/llm"
	"github.com/dtnitsch/pagewatch/pkg/notifier"
	"github.com/google/uuid"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string, mode models.RenderMode) (*models.FetchResult, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, req extractor.Request) (*models.Analysis, error)
	FilterLinks(ctx context.Context, sourceURL string, links []models.Link, max int) ([]models.DiscoveredURL, error)
}

// Store is the persistence the runner needs. *db.DB satisfies it.
type Store interface {
	dedup.Store
	ListPages(ctx context.Context, activeOnly bool) ([]models.TrackedPage, error)
	GetPage(ctx context.Context, pageID int64) (*models.TrackedPage, error)
	UpdatePageSnapshot(ctx context.Context, pageID int64, fingerprint string, segments []string, title string) error
	IncrementErrorCount(ctx context.Context, pageID int64) error
	RecordAccess(ctx context.Context, pageID int64, method string, statusCode int, errorType string, success bool) error
	LogError(ctx context.Context, pageID int64, kind, message, level string) error
	AppendChangeLog(ctx context.Context, pageID int64, findingsJSON string) (int64, error)
	InsertTelemetry(ctx context.Context, t *models.Telemetry) error
	GetSetting(ctx context.Context, key, def string) (string, error)
	AddDiscoveredURL(ctx context.Context, d models.DiscoveredURL) (bool, error)
}

type Options struct {
	Throttle            time.Duration
	RateLimitBackoff    time.Duration
	Language            string
	Discovery           bool
	DiscoveryMaxLinks   int
	SimilarityThreshold float64
	TitleThreshold      float64
}

// OptionsFromConfig maps the run and threshold settings.
func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		Throttle:            cfg.Run.Throttle,
		RateLimitBackoff:    cfg.Run.RateLimitBackoff,
		Language:            cfg.Run.Language,
		Discovery:           cfg.Run.Discovery,
		DiscoveryMaxLinks:   cfg.Run.DiscoveryMaxLinks,
		SimilarityThreshold: cfg.Classifier.SimilarityThreshold,
		TitleThreshold:      cfg.Dedup.TitleThreshold,
	}
}

type Runner struct {
	store      Store
	fetcher    Fetcher
	analyzer   Analyzer
	sender     notifier.Sender
	classifier *classifier.Classifier
	index      *dedup.Index
	opts       Options
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New wires a runner. sender may be nil, which drops notifications.
func New(store Store, fetcher Fetcher, analyzer Analyzer, sender notifier.Sender, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Language == "" {
		opts.Language = "ENGLISH"
	}
	if opts.DiscoveryMaxLinks <= 0 {
		opts.DiscoveryMaxLinks = 20
	}
	return &Runner{
		store:      store,
		fetcher:    fetcher,
		analyzer:   analyzer,
		sender:     sender,
		classifier: classifier.New(opts.SimilarityThreshold),
		index:      dedup.New(store, opts.TitleThreshold, logger),
		opts:       opts,
		logger:     logger,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// message is a notification queued until the end of a run.
type message struct {
	pageID int64
	text   string
}

// Run checks every active page once and returns the run's telemetry, which
// is also persisted. Page failures are recorded and never abort the run;
// only a failure to list pages or cancellation returns an error.
func (r *Runner) Run(ctx context.Context) (*models.Telemetry, error) {
	start := r.now()
	tel := &models.Telemetry{RunID: uuid.NewString()}
	logger := r.logger.With("run_id", tel.RunID)

	pages, err := r.store.ListPages(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	language := r.language(ctx)
	runDate := start.Format(dateLayout)

	logger.Info("run started", "pages", len(pages), "language", language)

	var (
		outbox []message
		runErr error
	)
	for i, page := range pages {
		if i > 0 {
			if err := r.sleep(ctx, r.opts.Throttle); err != nil {
				runErr = err
				break
			}
		}

		res, err := r.processPage(ctx, page, language, runDate)
		if err != nil && ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		tel.PagesChecked++
		tel.ExtractionCalls += res.ExtractionCalls

		if err != nil {
			tel.Errors++
			r.recordFailure(ctx, page, err)
			if errors.Is(err, llm.ErrRateLimited) && i < len(pages)-1 {
				logger.Warn("extractor rate limited, backing off", "page_id", page.ID, "wait", r.opts.RateLimitBackoff)
				if err := r.sleep(ctx, r.opts.RateLimitBackoff); err != nil {
					runErr = err
					break
				}
			}
			continue
		}

		if res.Outcome != nil {
			tel.ChangesFound += len(res.Outcome.Created)
		}
		outbox = append(outbox, res.messages...)
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, m := range outbox {
		if r.send(sendCtx, m) {
			tel.NotificationsSent++
		}
	}

	tel.DurationMs = r.now().Sub(start).Milliseconds()
	if err := r.store.InsertTelemetry(sendCtx, tel); err != nil {
		logger.Error("failed to write telemetry", "error", err)
	}

	logger.Info("run finished",
		"pages_checked", tel.PagesChecked,
		"changes_found", tel.ChangesFound,
		"extraction_calls", tel.ExtractionCalls,
		"notifications_sent", tel.NotificationsSent,
		"errors", tel.Errors,
		"duration_ms", tel.DurationMs)

	return tel, runErr
}

// RunPage processes one page out of schedule, whether or not it is active,
// and sends its notifications immediately.
func (r *Runner) RunPage(ctx context.Context, pageID int64) (*PageResult, error) {
	page, err := r.store.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}

	res, err := r.processPage(ctx, *page, r.language(ctx), r.now().Format(dateLayout))
	if err != nil {
		if ctx.Err() == nil {
			r.recordFailure(ctx, *page, err)
		}
		return res, err
	}

	for _, m := range res.messages {
		if r.send(ctx, m) {
			res.NotificationsSent++
		}
	}
	return res, nil
}

func (r *Runner) language(ctx context.Context) string {
	lang, err := r.store.GetSetting(ctx, models.SettingLanguage, r.opts.Language)
	if err != nil {
		r.logger.Warn("failed to read language setting", "error", err)
		return r.opts.Language
	}
	return lang
}

func (r *Runner) send(ctx context.Context, m message) bool {
	if r.sender == nil {
		return false
	}
	if err := r.sender.Send(ctx, "", m.text); err != nil {
		r.logger.Warn("failed to send notification", "page_id", m.pageID, "error", err)
		return false
	}
	return true
}

func (r *Runner) recordFailure(ctx context.Context, page models.TrackedPage, err error) {
	kind := errorKind(err)
	r.logger.Error("page failed", "page_id", page.ID, "url", page.URL, "kind", kind, "error", err)

	ctx = context.WithoutCancel(ctx)
	if logErr := r.store.LogError(ctx, page.ID, kind, err.Error(), "warning"); logErr != nil {
		r.logger.Error("failed to log page error", "page_id", page.ID, "error", logErr)
	}
	if incErr := r.store.IncrementErrorCount(ctx, page.ID); incErr != nil {
		r.logger.Error("failed to increment error count", "page_id", page.ID, "error", incErr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
