// Package extractor turns page text into validated findings through an
// LLM backend, with bounded retries and repair of untrusted output.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/caching"
	"github.com/dtnitsch/pagewatch/pkg/detector"
	"github.com/dtnitsch/pagewatch/pkg/llm"
)

// Extractor is the LLM backend. Implementations return the raw model text.
type Extractor interface {
	Extract(ctx context.Context, text, prompt string, opts models.ExtractOptions) (string, error)
}

// Cache stores raw responses between runs.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

type Options struct {
	MaxChars        int
	MaxAttempts     int
	BackoffBase     time.Duration
	MinSummaryWords int
	Temperature     float64
	MaxOutputTokens int
}

// DefaultOptions mirrors the defaults in models.DefaultConfig.
func DefaultOptions() Options {
	return Options{
		MaxChars:        100000,
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		MinSummaryWords: 30,
		Temperature:     0.2,
		MaxOutputTokens: 8192,
	}
}

// Request is one page to analyze.
type Request struct {
	Text        string
	URL         string
	Date        string // YYYY-MM-DD, defaults to today
	Language    string // output language, e.g. ENGLISH
	Fingerprint string // page fingerprint, used for the response cache key
}

type Orchestrator struct {
	ext    Extractor
	opts   Options
	cache  Cache
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New builds an orchestrator. cache may be nil.
func New(ext Extractor, opts Options, cache Cache, logger *slog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxChars <= 0 {
		opts.MaxChars = def.MaxChars
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ext:    ext,
		opts:   opts,
		cache:  cache,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// Analyze runs the extractor on a page and returns validated findings.
//
// Empty or malformed responses are retried up to MaxAttempts with
// exponential backoff and then accepted as empty. Backend errors are
// retried the same way and end in a degraded Analysis rather than an error.
// Rate limiting is returned at once so the caller can back off globally.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*models.Analysis, error) {
	if req.Date == "" {
		req.Date = o.now().Format("2006-01-02")
	}
	text := truncateRunes(req.Text, o.opts.MaxChars)

	var sourceLanguage string
	if lang, ok := detector.DetectLanguage(text); ok {
		sourceLanguage = lang.Name
	}

	var cacheKey string
	if o.cache != nil && req.Fingerprint != "" {
		cacheKey = caching.Key(req.URL, req.Fingerprint, req.Language, req.Date)
		if data, ok := o.cache.Get(cacheKey); ok {
			if raw, err := parseAnalysis(string(data)); err == nil && raw.hasContent() {
				o.logger.Debug("extraction cache hit", "url", req.URL)
				a := finalize(raw, req.URL, o.opts.MinSummaryWords)
				a.CacheHit = true
				return a, nil
			}
		}
	}

	prompt := BuildAnalysisPrompt(req.URL, req.Date, req.Language, sourceLanguage)
	extractOpts := models.ExtractOptions{
		Language:        req.Language,
		CurrentDate:     req.Date,
		SourceURL:       req.URL,
		Temperature:     o.opts.Temperature,
		MaxOutputTokens: o.opts.MaxOutputTokens,
		JSON:            true,
	}

	var (
		result   *rawAnalysis
		response string
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := o.opts.BackoffBase << (attempt - 2)
			o.logger.Info("retrying extraction", "url", req.URL, "attempt", attempt, "wait", wait)
			if err := o.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		attempts = attempt

		raw, err := o.ext.Extract(ctx, text, prompt, extractOpts)
		if err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				return nil, fmt.Errorf("extraction for %s: %w", req.URL, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			o.logger.Warn("extraction call failed", "url", req.URL, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		parsed, err := parseAnalysis(raw)
		if err != nil {
			o.logger.Warn("unusable extraction response", "url", req.URL, "attempt", attempt, "error", err)
			parsed = &rawAnalysis{}
		}
		result = parsed
		response = raw
		if parsed.hasContent() {
			break
		}
		o.logger.Info("extraction returned no content", "url", req.URL, "attempt", attempt)
	}

	if result == nil {
		o.logger.Error("extraction failed after retries", "url", req.URL, "attempts", attempts, "error", lastErr)
		a := degraded(req.URL, lastErr)
		a.Attempts = attempts
		return a, nil
	}

	if cacheKey != "" && result.hasContent() {
		if err := o.cache.Set(cacheKey, []byte(response)); err != nil {
			o.logger.Warn("failed to cache extraction", "url", req.URL, "error", err)
		}
	}

	a := finalize(result, req.URL, o.opts.MinSummaryWords)
	a.Attempts = attempts
	return a, nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
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
