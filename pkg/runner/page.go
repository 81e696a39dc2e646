package runner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/classifier"
	"github.com/dtnitsch/pagewatch/pkg/dedup"
	"github.com/dtnitsch/pagewatch/pkg/extractor"
	"github.com/dtnitsch/pagewatch/pkg/fetcher"
	"github.com/dtnitsch/pagewatch/pkg/fingerprint"
	"github.com/dtnitsch/pagewatch/pkg/llm"
	"github.com/dtnitsch/pagewatch/pkg/notifier"
	"github.com/dtnitsch/pagewatch/pkg/segmenter"
)

const dateLayout = "2006-01-02"

// Error kinds stored in the errors table.
const (
	KindFetch       = "fetch"
	KindExtraction  = "extraction"
	KindRateLimit   = "rate_limit"
	KindPersistence = "persistence"
)

// PageResult describes what happened to one page.
type PageResult struct {
	PageID            int64                  `json:"page_id"`
	URL               string                 `json:"url"`
	Method            string                 `json:"method,omitempty"`
	Segments          int                    `json:"segments"`
	Fingerprint       string                 `json:"fingerprint,omitempty"`
	Decision          classifier.Decision    `json:"decision"`
	Analysis          *models.Analysis       `json:"analysis,omitempty"`
	Outcome           *dedup.Outcome         `json:"outcome,omitempty"`
	Discovered        []models.DiscoveredURL `json:"discovered,omitempty"`
	ExtractionCalls   int                    `json:"extraction_calls"`
	NotificationsSent int                    `json:"notifications_sent"`

	messages []message
}

// stageError tags a page failure with the step that produced it.
type stageError struct {
	kind string
	err  error
}

func (e *stageError) Error() string { return e.kind + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func errorKind(err error) string {
	if errors.Is(err, llm.ErrRateLimited) {
		return KindRateLimit
	}
	var se *stageError
	if errors.As(err, &se) {
		return se.kind
	}
	return "general"
}

// processPage runs one page through the pipeline. The returned result is
// never nil, so counters are available even when err is set.
//
// The snapshot is written once the page has been fetched and, for a
// significant change, its findings have been stored. A rate-limited or
// cancelled extraction leaves the old snapshot so the change is seen again.
func (r *Runner) processPage(ctx context.Context, page models.TrackedPage, language, runDate string) (*PageResult, error) {
	res := &PageResult{PageID: page.ID, URL: page.URL}
	logger := r.logger.With("page_id", page.ID, "url", page.URL)

	fetched, err := r.fetcher.Fetch(ctx, page.URL, page.RenderMode)
	if err != nil {
		r.recordAccess(ctx, page, "", err)
		return res, &stageError{kind: KindFetch, err: err}
	}
	res.Method = fetched.Method
	r.recordAccess(ctx, page, fetched.Method, nil)

	text := fetched.ToPlainText()
	segments := segmenter.Segment(text)
	fp := fingerprint.Of(segments)
	res.Segments = len(segments)
	res.Fingerprint = fp

	res.Decision = r.classifier.Classify(
		classifier.Snapshot{Fingerprint: page.LastFingerprint, Segments: page.LastSegments},
		classifier.Snapshot{Fingerprint: fp, Segments: segments},
	)
	logger.Info("page classified", "state", res.Decision.State, "similarity", res.Decision.Similarity, "reason", res.Decision.Reason)

	if res.Decision.HasChange {
		analysis, err := r.analyzer.Analyze(ctx, extractor.Request{
			Text:        text,
			URL:         page.URL,
			Date:        runDate,
			Language:    language,
			Fingerprint: fp,
		})
		if err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				res.ExtractionCalls++
			}
			return res, &stageError{kind: KindExtraction, err: err}
		}
		res.Analysis = analysis
		res.ExtractionCalls += analysis.Attempts

		outcome, err := r.index.Process(ctx, page, analysis.Findings(), runDate)
		if err != nil {
			return res, &stageError{kind: KindPersistence, err: err}
		}
		res.Outcome = outcome

		findingsJSON, err := json.Marshal(analysis)
		if err != nil {
			return res, &stageError{kind: KindPersistence, err: err}
		}
		if _, err := r.store.AppendChangeLog(ctx, page.ID, string(findingsJSON)); err != nil {
			return res, &stageError{kind: KindPersistence, err: err}
		}

		if len(outcome.Notify) > 0 {
			res.messages = append(res.messages, message{
				pageID: page.ID,
				text:   notifier.FormatEvents(page.URL, outcome.Notify),
			})
		}
		logger.Info("findings processed",
			"findings", len(analysis.Findings()),
			"created", len(outcome.Created),
			"exact_duplicates", outcome.ExactDuplicates,
			"fuzzy_duplicates", outcome.FuzzyDuplicates,
			"past", outcome.Past,
			"degraded", analysis.Degraded)
	}

	if err := r.store.UpdatePageSnapshot(ctx, page.ID, fp, segments, fetched.Title); err != nil {
		return res, &stageError{kind: KindPersistence, err: err}
	}

	if r.opts.Discovery && len(fetched.Links) > 0 {
		r.discover(ctx, page, fetched.Links, res)
	}
	return res, nil
}

func (r *Runner) recordAccess(ctx context.Context, page models.TrackedPage, method string, fetchErr error) {
	status, errorType := 200, ""
	if fetchErr != nil {
		status, errorType = 0, "network"
		var se *fetcher.StatusError
		if errors.As(fetchErr, &se) {
			status, errorType = se.Code, "http_status"
		}
		if method == "" {
			method = string(page.RenderMode)
		}
	}
	if err := r.store.RecordAccess(ctx, page.ID, method, status, errorType, fetchErr == nil); err != nil {
		r.logger.Warn("failed to record access", "page_id", page.ID, "error", err)
	}
}

// discover stores outbound links the analyzer judges worth tracking.
// Failures only cost the suggestions.
func (r *Runner) discover(ctx context.Context, page models.TrackedPage, links []models.Link, res *PageResult) {
	res.ExtractionCalls++
	found, err := r.analyzer.FilterLinks(ctx, page.URL, links, r.opts.DiscoveryMaxLinks)
	if err != nil {
		r.logger.Warn("link discovery failed", "page_id", page.ID, "error", err)
		return
	}

	newCount := 0
	for _, d := range found {
		d.SourcePageID = page.ID
		created, err := r.store.AddDiscoveredURL(ctx, d)
		if err != nil {
			r.logger.Warn("failed to store discovered url", "page_id", page.ID, "url", d.URL, "error", err)
			continue
		}
		if created {
			newCount++
			res.Discovered = append(res.Discovered, d)
		}
	}

	if newCount > 0 {
		res.messages = append(res.messages, message{
			pageID: page.ID,
			text:   notifier.FormatDiscoveries(page.URL, newCount, res.Discovered),
		})
	}
}
