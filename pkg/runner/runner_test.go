package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/db"
	"github.com/dtnitsch/pagewatch/pkg/extractor"
	"github.com/dtnitsch/pagewatch/pkg/llm"
)

type fakeFetcher struct {
	pages map[string]*models.FetchResult
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, mode models.RenderMode) (*models.FetchResult, error) {
	f.calls++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	res, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return res, nil
}

type fakeAnalyzer struct {
	results   map[string]*models.Analysis
	errs      map[string]error
	links     []models.DiscoveredURL
	requests  []extractor.Request
	linkCalls int
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req extractor.Request) (*models.Analysis, error) {
	a.requests = append(a.requests, req)
	if err := a.errs[req.URL]; err != nil {
		return nil, err
	}
	if res, ok := a.results[req.URL]; ok {
		return res, nil
	}
	return &models.Analysis{Attempts: 1}, nil
}

func (a *fakeAnalyzer) FilterLinks(ctx context.Context, sourceURL string, links []models.Link, max int) ([]models.DiscoveredURL, error) {
	a.linkCalls++
	return a.links, nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, channel, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type harness struct {
	runner   *Runner
	db       *db.DB
	fetcher  *fakeFetcher
	analyzer *fakeAnalyzer
	sender   *fakeSender
	sleeps   []time.Duration
}

var runTime = time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)

func setupRunner(t *testing.T, opts Options) *harness {
	t.Helper()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	h := &harness{
		db:       database,
		fetcher:  &fakeFetcher{pages: map[string]*models.FetchResult{}, errs: map[string]error{}},
		analyzer: &fakeAnalyzer{results: map[string]*models.Analysis{}, errs: map[string]error{}},
		sender:   &fakeSender{},
	}
	if opts.Throttle == 0 {
		opts.Throttle = 5 * time.Second
	}
	if opts.RateLimitBackoff == 0 {
		opts.RateLimitBackoff = time.Minute
	}
	h.runner = New(database, h.fetcher, h.analyzer, h.sender, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.runner.now = func() time.Time { return runTime }
	h.runner.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) addPage(t *testing.T, url string, lines ...string) int64 {
	t.Helper()
	id, _, err := h.db.AddPage(context.Background(), url, models.RenderStatic)
	if err != nil {
		t.Fatalf("AddPage() error = %v", err)
	}
	h.setContent(url, lines...)
	return id
}

func (h *harness) setContent(url string, lines ...string) {
	res := &models.FetchResult{URL: url, Title: "Title of " + url, Method: "static"}
	for _, l := range lines {
		res.Blocks = append(res.Blocks, models.ContentBlock{Type: "p", Text: l})
	}
	h.fetcher.pages[url] = res
}

func eventFinding(title, dateISO string) models.Finding {
	return models.Finding{
		Title:     title,
		Kind:      models.KindEvent,
		Summary:   "Evening sauna by the lake",
		PriceInfo: "Paid",
		Location:  "Helsinki",
		DateISO:   dateISO,
		DateText:  dateISO,
		Link:      "https://sauna.example.com/night",
	}
}

const (
	pageA = "https://sauna.example.com/events"
	pageB = "https://yoga.example.org/classes"
)

func TestRun_FirstRun(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()

	idA := h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house", "Winter plunge season is over for this year")
	h.addPage(t, pageB, "Morning yoga classes every weekday at the studio")

	past := eventFinding("Winter Plunge", "2025-01-10")
	past.IsPast = true
	h.analyzer.results[pageA] = &models.Analysis{
		FutureEvents: []models.Finding{eventFinding("Sauna Night", "2025-06-01")},
		PastEvents:   []models.Finding{past},
		Attempts:     1,
	}

	tel, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if tel.PagesChecked != 2 || tel.ChangesFound != 2 || tel.ExtractionCalls != 2 || tel.NotificationsSent != 1 || tel.Errors != 0 {
		t.Errorf("telemetry = %+v", tel)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 5*time.Second {
		t.Errorf("sleeps = %v, want one throttle", h.sleeps)
	}
	if len(h.sender.sent) != 1 || !strings.Contains(h.sender.sent[0], "Sauna Night") || strings.Contains(h.sender.sent[0], "Winter Plunge") {
		t.Errorf("sent = %q", h.sender.sent)
	}

	page, err := h.db.GetPage(ctx, idA)
	if err != nil {
		t.Fatal(err)
	}
	if page.LastFingerprint == "" || len(page.LastSegments) != 2 {
		t.Errorf("snapshot not written: %+v", page)
	}

	runs, err := h.db.ListTelemetry(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != tel.RunID {
		t.Errorf("telemetry rows = %+v", runs)
	}

	changes, err := h.db.ListChanges(ctx, idA, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || !strings.Contains(changes[0].Findings, "Sauna Night") {
		t.Errorf("change log = %+v", changes)
	}
}

func TestRun_IdenticalPageSkipsExtraction(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()
	h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	h.analyzer.results[pageA] = &models.Analysis{
		FutureEvents: []models.Finding{eventFinding("Sauna Night", "2025-06-01")},
		Attempts:     1,
	}

	if _, err := h.runner.Run(ctx); err != nil {
		t.Fatal(err)
	}
	tel, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(h.analyzer.requests) != 1 {
		t.Errorf("analyzer calls = %d, want 1", len(h.analyzer.requests))
	}
	if tel.ExtractionCalls != 0 || tel.ChangesFound != 0 || tel.NotificationsSent != 0 {
		t.Errorf("second run telemetry = %+v", tel)
	}
	if len(h.sender.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(h.sender.sent))
	}
}

func TestRun_RepeatedFindingNotifiedOnce(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()
	h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	h.addPage(t, pageB, "Partner listing: Sauna Night at the lake on June 1")

	h.analyzer.results[pageA] = &models.Analysis{FutureEvents: []models.Finding{eventFinding("Sauna Night", "2025-06-01")}, Attempts: 1}
	h.analyzer.results[pageB] = &models.Analysis{FutureEvents: []models.Finding{eventFinding("sauna night", "2025-06-01")}, Attempts: 1}

	tel, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tel.ChangesFound != 1 || tel.NotificationsSent != 1 {
		t.Errorf("telemetry = %+v, want one new event", tel)
	}
}

func TestRun_PageIsolation(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()
	idA := h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	idB := h.addPage(t, pageB, "Morning yoga classes every weekday at the studio")
	h.fetcher.errs[pageA] = errors.New("connection refused")

	tel, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tel.PagesChecked != 2 || tel.Errors != 1 {
		t.Errorf("telemetry = %+v", tel)
	}

	a, _ := h.db.GetPage(ctx, idA)
	b, _ := h.db.GetPage(ctx, idB)
	if a.ErrorCount != 1 || a.LastFingerprint != "" {
		t.Errorf("failed page = %+v", a)
	}
	if b.ErrorCount != 0 || b.LastFingerprint == "" {
		t.Errorf("healthy page = %+v", b)
	}

	entries, err := h.db.ListErrors(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != KindFetch || *entries[0].PageID != idA {
		t.Errorf("errors = %+v", entries)
	}

	access, err := h.db.GetLastAccess(ctx, idA)
	if err != nil {
		t.Fatal(err)
	}
	if access.Success {
		t.Error("failed fetch recorded as success")
	}
}

func TestRun_RateLimitBacksOff(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()
	idA := h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	h.addPage(t, pageB, "Morning yoga classes every weekday at the studio")
	h.analyzer.errs[pageA] = fmt.Errorf("extraction: %w", llm.ErrRateLimited)

	tel, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{time.Minute, 5 * time.Second}
	if fmt.Sprint(h.sleeps) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", h.sleeps, want)
	}
	if tel.Errors != 1 || tel.PagesChecked != 2 {
		t.Errorf("telemetry = %+v", tel)
	}

	a, _ := h.db.GetPage(ctx, idA)
	if a.LastFingerprint != "" {
		t.Error("snapshot written after rate-limited extraction")
	}
	entries, _ := h.db.ListErrors(ctx, 10)
	if len(entries) != 1 || entries[0].Kind != KindRateLimit {
		t.Errorf("errors = %+v", entries)
	}
}

func TestRun_CancelledStopsLoop(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	idB := h.addPage(t, pageB, "Morning yoga classes every weekday at the studio")

	h.runner.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	tel, err := h.runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if tel.PagesChecked != 1 {
		t.Errorf("PagesChecked = %d, want 1", tel.PagesChecked)
	}
	b, _ := h.db.GetPage(context.Background(), idB)
	if b.LastFingerprint != "" {
		t.Error("page after cancellation was processed")
	}
	runs, _ := h.db.ListTelemetry(context.Background(), 10)
	if len(runs) != 1 {
		t.Errorf("telemetry rows = %d, want 1", len(runs))
	}
}

func TestRun_LanguageSetting(t *testing.T) {
	h := setupRunner(t, Options{Language: "ENGLISH"})
	ctx := context.Background()
	h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	if err := h.db.SetSetting(ctx, models.SettingLanguage, "GERMAN"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.runner.Run(ctx); err != nil {
		t.Fatal(err)
	}
	req := h.analyzer.requests[0]
	if req.Language != "GERMAN" || req.Date != "2025-05-20" || req.Fingerprint == "" {
		t.Errorf("request = %+v", req)
	}
}

func TestRun_NotificationFailureIsNotPageError(t *testing.T) {
	h := setupRunner(t, Options{})
	h.sender.err = errors.New("telegram down")
	h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	h.analyzer.results[pageA] = &models.Analysis{FutureEvents: []models.Finding{eventFinding("Sauna Night", "2025-06-01")}, Attempts: 1}

	tel, err := h.runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tel.Errors != 0 || tel.NotificationsSent != 0 || tel.ChangesFound != 1 {
		t.Errorf("telemetry = %+v", tel)
	}
}

func TestRun_Discovery(t *testing.T) {
	h := setupRunner(t, Options{Discovery: true})
	ctx := context.Background()
	h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	h.fetcher.pages[pageA].Links = []models.Link{{Href: "https://spa.example.net", Text: "Partner spa"}}
	h.analyzer.links = []models.DiscoveredURL{{URL: "https://spa.example.net", Title: "Partner Spa", Reason: "hosts events"}}

	tel, err := h.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.analyzer.linkCalls != 1 || tel.NotificationsSent != 1 {
		t.Errorf("link calls = %d telemetry = %+v", h.analyzer.linkCalls, tel)
	}
	if !strings.Contains(h.sender.sent[0], "Partner Spa") {
		t.Errorf("sent = %q", h.sender.sent)
	}

	found, err := h.db.ListDiscoveredURLs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].URL != "https://spa.example.net" {
		t.Errorf("discovered = %+v", found)
	}

	// Same suggestion again is not new and sends nothing.
	h.setContent(pageA, "Sauna Night on 2025-06-08 by the lake house")
	h.fetcher.pages[pageA].Links = []models.Link{{Href: "https://spa.example.net", Text: "Partner spa"}}
	tel, err = h.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tel.NotificationsSent != 0 {
		t.Errorf("second run NotificationsSent = %d", tel.NotificationsSent)
	}
}

func TestRunPage(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()
	id := h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	if err := h.db.SetPageActive(ctx, id, false); err != nil {
		t.Fatal(err)
	}
	h.analyzer.results[pageA] = &models.Analysis{FutureEvents: []models.Finding{eventFinding("Sauna Night", "2025-06-01")}, Attempts: 1}

	res, err := h.runner.RunPage(ctx, id)
	if err != nil {
		t.Fatalf("RunPage() error = %v", err)
	}
	if !res.Decision.HasChange || res.NotificationsSent != 1 || len(res.Outcome.Created) != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(h.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", h.sleeps)
	}

	if _, err := h.runner.RunPage(ctx, 9999); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("RunPage(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRunPage_FailureRecorded(t *testing.T) {
	h := setupRunner(t, Options{})
	ctx := context.Background()
	id := h.addPage(t, pageA, "Sauna Night on 2025-06-01 by the lake house")
	h.fetcher.errs[pageA] = errors.New("timeout")

	if _, err := h.runner.RunPage(ctx, id); err == nil {
		t.Fatal("RunPage() error = nil")
	}
	page, _ := h.db.GetPage(ctx, id)
	if page.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", page.ErrorCount)
	}
}

func TestRun_ExtractorSeesShortLines(t *testing.T) {
	h := setupRunner(t, Options{})
	lines := []string{
		"Sauna Night",
		"Sat 14.06.2025",
		"€45",
		"Sold out",
		"Join us for an evening of Finnish sauna rituals by the lake",
	}
	h.addPage(t, pageA, lines...)

	if _, err := h.runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.analyzer.requests) == 0 {
		t.Fatal("analyzer was not called")
	}
	text := h.analyzer.requests[0].Text
	for _, line := range lines {
		if !strings.Contains(text, line) {
			t.Errorf("extractor text missing %q: %q", line, text)
		}
	}
}
