package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/db"
	"github.com/dtnitsch/pagewatch/pkg/runner"
	"github.com/labstack/echo/v4"
)

type fakeRunner struct {
	mu       sync.Mutex
	runs     int
	pageRuns []int64
	release  chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context) (*models.Telemetry, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	return &models.Telemetry{RunID: "run-1"}, nil
}

func (r *fakeRunner) RunPage(ctx context.Context, pageID int64) (*runner.PageResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageRuns = append(r.pageRuns, pageID)
	if pageID != 7 {
		return nil, fmt.Errorf("page %d: %w", pageID, db.ErrNotFound)
	}
	return &runner.PageResult{PageID: 7, URL: "https://sauna.example.com"}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type fakeStore struct {
	pages     []models.TrackedPage
	events    []models.Event
	eventDays []string
}

func (s *fakeStore) ListPages(ctx context.Context, activeOnly bool) ([]models.TrackedPage, error) {
	return s.pages, nil
}

func (s *fakeStore) ListPendingEvents(ctx context.Context, today string, limit int) ([]models.Event, error) {
	s.eventDays = append(s.eventDays, today)
	return s.events, nil
}

func (s *fakeStore) ListDuplicateSuspects(ctx context.Context, limit int) ([]models.DuplicateSuspect, error) {
	return []models.DuplicateSuspect{{EventID: 3, Title: "Sauna night!", EventTitle: "Sauna Night"}}, nil
}

type sentMessage struct {
	channel string
	text    string
}

type fakeSender struct {
	sent []sentMessage
}

func (s *fakeSender) Send(ctx context.Context, channel, text string) error {
	s.sent = append(s.sent, sentMessage{channel, text})
	return nil
}

func newTestServer(t *testing.T, secret string) (*Server, *fakeRunner, *fakeStore, *fakeSender) {
	t.Helper()
	r := &fakeRunner{}
	store := &fakeStore{
		pages:  []models.TrackedPage{{ID: 7, URL: "https://sauna.example.com", Active: true}},
		events: []models.Event{{ID: 1, Title: "Sauna Night", Kind: models.KindEvent, DateISO: "2025-06-01"}},
	}
	sender := &fakeSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(r, store, sender, logger, Options{WebhookSecret: secret})
	s.now = func() time.Time { return time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC) }
	return s, r, store, sender
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.newEcho().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) jsendResponse {
	t.Helper()
	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t, "")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	if err := s.handleHealth(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handleHealth() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Status != "success" {
		t.Errorf("status field = %q", resp.Status)
	}
}

func TestTrigger_RejectsOverlap(t *testing.T) {
	s, r, _, _ := newTestServer(t, "")
	r.release = make(chan struct{})

	if rec := do(t, s, http.MethodPost, "/trigger", "", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger status = %d, want 202", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/trigger", "", nil); rec.Code != http.StatusConflict {
		t.Fatalf("second trigger status = %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/pages/7/run", "", nil); rec.Code != http.StatusConflict {
		t.Fatalf("page run during run status = %d, want 409", rec.Code)
	}

	close(r.release)
	s.runs.Wait()
	if got := r.count(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}

	if rec := do(t, s, http.MethodPost, "/trigger", "", nil); rec.Code != http.StatusAccepted {
		t.Errorf("trigger after completion status = %d, want 202", rec.Code)
	}
	s.runs.Wait()
}

func TestRunPage(t *testing.T) {
	tests := []struct {
		name string
		path string
		want int
	}{
		{"found", "/pages/7/run", http.StatusOK},
		{"missing", "/pages/8/run", http.StatusNotFound},
		{"bad id", "/pages/abc/run", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _, _ := newTestServer(t, "")
			rec := do(t, s, http.MethodPost, tt.path, "", nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListRoutes(t *testing.T) {
	s, _, store, _ := newTestServer(t, "")

	for _, path := range []string{"/pages", "/events", "/events/suspects"} {
		rec := do(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
			continue
		}
		if resp := decode(t, rec); resp.Status != "success" || resp.Data == nil {
			t.Errorf("GET %s response = %+v", path, resp)
		}
	}

	if len(store.eventDays) != 1 || store.eventDays[0] != "2025-05-20" {
		t.Errorf("pending events queried with %v, want today", store.eventDays)
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _, _, _ := newTestServer(t, "")
	rec := do(t, s, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp := decode(t, rec); resp.Status != "fail" {
		t.Errorf("status field = %q, want fail", resp.Status)
	}
}

func update(text string) string {
	return fmt.Sprintf(`{"update_id":1,"message":{"text":%q,"chat":{"id":42}}}`, text)
}

func TestWebhook_Secret(t *testing.T) {
	s, _, _, sender := newTestServer(t, "s3cret")

	rec := do(t, s, http.MethodPost, "/webhook", update("/help"), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without secret = %d, want 401", rec.Code)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replied to unauthenticated update: %v", sender.sent)
	}

	rec = do(t, s, http.MethodPost, "/webhook", update("/help"), map[string]string{secretHeader: "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status with secret = %d, want 200", rec.Code)
	}
	if len(sender.sent) != 1 || sender.sent[0].channel != "42" {
		t.Fatalf("sent = %+v, want one reply to chat 42", sender.sent)
	}
}

func TestWebhook_Commands(t *testing.T) {
	tests := []struct {
		text string
		want string // empty means no reply
	}{
		{"/start", "/events"},
		{"/list", "https://sauna.example.com"},
		{"/list@pagewatch_bot", "https://sauna.example.com"},
		{"/events", "Sauna Night"},
		{"/frobnicate", "Unknown command"},
		{"hello there", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s, _, _, sender := newTestServer(t, "")
			rec := do(t, s, http.MethodPost, "/webhook", update(tt.text), nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if tt.want == "" {
				if len(sender.sent) != 0 {
					t.Errorf("unexpected reply %+v", sender.sent)
				}
				return
			}
			if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].text, tt.want) {
				t.Errorf("sent = %+v, want reply containing %q", sender.sent, tt.want)
			}
		})
	}
}

func TestWebhook_Run(t *testing.T) {
	s, r, _, sender := newTestServer(t, "")
	r.release = make(chan struct{})

	do(t, s, http.MethodPost, "/webhook", update("/run"), nil)
	do(t, s, http.MethodPost, "/webhook", update("/run"), nil)
	close(r.release)
	s.runs.Wait()

	if got := r.count(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if len(sender.sent) != 2 || !strings.Contains(sender.sent[1].text, "already running") {
		t.Errorf("sent = %+v", sender.sent)
	}
}

func TestWebhook_OtherChatIgnored(t *testing.T) {
	s, r, _, sender := newTestServer(t, "")
	s.opts.AllowedChatID = "42"

	stranger := `{"update_id":2,"message":{"text":"/run","chat":{"id":1337}}}`
	rec := do(t, s, http.MethodPost, "/webhook", stranger, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	s.runs.Wait()
	if got := r.count(); got != 0 {
		t.Errorf("runs = %d, want 0 for a foreign chat", got)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("replied to foreign chat: %+v", sender.sent)
	}

	do(t, s, http.MethodPost, "/webhook", update("/help"), nil)
	if len(sender.sent) != 1 || sender.sent[0].channel != "42" {
		t.Errorf("sent = %+v, want one reply to chat 42", sender.sent)
	}
}

func TestWebhook_MalformedIsAcknowledged(t *testing.T) {
	s, _, _, sender := newTestServer(t, "")
	rec := do(t, s, http.MethodPost, "/webhook", `{"update_id":`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %+v", sender.sent)
	}
}
