package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dtnitsch/pagewatch/models"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGemini(models.GeminiConfig{
		APIKey:   "test-key",
		Model:    "gemini-test",
		Endpoint: srv.URL + "/",
	}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtract(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gemini-test:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("responseMimeType = %q", req.GenerationConfig.ResponseMimeType)
		}
		if req.GenerationConfig.Temperature != 0.2 || req.GenerationConfig.MaxOutputTokens != 100 {
			t.Errorf("generationConfig = %+v", req.GenerationConfig)
		}
		text := req.Contents[0].Parts[0].Text
		if !strings.HasPrefix(text, "PROMPT") || !strings.HasSuffix(text, "PAGE TEXT") {
			t.Errorf("prompt text = %q", text)
		}

		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"ok\":true}"}]}}]}`)
	})

	got, err := g.Extract(context.Background(), "PAGE TEXT", "PROMPT", models.ExtractOptions{
		Temperature:     0.2,
		MaxOutputTokens: 100,
		JSON:            true,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("Extract() = %q", got)
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"code":429}}`, rateLimited: true},
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "no candidates", status: http.StatusOK, body: `{"candidates":[]}`},
		{name: "blocked", status: http.StatusOK, body: `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		{name: "bad json", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := g.Extract(context.Background(), "text", "prompt", models.ExtractOptions{})
			if err == nil {
				t.Fatal("Extract() error = nil")
			}
			if got := errors.Is(err, ErrRateLimited); got != tt.rateLimited {
				t.Errorf("errors.Is(err, ErrRateLimited) = %v, want %v (err = %v)", got, tt.rateLimited, err)
			}
		})
	}
}

func TestExtract_NoAPIKey(t *testing.T) {
	g := NewGemini(models.GeminiConfig{Model: "m", Endpoint: "http://127.0.0.1:1"}, 0, nil)
	if _, err := g.Extract(context.Background(), "t", "p", models.ExtractOptions{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("Extract() error = %v, want ErrNoAPIKey", err)
	}
}
