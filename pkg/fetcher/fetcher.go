package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/detector"
	"github.com/dtnitsch/pagewatch/pkg/parser"
)

const (
	MethodStatic  = "static"
	MethodBrowser = "browser"

	maxBodyBytes = 10 << 20
)

// ErrBrowserDisabled is returned for dynamic pages when no renderer is configured.
var ErrBrowserDisabled = errors.New("browser rendering is disabled")

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch HTML, status code: %d", e.Code)
}

// Renderer loads a page in a real browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
	Close() error
}

type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MinHTMLBytes int
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	minBytes  int
	parser    *parser.Parser
	browser   Renderer
	logger    *slog.Logger
}

// NewFetcher builds a fetcher. browser may be nil, which disables the
// rendering fallback.
func NewFetcher(opts Options, browser Renderer, logger *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MinHTMLBytes <= 0 {
		opts.MinHTMLBytes = detector.DefaultMinHTMLBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		minBytes:  opts.MinHTMLBytes,
		parser:    &parser.Parser{},
		browser:   browser,
		logger:    logger,
	}
}

// Fetch loads a page and parses it. Static pages are fetched over HTTP and
// re-rendered in the browser when the response fails or looks like an
// empty shell; dynamic pages always go through the browser.
func (f *Fetcher) Fetch(ctx context.Context, url string, mode models.RenderMode) (*models.FetchResult, error) {
	if mode == models.RenderDynamic {
		return f.render(ctx, url)
	}

	html, err := f.GetHtmlBytes(ctx, url)
	if err == nil {
		s := detector.Sufficient(html, f.minBytes)
		if s.OK {
			return f.parse(url, html, MethodStatic)
		}
		f.logger.Debug("static html insufficient", "url", url, "reason", s.Reason, "bytes", len(html))
		if f.browser == nil {
			if len(html) < f.minBytes {
				return nil, fmt.Errorf("html too short: %d bytes", len(html))
			}
			return f.parse(url, html, MethodStatic)
		}
	} else if f.browser == nil {
		return nil, err
	} else {
		f.logger.Debug("static fetch failed, using browser", "url", url, "error", err)
	}

	result, renderErr := f.render(ctx, url)
	if renderErr != nil {
		if err != nil {
			return nil, fmt.Errorf("%w (browser fallback: %v)", err, renderErr)
		}
		return nil, renderErr
	}
	return result, nil
}

func (f *Fetcher) render(ctx context.Context, url string) (*models.FetchResult, error) {
	if f.browser == nil {
		return nil, ErrBrowserDisabled
	}
	html, err := f.browser.Render(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	if len(html) < f.minBytes {
		return nil, fmt.Errorf("rendered html too short: %d bytes", len(html))
	}
	return f.parse(url, html, MethodBrowser)
}

func (f *Fetcher) parse(url string, html []byte, method string) (*models.FetchResult, error) {
	result, err := f.parser.Parse(url, string(html))
	if err != nil {
		return nil, err
	}
	result.Method = method
	return result, nil
}

// GetHtmlBytes fetches the raw body of url.
func (f *Fetcher) GetHtmlBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return bodyBytes, nil
}

// Close releases the browser, if any.
func (f *Fetcher) Close() error {
	if f.browser == nil {
		return nil
	}
	return f.browser.Close()
}
