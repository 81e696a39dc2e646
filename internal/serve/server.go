// Package serve exposes the pipeline over HTTP: admin endpoints, the
// Telegram webhook and an interval scheduler.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dtnitsch/pagewatch/models"
	"github.com/dtnitsch/pagewatch/pkg/notifier"
	"github.com/dtnitsch/pagewatch/pkg/runner"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Runner interface {
	Run(ctx context.Context) (*models.Telemetry, error)
	RunPage(ctx context.Context, pageID int64) (*runner.PageResult, error)
}

type Store interface {
	ListPages(ctx context.Context, activeOnly bool) ([]models.TrackedPage, error)
	ListPendingEvents(ctx context.Context, today string, limit int) ([]models.Event, error)
	ListDuplicateSuspects(ctx context.Context, limit int) ([]models.DuplicateSuspect, error)
}

type Options struct {
	Host            string
	Port            int
	Interval        time.Duration // zero disables the scheduler
	WebhookSecret   string
	AllowedChatID   string // when set, webhook updates from other chats are ignored
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	runner Runner
	store  Store
	sender notifier.Sender
	logger *slog.Logger
	opts   Options
	now    func() time.Time

	// running guards against overlapping runs from the scheduler,
	// /trigger and the webhook.
	running sync.Mutex
	runs    sync.WaitGroup
	baseCtx context.Context
}

// NewServer builds a server. sender may be nil, in which case webhook
// commands are accepted but not answered.
func NewServer(r Runner, store Store, sender notifier.Sender, logger *slog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:  r,
		store:   store,
		sender:  sender,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error("http request failed",
					"method", v.Method, "uri", v.URI, "status", v.Status,
					"latency", v.Latency, "error", v.Error)
				return nil
			}
			s.logger.Debug("http request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	e.POST("/trigger", s.handleTrigger)
	e.GET("/pages", s.handlePages)
	e.POST("/pages/:id/run", s.handleRunPage)
	e.GET("/events", s.handleEvents)
	e.GET("/events/suspects", s.handleSuspects)
	e.POST("/webhook", s.handleWebhook)
	return e
}

// Start serves until ctx is cancelled, then waits for any run in flight.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.runner == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}
	s.baseCtx = ctx

	e := s.newEcho()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", "error", err)
		}
	}()

	if s.opts.Interval > 0 {
		go s.schedule(ctx)
	}

	if s.opts.WebhookSecret == "" && s.opts.AllowedChatID == "" {
		s.logger.Warn("webhook accepts commands from any chat; set a webhook secret or chat id")
	}
	s.logger.Info("pagewatch server started", "addr", addr, "interval", s.opts.Interval)

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.runs.Wait()
	s.logger.Info("pagewatch server stopped")
	return nil
}

// schedule starts a run on every tick; ticks that land while a run is
// active are skipped.
func (s *Server) schedule(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.startRun("schedule") {
				s.logger.Warn("scheduled run skipped, previous run still active")
			}
		}
	}
}

// startRun launches a full run in the background. It returns false when
// another run holds the lock.
func (s *Server) startRun(trigger string) bool {
	if !s.running.TryLock() {
		return false
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.running.Unlock()

		tel, err := s.runner.Run(s.baseCtx)
		if err != nil {
			s.logger.Error("run failed", "trigger", trigger, "error", err)
			return
		}
		s.logger.Info("run finished", "trigger", trigger, "run_id", tel.RunID,
			"pages", tel.PagesChecked, "changes", tel.ChangesFound, "errors", tel.Errors)
	}()
	return true
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message)
}
