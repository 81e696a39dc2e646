package serve

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dtnitsch/pagewatch/pkg/db"
	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "pagewatch",
		"time":    s.now().UTC(),
	})
}

func (s *Server) handleTrigger(c echo.Context) error {
	if !s.startRun("http") {
		return fail(c, http.StatusConflict, "A run is already in progress")
	}
	return successWithStatus(c, http.StatusAccepted, map[string]string{"run": "started"})
}

func (s *Server) handleRunPage(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return fail(c, http.StatusBadRequest, "Invalid page id")
	}

	if !s.running.TryLock() {
		return fail(c, http.StatusConflict, "A run is already in progress")
	}
	defer s.running.Unlock()

	res, err := s.runner.RunPage(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return fail(c, http.StatusNotFound, "Page not found")
	}
	if err != nil {
		s.logger.Error("page run failed", "page_id", id, "error", err)
		return internalError(c, "Page run failed")
	}
	return success(c, res)
}

func (s *Server) handlePages(c echo.Context) error {
	pages, err := s.store.ListPages(c.Request().Context(), c.QueryParam("all") != "true")
	if err != nil {
		s.logger.Error("list pages failed", "error", err)
		return internalError(c, "Failed to load pages")
	}
	return success(c, map[string]any{"items": pages})
}

func (s *Server) handleEvents(c echo.Context) error {
	events, err := s.store.ListPendingEvents(c.Request().Context(), s.today(), parseLimit(c))
	if err != nil {
		s.logger.Error("list events failed", "error", err)
		return internalError(c, "Failed to load events")
	}
	return success(c, map[string]any{"items": events})
}

func (s *Server) handleSuspects(c echo.Context) error {
	suspects, err := s.store.ListDuplicateSuspects(c.Request().Context(), parseLimit(c))
	if err != nil {
		s.logger.Error("list duplicate suspects failed", "error", err)
		return internalError(c, "Failed to load duplicate suspects")
	}
	return success(c, map[string]any{"items": suspects})
}

func (s *Server) today() string {
	return s.now().Format("2006-01-02")
}

func parseLimit(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
