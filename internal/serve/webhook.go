package serve

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/dtnitsch/pagewatch/pkg/notifier"
	"github.com/labstack/echo/v4"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// handleWebhook answers bot commands. Telegram retries anything but a 2xx,
// so malformed updates and failed replies are logged and acknowledged.
func (s *Server) handleWebhook(c echo.Context) error {
	if s.opts.WebhookSecret != "" {
		got := c.Request().Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			return fail(c, http.StatusUnauthorized, "Invalid webhook secret")
		}
	}

	var update telegramUpdate
	if err := c.Bind(&update); err != nil {
		s.logger.Warn("malformed telegram update", "error", err)
		return c.NoContent(http.StatusOK)
	}
	if update.Message == nil {
		return c.NoContent(http.StatusOK)
	}

	chat := strconv.FormatInt(update.Message.Chat.ID, 10)
	if s.opts.AllowedChatID != "" && chat != s.opts.AllowedChatID {
		s.logger.Warn("ignoring telegram update from unknown chat", "update_id", update.UpdateID, "chat_id", chat)
		return c.NoContent(http.StatusOK)
	}

	ctx := c.Request().Context()
	reply := s.command(ctx, update.Message.Text)
	if reply == "" || s.sender == nil {
		return c.NoContent(http.StatusOK)
	}

	if err := s.sender.Send(ctx, chat, reply); err != nil {
		s.logger.Warn("failed to answer telegram command", "update_id", update.UpdateID, "error", err)
	}
	return c.NoContent(http.StatusOK)
}

// command returns the reply for a bot command, or "" to stay silent.
func (s *Server) command(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	// "/list@pagewatch_bot" in group chats
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")

	switch cmd {
	case "/start", "/help":
		return notifier.HelpText()
	case "/list":
		pages, err := s.store.ListPages(ctx, true)
		if err != nil {
			s.logger.Error("list pages failed", "error", err)
			return "❌ Failed to load sites."
		}
		return notifier.FormatPages(pages)
	case "/events":
		events, err := s.store.ListPendingEvents(ctx, s.today(), defaultLimit)
		if err != nil {
			s.logger.Error("list events failed", "error", err)
			return "❌ Failed to load events."
		}
		return notifier.FormatUpcoming(events)
	case "/run":
		if !s.startRun("telegram") {
			return "⏳ A check is already running."
		}
		return "🔄 Checking all sites now..."
	default:
		if strings.HasPrefix(cmd, "/") {
			return "Unknown command. Send /help for the list."
		}
		return ""
	}
}
