// Package notifier sends HTML messages to a Telegram chat.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageRunes is Telegram's limit for one message.
const MaxMessageRunes = 4096

// ErrNotConfigured is returned when the bot token or target chat is missing.
var ErrNotConfigured = errors.New("notifier: telegram not configured")

// Sender delivers text to a channel. An empty channel means the default chat.
type Sender interface {
	Send(ctx context.Context, channel, text string) error
}

type Telegram struct {
	apiURL      string
	token       string
	defaultChat string
	client      *http.Client
	logger      *slog.Logger
}

func NewTelegram(apiURL, token, defaultChat string, logger *slog.Logger) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org/bot"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		apiURL:      apiURL,
		token:       token,
		defaultChat: defaultChat,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text as one or more HTML messages.
func (t *Telegram) Send(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = t.defaultChat
	}
	if t.token == "" || channel == "" {
		return ErrNotConfigured
	}

	for _, chunk := range splitMessage(text, MaxMessageRunes) {
		if err := t.send(ctx, channel, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := t.apiURL + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out apiResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, out.Description)
	}

	t.logger.Debug("telegram message sent", "chat_id", chatID, "runes", utf8.RuneCountInString(text))
	return nil
}

// splitMessage cuts text into chunks of at most max runes, preferring
// paragraph and line boundaries.
func splitMessage(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > max {
		cut := lastIndex(runes[:max], "\n\n")
		if cut <= 0 {
			cut = lastIndex(runes[:max], "\n")
		}
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

func lastIndex(runes []rune, sep string) int {
	s := string(runes)
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:i])
}
