package serve

import (
	"strconv"

	"github.com/dtnitsch/pagewatch/internal/common"
	"github.com/dtnitsch/pagewatch/pkg/notifier"
	"github.com/urfave/cli/v2"
)

// ServeAction runs the HTTP server and scheduler until interrupted.
func ServeAction(c *cli.Context) error {
	app, err := common.NewApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config.Server
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("interval") {
		cfg.Interval = c.Duration("interval")
	}

	// Replies go to the chat that sent the command, so a token is enough.
	var sender notifier.Sender
	if app.Config.Telegram.Token != "" {
		sender = app.Telegram
	}

	// Channel usernames ("@name") never appear as an update's chat id.
	allowedChat := app.Config.Telegram.ChatID
	if _, err := strconv.ParseInt(allowedChat, 10, 64); err != nil {
		allowedChat = ""
	}

	s := NewServer(app.Runner, app.DB, sender, app.Logger, Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Interval:      cfg.Interval,
		WebhookSecret: app.Config.Telegram.WebhookSecret,
		AllowedChatID: allowedChat,
	})
	return s.Start(common.Context(c))
}
