package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"media-proxy-go/internal/config"
)

// Telegram long-polls the Bot API and answers text messages with the Responder.
type Telegram struct {
	bot       *tgbot.Bot
	responder *Responder
	logger    *slog.Logger
}

// NewTelegram creates a Telegram transport. It calls getMe, so a bad token
// fails here rather than on the first update.
func NewTelegram(cfg config.TelegramConfig, responder *Responder, logger *slog.Logger) (*Telegram, error) {
	t := &Telegram{
		responder: responder,
		logger:    logger.With("component", "telegram"),
	}

	poll := time.Duration(cfg.PollTimeoutSeconds) * time.Second
	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(t.handleUpdate),
		tgbot.WithErrorsHandler(func(err error) {
			t.logger.Error("bot api", "err", err)
		}),
		// The HTTP timeout must outlast the long poll.
		tgbot.WithHTTPClient(poll, &http.Client{Timeout: poll + 10*time.Second}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, tgbot.WithServerURL(cfg.APIURL))
	}

	b, err := tgbot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	t.bot = b
	return t, nil
}

// Run polls for updates until ctx is canceled.
func (t *Telegram) Run(ctx context.Context) {
	t.logger.Info("polling for updates")
	t.bot.Start(ctx)
}

// handleUpdate ignores everything but text messages. Each reply is sent as
// soon as the Responder produces it.
func (t *Telegram) handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID

	t.responder.Respond(ctx, update.Message.Text, func(msg string) {
		if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: chatID,
			Text:   msg,
		}); err != nil {
			t.logger.Error("send message", "err", err, "chat_id", chatID)
		}
	})
}
