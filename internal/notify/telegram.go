package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends notifications as bot messages. User IDs are the
// participants' Telegram ids, which double as private chat ids.
type TelegramNotifier struct {
	bot Sender
	log *slog.Logger
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	n := NewTelegramNotifierWithSender(bot)
	n.log.Info("telegram notifier ready", "bot", bot.Self.UserName)
	return n, nil
}

// NewTelegramNotifierWithSender wraps an existing sender.
func NewTelegramNotifierWithSender(bot Sender) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, log: slog.With("component", "notify", "sink", "telegram")}
}

// Notify sends n to the user's private chat. Delivery failures are logged.
func (t *TelegramNotifier) Notify(ctx context.Context, n domain.Notification) {
	chatID, err := strconv.ParseInt(n.UserID, 10, 64)
	if err != nil {
		metrics.Notifications.WithLabelValues(string(n.Type), "failed").Inc()
		t.log.Warn("not a telegram user id", "user", n.UserID)
		return
	}

	msg := tgbotapi.NewMessage(chatID, render(n))
	if _, err := t.bot.Send(msg); err != nil {
		metrics.Notifications.WithLabelValues(string(n.Type), "failed").Inc()
		t.log.WarnContext(ctx, "telegram send failed", "user", n.UserID, "type", n.Type, "error", err)
		return
	}
	metrics.Notifications.WithLabelValues(string(n.Type), "sent").Inc()
}

func render(n domain.Notification) string {
	if n.Title == "" {
		return n.Body
	}
	if n.Body == "" {
		return n.Title
	}
	return n.Title + "\n" + n.Body
}
