package notify

import (
	"context"
	"fmt"

	"updown_bot/internal/models"
	"updown_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	SendService(ctx context.Context, format string, args ...any)
	NotifyTrade(ctx context.Context, symbol string, t *models.Trade)
}

// Telegram is a passive notifier. A nil receiver or missing token degrades
// to log-only so the engine never depends on Telegram being configured.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		logger.Warn("notify: telegram not configured, running log-only")
		return nil, nil
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// SendService logs and forwards operational events (reconnects, sync
// failures, lifecycle transitions).
func (t *Telegram) SendService(_ context.Context, format string, args ...any) {
	logger.Info(format, args...)
	t.Sendf(format, args...)
}

func (t *Telegram) NotifyTrade(_ context.Context, symbol string, tr *models.Trade) {
	if tr == nil {
		return
	}
	emoji := "✅"
	if tr.Status == models.TradeFailed {
		emoji = "❌"
	}
	t.Sendf("%s strategy %s %s %s @ %.4f size %.2f (%s) market %s",
		emoji, tr.StrategyID, symbol, tr.Side, tr.Price, tr.Size, tr.Status, tr.MarketID)
}
