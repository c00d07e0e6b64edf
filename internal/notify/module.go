package notify

import (
	"updown_bot/internal/modules/config"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config) (*Telegram, error) {
				return NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
			},
			func(t *Telegram) Notifier { return t },
		),
	)
}
