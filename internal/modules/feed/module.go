package feed

import (
	"context"

	"updown_bot/internal/modules/feed/service"
	storesvc "updown_bot/internal/modules/storage/service"
	"updown_bot/internal/notify"

	"go.uber.org/fx"
)

// Module wires the price feed normalizer and starts its websocket consume
// loop under the fx lifecycle.
func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(
			service.NewClient,
			func(n notify.Notifier) service.ServiceNotifier { return n },
			func(s *storesvc.Store) service.HistoryStore { return s },
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go c.Start(ctx)
					return nil
				},
			})
		}),
	)
}
