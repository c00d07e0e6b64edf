package engine

import (
	"context"

	feedsvc "updown_bot/internal/modules/feed/service"
	gatewaysvc "updown_bot/internal/modules/gateway/service"
	storesvc "updown_bot/internal/modules/storage/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			New,
			func(c *gatewaysvc.Client) Gateway { return c },
			func(s *storesvc.Store) StrategyStore { return s },
			func(c *feedsvc.Client) Feed { return c },
			func(c *feedsvc.Client) OpenPriceSource { return c },
		),
		fx.Invoke(func(lc fx.Lifecycle, e *Engine, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					e.Initialize(ctx)
					go e.RunSync(ctx)
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					e.Stop(stopCtx)
					return nil
				},
			})
		}),
	)
}
