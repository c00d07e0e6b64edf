package main

import (
	"context"
	"log"

	"updown_bot/internal/engine"
	"updown_bot/internal/modules/cache"
	"updown_bot/internal/modules/config"
	"updown_bot/internal/modules/feed"
	"updown_bot/internal/modules/gateway"
	"updown_bot/internal/modules/postgres"
	"updown_bot/internal/modules/storage"
	"updown_bot/internal/notify"
	"updown_bot/pkg/logger"
	"updown_bot/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			logger.Init(cfg.Debug)
			logger.SetServiceName("updown_bot")
			tracing.SetServiceName("updown_bot")
			_, closeTracer, err := tracing.InitTracer(tracing.Config{Host: cfg.Jaeger.Host, Port: cfg.Jaeger.Port})
			if err != nil {
				logger.Warn("tracing disabled: %v", err)
				return
			}
			lc.Append(fx.Hook{OnStop: func(context.Context) error {
				closeTracer()
				return nil
			}})
		}),
		postgres.Module(),
		cache.Module(),
		notify.Module(),
		storage.Module(),
		feed.Module(),
		gateway.Module(),
		engine.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}
