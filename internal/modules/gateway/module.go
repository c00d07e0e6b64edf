package gateway

import (
	"updown_bot/internal/modules/gateway/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("gateway",
		fx.Provide(
			service.NewClient,
		),
	)
}
