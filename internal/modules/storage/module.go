package storage

import (
	"updown_bot/internal/modules/storage/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			service.NewStore,
		),
	)
}
