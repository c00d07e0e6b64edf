package postgres

import (
	"context"

	"updown_bot/internal/modules/config"
	"updown_bot/pkg/db"
	"updown_bot/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// NewTxManager builds the pgx pool. Connections are established lazily, so
// an unreachable database at startup is a warning, not a failure: the
// engine stays idle and the sync loop reaches the store once it is back.
func NewTxManager(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create poolMaster")
	}

	if err := poolMaster.Ping(ctx); err != nil {
		logger.Warn("postgres unreachable at startup, continuing: %v", err)
	}

	return db.NewPgTxManager(poolMaster), nil
}

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			NewTxManager,
		),
	)
}
