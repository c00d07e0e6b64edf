package service

import (
	"context"

	"updown_bot/internal/models"
	"updown_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Store persists strategies, wallets, trades and price history in postgres.
type Store struct {
	tx *db.PgTxManager
}

func NewStore(tx *db.PgTxManager) *Store {
	return &Store{tx: tx}
}

const strategyColumns = `id, wallet_id, symbol, price_threshold, order_amount, order_price_cents,
	window_start_minute, window_start_second, window_end_minute, buy_up_only, enabled`

func scanStrategy(row pgx.Row) (*models.StrategyConfig, error) {
	var s models.StrategyConfig
	err := row.Scan(
		&s.ID, &s.WalletID, &s.Symbol, &s.PriceThreshold, &s.OrderAmount, &s.OrderPriceCents,
		&s.WindowStartMinute, &s.WindowStartSecond, &s.WindowEndMinute, &s.BuyUpOnly, &s.Enabled,
	)
	if err != nil {
		return nil, err
	}
	s = s.Normalized()
	return &s, nil
}

func (s *Store) FindEnabledStrategies(ctx context.Context) ([]models.StrategyConfig, error) {
	rows, err := s.tx.Conn().Query(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE enabled = true`)
	if err != nil {
		return nil, errors.Wrap(err, "Store.FindEnabledStrategies")
	}
	defer rows.Close()

	var out []models.StrategyConfig
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, errors.Wrap(err, "Store.FindEnabledStrategies: scan")
		}
		out = append(out, *st)
	}
	return out, errors.Wrap(rows.Err(), "Store.FindEnabledStrategies: rows")
}

func (s *Store) FindStrategy(ctx context.Context, id string) (*models.StrategyConfig, error) {
	st, err := scanStrategy(s.tx.Conn().QueryRow(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Store.FindStrategy")
	}
	return st, nil
}

func (s *Store) FindWallet(ctx context.Context, id string) (*models.WalletConfig, error) {
	var w models.WalletConfig
	err := s.tx.Conn().QueryRow(ctx,
		`SELECT id, address, COALESCE(name, '') FROM wallets WHERE id = $1`, id).
		Scan(&w.ID, &w.Address, &w.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Store.FindWallet")
	}
	return &w, nil
}

func (s *Store) InsertTrade(ctx context.Context, trade models.Trade) error {
	err := s.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx,
			`INSERT INTO trades (strategy_id, market_id, side, price, size, status, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			trade.StrategyID, trade.MarketID, string(trade.Side),
			trade.Price, trade.Size, string(trade.Status), trade.ExecutedAt,
		)
		return err
	})
	return errors.Wrap(err, "Store.InsertTrade")
}

func (s *Store) InsertPrice(ctx context.Context, symbol string, price float64, observedAt int64) error {
	_, err := s.tx.Conn().Exec(ctx,
		`INSERT INTO price_history (symbol, price, observed_at) VALUES ($1, $2, to_timestamp($3 / 1000.0))`,
		symbol, price, observedAt,
	)
	return errors.Wrap(err, "Store.InsertPrice")
}

func (s *Store) LatestPrice(ctx context.Context, symbol string) (*models.PriceTick, error) {
	var (
		price float64
		at    int64
	)
	err := s.tx.Conn().QueryRow(ctx,
		`SELECT price, (EXTRACT(EPOCH FROM observed_at) * 1000)::bigint
		 FROM price_history WHERE symbol = $1 ORDER BY observed_at DESC LIMIT 1`, symbol).
		Scan(&price, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Store.LatestPrice")
	}
	return &models.PriceTick{Symbol: symbol, Price: price, ObservedAt: at}, nil
}
