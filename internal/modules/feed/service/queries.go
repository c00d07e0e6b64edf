package service

import (
	"context"
	"strconv"

	"updown_bot/internal/candle"
	"updown_bot/internal/models"
	"updown_bot/internal/modules/cache"
	"updown_bot/pkg/logger"

	"github.com/bytedance/sonic"
)

// GetLatestPrice returns the most recent tick for a symbol: cache first,
// then the history store.
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (*models.PriceTick, error) {
	if v, ok := c.cache.Get(ctx, cache.PriceKey(symbol)); ok {
		var tick models.PriceTick
		if err := sonic.Unmarshal([]byte(v), &tick); err == nil {
			return &tick, nil
		}
		logger.Debug("cached price for %s unparsable, falling back to store", symbol)
	}
	return c.history.LatestPrice(ctx, symbol)
}

// GetCandleOpenPrice returns the open price for (symbol, candleStart), from
// cache or the feed's historical API. ok=false means not (yet) known.
func (c *Client) GetCandleOpenPrice(ctx context.Context, symbol string, candleStart int64) (float64, bool) {
	candleStart = candle.StartMillis(candleStart)

	if v, ok := c.cache.Get(ctx, cache.CandleOpenKey(symbol, candleStart)); ok {
		if open, err := strconv.ParseFloat(v, 64); err == nil {
			return open, true
		}
	}

	open, ok := c.fetchCandleOpenFromAPI(ctx, symbol, candleStart)
	if ok {
		c.cache.Set(ctx, cache.CandleOpenKey(symbol, candleStart), formatPrice(open), openPriceTTL)
	}
	return open, ok
}
