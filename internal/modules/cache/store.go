// Package cache is the TTL key/value store shared by the feed normalizer,
// the runners and the gateway. All accesses are independent key reads and
// writes; misses and backend failures both surface as "no value".
package cache

import (
	"context"
	"fmt"
	"time"
)

type Store interface {
	// Get returns the value for key, or ok=false when the key is absent or
	// the backend is unavailable.
	Get(ctx context.Context, key string) (value string, ok bool)
	// Set writes key with a TTL. Failures are logged, never propagated.
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Key namespace, kept stable so collaborators stay interchangeable.

func PriceKey(symbol string) string {
	return fmt.Sprintf("price:%s", symbol)
}

func CandleOpenKey(symbol string, candleStart int64) string {
	return fmt.Sprintf("candle:%s:%d:open", symbol, candleStart)
}

func MarketKey(symbol string, candleStart int64) string {
	return fmt.Sprintf("market:%s:%d", symbol, candleStart)
}
