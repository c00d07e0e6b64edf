package models

import "updown_bot/internal/candle"

// StrategyConfig is an immutable per-evaluation snapshot of a strategy.
// Runners never mutate fields in place; updates replace the whole value.
type StrategyConfig struct {
	ID       string
	WalletID string
	Symbol   string

	// Absolute price move (USD) from the candle open that triggers an order.
	PriceThreshold float64
	// Order size in shares.
	OrderAmount float64
	// Fixed order price in cents [0,100]; nil means take the venue quote.
	OrderPriceCents *int

	WindowStartMinute int
	WindowStartSecond int
	WindowEndMinute   int

	BuyUpOnly bool
	Enabled   bool
}

// Normalized clamps window and numeric fields into their valid ranges, the
// same way strategies are sanitized when loaded from the store.
func (s StrategyConfig) Normalized() StrategyConfig {
	if s.PriceThreshold < 0 {
		s.PriceThreshold = 0
	}
	if s.OrderAmount < 0 {
		s.OrderAmount = 0
	}
	if s.OrderPriceCents != nil {
		c := clampInt(*s.OrderPriceCents, 0, 100)
		s.OrderPriceCents = &c
	}
	s.WindowStartMinute = clampInt(s.WindowStartMinute, 0, candle.IntervalMinutes-1)
	s.WindowStartSecond = clampInt(s.WindowStartSecond, 0, 59)
	s.WindowEndMinute = clampInt(s.WindowEndMinute, s.WindowStartMinute, candle.IntervalMinutes-1)
	return s
}

// WalletConfig is the funding identity orders are placed from. Same
// copy-on-write discipline as StrategyConfig.
type WalletConfig struct {
	ID      string
	Address string
	Name    string
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
