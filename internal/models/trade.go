package models

import "time"

type Side string

const (
	SideNone Side = ""
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

type TradeStatus string

const (
	TradeExecuted TradeStatus = "executed"
	TradeFailed   TradeStatus = "failed"
)

// Trade is an append-only record of one execution attempt, written once per
// attempt (success or failure) and never mutated.
type Trade struct {
	StrategyID string
	MarketID   string
	Side       Side
	Price      float64
	Size       float64
	Status     TradeStatus
	ExecutedAt time.Time
}
