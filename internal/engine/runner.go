// Package engine runs one state machine per enabled strategy and keeps the
// set of live runners in sync with the strategy store.
package engine

import (
	"context"
	"sync"
	"time"

	"updown_bot/internal/candle"
	"updown_bot/internal/models"
	"updown_bot/internal/notify"
	"updown_bot/pkg/logger"

	"github.com/opentracing/opentracing-go"
)

// Gateway resolves tradable markets and executes orders on the venue.
type Gateway interface {
	GetMarket(ctx context.Context, symbol string, candleStart int64) (*models.Market, error)
	GetQuote(ctx context.Context, marketID string) (*models.Quote, error)
	GetAllowance(ctx context.Context, walletAddress, tokenID string) (float64, error)
	PlaceOrder(ctx context.Context, walletAddress, tokenID string, side models.Side, price, size float64) (*models.OrderResult, error)
}

// TradeStore is the append-only trade sink.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade models.Trade) error
}

// OpenPriceSource resolves the open price of a candle (cache first, then the
// feed's historical API).
type OpenPriceSource interface {
	GetCandleOpenPrice(ctx context.Context, symbol string, candleStart int64) (float64, bool)
}

// RunnerState is the per-candle snapshot. It is replaced wholesale on candle
// transitions and only ever touched by the runner's processing goroutine.
type RunnerState struct {
	CurrentCandleStart    int64 // unix ms, 0 = no candle seen yet
	CandleOpenPrice       *float64
	CurrentMarket         *models.Market
	OrderPlacedThisCandle bool
	Initialized           bool
}

// Runner evaluates one strategy against its symbol's tick stream. Ticks are
// serialized through a single-slot mailbox: while one tick is being
// processed, newer ticks overwrite the pending slot and superseded ones are
// dropped.
type Runner struct {
	gw     Gateway
	trades TradeStore
	opens  OpenPriceSource
	n      notify.Notifier

	mu       sync.Mutex
	strategy models.StrategyConfig
	wallet   models.WalletConfig

	processing     bool
	pending        *models.PriceTick
	resetRequested bool

	state RunnerState

	// window telemetry throttles
	lastLoggedMinute int
	lastLogBucket    int
}

func NewRunner(strategy models.StrategyConfig, wallet models.WalletConfig, gw Gateway, trades TradeStore, opens OpenPriceSource, n notify.Notifier) *Runner {
	return &Runner{
		gw:               gw,
		trades:           trades,
		opens:            opens,
		n:                n,
		strategy:         strategy.Normalized(),
		wallet:           wallet,
		lastLoggedMinute: -1,
		lastLogBucket:    -1,
	}
}

// UpdateStrategy replaces the config snapshot in place. In-flight candle
// state survives the edit.
func (r *Runner) UpdateStrategy(s models.StrategyConfig) {
	r.mu.Lock()
	r.strategy = s.Normalized()
	r.mu.Unlock()
}

func (r *Runner) UpdateWallet(w models.WalletConfig) {
	r.mu.Lock()
	r.wallet = w
	r.mu.Unlock()
}

func (r *Runner) Symbol() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy.Symbol
}

func (r *Runner) StrategyID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy.ID
}

// ResetState drops all candle-scoped state. The runner re-arms on the next
// clean candle boundary. State is owned by the drain goroutine, so while a
// tick is in flight the reset is only requested here and applied by the
// drain loop once the tick finishes; with no tick in flight the slot is
// free and the state can be zeroed directly under the mutex.
func (r *Runner) ResetState() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = nil
	if r.processing {
		r.resetRequested = true
		return
	}
	r.state = RunnerState{}
}

func (r *Runner) Stop() { r.ResetState() }

// HandleTick is the mailbox entry point. It never blocks the dispatcher:
// when the runner is idle it claims the slot and processes on its own
// goroutine; when busy it overwrites the pending slot, most recent wins.
func (r *Runner) HandleTick(tick models.PriceTick) {
	r.mu.Lock()
	if r.processing {
		t := tick
		r.pending = &t
		r.mu.Unlock()
		return
	}
	r.processing = true
	r.mu.Unlock()

	go r.drain(tick)
}

func (r *Runner) drain(first models.PriceTick) {
	tick := first
	for {
		r.processOne(tick)

		r.mu.Lock()
		if r.resetRequested {
			r.resetRequested = false
			r.pending = nil
			r.state = RunnerState{}
		}
		if r.pending == nil {
			r.processing = false
			r.mu.Unlock()
			return
		}
		tick = *r.pending
		r.pending = nil
		r.mu.Unlock()
	}
}

func (r *Runner) processOne(tick models.PriceTick) {
	r.mu.Lock()
	strat := r.strategy
	wallet := r.wallet
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("runner %s [%s]: panic while processing tick: %v", strat.ID, strat.Symbol, rec)
		}
	}()

	r.evaluate(context.Background(), strat, wallet, tick)
}

// evaluate applies one tick to the state machine. Every early return leaves
// RunnerState consistent so the next tick retries from a known point.
func (r *Runner) evaluate(ctx context.Context, strat models.StrategyConfig, wallet models.WalletConfig, tick models.PriceTick) {
	candleStart := candle.StartMillis(tick.ObservedAt)

	// ticks from an already-superseded candle must not reset state: a
	// completed candle stays completed.
	if candleStart < r.state.CurrentCandleStart {
		return
	}

	// candle transition: reset per-candle state, try to capture the open
	// on a clean boundary. A first-ever tick that lands mid-candle keeps
	// the runner uninitialized until the next boundary.
	if candleStart != r.state.CurrentCandleStart {
		r.state = RunnerState{
			CurrentCandleStart: candleStart,
			Initialized:        r.state.Initialized,
		}
		if candle.MinuteOffset(tick.ObservedAt) == 0 {
			if open := r.resolveOpen(ctx, strat.Symbol, candleStart, tick); open != nil {
				r.state.CandleOpenPrice = open
				r.state.Initialized = true
			}
		}
	}

	if r.state.CandleOpenPrice == nil {
		open := r.resolveOpen(ctx, strat.Symbol, candleStart, tick)
		if open == nil {
			return
		}
		r.state.CandleOpenPrice = open
	}

	if !r.state.Initialized {
		return
	}

	diff := tick.Price - *r.state.CandleOpenPrice
	windowStart, windowEnd := candle.WindowBounds(candleStart, strat.WindowStartMinute, strat.WindowStartSecond, strat.WindowEndMinute)
	inWindow := tick.ObservedAt >= windowStart && tick.ObservedAt <= windowEnd

	r.logWindowState(strat, tick, diff, windowEnd, inWindow)

	if !inWindow {
		return
	}
	if r.state.OrderPlacedThisCandle {
		return
	}

	if r.state.CurrentMarket == nil {
		m, err := r.gw.GetMarket(ctx, strat.Symbol, candleStart)
		if err != nil {
			logger.Error("runner %s [%s]: market lookup: %v", strat.ID, strat.Symbol, err)
			return
		}
		if m == nil || !m.Tradable() {
			logger.Debug("runner %s [%s]: no tradable market for candle %d", strat.ID, strat.Symbol, candleStart)
			return
		}
		r.state.CurrentMarket = m
	}

	side := models.SideNone
	switch {
	case diff >= strat.PriceThreshold:
		side = models.SideUp
	case !strat.BuyUpOnly && diff <= -strat.PriceThreshold:
		side = models.SideDown
	}
	if side == models.SideNone {
		return
	}

	r.execute(ctx, strat, wallet, r.state.CurrentMarket, side, tick.Price, diff)
}

// execute performs the single order attempt for this candle. Unresolvable
// order price keeps the candle open for a later tick; everything past the
// allowance check is terminal for the candle.
func (r *Runner) execute(ctx context.Context, strat models.StrategyConfig, wallet models.WalletConfig, market *models.Market, side models.Side, price, diff float64) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "engine.execute")
	span.SetTag("strategy_id", strat.ID)
	span.SetTag("symbol", strat.Symbol)
	span.SetTag("side", string(side))
	defer span.Finish()

	orderPrice, ok := r.resolveOrderPrice(ctx, strat, market, side)
	if !ok {
		logger.Warn("runner %s [%s]: unable to determine order price for %s", strat.ID, strat.Symbol, side)
		return
	}

	tokenID := market.TokenID(side)

	allowance, err := r.gw.GetAllowance(ctx, wallet.Address, tokenID)
	if err != nil || allowance < strat.OrderAmount {
		if err != nil {
			logger.Error("runner %s [%s]: allowance check: %v", strat.ID, strat.Symbol, err)
		} else {
			logger.Error("runner %s [%s]: insufficient allowance for wallet %s (%.2f < %.2f)",
				strat.ID, strat.Symbol, wallet.Address, allowance, strat.OrderAmount)
		}
		r.recordTrade(ctx, strat, market.ID, side, orderPrice, models.TradeFailed)
		r.state.OrderPlacedThisCandle = true
		return
	}

	logger.Info("runner %s [%s]: placing %s order | diff=%.2f open=%.2f current=%.2f",
		strat.ID, strat.Symbol, side, diff, *r.state.CandleOpenPrice, price)

	status := models.TradeFailed
	result, err := r.gw.PlaceOrder(ctx, wallet.Address, tokenID, side, orderPrice, strat.OrderAmount)
	if err != nil {
		logger.Error("runner %s [%s]: place order %s: %v", strat.ID, strat.Symbol, side, err)
	} else if result != nil && result.Success {
		status = models.TradeExecuted
	}

	r.recordTrade(ctx, strat, market.ID, side, orderPrice, status)
	r.state.OrderPlacedThisCandle = true
}

func (r *Runner) resolveOrderPrice(ctx context.Context, strat models.StrategyConfig, market *models.Market, side models.Side) (float64, bool) {
	if strat.OrderPriceCents != nil {
		return float64(*strat.OrderPriceCents) / 100, true
	}

	quote, err := r.gw.GetQuote(ctx, market.ID)
	if err != nil {
		logger.Warn("runner %s [%s]: quote lookup: %v", strat.ID, strat.Symbol, err)
		return 0, false
	}
	if quote == nil {
		return 0, false
	}
	if side == models.SideUp && quote.Ask > 0 {
		return quote.Ask, true
	}
	if side == models.SideDown && quote.Bid > 0 {
		return quote.Bid, true
	}
	return 0, false
}

func (r *Runner) recordTrade(ctx context.Context, strat models.StrategyConfig, marketID string, side models.Side, price float64, status models.TradeStatus) {
	trade := models.Trade{
		StrategyID: strat.ID,
		MarketID:   marketID,
		Side:       side,
		Price:      price,
		Size:       strat.OrderAmount,
		Status:     status,
		ExecutedAt: time.Now().UTC(),
	}
	if err := r.trades.InsertTrade(ctx, trade); err != nil {
		logger.Error("runner %s [%s]: record trade for market %s: %v", strat.ID, strat.Symbol, marketID, err)
	}
	r.n.NotifyTrade(ctx, strat.Symbol, &trade)
}

// resolveOpen takes the tick's asserted open when present, otherwise falls
// back to the cache / historical API.
func (r *Runner) resolveOpen(ctx context.Context, symbol string, candleStart int64, tick models.PriceTick) *float64 {
	if tick.OpenPrice != nil {
		v := *tick.OpenPrice
		return &v
	}
	if v, ok := r.opens.GetCandleOpenPrice(ctx, symbol, candleStart); ok {
		return &v
	}
	return nil
}

// logWindowState emits at most one line per candle minute, plus one per 5s
// bucket during the final 30s of the window.
func (r *Runner) logWindowState(strat models.StrategyConfig, tick models.PriceTick, diff float64, windowEnd int64, inWindow bool) {
	t := time.UnixMilli(tick.ObservedAt).UTC()
	minute := candle.MinuteOffset(tick.ObservedAt)
	bucket := t.Second() / 5

	secondsRemaining := int64(-1)
	if inWindow {
		secondsRemaining = (windowEnd - tick.ObservedAt) / 1000
	}

	shouldLog := r.lastLoggedMinute != minute ||
		(secondsRemaining >= 0 && secondsRemaining <= 30 && r.lastLogBucket != bucket)
	if !shouldLog {
		return
	}
	r.lastLoggedMinute = minute
	r.lastLogBucket = bucket

	remaining := ""
	if secondsRemaining >= 0 {
		remaining = " | " + time.Duration(secondsRemaining*int64(time.Second)).String() + " remaining"
	}
	logger.Info("%s | minute %02d | price=%.2f diff=%+.2f threshold=±%.2f%s",
		strat.Symbol, minute, tick.Price, diff, strat.PriceThreshold, remaining)
}
