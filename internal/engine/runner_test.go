package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"updown_bot/internal/candle"
	"updown_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candleAt builds a tick timestamp inside a known candle: 2026-01-05
// 12:00:00 UTC is a boundary (minute 0 of its candle).
const baseCandle = int64(1767614400000) // 2026-01-05 12:00:00 UTC, ms

func tickAt(minute, second int, price float64) models.PriceTick {
	return models.PriceTick{
		Symbol:     "BTC",
		Price:      price,
		ObservedAt: baseCandle + int64(minute)*60_000 + int64(second)*1000,
	}
}

func withOpen(t models.PriceTick, open float64) models.PriceTick {
	t.OpenPrice = &open
	return t
}

type fakeGateway struct {
	mu sync.Mutex

	market    *models.Market
	marketErr error
	quote     *models.Quote
	quoteErr  error
	allowance float64
	allowErr  error
	order     *models.OrderResult
	orderErr  error

	marketCalls int
	orderCalls  int
	placed      []models.Side
}

func (g *fakeGateway) GetMarket(_ context.Context, _ string, _ int64) (*models.Market, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marketCalls++
	return g.market, g.marketErr
}

func (g *fakeGateway) GetQuote(_ context.Context, _ string) (*models.Quote, error) {
	return g.quote, g.quoteErr
}

func (g *fakeGateway) GetAllowance(_ context.Context, _, _ string) (float64, error) {
	return g.allowance, g.allowErr
}

func (g *fakeGateway) PlaceOrder(_ context.Context, _, _ string, side models.Side, _, _ float64) (*models.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderCalls++
	g.placed = append(g.placed, side)
	return g.order, g.orderErr
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (s *fakeTradeStore) InsertTrade(_ context.Context, t models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *fakeTradeStore) all() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Trade(nil), s.trades...)
}

type fakeOpens struct {
	open map[int64]float64
}

func (o *fakeOpens) GetCandleOpenPrice(_ context.Context, _ string, candleStart int64) (float64, bool) {
	v, ok := o.open[candleStart]
	return v, ok
}

type fakeNotifier struct{}

func (fakeNotifier) Send(string)                                        {}
func (fakeNotifier) Sendf(string, ...any)                               {}
func (fakeNotifier) SendService(context.Context, string, ...any)        {}
func (fakeNotifier) NotifyTrade(context.Context, string, *models.Trade) {}

func tradableMarket() *models.Market {
	return &models.Market{
		ID:         "mk-1",
		Slug:       "btc-updown-15m-1767614400",
		Active:     true,
		YesTokenID: "yes-token",
		NoTokenID:  "no-token",
	}
}

func testStrategy() models.StrategyConfig {
	return models.StrategyConfig{
		ID:              "s1",
		WalletID:        "w1",
		Symbol:          "BTC",
		PriceThreshold:  100,
		OrderAmount:     10,
		WindowEndMinute: 14,
		BuyUpOnly:       true,
		Enabled:         true,
	}
}

func newTestRunner(s models.StrategyConfig, gw *fakeGateway, trades *fakeTradeStore) *Runner {
	if gw == nil {
		gw = &fakeGateway{}
	}
	if trades == nil {
		trades = &fakeTradeStore{}
	}
	return NewRunner(s, models.WalletConfig{ID: "w1", Address: "0xabc"}, gw, trades, &fakeOpens{}, fakeNotifier{})
}

func TestRunnerScenarioUpOrder(t *testing.T) {
	gw := &fakeGateway{
		market:    tradableMarket(),
		quote:     &models.Quote{Bid: 0.45, Ask: 0.55},
		allowance: 100,
		order:     &models.OrderResult{Success: true, OrderID: "o1"},
	}
	trades := &fakeTradeStore{}
	r := newTestRunner(testStrategy(), gw, trades)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))

	require.Len(t, gw.placed, 1)
	assert.Equal(t, models.SideUp, gw.placed[0])
	require.Len(t, trades.all(), 1)
	assert.Equal(t, models.TradeExecuted, trades.all()[0].Status)
	assert.InDelta(t, 0.55, trades.all()[0].Price, 1e-9)
}

func TestRunnerBuyUpOnlySkipsDownBranch(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Bid: 0.45, Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	// diff = -150, magnitude over threshold, but buyUpOnly
	r.processOne(withOpen(tickAt(0, 5, 59850), 60000))

	assert.Empty(t, gw.placed)
}

func TestRunnerDownOrderWhenBothSides(t *testing.T) {
	s := testStrategy()
	s.BuyUpOnly = false
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Bid: 0.45, Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	trades := &fakeTradeStore{}
	r := newTestRunner(s, gw, trades)

	r.processOne(withOpen(tickAt(0, 5, 59850), 60000))

	require.Len(t, gw.placed, 1)
	assert.Equal(t, models.SideDown, gw.placed[0])
	assert.InDelta(t, 0.45, trades.all()[0].Price, 1e-9)
}

func TestRunnerWindowGate(t *testing.T) {
	s := testStrategy()
	s.WindowStartMinute = 13
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(s, gw, nil)

	// arm at the boundary, then a qualifying tick at minute 5: outside window
	r.processOne(withOpen(tickAt(0, 0, 60000), 60000))
	r.processOne(tickAt(5, 0, 60150))

	assert.Empty(t, gw.placed)

	// same tick at minute 13 fires
	r.processOne(tickAt(13, 0, 60150))
	assert.Len(t, gw.placed, 1)
}

func TestRunnerIdempotencyPerCandle(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	trades := &fakeTradeStore{}
	r := newTestRunner(testStrategy(), gw, trades)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	r.processOne(tickAt(0, 10, 60200))
	r.processOne(tickAt(1, 0, 60300))

	assert.Equal(t, 1, gw.orderCalls)
	assert.Len(t, trades.all(), 1)
}

func TestRunnerInclusiveThreshold(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	// diff exactly at threshold fires
	r.processOne(withOpen(tickAt(0, 5, 60100), 60000))
	assert.Len(t, gw.placed, 1)
}

func TestRunnerMidCandleFirstStartStaysUninitialized(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	// first tick ever at minute 7, even with an asserted open price
	r.processOne(withOpen(tickAt(7, 0, 60150), 60000))
	assert.Empty(t, gw.placed)
	assert.False(t, r.state.Initialized)

	// next candle boundary arms the runner
	next := tickAt(0, 0, 60500)
	next.ObservedAt += int64(candle.IntervalMinutes) * 60_000
	r.processOne(withOpen(next, 60400))
	assert.True(t, r.state.Initialized)

	qualify := tickAt(0, 30, 60510)
	qualify.ObservedAt += int64(candle.IntervalMinutes) * 60_000
	r.processOne(qualify)
	assert.Len(t, gw.placed, 1)
}

func TestRunnerCandleTransitionResets(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	require.True(t, r.state.OrderPlacedThisCandle)

	next := tickAt(0, 5, 61200)
	next.ObservedAt += int64(candle.IntervalMinutes) * 60_000
	r.processOne(withOpen(next, 61000))

	assert.Equal(t, 2, gw.orderCalls)
	assert.True(t, r.state.OrderPlacedThisCandle)
	assert.Equal(t, baseCandle+int64(candle.IntervalMinutes)*60_000, r.state.CurrentCandleStart)
}

func TestRunnerOutOfOrderCandleDoesNotReset(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	next := tickAt(0, 5, 61200)
	next.ObservedAt += int64(candle.IntervalMinutes) * 60_000
	r.processOne(withOpen(next, 61000))
	require.True(t, r.state.OrderPlacedThisCandle)
	current := r.state.CurrentCandleStart

	// stale tick from the previous candle
	r.processOne(withOpen(tickAt(5, 0, 60150), 60000))

	assert.Equal(t, current, r.state.CurrentCandleStart)
	assert.True(t, r.state.OrderPlacedThisCandle)
	assert.Equal(t, 1, gw.orderCalls)
}

func TestRunnerInsufficientAllowanceTerminalForCandle(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 1}
	trades := &fakeTradeStore{}
	r := newTestRunner(testStrategy(), gw, trades)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	r.processOne(tickAt(0, 10, 60200))

	assert.Zero(t, gw.orderCalls)
	require.Len(t, trades.all(), 1)
	assert.Equal(t, models.TradeFailed, trades.all()[0].Status)
	assert.True(t, r.state.OrderPlacedThisCandle)
}

func TestRunnerUnresolvableOrderPriceRetryable(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{}, allowance: 100, order: &models.OrderResult{Success: true}}
	trades := &fakeTradeStore{}
	r := newTestRunner(testStrategy(), gw, trades)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	assert.False(t, r.state.OrderPlacedThisCandle)
	assert.Empty(t, trades.all())

	// quote recovers, the next tick retries in the same candle
	gw.quote = &models.Quote{Ask: 0.6}
	r.processOne(tickAt(0, 10, 60150))
	assert.Equal(t, 1, gw.orderCalls)
	assert.True(t, r.state.OrderPlacedThisCandle)
}

func TestRunnerFixedOrderPriceCents(t *testing.T) {
	cents := 62
	s := testStrategy()
	s.OrderPriceCents = &cents
	gw := &fakeGateway{market: tradableMarket(), allowance: 100, order: &models.OrderResult{Success: true}}
	trades := &fakeTradeStore{}
	r := newTestRunner(s, gw, trades)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))

	require.Len(t, trades.all(), 1)
	assert.InDelta(t, 0.62, trades.all()[0].Price, 1e-9)
}

func TestRunnerMarketUnavailableRetries(t *testing.T) {
	gw := &fakeGateway{quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	assert.Zero(t, gw.orderCalls)
	assert.False(t, r.state.OrderPlacedThisCandle)

	gw.mu.Lock()
	gw.market = tradableMarket()
	gw.mu.Unlock()

	r.processOne(tickAt(0, 10, 60150))
	assert.Equal(t, 1, gw.orderCalls)
	assert.GreaterOrEqual(t, gw.marketCalls, 2)
}

func TestRunnerOpenPriceFromCacheFallback(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := NewRunner(testStrategy(), models.WalletConfig{ID: "w1", Address: "0xabc"}, gw, &fakeTradeStore{}, &fakeOpens{open: map[int64]float64{baseCandle: 60000}}, fakeNotifier{})

	// boundary tick without an asserted open resolves via the cache
	r.processOne(tickAt(0, 0, 60150))

	require.NotNil(t, r.state.CandleOpenPrice)
	assert.InDelta(t, 60000, *r.state.CandleOpenPrice, 1e-9)
	assert.Len(t, gw.placed, 1)
}

func TestRunnerAssertedOpenWinsOverCache(t *testing.T) {
	r := NewRunner(testStrategy(), models.WalletConfig{}, &fakeGateway{}, &fakeTradeStore{}, &fakeOpens{open: map[int64]float64{baseCandle: 59000}}, fakeNotifier{})

	r.processOne(withOpen(tickAt(0, 0, 60010), 60000))

	require.NotNil(t, r.state.CandleOpenPrice)
	assert.InDelta(t, 60000, *r.state.CandleOpenPrice, 1e-9)
}

func TestRunnerMailboxCollapsesBursts(t *testing.T) {
	r := newTestRunner(testStrategy(), nil, nil)

	// claim the processing slot as if a tick were in flight
	r.mu.Lock()
	r.processing = true
	r.mu.Unlock()

	r.HandleTick(tickAt(0, 1, 1))
	r.HandleTick(tickAt(0, 2, 2))
	r.HandleTick(tickAt(0, 3, 3))

	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotNil(t, r.pending)
	assert.InDelta(t, 3, r.pending.Price, 1e-9)
}

func TestRunnerUpdateStrategyPreservesCandleState(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	require.True(t, r.state.OrderPlacedThisCandle)

	s := testStrategy()
	s.PriceThreshold = 50
	r.UpdateStrategy(s)

	// the in-flight candle stays consumed
	r.processOne(tickAt(1, 0, 60200))
	assert.Equal(t, 1, gw.orderCalls)
}

func TestRunnerPanicInGatewayIsContained(t *testing.T) {
	r := NewRunner(testStrategy(), models.WalletConfig{}, panicGateway{}, &fakeTradeStore{}, &fakeOpens{}, fakeNotifier{})

	assert.NotPanics(t, func() {
		r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	})
}

// blockingGateway parks the drain goroutine inside GetMarket so tests can
// observe an in-flight evaluation.
type blockingGateway struct {
	fakeGateway
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGateway) GetMarket(ctx context.Context, symbol string, candleStart int64) (*models.Market, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeGateway.GetMarket(ctx, symbol, candleStart)
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return !r.processing
	}, time.Second, time.Millisecond)
}

func TestRunnerResetIdleZeroesState(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	r.processOne(withOpen(tickAt(0, 5, 60150), 60000))
	require.True(t, r.state.OrderPlacedThisCandle)

	r.ResetState()
	assert.Equal(t, RunnerState{}, r.state)
}

func TestRunnerResetDuringInFlightTickAppliedByDrain(t *testing.T) {
	gw := &blockingGateway{
		fakeGateway: fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	r := newTestRunner(testStrategy(), &gw.fakeGateway, nil)
	r.gw = gw

	r.HandleTick(withOpen(tickAt(0, 5, 60150), 60000))
	<-gw.entered // evaluation parked inside the gateway call

	// a removal racing the in-flight tick must not touch live state
	r.ResetState()
	r.mu.Lock()
	assert.True(t, r.resetRequested)
	r.mu.Unlock()

	close(gw.release)
	waitIdle(t, r)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.False(t, r.resetRequested)
	assert.Equal(t, RunnerState{}, r.state)
	assert.Nil(t, r.pending)
}

func TestRunnerResetConcurrentWithTicks(t *testing.T) {
	gw := &fakeGateway{market: tradableMarket(), quote: &models.Quote{Ask: 0.55}, allowance: 100, order: &models.OrderResult{Success: true}}
	r := newTestRunner(testStrategy(), gw, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.HandleTick(withOpen(tickAt(0, i%60, 60150), 60000))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.ResetState()
		}
	}()
	wg.Wait()
	waitIdle(t, r)
}

type panicGateway struct{}

func (panicGateway) GetMarket(context.Context, string, int64) (*models.Market, error) {
	panic("gateway down")
}
func (panicGateway) GetQuote(context.Context, string) (*models.Quote, error) { panic("gateway down") }
func (panicGateway) GetAllowance(context.Context, string, string) (float64, error) {
	panic("gateway down")
}
func (panicGateway) PlaceOrder(context.Context, string, string, models.Side, float64, float64) (*models.OrderResult, error) {
	panic("gateway down")
}
