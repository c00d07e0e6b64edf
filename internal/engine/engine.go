package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"updown_bot/internal/models"
	"updown_bot/internal/modules/config"
	feedsvc "updown_bot/internal/modules/feed/service"
	"updown_bot/internal/notify"
	"updown_bot/pkg/logger"
)

// StrategyStore is the persistent source of strategies, wallets and trades.
type StrategyStore interface {
	FindEnabledStrategies(ctx context.Context) ([]models.StrategyConfig, error)
	FindStrategy(ctx context.Context, id string) (*models.StrategyConfig, error)
	FindWallet(ctx context.Context, id string) (*models.WalletConfig, error)
	InsertTrade(ctx context.Context, trade models.Trade) error
}

// Feed delivers normalized ticks per symbol.
type Feed interface {
	Subscribe(symbol string, fn feedsvc.TickHandler) int
	Unsubscribe(symbol string, id int)
}

type symbolSub struct {
	id   int
	refs int
}

// Engine keeps one Runner per enabled strategy and routes each tick to the
// runners whose symbol matches. Lifecycle ops (add/remove/refresh) share one
// mutex; tick routing reads a copy-on-write snapshot and never contends
// with them.
type Engine struct {
	cfg   *config.Config
	store StrategyStore
	gw    Gateway
	feed  Feed
	opens OpenPriceSource
	n     notify.Notifier

	mu      sync.Mutex
	runners map[string]*Runner
	subs    map[string]*symbolSub
	routes  atomic.Value // map[string][]*Runner, keyed by symbol

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg *config.Config, store StrategyStore, gw Gateway, feed Feed, opens OpenPriceSource, n notify.Notifier) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   store,
		gw:      gw,
		feed:    feed,
		opens:   opens,
		n:       n,
		runners: make(map[string]*Runner),
		subs:    make(map[string]*symbolSub),
		stopCh:  make(chan struct{}),
	}
	e.routes.Store(map[string][]*Runner{})
	return e
}

// Initialize loads all enabled strategies and builds their runners. A store
// outage leaves the engine idle; the sync loop retries on its next pass.
func (e *Engine) Initialize(ctx context.Context) {
	list, err := e.store.FindEnabledStrategies(ctx)
	if err != nil {
		logger.Error("engine: loading enabled strategies: %v", err)
		return
	}
	for _, s := range list {
		e.upsert(ctx, s)
	}
	logger.Info("engine: initialized with %d strategies", len(list))
	e.n.SendService(ctx, "engine started: %d strategies", len(list))
}

// AddStrategy tracks a strategy by id, refreshing its snapshot if already
// tracked. A disabled or missing strategy is removed instead.
func (e *Engine) AddStrategy(ctx context.Context, id string) {
	s, err := e.store.FindStrategy(ctx, id)
	if err != nil {
		logger.Error("engine: loading strategy %s: %v", id, err)
		return
	}
	if s == nil || !s.Enabled {
		e.RemoveStrategy(id)
		return
	}
	e.upsert(ctx, *s)
}

// upsert refreshes an existing runner in place (same instance, in-flight
// candle state preserved) or constructs a new one. A strategy whose wallet
// cannot be resolved is skipped with a warning.
func (e *Engine) upsert(ctx context.Context, s models.StrategyConfig) {
	w, err := e.store.FindWallet(ctx, s.WalletID)
	if err != nil {
		logger.Error("engine: loading wallet %s for strategy %s: %v", s.WalletID, s.ID, err)
		return
	}
	if w == nil {
		logger.Warn("engine: strategy %s skipped, wallet %s not found", s.ID, s.WalletID)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.runners[s.ID]; ok {
		prev := r.Symbol()
		r.UpdateStrategy(s)
		r.UpdateWallet(*w)
		if prev != s.Symbol {
			e.releaseLocked(prev)
			e.retainLocked(s.Symbol)
		}
		e.rebuildRoutesLocked()
		return
	}

	r := NewRunner(s, *w, e.gw, e.store, e.opens, e.n)
	e.runners[s.ID] = r
	e.retainLocked(s.Symbol)
	e.rebuildRoutesLocked()
	logger.Info("engine: runner added for strategy %s [%s]", s.ID, s.Symbol)
}

// RemoveStrategy stops and forgets a runner. Idempotent.
func (e *Engine) RemoveStrategy(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runners[id]
	if !ok {
		return
	}
	delete(e.runners, id)
	r.Stop()
	e.releaseLocked(r.Symbol())
	e.rebuildRoutesLocked()
	logger.Info("engine: runner removed for strategy %s", id)
}

// retainLocked bumps the symbol's subscription refcount, creating the feed
// subscription on first use.
func (e *Engine) retainLocked(symbol string) {
	if sub, ok := e.subs[symbol]; ok {
		sub.refs++
		return
	}
	id := e.feed.Subscribe(symbol, func(t models.PriceTick) { e.route(symbol, t) })
	e.subs[symbol] = &symbolSub{id: id, refs: 1}
}

func (e *Engine) releaseLocked(symbol string) {
	sub, ok := e.subs[symbol]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}
	delete(e.subs, symbol)
	e.feed.Unsubscribe(symbol, sub.id)
}

func (e *Engine) rebuildRoutesLocked() {
	routes := make(map[string][]*Runner, len(e.subs))
	for _, r := range e.runners {
		sym := r.Symbol()
		routes[sym] = append(routes[sym], r)
	}
	e.routes.Store(routes)
}

func (e *Engine) route(symbol string, t models.PriceTick) {
	routes := e.routes.Load().(map[string][]*Runner)
	for _, r := range routes[symbol] {
		r.HandleTick(t)
	}
}

// RunSync polls the store and reconciles the runner set: new enabled ids are
// added, vanished ids removed, surviving ones refreshed in place.
func (e *Engine) RunSync(ctx context.Context) {
	interval := e.cfg.Engine.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-t.C:
			e.sync(ctx)
		}
	}
}

func (e *Engine) sync(ctx context.Context) {
	list, err := e.store.FindEnabledStrategies(ctx)
	if err != nil {
		logger.Error("engine: sync: %v", err)
		return
	}

	enabled := make(map[string]bool, len(list))
	for _, s := range list {
		enabled[s.ID] = true
		e.upsert(ctx, s)
	}

	e.mu.Lock()
	var stale []string
	for id := range e.runners {
		if !enabled[id] {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		e.RemoveStrategy(id)
	}
}

// Stop tears down all runners and feed subscriptions.
func (e *Engine) Stop(ctx context.Context) {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, r := range e.runners {
		r.Stop()
		delete(e.runners, id)
	}
	for symbol, sub := range e.subs {
		e.feed.Unsubscribe(symbol, sub.id)
		delete(e.subs, symbol)
	}
	e.routes.Store(map[string][]*Runner{})
	e.n.SendService(ctx, "engine stopped")
}
