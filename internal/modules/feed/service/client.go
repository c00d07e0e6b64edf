package service

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"updown_bot/internal/candle"
	"updown_bot/internal/models"
	"updown_bot/internal/modules/cache"
	"updown_bot/internal/modules/config"
	"updown_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	latestPriceTTL = 5 * time.Minute
	openPriceTTL   = candle.IntervalMinutes * time.Minute
)

type ServiceNotifier interface {
	SendService(ctx context.Context, format string, args ...any)
}

// HistoryStore is the append-only price history sink. Writes are best
// effort; a failing store never blocks tick publication.
type HistoryStore interface {
	InsertPrice(ctx context.Context, symbol string, price float64, observedAt int64) error
	LatestPrice(ctx context.Context, symbol string) (*models.PriceTick, error)
}

// TickHandler receives normalized ticks. Handlers run synchronously in
// registration order; a panicking handler is isolated from the others.
type TickHandler func(models.PriceTick)

type subscriber struct {
	id int
	fn TickHandler
}

// Client consumes raw vendor reports, normalizes them into PriceTicks with a
// resolved candle open price, and fans them out to per-symbol subscribers.
type Client struct {
	cfg     *config.Config
	n       ServiceNotifier
	cache   cache.Store
	history HistoryStore

	http     *http.Client
	wsDialer *websocket.Dialer

	feedBySymbol map[string]string // symbol -> feed ID

	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber // symbol -> ordered subscribers

	loggedFirst map[string]bool
}

func NewClient(cfg *config.Config, n ServiceNotifier, store cache.Store, history HistoryStore) *Client {
	feedBySymbol := make(map[string]string, len(cfg.Feed.Feeds))
	for feedID, symbol := range cfg.Feed.Feeds {
		feedBySymbol[symbol] = feedID
	}
	return &Client{
		cfg:          cfg,
		n:            n,
		cache:        store,
		history:      history,
		http:         &http.Client{Timeout: 10 * time.Second},
		wsDialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		feedBySymbol: feedBySymbol,
		subs:         make(map[string][]subscriber),
		loggedFirst:  make(map[string]bool),
	}
}

// Subscribe registers a handler for a symbol's ticks and returns an id for
// Unsubscribe.
func (c *Client) Subscribe(symbol string, fn TickHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.subs[symbol] = append(c.subs[symbol], subscriber{id: c.nextID, fn: fn})
	return c.nextID
}

func (c *Client) Unsubscribe(symbol string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.subs[symbol]
	n := list[:0]
	for _, s := range list {
		if s.id != id {
			n = append(n, s)
		}
	}
	if len(n) == 0 {
		delete(c.subs, symbol)
	} else {
		c.subs[symbol] = n
	}
}

// Start runs the websocket consume loop until ctx is cancelled. Reconnects
// with a short sleep; the feed owns reconnect semantics, we only dial again.
func (c *Client) Start(ctx context.Context) {
	if len(c.cfg.Feed.Feeds) == 0 {
		logger.Warn("no feeds configured, price stream not started")
		return
	}
	if c.cfg.Feed.UserID == "" || c.cfg.Feed.UserSecret == "" {
		logger.Warn("feed credentials missing, price stream not started")
		return
	}

	feedIDs := make([]string, 0, len(c.cfg.Feed.Feeds))
	for id := range c.cfg.Feed.Feeds {
		feedIDs = append(feedIDs, id)
	}
	sort.Strings(feedIDs)

	if c.n != nil {
		c.n.SendService(ctx, "price stream starting: %d feeds", len(feedIDs))
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runConn(ctx, feedIDs); err != nil {
			logger.Error("feed stream: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *Client) runConn(ctx context.Context, feedIDs []string) error {
	path := "/api/v1/ws?feedIDs=" + url.QueryEscape(strings.Join(feedIDs, ","))
	header := c.authHeaders(http.MethodGet, path)

	logger.Info("feed connect %d feeds", len(feedIDs))
	conn, _, err := c.wsDialer.DialContext(ctx, c.cfg.Feed.WSURL+path, header)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// keepalive ping, otherwise the feed drops idle connections
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleReport(ctx, msg)

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// handleReport is the normalization pipeline for one raw report.
func (c *Client) handleReport(ctx context.Context, msg []byte) {
	rep, err := decodeReport(msg)
	if err != nil {
		// superseded by the next report, not worth retrying
		logger.Debug("drop report: %v", err)
		return
	}

	symbol, ok := c.cfg.Feed.Feeds[rep.FeedID]
	if !ok {
		logger.Debug("drop report: feed %s not mapped", rep.FeedID)
		return
	}

	if r, ok := c.cfg.Feed.PriceRanges[symbol]; ok && !r.Contains(rep.Price) {
		// wide values happen on low-liquidity venues; flag, don't gate
		logger.Warn("%s price %.4f outside plausible range [%.2f, %.2f]",
			symbol, rep.Price, r.Min, r.Max)
	}

	candleStart := candle.StartMillis(rep.ObservedAt)

	tick := models.PriceTick{
		Symbol:     symbol,
		Price:      rep.Price,
		ObservedAt: rep.ObservedAt,
	}
	tick.OpenPrice = c.resolveOpenPrice(ctx, symbol, candleStart, rep)

	if !c.loggedFirst[symbol] {
		c.loggedFirst[symbol] = true
		logger.Info("first price for %s: $%.2f", symbol, tick.Price)
	}

	if data, err := sonic.Marshal(tick); err == nil {
		c.cache.Set(ctx, cache.PriceKey(symbol), string(data), latestPriceTTL)
	}
	if err := c.history.InsertPrice(ctx, symbol, tick.Price, tick.ObservedAt); err != nil {
		logger.Error("price history insert %s: %v", symbol, err)
	}

	c.publish(symbol, tick)
}

// publish invokes subscribers synchronously in registration order. One
// panicking subscriber must not starve the rest.
func (c *Client) publish(symbol string, tick models.PriceTick) {
	c.mu.RLock()
	list := make([]subscriber, len(c.subs[symbol]))
	copy(list, c.subs[symbol])
	c.mu.RUnlock()

	for _, s := range list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("tick subscriber panic for %s: %v", symbol, r)
				}
			}()
			s.fn(tick)
		}()
	}
}
