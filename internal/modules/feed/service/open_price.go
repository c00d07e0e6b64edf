package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"updown_bot/internal/candle"
	"updown_bot/internal/modules/cache"
	"updown_bot/pkg/logger"
)

const historicalFetchTimeout = 5 * time.Second

// resolveOpenPrice resolves the open price for the tick's candle, following
// a fixed precedence: vendor-asserted open, cache, historical report at the
// candle boundary, and finally the tick's own price when the tick falls in
// the candle's first minute. Returns nil when none of these apply; callers
// must treat nil as "not yet known".
func (c *Client) resolveOpenPrice(ctx context.Context, symbol string, candleStart int64, rep report) *float64 {
	key := cache.CandleOpenKey(symbol, candleStart)

	if rep.OpenPrice != nil {
		c.cache.Set(ctx, key, formatPrice(*rep.OpenPrice), openPriceTTL)
		return rep.OpenPrice
	}

	if v, ok := c.cache.Get(ctx, key); ok {
		if open, err := strconv.ParseFloat(v, 64); err == nil {
			return &open
		}
	}

	if open, ok := c.fetchCandleOpenFromAPI(ctx, symbol, candleStart); ok {
		c.cache.Set(ctx, key, formatPrice(open), openPriceTTL)
		return &open
	}

	// First observation of a fresh candle: its price is the open.
	if candle.MinuteOffset(rep.ObservedAt) == 0 {
		open := rep.Price
		c.cache.Set(ctx, key, formatPrice(open), openPriceTTL)
		return &open
	}

	return nil
}

// fetchCandleOpenFromAPI asks the feed's historical-query API for the report
// at the exact candle boundary. Several endpoint shapes exist across vendor
// deployments; each is tried with its own short timeout and failures are
// skipped silently, since the next tick retries naturally.
func (c *Client) fetchCandleOpenFromAPI(ctx context.Context, symbol string, candleStart int64) (float64, bool) {
	if c.cfg.Feed.APIURL == "" || c.cfg.Feed.UserID == "" || c.cfg.Feed.UserSecret == "" {
		return 0, false
	}
	feedID, ok := c.feedBySymbol[symbol]
	if !ok {
		return 0, false
	}

	tsSec := candleStart / 1000
	endpoints := []string{
		fmt.Sprintf("/feeds/%s/reports/%d", feedID, tsSec),
		fmt.Sprintf("/feeds/%s/reports?timestamp=%d", feedID, tsSec),
		fmt.Sprintf("/reports/%s?timestamp=%d", feedID, tsSec),
		fmt.Sprintf("/feeds/%s/reports/latest?timestamp=%d", feedID, tsSec),
	}

	for _, endpoint := range endpoints {
		rep, ok := c.fetchReport(ctx, endpoint)
		if !ok {
			continue
		}
		return rep.Price, true
	}
	return 0, false
}

func (c *Client) fetchReport(ctx context.Context, endpoint string) (report, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, historicalFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.Feed.APIURL+endpoint, nil)
	if err != nil {
		return report{}, false
	}
	req.Header = c.authHeaders(http.MethodGet, endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debug("historical fetch %s: %v", endpoint, err)
		return report{}, false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return report{}, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return report{}, false
	}
	rep, err := decodeReport(body)
	if err != nil {
		return report{}, false
	}
	return rep, true
}

// authHeaders signs a request the way the data-streams API expects:
// HMAC-SHA256 over userID+timestamp+path.
func (c *Client) authHeaders(method, path string) http.Header {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.Feed.UserSecret))
	mac.Write([]byte(c.cfg.Feed.UserID + ts + path))
	sig := hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("x-chainlink-user-id", c.cfg.Feed.UserID)
	h.Set("x-chainlink-timestamp", ts)
	h.Set("x-chainlink-signature", sig)
	h.Set("Content-Type", "application/json")
	return h
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
