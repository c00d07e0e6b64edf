package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"updown_bot/internal/candle"
	"updown_bot/internal/models"
	"updown_bot/internal/modules/cache"
	"updown_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const (
	marketCacheTTL         = time.Hour
	missingMarketCacheTTL  = time.Minute
	inactiveMarketCacheTTL = 5 * time.Minute

	// negative cache sentinel, so repeated lookups for an unlisted candle
	// don't hammer the venue
	nullSentinel = "null"
)

// MarketSlug builds the venue's instrument slug for a symbol and candle,
// e.g. "btc-updown-15m-1741000500".
func MarketSlug(symbol string, candleStart int64) string {
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), candle.StartMillis(candleStart)/1000)
}

type gammaEvent struct {
	Active bool `json:"active"`
	Closed bool `json:"closed"`
}

type gammaMarket struct {
	ID           string          `json:"id"`
	ConditionID  string          `json:"conditionId"`
	Question     string          `json:"question"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
}

// GetMarket resolves the tradable instrument for (symbol, candleStart), or
// nil when no active market exists yet. Results (including negative ones)
// are cached; the market endpoint serves token IDs, the event endpoint the
// active/closed flags.
func (c *Client) GetMarket(ctx context.Context, symbol string, candleStart int64) (*models.Market, error) {
	candleStart = candle.StartMillis(candleStart)
	cacheKey := cache.MarketKey(symbol, candleStart)

	if v, ok := c.cache.Get(ctx, cacheKey); ok {
		if v == nullSentinel {
			return nil, nil
		}
		var m models.Market
		if err := sonic.Unmarshal([]byte(v), &m); err == nil {
			return &m, nil
		}
	}

	slug := MarketSlug(symbol, candleStart)

	var event gammaEvent
	ok, err := c.getJSON(ctx, c.cfg.Gateway.GammaHost+"/events/slug/"+slug, &event)
	if err != nil {
		return nil, errors.Wrapf(err, "gateway: event %s", slug)
	}
	var gm gammaMarket
	if ok {
		ok, err = c.getJSON(ctx, c.cfg.Gateway.GammaHost+"/markets/slug/"+slug, &gm)
		if err != nil {
			return nil, errors.Wrapf(err, "gateway: market %s", slug)
		}
	}

	if !ok {
		if c.noteMissingOnce(slug) {
			logger.Info("no active up/down market for %s at %d (slug %s)", symbol, candleStart, slug)
		}
		c.cache.Set(ctx, cacheKey, nullSentinel, missingMarketCacheTTL)
		return nil, nil
	}

	if !event.Active || event.Closed {
		if c.noteMissingOnce(slug + ":inactive") {
			logger.Warn("market %s found but inactive (active=%v closed=%v)", slug, event.Active, event.Closed)
		}
		c.cache.Set(ctx, cacheKey, nullSentinel, inactiveMarketCacheTTL)
		return nil, nil
	}

	tokenIDs, err := parseClobTokenIDs(gm.ClobTokenIDs)
	if err != nil || len(tokenIDs) < 2 {
		logger.Warn("market %s has unusable clobTokenIds: %v", slug, err)
		c.cache.Set(ctx, cacheKey, nullSentinel, missingMarketCacheTTL)
		return nil, nil
	}

	id := gm.ID
	if id == "" {
		id = gm.ConditionID
	}
	market := &models.Market{
		ID:         id,
		Slug:       slug,
		Question:   gm.Question,
		Active:     true,
		YesTokenID: tokenIDs[0],
		NoTokenID:  tokenIDs[1],
	}

	if data, err := sonic.Marshal(market); err == nil {
		c.cache.Set(ctx, cacheKey, string(data), marketCacheTTL)
	}
	return market, nil
}

// parseClobTokenIDs handles the venue quirk of serializing the token array
// as a JSON string.
func parseClobTokenIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty clobTokenIds")
	}

	var ids []string
	if err := sonic.Unmarshal(raw, &ids); err == nil {
		return ids, nil
	}

	var encoded string
	if err := sonic.Unmarshal(raw, &encoded); err != nil {
		return nil, errors.Wrap(err, "clobTokenIds neither array nor string")
	}
	if err := sonic.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil, errors.Wrap(err, "decode clobTokenIds string")
	}
	return ids, nil
}

// getJSON fetches a gamma endpoint; ok=false means 404 (no such slug).
func (c *Client) getJSON(ctx context.Context, url string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return false, errors.Wrap(err, "decode response")
	}
	return true, nil
}
