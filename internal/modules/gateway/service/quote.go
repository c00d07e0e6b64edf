package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"updown_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// GetQuote returns the venue's top of book for a market. A missing side
// comes back as zero.
func (c *Client) GetQuote(ctx context.Context, marketID string) (*models.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.Gateway.ClobHost+"/ticker/"+url.PathEscape(marketID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "GetQuote: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "GetQuote: do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("GetQuote: http %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Bid json.RawMessage `json:"bid"`
		Ask json.RawMessage `json:"ask"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "GetQuote: decode")
	}

	return &models.Quote{
		Bid: looseFloat(payload.Bid),
		Ask: looseFloat(payload.Ask),
	}, nil
}

// looseFloat parses a JSON value the venue serves either as a number or as
// a quoted string. Anything unparsable is zero (side absent).
func looseFloat(raw json.RawMessage) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
