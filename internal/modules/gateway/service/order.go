package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"updown_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// GetAllowance returns the spendable allowance for (wallet, token).
func (c *Client) GetAllowance(ctx context.Context, walletAddress, tokenID string) (float64, error) {
	path := "/allowance?wallet=" + url.QueryEscape(walletAddress) + "&token_id=" + url.QueryEscape(tokenID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Gateway.ClobHost+path, nil)
	if err != nil {
		return 0, errors.Wrap(err, "GetAllowance: build request")
	}
	req.Header = c.signedHeaders(http.MethodGet, path, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "GetAllowance: do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("GetAllowance: http %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Allowance string `json:"allowance"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return 0, errors.Wrap(err, "GetAllowance: decode")
	}
	v, err := strconv.ParseFloat(payload.Allowance, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "GetAllowance: parse %q", payload.Allowance)
	}
	return v, nil
}

// PlaceOrder submits one order for the selected outcome token. Trade side
// maps to the venue's order side: UP places a BUY, DOWN a SELL.
func (c *Client) PlaceOrder(
	ctx context.Context,
	walletAddress, tokenID string,
	side models.Side,
	price, size float64,
) (*models.OrderResult, error) {
	orderSide := "BUY"
	if side == models.SideDown {
		orderSide = "SELL"
	}

	payload, err := sonic.Marshal(map[string]string{
		"token_id": tokenID,
		"side":     orderSide,
		"price":    strconv.FormatFloat(price, 'f', -1, 64),
		"size":     strconv.FormatFloat(size, 'f', -1, 64),
		"wallet":   walletAddress,
	})
	if err != nil {
		return nil, errors.Wrap(err, "PlaceOrder: marshal")
	}

	const requestPath = "/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Gateway.ClobHost+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "PlaceOrder: build request")
	}
	req.Header = c.signedHeaders(http.MethodPost, requestPath, string(payload))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "PlaceOrder: do request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("PlaceOrder: http %d: %s", resp.StatusCode, string(body))
	}

	var r struct {
		Success     bool   `json:"success"`
		ID          string `json:"id"`
		OrderID     string `json:"order_id"`
		ClobOrderID string `json:"clob_order_id"`
		ErrorMsg    string `json:"errorMsg"`
	}
	if err := sonic.Unmarshal(body, &r); err != nil {
		return nil, errors.Wrapf(err, "PlaceOrder: decode %s", string(body))
	}

	orderID := r.ID
	if orderID == "" {
		orderID = r.OrderID
	}
	if orderID == "" {
		orderID = r.ClobOrderID
	}
	if !r.Success && r.ErrorMsg != "" {
		return &models.OrderResult{Success: false, OrderID: orderID},
			fmt.Errorf("PlaceOrder: rejected: %s", r.ErrorMsg)
	}
	return &models.OrderResult{Success: r.Success || orderID != "", OrderID: orderID}, nil
}
