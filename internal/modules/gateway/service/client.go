// Package service implements the CLOB execution gateway: market discovery
// for up/down 15-minute instruments, quotes, allowance checks and order
// placement.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"updown_bot/internal/modules/cache"
	"updown_bot/internal/modules/config"
)

type Client struct {
	cfg   *config.Config
	cache cache.Store
	http  *http.Client

	mu              sync.Mutex
	missingNotified map[string]bool
}

func NewClient(cfg *config.Config, store cache.Store) *Client {
	return &Client{
		cfg:             cfg,
		cache:           store,
		http:            &http.Client{Timeout: 10 * time.Second},
		missingNotified: make(map[string]bool),
	}
}

// sign produces the builder auth signature: HMAC-SHA256 over
// timestamp+method+path+body, base64-encoded.
func (c *Client) sign(ts, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Gateway.APISecret))
	mac.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) signedHeaders(method, path, body string) http.Header {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	h := http.Header{}
	h.Set("POLY-BUILDER-API-KEY", c.cfg.Gateway.APIKey)
	h.Set("POLY-BUILDER-TIMESTAMP", ts)
	h.Set("POLY-BUILDER-SIGN", c.sign(ts, method, path, body))
	h.Set("Content-Type", "application/json")
	return h
}

func (c *Client) noteMissingOnce(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.missingNotified[key] {
		return false
	}
	c.missingNotified[key] = true
	return true
}
