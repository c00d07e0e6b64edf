package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Vendor reports arrive in a handful of shapes. Each known shape gets its
// own variant and decoder; anything that matches none of them is dropped by
// the caller as unrecognized.

// report is the canonical decoded form, prices already descaled to USD.
type report struct {
	FeedID     string
	Price      float64
	ObservedAt int64 // unix milliseconds
	// Open price asserted by the vendor for the observation's candle, if any.
	OpenPrice *float64
}

// reportV3 carries a median/benchmark price plus observation timestamps.
// Numeric fields are fixed-point integers serialized as decimal strings.
type reportV3 struct {
	FeedID                string `json:"feedID"`
	ObservationsTimestamp int64  `json:"observationsTimestamp"`
	ValidFromTimestamp    int64  `json:"validFromTimestamp"`
	Price                 string `json:"price"`
	SettlementPrice       string `json:"settlementPrice"`
}

// reportQuote carries only a bid/ask pair; the price is their mid.
type reportQuote struct {
	FeedID                string `json:"feedID"`
	ObservationsTimestamp int64  `json:"observationsTimestamp"`
	Bid                   string `json:"bid"`
	Ask                   string `json:"ask"`
}

// wsFrame is the websocket envelope; some producers nest the report, some
// send it bare.
type wsFrame struct {
	Report json.RawMessage `json:"report"`
}

var errUnrecognizedReport = errors.New("unrecognized report shape")

// decodeReport unwraps the envelope and tries each known variant in order.
func decodeReport(msg []byte) (report, error) {
	body := msg
	var frame wsFrame
	if err := sonic.Unmarshal(msg, &frame); err == nil && len(frame.Report) > 0 {
		body = frame.Report
	}

	if r, ok := decodeV3(body); ok {
		return r, nil
	}
	if r, ok := decodeQuote(body); ok {
		return r, nil
	}
	return report{}, errUnrecognizedReport
}

func decodeV3(body []byte) (report, bool) {
	var v reportV3
	if err := sonic.Unmarshal(body, &v); err != nil || v.FeedID == "" || v.Price == "" {
		return report{}, false
	}
	price, ok := descale(v.Price)
	if !ok {
		return report{}, false
	}
	r := report{
		FeedID:     v.FeedID,
		Price:      price,
		ObservedAt: reportTimestampMillis(v.ObservationsTimestamp, v.ValidFromTimestamp),
	}
	if open, ok := descale(v.SettlementPrice); ok {
		r.OpenPrice = &open
	}
	return r, true
}

func decodeQuote(body []byte) (report, bool) {
	var v reportQuote
	if err := sonic.Unmarshal(body, &v); err != nil || v.FeedID == "" {
		return report{}, false
	}
	bid, bidOK := descale(v.Bid)
	ask, askOK := descale(v.Ask)

	var price float64
	switch {
	case bidOK && askOK:
		price = (bid + ask) / 2
	case bidOK:
		price = bid
	case askOK:
		price = ask
	default:
		return report{}, false
	}
	return report{
		FeedID:     v.FeedID,
		Price:      price,
		ObservedAt: reportTimestampMillis(v.ObservationsTimestamp, 0),
	}, true
}

// descale converts a fixed-point integer string to USD. The feed is not
// consistent about scale, so the divisor is picked by magnitude: 1e18 for
// wei-scaled values, 1e6 for small test values, 1e8 otherwise.
func descale(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	raw, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, false
	}
	abs := math.Abs(raw)
	divisor := 1e8
	if abs > 1e18 {
		divisor = 1e18
	} else if abs < 1e6 {
		divisor = 1e6
	}
	v := raw / divisor
	if v == 0 || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func reportTimestampMillis(observations, validFrom int64) int64 {
	ts := observations
	if ts == 0 {
		ts = validFrom
	}
	if ts == 0 {
		return time.Now().UnixMilli()
	}
	// Vendors report seconds; normalize to milliseconds.
	if ts < 1e12 {
		ts *= 1000
	}
	return ts
}
