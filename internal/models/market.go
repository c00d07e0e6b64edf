package models

// Market is the tradable up/down instrument for one (symbol, candle) pair.
type Market struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Question string `json:"question"`
	Active   bool   `json:"active"`

	YesTokenID string `json:"yesTokenId"`
	NoTokenID  string `json:"noTokenId"`
}

// TokenID selects the outcome token bought for a trade side: UP buys the
// yes token, DOWN buys the no token.
func (m *Market) TokenID(side Side) string {
	if side == SideUp {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// Tradable reports whether both outcome tokens are known.
func (m *Market) Tradable() bool {
	return m != nil && m.YesTokenID != "" && m.NoTokenID != ""
}

// Quote is the venue's current top of book for a market. A zero side means
// the venue did not return that side.
type Quote struct {
	Bid float64
	Ask float64
}

// OrderResult is the venue's response to an order submission.
type OrderResult struct {
	Success bool
	OrderID string
}
