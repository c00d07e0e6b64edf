package models

// PriceTick is one normalized price observation for a symbol.
type PriceTick struct {
	Symbol     string   `json:"symbol"`
	Price      float64  `json:"price"`
	ObservedAt int64    `json:"observedAt"` // unix milliseconds
	OpenPrice  *float64 `json:"openPrice,omitempty"`
}

// PriceRange is the plausible [min, max] price band for a symbol. Prices
// outside it are flagged in logs, never discarded.
type PriceRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r PriceRange) Contains(price float64) bool {
	return price >= r.Min && price <= r.Max
}
