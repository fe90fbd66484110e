package models

import "time"

// Option is one contract row from a chain snapshot, validated at the I/O
// boundary: strike, type, bid, ask and delta are always populated.
type Option struct {
	Symbol string     `json:"symbol"`
	Strike float64    `json:"strike"`
	Type   OptionType `json:"type"`
	Bid    float64    `json:"bid"`
	Ask    float64    `json:"ask"`
	Delta  float64    `json:"delta"` // signed: calls positive, puts negative
}

// Mid returns the bid/ask midpoint, falling back to whichever side is
// present when the other is zero.
func (o Option) Mid() float64 {
	return midOf(o.Bid, o.Ask)
}

// Chain is an option chain snapshot keyed by expiration date (2006-01-02).
type Chain map[string][]Option

// ExpirationKey formats a date the way Chain keys it.
func ExpirationKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Quote is a point-in-time bid/ask for one symbol. Ephemeral: used only
// to value open spreads, never persisted.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Mid returns the bid/ask midpoint with one-sided fallback.
func (q Quote) Mid() float64 {
	return midOf(q.Bid, q.Ask)
}

func midOf(bid, ask float64) float64 {
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	if ask > 0 {
		return ask
	}
	return bid
}
