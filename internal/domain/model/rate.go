package model

import (
	"time"
)

// Rate is a resolved exchange rate for one market. A nil Value means the
// provider answered but has no figure for that market and date.
type Rate struct {
	Market     Market   `json:"market"`
	Source     string   `json:"source"`
	SourceData any      `json:"sourceData,omitempty"`
	Value      *float64 `json:"value"`
	Date       string   `json:"date"`
	Timestamp  int64    `json:"timestamp"`
	Bridged    bool     `json:"bridged"`

	// inverse marks a rate whose Market was flipped but whose Value has not
	// been inverted yet. Normalize settles it.
	inverse bool
}

// Float returns a pointer to v, for building rates with a value.
func Float(v float64) *float64 {
	return &v
}

func (r Rate) HasValue() bool {
	return r.Value != nil
}

// IsInverse reports whether an inversion is still pending.
func (r Rate) IsInverse() bool {
	return r.inverse
}

// Oriented re-expresses r with base as its base currency. The value is left
// as is until Normalize is called.
func (r Rate) Oriented(base Currency) Rate {
	m, inverted := ParseMarket(r.Market, base)
	if inverted {
		r.Market = m
		r.inverse = !r.inverse
	}
	return r
}

// Normalize applies a pending inversion. A nil value stays nil and a zero
// value becomes nil rather than an infinity.
func (r Rate) Normalize() Rate {
	if !r.inverse {
		return r
	}
	r.inverse = false
	if r.Value == nil || *r.Value == 0 {
		r.Value = nil
		return r
	}
	r.Value = Float(1 / *r.Value)
	return r
}

// CachedRate is the persisted form of a Rate. Market holds the market id in
// the orientation the rate was produced in.
type CachedRate struct {
	Market     string   `json:"market"`
	Source     string   `json:"source"`
	SourceData any      `json:"sourceData,omitempty"`
	Value      *float64 `json:"value"`
	Date       string   `json:"date"`
	Timestamp  int64    `json:"timestamp"`
	Bridged    bool     `json:"bridged"`
}

// NewCachedRate builds the stored form of r. A pending inversion is undone by
// storing the original orientation with the original value.
func NewCachedRate(r Rate) CachedRate {
	m := r.Market
	if r.inverse {
		m = m.Inverse()
	}
	return CachedRate{
		Market:     m.ID(),
		Source:     r.Source,
		SourceData: r.SourceData,
		Value:      r.Value,
		Date:       r.Date,
		Timestamp:  r.Timestamp,
		Bridged:    r.Bridged,
	}
}

// Rate converts the stored record back into a Rate in its stored orientation.
func (c CachedRate) Rate() (Rate, error) {
	m, err := MarketFromID(c.Market)
	if err != nil {
		return Rate{}, err
	}
	return Rate{
		Market:     m,
		Source:     c.Source,
		SourceData: c.SourceData,
		Value:      c.Value,
		Date:       c.Date,
		Timestamp:  c.Timestamp,
		Bridged:    c.Bridged,
	}, nil
}

type ConversionRequest struct {
	FromCurrency Currency  `json:"from_currency"`
	ToCurrency   Currency  `json:"to_currency"`
	Amount       float64   `json:"amount"`
	Date         time.Time `json:"date,omitempty"`
}

type ConversionResult struct {
	FromCurrency Currency `json:"from_currency"`
	ToCurrency   Currency `json:"to_currency"`
	FromAmount   float64  `json:"from_amount"`
	ToAmount     float64  `json:"to_amount"`
	Rate         float64  `json:"rate"`
	Source       string   `json:"source"`
	Bridged      bool     `json:"bridged"`
	Date         string   `json:"date"`
}
