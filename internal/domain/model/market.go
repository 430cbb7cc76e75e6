package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMarket = errors.New("invalid market")

// Market is an ordered currency pair: one unit of Base priced in Quote.
type Market struct {
	Base  Currency `json:"base"`
	Quote Currency `json:"quote"`
}

func NewMarket(base, quote Currency) Market {
	return Market{Base: base, Quote: quote}
}

// ID is the storage and lookup form, e.g. "USD-CLP".
func (m Market) ID() string {
	return string(m.Base) + "-" + string(m.Quote)
}

// Code is the compact form used by some provider wire formats, e.g. "USDCLP".
func (m Market) Code() string {
	return string(m.Base) + string(m.Quote)
}

func (m Market) Inverse() Market {
	return Market{Base: m.Quote, Quote: m.Base}
}

func (m Market) String() string {
	return m.ID()
}

// SamePair reports whether o is m or its inverse.
func (m Market) SamePair(o Market) bool {
	return m == o || m == o.Inverse()
}

// IsTrivial reports whether both sides are the same currency.
func (m Market) IsTrivial() bool {
	return m.Base == m.Quote
}

// Involves reports whether c is either side of the market.
func (m Market) Involves(c Currency) bool {
	return m.Base == c || m.Quote == c
}

func (m Market) Validate() error {
	if m.Base == "" || m.Quote == "" {
		return fmt.Errorf("%w: %q", ErrInvalidMarket, m.ID())
	}
	return nil
}

// ParseMarket reconciles m with the orientation the caller asked for. When m
// already has base as its base it is returned unchanged; otherwise its
// inverse is returned and inverted is true.
func ParseMarket(m Market, base Currency) (market Market, inverted bool) {
	if m.Base == base {
		return m, false
	}
	return m.Inverse(), true
}

// ParseMarketCode is ParseMarket for the string forms "USD-CLP" and "USDCLP".
func ParseMarketCode(code string, base Currency) (Market, bool, error) {
	if code == "" || base == "" {
		return Market{}, false, fmt.Errorf("%w: %q", ErrInvalidMarket, code)
	}

	if strings.Contains(code, "-") {
		m, err := MarketFromID(code)
		if err != nil {
			return Market{}, false, err
		}
		if !m.Involves(base) {
			return Market{}, false, fmt.Errorf("%w: %q does not involve %s", ErrInvalidMarket, code, base)
		}
		market, inverted := ParseMarket(m, base)
		return market, inverted, nil
	}

	b := string(base)
	switch {
	case strings.HasPrefix(code, b) && len(code) > len(b):
		return NewMarket(base, Currency(code[len(b):])), false, nil
	case strings.HasSuffix(code, b) && len(code) > len(b):
		return NewMarket(base, Currency(code[:len(code)-len(b)])), true, nil
	}
	return Market{}, false, fmt.Errorf("%w: %q does not involve %s", ErrInvalidMarket, code, base)
}

// MarketFromID parses "BASE-QUOTE" keeping its orientation.
func MarketFromID(id string) (Market, error) {
	base, quote, ok := strings.Cut(id, "-")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "-") {
		return Market{}, fmt.Errorf("%w: %q", ErrInvalidMarket, id)
	}
	return NewMarket(Currency(base), Currency(quote)), nil
}
