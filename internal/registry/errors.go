package registry

import (
	"errors"
	"fmt"
	"strings"

	"rates-engine/internal/domain/model"
)

var (
	// ErrUnsupportedMarket indicates no registered provider serves a market
	// in either orientation.
	ErrUnsupportedMarket = errors.New("unsupported market")

	// ErrProviderFailure indicates an upstream call failed (transport or auth).
	ErrProviderFailure = errors.New("rate provider failure")
)

// ProviderError is a failed upstream call. It carries the provider id and
// the markets and date span involved; Err holds the upstream diagnostic.
type ProviderError struct {
	Provider string
	Markets  []model.Market
	Date     string
	Err      error
}

func (e *ProviderError) Error() string {
	ids := make([]string, 0, len(e.Markets))
	for _, m := range e.Markets {
		ids = append(ids, m.ID())
	}
	msg := fmt.Sprintf("provider %s [%s]", e.Provider, strings.Join(ids, ","))
	if e.Date != "" {
		msg += " " + e.Date
	}
	return msg + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderFailure, e.Err}
}

// Covers reports whether the failed call involved m in either orientation.
func (e *ProviderError) Covers(m model.Market) bool {
	for _, failed := range e.Markets {
		if failed.SamePair(m) {
			return true
		}
	}
	return false
}

type UnsupportedMarketError struct {
	Market model.Market
}

func (e *UnsupportedMarketError) Error() string {
	return ErrUnsupportedMarket.Error() + ": " + e.Market.ID()
}

func (e *UnsupportedMarketError) Unwrap() error {
	return ErrUnsupportedMarket
}

// IsProviderError checks if err wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
