package ports

import (
	"context"
	"time"

	"rates-engine/internal/domain/model"
)

// RateProvider is an upstream rate source. Markets passed in a single call
// share a base currency. A pair the provider has no figure for comes back
// as a rate with a nil Value; errors are reserved for transport and auth
// failures.
type RateProvider interface {
	ID() string
	FetchLive(ctx context.Context, markets []model.Market) ([]model.Rate, error)
	FetchHistorical(ctx context.Context, markets []model.Market, date time.Time) ([]model.Rate, error)
	FetchTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error)
}
