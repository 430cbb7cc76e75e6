package ports

import (
	"context"

	"rates-engine/internal/domain/model"
)

// SourceLookup resolves which provider serves a market and which currencies
// are enabled. SourceID returns "" when no provider is configured for the
// market in that exact orientation.
type SourceLookup interface {
	SourceID(ctx context.Context, market model.Market) (string, error)
	Currencies(ctx context.Context) ([]model.Currency, error)
}
