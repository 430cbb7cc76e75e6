package ports

import (
	"context"
	"time"

	"rates-engine/internal/domain/model"
)

// RateStore is the key/value substrate the engine caches rates in. Get
// returns (nil, nil) on a miss. BatchGet returns one entry per key, in
// input order, with nil for missing keys.
type RateStore interface {
	Get(ctx context.Context, key string) (*model.CachedRate, error)
	BatchGet(ctx context.Context, keys []string) ([]*model.CachedRate, error)
	Set(ctx context.Context, key string, rate model.CachedRate) error
	BatchSet(ctx context.Context, rates map[string]model.CachedRate) error
	SetWithTTL(ctx context.Context, key string, rate model.CachedRate, ttl time.Duration) error
	BatchSetWithTTL(ctx context.Context, rates map[string]model.CachedRate, ttl time.Duration) error
}
