package cache

import (
	"context"
	"sync"
	"time"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

type memoryEntry struct {
	rate      model.CachedRate
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process RateStore. Entries written without a TTL
// never expire.
type MemoryCache struct {
	cacheMap map[string]memoryEntry
	mutex    sync.RWMutex
	now      func() time.Time
	log      *logger.Logger
}

func NewMemoryCache(log *logger.Logger) *MemoryCache {
	return &MemoryCache{
		cacheMap: make(map[string]memoryEntry),
		now:      time.Now,
		log:      log,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*model.CachedRate, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, found := c.cacheMap[key]
	if !found {
		c.log.Debug("Cache miss", "key", key)
		return nil, nil
	}
	if entry.expired(c.now()) {
		c.log.Debug("Cache entry expired", "key", key)
		return nil, nil
	}

	c.log.Debug("Cache hit", "key", key)
	rate := entry.rate
	return &rate, nil
}

func (c *MemoryCache) BatchGet(ctx context.Context, keys []string) ([]*model.CachedRate, error) {
	out := make([]*model.CachedRate, len(keys))
	for i, key := range keys {
		rate, err := c.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out[i] = rate
	}
	return out, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, rate model.CachedRate) error {
	return c.SetWithTTL(ctx, key, rate, 0)
}

func (c *MemoryCache) BatchSet(ctx context.Context, rates map[string]model.CachedRate) error {
	return c.BatchSetWithTTL(ctx, rates, 0)
}

func (c *MemoryCache) SetWithTTL(ctx context.Context, key string, rate model.CachedRate, ttl time.Duration) error {
	return c.BatchSetWithTTL(ctx, map[string]model.CachedRate{key: rate}, ttl)
}

func (c *MemoryCache) BatchSetWithTTL(ctx context.Context, rates map[string]model.CachedRate, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	for key, rate := range rates {
		c.cacheMap[key] = memoryEntry{rate: rate, expiresAt: expiresAt}
		c.log.Debug("Cache set", "key", key, "ttl", ttl)
	}
	return nil
}

// ClearExpired drops entries whose TTL has passed.
func (c *MemoryCache) ClearExpired(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expiredKeys := make([]string, 0)

	for key, entry := range c.cacheMap {
		if entry.expired(now) {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		delete(c.cacheMap, key)
		c.log.Debug("Removed expired cache entry", "key", key)
	}

	c.log.Info("Cleared expired cache entries", "count", len(expiredKeys))
	return nil
}
