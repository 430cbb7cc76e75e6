package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

// DefaultPrefix namespaces rate keys: "USD-CLP:LIVE" is stored as
// "rates:USD:CLP:LIVE".
const DefaultPrefix = "rates"

// NewRedisClient connects using a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// redisKey joins parts with ':' and turns every '-' into ':'.
func redisKey(parts ...string) string {
	return strings.ReplaceAll(strings.Join(parts, ":"), "-", ":")
}

// RedisStore is a RateStore on Redis. Values are JSON-encoded CachedRates.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

func NewRedisStore(client *redis.Client, prefix string, log *logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, log: log}
}

func (r *RedisStore) key(key string) string {
	return redisKey(r.prefix, key)
}

func (r *RedisStore) Get(ctx context.Context, key string) (*model.CachedRate, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		r.log.Debug("Redis cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		r.log.Error("Redis cache get error", "key", key, "error", err)
		return nil, err
	}
	return r.decode(key, val)
}

func (r *RedisStore) BatchGet(ctx context.Context, keys []string) ([]*model.CachedRate, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = r.key(k)
	}

	vals, err := r.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		r.log.Error("Redis cache mget error", "keys", len(keys), "error", err)
		return nil, err
	}

	out := make([]*model.CachedRate, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rate, err := r.decode(keys[i], s)
		if err != nil {
			continue
		}
		out[i] = rate
	}
	return out, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, rate model.CachedRate) error {
	return r.SetWithTTL(ctx, key, rate, 0)
}

func (r *RedisStore) SetWithTTL(ctx context.Context, key string, rate model.CachedRate, ttl time.Duration) error {
	data, err := json.Marshal(rate)
	if err != nil {
		r.log.Error("Redis cache marshal error", "key", key, "error", err)
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		r.log.Error("Redis cache set error", "key", key, "error", err)
		return err
	}
	r.log.Debug("Redis cache set", "key", key, "ttl", ttl)
	return nil
}

func (r *RedisStore) BatchSet(ctx context.Context, rates map[string]model.CachedRate) error {
	if len(rates) == 0 {
		return nil
	}
	pairs := make([]any, 0, 2*len(rates))
	for key, rate := range rates {
		data, err := json.Marshal(rate)
		if err != nil {
			r.log.Error("Redis cache marshal error", "key", key, "error", err)
			return err
		}
		pairs = append(pairs, r.key(key), data)
	}
	if err := r.client.MSet(ctx, pairs...).Err(); err != nil {
		r.log.Error("Redis cache mset error", "keys", len(rates), "error", err)
		return err
	}
	r.log.Debug("Redis cache mset", "keys", len(rates))
	return nil
}

func (r *RedisStore) BatchSetWithTTL(ctx context.Context, rates map[string]model.CachedRate, ttl time.Duration) error {
	if len(rates) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for key, rate := range rates {
		data, err := json.Marshal(rate)
		if err != nil {
			r.log.Error("Redis cache marshal error", "key", key, "error", err)
			return err
		}
		pipe.Set(ctx, r.key(key), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Redis cache pipeline error", "keys", len(rates), "error", err)
		return err
	}
	r.log.Debug("Redis cache setex", "keys", len(rates), "ttl", ttl)
	return nil
}

func (r *RedisStore) decode(key, val string) (*model.CachedRate, error) {
	var rate model.CachedRate
	if err := json.Unmarshal([]byte(val), &rate); err != nil {
		r.log.Error("Redis cache unmarshal error", "key", key, "error", err)
		return nil, err
	}
	r.log.Debug("Redis cache hit", "key", key)
	return &rate, nil
}

// ScanRates walks every stored rate whose key starts with keyPrefix (a rate
// key prefix such as "USD-CLP", or "" for all) and calls fn with the raw
// Redis key. Entries that fail to decode are skipped.
func (r *RedisStore) ScanRates(ctx context.Context, keyPrefix string, fn func(rawKey string, rate model.CachedRate) error) error {
	match := r.key(keyPrefix) + "*"
	iter := r.client.Scan(ctx, 0, match, 500).Iterator()
	for iter.Next(ctx) {
		rawKey := iter.Val()
		val, err := r.client.Get(ctx, rawKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		rate, err := r.decode(rawKey, val)
		if err != nil {
			continue
		}
		if err := fn(rawKey, *rate); err != nil {
			return err
		}
	}
	return iter.Err()
}

// DeleteRaw removes raw Redis keys and returns how many existed.
func (r *RedisStore) DeleteRaw(ctx context.Context, rawKeys ...string) (int64, error) {
	if len(rawKeys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, rawKeys...).Result()
}

// RewriteRaw replaces the rate under a raw key, keeping its TTL.
func (r *RedisStore) RewriteRaw(ctx context.Context, rawKey string, rate model.CachedRate) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, rawKey, data, redis.KeepTTL).Err()
}
