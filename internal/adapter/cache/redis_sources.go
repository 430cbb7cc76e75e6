package cache

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

// RedisSources reads the market→provider mapping from "config:sources:*"
// keys and the enabled currencies from the "config:currencies" set.
type RedisSources struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisSources(client *redis.Client, log *logger.Logger) *RedisSources {
	return &RedisSources{client: client, log: log}
}

func sourceKey(marketID string) string {
	return redisKey("config", "sources", marketID)
}

func currenciesKey() string {
	return redisKey("config", "currencies")
}

func (s *RedisSources) SourceID(ctx context.Context, market model.Market) (string, error) {
	id, err := s.client.Get(ctx, sourceKey(market.ID())).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		s.log.Error("Redis source lookup error", "market", market.ID(), "error", err)
		return "", err
	}
	return id, nil
}

func (s *RedisSources) Currencies(ctx context.Context) ([]model.Currency, error) {
	members, err := s.client.SMembers(ctx, currenciesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return model.Currencies(members), nil
}

// Load replaces the stored configuration with sources (market id →
// provider id) and currencies. Market ids and currency codes are
// upper-cased, and source keys absent from sources are deleted.
func (s *RedisSources) Load(ctx context.Context, sources map[string]string, currencies []model.Currency) error {
	stale, err := s.sourceKeys(ctx)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	if len(stale) > 0 {
		pipe.Del(ctx, stale...)
	}
	for market, provider := range sources {
		pipe.Set(ctx, sourceKey(strings.ToUpper(strings.TrimSpace(market))), provider, 0)
	}
	pipe.Del(ctx, currenciesKey())
	if len(currencies) > 0 {
		members := make([]any, len(currencies))
		for i, c := range currencies {
			members[i] = strings.ToUpper(string(c))
		}
		pipe.SAdd(ctx, currenciesKey(), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	s.log.Info("Loaded source configuration",
		"markets", len(sources), "currencies", len(currencies), "replaced", len(stale))
	return nil
}

func (s *RedisSources) sourceKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKey("config", "sources")+":*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
