package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "", logger.Discard())

	rate := model.CachedRate{
		Market:    "USD-CLP",
		Source:    "currencylayer",
		Value:     model.Float(800.5),
		Date:      "2020-01-01",
		Timestamp: 1577836800,
	}
	require.NoError(t, store.Set(ctx, "USD-CLP:2020-01-01", rate))
	assert.True(t, mr.Exists("rates:USD:CLP:2020:01:01"))
	assert.Equal(t, time.Duration(0), mr.TTL("rates:USD:CLP:2020:01:01"))

	got, err := store.Get(ctx, "USD-CLP:2020-01-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rate, *got)

	got, err = store.Get(ctx, "CLP-USD:2020-01-01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_SetWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "rates", logger.Discard())

	require.NoError(t, store.SetWithTTL(ctx, "USD-CLP:LIVE", model.CachedRate{Market: "USD-CLP", Value: model.Float(800)}, 300*time.Second))
	assert.Equal(t, 300*time.Second, mr.TTL("rates:USD:CLP:LIVE"))

	require.NoError(t, store.BatchSetWithTTL(ctx, map[string]model.CachedRate{
		"USD-EUR:LIVE": {Market: "USD-EUR", Value: model.Float(0.9)},
		"BTC-USD:LIVE": {Market: "BTC-USD", Value: model.Float(60000)},
	}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("rates:USD:EUR:LIVE"))
	assert.Equal(t, time.Minute, mr.TTL("rates:BTC:USD:LIVE"))

	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "USD-EUR:LIVE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_BatchGet(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "rates", logger.Discard())

	require.NoError(t, store.BatchSet(ctx, map[string]model.CachedRate{
		"USD-CLP:2020-01-01": {Market: "USD-CLP", Value: model.Float(800)},
		"USD-CLP:2020-01-02": {Market: "USD-CLP", Value: model.Float(801)},
	}))
	require.NoError(t, mr.Set("rates:USD:CLP:2020:01:03", "not json"))

	got, err := store.BatchGet(ctx, []string{"USD-CLP:2020-01-02", "USD-CLP:2020-01-03", "USD-CLP:2020-01-04", "USD-CLP:2020-01-01"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.InDelta(t, 801, *got[0].Value, 1e-9)
	assert.Nil(t, got[1])
	assert.Nil(t, got[2])
	assert.InDelta(t, 800, *got[3].Value, 1e-9)
}

func TestRedisStore_Maintenance(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, "rates", logger.Discard())

	require.NoError(t, store.BatchSet(ctx, map[string]model.CachedRate{
		"USD-CLP:2020-01-01": {Market: "USD-CLP", Source: "currencylayer", Value: model.Float(800)},
		"USD-CLP:2020-01-02": {Market: "USD-CLP", Source: "currencylayer"},
		"EUR-JPY:2020-01-01": {Market: "EUR-JPY", Source: "currencylayer,currencylayer", Value: model.Float(121)},
	}))
	require.NoError(t, store.SetWithTTL(ctx, "EUR-CLP:LIVE", model.CachedRate{Market: "EUR-CLP", Source: "a,b", Value: model.Float(880)}, time.Minute))

	var nulls []string
	require.NoError(t, store.ScanRates(ctx, "", func(rawKey string, rate model.CachedRate) error {
		if rate.Value == nil {
			nulls = append(nulls, rawKey)
		}
		return nil
	}))
	assert.Equal(t, []string{"rates:USD:CLP:2020:01:02"}, nulls)

	n, err := store.DeleteRaw(ctx, nulls...)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, mr.Exists("rates:USD:CLP:2020:01:02"))

	rate := model.CachedRate{Market: "EUR-CLP", Source: "a,b", Value: model.Float(880), Bridged: true}
	require.NoError(t, store.RewriteRaw(ctx, "rates:EUR:CLP:LIVE", rate))
	assert.Equal(t, time.Minute, mr.TTL("rates:EUR:CLP:LIVE"))

	got, err := store.Get(ctx, "EUR-CLP:LIVE")
	require.NoError(t, err)
	assert.True(t, got.Bridged)
}

func TestRedisSources(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	sources := NewRedisSources(client, logger.Discard())

	require.NoError(t, sources.Load(ctx,
		map[string]string{"USD-CLP": "currencylayer", "BTC-USD": "coinlayer"},
		[]model.Currency{"USD", "CLP", "BTC"},
	))
	assert.True(t, mr.Exists("config:sources:USD:CLP"))

	id, err := sources.SourceID(ctx, model.NewMarket("USD", "CLP"))
	require.NoError(t, err)
	assert.Equal(t, "currencylayer", id)

	id, err = sources.SourceID(ctx, model.NewMarket("CLP", "USD"))
	require.NoError(t, err)
	assert.Empty(t, id)

	currencies, err := sources.Currencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Currency{"BTC", "CLP", "USD"}, currencies)
}

func TestRedisSources_LoadReplacesPreviousConfig(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	sources := NewRedisSources(client, logger.Discard())

	require.NoError(t, sources.Load(ctx,
		map[string]string{"USD-CLP": "currencylayer", "BTC-USD": "coinlayer"},
		[]model.Currency{"USD", "CLP", "BTC"},
	))
	require.NoError(t, sources.Load(ctx,
		map[string]string{"usd-eur": "currencylayer"},
		[]model.Currency{"usd", "eur"},
	))

	assert.False(t, mr.Exists("config:sources:USD:CLP"))
	assert.False(t, mr.Exists("config:sources:BTC:USD"))

	id, err := sources.SourceID(ctx, model.NewMarket("USD", "EUR"))
	require.NoError(t, err)
	assert.Equal(t, "currencylayer", id)

	currencies, err := sources.Currencies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Currency{"EUR", "USD"}, currencies)
}
