package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(logger.Discard())
	c.now = func() time.Time { return now }

	rate := model.CachedRate{Market: "USD-CLP", Source: "currencylayer", Value: model.Float(800)}
	require.NoError(t, c.SetWithTTL(ctx, "USD-CLP:LIVE", rate, time.Minute))
	require.NoError(t, c.Set(ctx, "USD-CLP:2024-01-01", rate))

	got, err := c.Get(ctx, "USD-CLP:LIVE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rate, *got)

	now = now.Add(2 * time.Minute)

	got, err = c.Get(ctx, "USD-CLP:LIVE")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.Get(ctx, "USD-CLP:2024-01-01")
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, c.ClearExpired(ctx))
	assert.Len(t, c.cacheMap, 1)
}

func TestMemoryCache_BatchGetPreservesOrder(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(logger.Discard())

	require.NoError(t, c.BatchSet(ctx, map[string]model.CachedRate{
		"A-B:LIVE": {Market: "A-B"},
		"C-D:LIVE": {Market: "C-D"},
	}))

	got, err := c.BatchGet(ctx, []string{"C-D:LIVE", "X-Y:LIVE", "A-B:LIVE"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "C-D", got[0].Market)
	assert.Nil(t, got[1])
	assert.Equal(t, "A-B", got[2].Market)
}
