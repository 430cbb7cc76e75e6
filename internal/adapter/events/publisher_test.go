package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rates-engine/internal/adapter/cache"
	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

type MockWriter struct {
	WriteMessagesFunc func(ctx context.Context, msgs ...kafka.Message) error
	written           []kafka.Message
}

func (w *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.WriteMessagesFunc != nil {
		if err := w.WriteMessagesFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *MockWriter) Close() error { return nil }

func TestPublishingStore_PublishesAfterWrite(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()
	inner := cache.NewMemoryCache(log)
	writer := &MockWriter{}
	store := NewPublishingStore(inner, writer, log)

	rate := model.CachedRate{Market: "USD-CLP", Source: "currencylayer", Value: model.Float(800), Date: "2024-01-01"}
	require.NoError(t, store.SetWithTTL(ctx, "USD-CLP:LIVE", rate, 5*time.Minute))

	got, err := store.Get(ctx, "USD-CLP:LIVE")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.Len(t, writer.written, 1)
	msg := writer.written[0]
	assert.Equal(t, []byte("USD-CLP"), msg.Key)

	var event RateStoredEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, RateStoredEventType, event.Type)
	assert.Equal(t, "USD-CLP:LIVE", event.Key)
	assert.Equal(t, int64(300), event.TTLSeconds)
	assert.NotEmpty(t, event.ID)
	assert.InDelta(t, 800, *event.Value, 1e-9)
}

func TestPublishingStore_BatchSet(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()
	writer := &MockWriter{}
	store := NewPublishingStore(cache.NewMemoryCache(log), writer, log)

	require.NoError(t, store.BatchSet(ctx, map[string]model.CachedRate{
		"USD-CLP:2024-01-01": {Market: "USD-CLP", Value: model.Float(800)},
		"USD-CLP:2024-01-02": {Market: "USD-CLP", Value: model.Float(801)},
	}))

	assert.Len(t, writer.written, 2)
}

func TestPublishingStore_PublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()
	writer := &MockWriter{
		WriteMessagesFunc: func(ctx context.Context, msgs ...kafka.Message) error {
			return errors.New("broker unreachable")
		},
	}
	inner := cache.NewMemoryCache(log)
	store := NewPublishingStore(inner, writer, log)

	require.NoError(t, store.Set(ctx, "USD-CLP:2024-01-01", model.CachedRate{Market: "USD-CLP", Value: model.Float(800)}))

	got, err := inner.Get(ctx, "USD-CLP:2024-01-01")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, writer.written)
}
