package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/domain/ports"
	"rates-engine/pkg/logger"
)

const RateStoredEventType = "rate.stored"

// RateStoredEvent is published for every rate written to the store.
type RateStoredEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	Market     string    `json:"market"`
	Source     string    `json:"source"`
	Value      *float64  `json:"value"`
	Date       string    `json:"date"`
	Timestamp  int64     `json:"timestamp"`
	Bridged    bool      `json:"bridged"`
	TTLSeconds int64     `json:"ttlSeconds,omitempty"`
	StoredAt   time.Time `json:"storedAt"`
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// PublishingStore wraps a RateStore and emits a RateStoredEvent, keyed by
// market, after each successful write. Publish failures are logged only.
type PublishingStore struct {
	ports.RateStore
	writer MessageWriter
	now    func() time.Time
	log    *logger.Logger
}

func NewPublishingStore(store ports.RateStore, writer MessageWriter, log *logger.Logger) *PublishingStore {
	return &PublishingStore{RateStore: store, writer: writer, now: time.Now, log: log}
}

func (p *PublishingStore) Set(ctx context.Context, key string, rate model.CachedRate) error {
	if err := p.RateStore.Set(ctx, key, rate); err != nil {
		return err
	}
	p.publish(ctx, map[string]model.CachedRate{key: rate}, 0)
	return nil
}

func (p *PublishingStore) BatchSet(ctx context.Context, rates map[string]model.CachedRate) error {
	if err := p.RateStore.BatchSet(ctx, rates); err != nil {
		return err
	}
	p.publish(ctx, rates, 0)
	return nil
}

func (p *PublishingStore) SetWithTTL(ctx context.Context, key string, rate model.CachedRate, ttl time.Duration) error {
	if err := p.RateStore.SetWithTTL(ctx, key, rate, ttl); err != nil {
		return err
	}
	p.publish(ctx, map[string]model.CachedRate{key: rate}, ttl)
	return nil
}

func (p *PublishingStore) BatchSetWithTTL(ctx context.Context, rates map[string]model.CachedRate, ttl time.Duration) error {
	if err := p.RateStore.BatchSetWithTTL(ctx, rates, ttl); err != nil {
		return err
	}
	p.publish(ctx, rates, ttl)
	return nil
}

func (p *PublishingStore) Close() error {
	return p.writer.Close()
}

func (p *PublishingStore) publish(ctx context.Context, rates map[string]model.CachedRate, ttl time.Duration) {
	now := p.now()
	msgs := make([]kafka.Message, 0, len(rates))
	for key, rate := range rates {
		event := RateStoredEvent{
			ID:         uuid.NewString(),
			Type:       RateStoredEventType,
			Key:        key,
			Market:     rate.Market,
			Source:     rate.Source,
			Value:      rate.Value,
			Date:       rate.Date,
			Timestamp:  rate.Timestamp,
			Bridged:    rate.Bridged,
			TTLSeconds: int64(ttl / time.Second),
			StoredAt:   now,
		}
		v, err := json.Marshal(event)
		if err != nil {
			p.log.Error("Failed to marshal rate event", "key", key, "error", err)
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(rate.Market), Value: v, Time: now})
	}
	if len(msgs) == 0 {
		return
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("Failed to publish rate events", "count", len(msgs), "error", err)
		return
	}
	p.log.Debug("Published rate events", "count", len(msgs))
}
