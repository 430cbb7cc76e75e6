package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

const notExpired = "(expires_at IS NULL OR expires_at > ?)"

// Open connects to Postgres and creates the rate_entries table if needed.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RateEntry{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Store is a durable RateStore backed by the rate_entries table.
type Store struct {
	db  *gorm.DB
	now func() time.Time
	log *logger.Logger
}

func NewStore(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, now: time.Now, log: log}
}

func (s *Store) Get(ctx context.Context, key string) (*model.CachedRate, error) {
	var entry RateEntry
	err := s.db.WithContext(ctx).
		Where("rate_key = ? AND "+notExpired, key, s.now()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.log.Error("Postgres rate get error", "key", key, "error", err)
		return nil, err
	}
	rate, err := entry.toCachedRate()
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func (s *Store) BatchGet(ctx context.Context, keys []string) ([]*model.CachedRate, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var entries []RateEntry
	err := s.db.WithContext(ctx).
		Where("rate_key IN ? AND "+notExpired, keys, s.now()).
		Find(&entries).Error
	if err != nil {
		s.log.Error("Postgres rate batch get error", "keys", len(keys), "error", err)
		return nil, err
	}

	byKey := make(map[string]RateEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
	}

	out := make([]*model.CachedRate, len(keys))
	for i, key := range keys {
		e, ok := byKey[key]
		if !ok {
			continue
		}
		rate, err := e.toCachedRate()
		if err != nil {
			s.log.Warn("Skipping undecodable rate entry", "key", key, "error", err)
			continue
		}
		out[i] = &rate
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, rate model.CachedRate) error {
	return s.BatchSetWithTTL(ctx, map[string]model.CachedRate{key: rate}, 0)
}

func (s *Store) BatchSet(ctx context.Context, rates map[string]model.CachedRate) error {
	return s.BatchSetWithTTL(ctx, rates, 0)
}

func (s *Store) SetWithTTL(ctx context.Context, key string, rate model.CachedRate, ttl time.Duration) error {
	return s.BatchSetWithTTL(ctx, map[string]model.CachedRate{key: rate}, ttl)
}

// BatchSetWithTTL upserts rates. A ttl <= 0 stores them without expiry.
func (s *Store) BatchSetWithTTL(ctx context.Context, rates map[string]model.CachedRate, ttl time.Duration) error {
	if len(rates) == 0 {
		return nil
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expiresAt = &t
	}

	entries := make([]RateEntry, 0, len(rates))
	for key, rate := range rates {
		entry, err := toEntry(key, rate, expiresAt)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rate_key"}},
			UpdateAll: true,
		}).
		Create(&entries).Error
	if err != nil {
		s.log.Error("Postgres rate upsert error", "keys", len(entries), "error", err)
		return err
	}
	return nil
}

// PurgeExpired deletes live rates past their expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Delete(&RateEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Info("Purged expired rates", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
