package postgres

import (
	"encoding/json"
	"time"

	"rates-engine/internal/domain/model"
)

// RateEntry is one stored rate. Live rates carry an expiry; historical
// ones do not.
type RateEntry struct {
	Key        string `gorm:"column:rate_key;primaryKey;size:64"`
	Market     string `gorm:"size:32;not null;index"`
	Source     string `gorm:"size:128"`
	SourceData string `gorm:"type:text"`
	Value      *float64
	Date       string `gorm:"size:10"`
	Timestamp  int64
	Bridged    bool
	ExpiresAt  *time.Time `gorm:"index"`
	UpdatedAt  time.Time
}

func (RateEntry) TableName() string {
	return "rate_entries"
}

func toEntry(key string, rate model.CachedRate, expiresAt *time.Time) (RateEntry, error) {
	entry := RateEntry{
		Key:       key,
		Market:    rate.Market,
		Source:    rate.Source,
		Value:     rate.Value,
		Date:      rate.Date,
		Timestamp: rate.Timestamp,
		Bridged:   rate.Bridged,
		ExpiresAt: expiresAt,
	}
	if rate.SourceData != nil {
		data, err := json.Marshal(rate.SourceData)
		if err != nil {
			return RateEntry{}, err
		}
		entry.SourceData = string(data)
	}
	return entry, nil
}

func (e RateEntry) toCachedRate() (model.CachedRate, error) {
	rate := model.CachedRate{
		Market:    e.Market,
		Source:    e.Source,
		Value:     e.Value,
		Date:      e.Date,
		Timestamp: e.Timestamp,
		Bridged:   e.Bridged,
	}
	if e.SourceData != "" {
		if err := json.Unmarshal([]byte(e.SourceData), &rate.SourceData); err != nil {
			return model.CachedRate{}, err
		}
	}
	return rate, nil
}
