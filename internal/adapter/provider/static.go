package provider

import (
	"context"
	"time"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/utils"
)

const StaticID = "static"

// Static serves rates from a fixed table keyed by market id ("USD-CLP").
// The same figure is returned for every date. A market found only in the
// inverse orientation is returned in that orientation.
type Static struct {
	id    string
	rates map[string]float64
	now   func() time.Time
}

func NewStatic(id string, rates map[string]float64) *Static {
	table := make(map[string]float64, len(rates))
	for k, v := range rates {
		table[k] = v
	}
	return &Static{id: id, rates: table, now: time.Now}
}

func (s *Static) ID() string {
	return s.id
}

func (s *Static) FetchLive(_ context.Context, markets []model.Market) ([]model.Rate, error) {
	return s.lookup(markets, utils.TruncateDay(s.now().UTC()), s.now().Unix()), nil
}

func (s *Static) FetchHistorical(_ context.Context, markets []model.Market, date time.Time) ([]model.Rate, error) {
	day := utils.TruncateDay(date)
	return s.lookup(markets, day, day.Unix()), nil
}

func (s *Static) FetchTimeframe(_ context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error) {
	var rates []model.Rate
	for _, d := range model.GenerateDateRange(tf) {
		rates = append(rates, s.lookup(markets, d, d.Unix())...)
	}
	return rates, nil
}

func (s *Static) lookup(markets []model.Market, day time.Time, timestamp int64) []model.Rate {
	date := utils.FormatDate(day)
	rates := make([]model.Rate, 0, len(markets))
	for _, m := range markets {
		rate := model.Rate{Market: m, Source: s.id, Date: date, Timestamp: timestamp}
		if v, ok := s.rates[m.ID()]; ok {
			rate.Value = model.Float(v)
		} else if v, ok := s.rates[m.Inverse().ID()]; ok {
			rate.Market = m.Inverse()
			rate.Value = model.Float(v)
		}
		rates = append(rates, rate)
	}
	return rates
}
