package ports

import (
	"context"
	"time"

	"rates-engine/internal/domain/model"
)

type RateService interface {
	Currencies(ctx context.Context) ([]model.Currency, error)
	LiveRate(ctx context.Context, market model.Market, ttl time.Duration) (*model.Rate, error)
	LiveRates(ctx context.Context, markets []model.Market, ttl time.Duration) ([]model.Rate, error)
	HistoricalRate(ctx context.Context, market model.Market, date time.Time) (*model.Rate, error)
	HistoricalRatesForDate(ctx context.Context, markets []model.Market, date time.Time) ([]model.Rate, error)
	HistoricalRatesForDates(ctx context.Context, markets []model.Market, dates []time.Time) ([]model.Rate, error)
	HistoricalRatesForTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error)
	HistoricalRatesByDate(ctx context.Context, requests []model.MarketDate) ([]model.Rate, error)
	HistoricalRatesByTimeframe(ctx context.Context, requests []model.MarketTimeframe) ([]model.Rate, error)
	ConvertCurrency(ctx context.Context, request model.ConversionRequest) (*model.ConversionResult, error)
	WarmLiveRates(ctx context.Context) error
}
