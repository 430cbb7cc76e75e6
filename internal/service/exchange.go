package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/domain/ports"
	"rates-engine/internal/engine"
	"rates-engine/internal/registry"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

var (
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrDateOutOfRange     = errors.New("date is in the future")
	ErrInvalidDateRange   = errors.New("invalid date range")
	ErrRateNotFound       = errors.New("exchange rate not found")
	ErrUnsupportedMarket  = errors.New("unsupported market")
	ErrExternalAPIFailure = errors.New("external API failure")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// InternalSource marks rates the service answers itself.
const InternalSource = "internal"

// Resolver is the rate engine as seen by the service.
type Resolver interface {
	FetchRate(ctx context.Context, market model.Market, date time.Time, ttl time.Duration) (*model.Rate, error)
	FetchRates(ctx context.Context, markets []model.Market, ttl time.Duration) ([]model.Rate, error)
	FetchRatesForDates(ctx context.Context, marketDates []model.MarketDate) ([]model.Rate, error)
}

type ExchangeService struct {
	engine      Resolver
	sources     ports.SourceLookup
	warmMarkets []model.Market
	liveTTL     time.Duration
	log         *logger.Logger
	now         func() time.Time
}

var _ ports.RateService = (*ExchangeService)(nil)

func NewExchangeService(resolver Resolver, sources ports.SourceLookup, log *logger.Logger) *ExchangeService {
	return &ExchangeService{
		engine:  resolver,
		sources: sources,
		log:     log,
		now:     time.Now,
	}
}

// WithWarmMarkets sets the markets WarmLiveRates keeps fresh and the TTL
// they are stored with.
func (s *ExchangeService) WithWarmMarkets(markets []model.Market, ttl time.Duration) *ExchangeService {
	s.warmMarkets = markets
	s.liveTTL = ttl
	return s
}

func (s *ExchangeService) Currencies(ctx context.Context) ([]model.Currency, error) {
	return s.sources.Currencies(ctx)
}

func (s *ExchangeService) LiveRate(ctx context.Context, market model.Market, ttl time.Duration) (*model.Rate, error) {
	if err := s.validateMarkets(ctx, market); err != nil {
		return nil, err
	}
	if market.IsTrivial() {
		r := s.internalRate(market, time.Time{})
		return &r, nil
	}

	rate, err := s.engine.FetchRate(ctx, market, time.Time{}, ttl)
	if err != nil {
		s.log.Error("Failed to resolve live rate", "market", market.ID(), "error", err)
		return nil, translate(err)
	}
	return rate, nil
}

func (s *ExchangeService) LiveRates(ctx context.Context, markets []model.Market, ttl time.Duration) ([]model.Rate, error) {
	if err := s.validateMarkets(ctx, markets...); err != nil {
		return nil, err
	}

	var pending []model.Market
	for _, m := range markets {
		if !m.IsTrivial() {
			pending = append(pending, m)
		}
	}

	var resolved []model.Rate
	var batchErr error
	if len(pending) > 0 {
		resolved, batchErr = s.engine.FetchRates(ctx, pending, ttl)
		if resolved == nil && batchErr != nil {
			s.log.Error("Failed to resolve live rates", "markets", len(pending), "error", batchErr)
			return nil, translate(batchErr)
		}
	}

	rates := make([]model.Rate, 0, len(markets))
	next := 0
	for _, m := range markets {
		if m.IsTrivial() {
			rates = append(rates, s.internalRate(m, time.Time{}))
			continue
		}
		if next < len(resolved) && resolved[next].Market == m {
			rates = append(rates, resolved[next])
			next++
		}
	}
	return rates, translate(batchErr)
}

// HistoricalRate resolves one market on one past day.
func (s *ExchangeService) HistoricalRate(ctx context.Context, market model.Market, date time.Time) (*model.Rate, error) {
	if err := s.validateMarkets(ctx, market); err != nil {
		return nil, err
	}
	if err := s.validateDate(date); err != nil {
		return nil, err
	}
	if market.IsTrivial() {
		r := s.internalRate(market, date)
		return &r, nil
	}

	rate, err := s.engine.FetchRate(ctx, market, utils.TruncateDay(date), 0)
	if err != nil {
		s.log.Error("Failed to resolve historical rate", "market", market.ID(), "date", utils.FormatDate(date), "error", err)
		return nil, translate(err)
	}
	return rate, nil
}

func (s *ExchangeService) HistoricalRatesForDate(ctx context.Context, markets []model.Market, date time.Time) ([]model.Rate, error) {
	return s.HistoricalRatesForDates(ctx, markets, []time.Time{date})
}

func (s *ExchangeService) HistoricalRatesForDates(ctx context.Context, markets []model.Market, dates []time.Time) ([]model.Rate, error) {
	requests := make([]model.MarketDate, 0, len(markets)*len(dates))
	for _, m := range markets {
		for _, d := range dates {
			requests = append(requests, model.MarketDate{Market: m, Date: d})
		}
	}
	return s.HistoricalRatesByDate(ctx, requests)
}

func (s *ExchangeService) HistoricalRatesForTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error) {
	requests := make([]model.MarketTimeframe, len(markets))
	for i, m := range markets {
		requests[i] = model.MarketTimeframe{Market: m, Timeframe: tf}
	}
	return s.HistoricalRatesByTimeframe(ctx, requests)
}

func (s *ExchangeService) HistoricalRatesByTimeframe(ctx context.Context, requests []model.MarketTimeframe) ([]model.Rate, error) {
	var marketDates []model.MarketDate
	for _, r := range requests {
		if err := s.validateDateRange(r.Timeframe.Start, r.Timeframe.End); err != nil {
			return nil, err
		}
		for _, d := range model.GenerateDateRange(model.NewTimeframe(r.Timeframe.Start, r.Timeframe.End)) {
			marketDates = append(marketDates, model.MarketDate{Market: r.Market, Date: d})
		}
	}
	return s.HistoricalRatesByDate(ctx, marketDates)
}

func (s *ExchangeService) HistoricalRatesByDate(ctx context.Context, requests []model.MarketDate) ([]model.Rate, error) {
	markets := make([]model.Market, len(requests))
	for i, r := range requests {
		markets[i] = r.Market
	}
	if err := s.validateMarkets(ctx, markets...); err != nil {
		return nil, err
	}

	normalized := make([]model.MarketDate, len(requests))
	var pending []model.MarketDate
	for i, r := range requests {
		if err := s.validateDate(r.Date); err != nil {
			return nil, err
		}
		normalized[i] = model.MarketDate{Market: r.Market, Date: utils.TruncateDay(r.Date)}
		if !r.Market.IsTrivial() {
			pending = append(pending, normalized[i])
		}
	}

	var resolved []model.Rate
	var batchErr error
	if len(pending) > 0 {
		resolved, batchErr = s.engine.FetchRatesForDates(ctx, pending)
		if resolved == nil && batchErr != nil {
			s.log.Error("Failed to resolve historical rates", "requests", len(pending), "error", batchErr)
			return nil, translate(batchErr)
		}
	}

	rates := make([]model.Rate, 0, len(normalized))
	next := 0
	for _, r := range normalized {
		if r.Market.IsTrivial() {
			rates = append(rates, s.internalRate(r.Market, r.Date))
			continue
		}
		if next < len(resolved) && resolved[next].Market == r.Market && resolved[next].Date == utils.FormatDate(r.Date) {
			rates = append(rates, resolved[next])
			next++
		}
	}
	return rates, translate(batchErr)
}

func (s *ExchangeService) ConvertCurrency(ctx context.Context, request model.ConversionRequest) (*model.ConversionResult, error) {
	if request.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	market := model.NewMarket(request.FromCurrency, request.ToCurrency)

	var rate *model.Rate
	var err error
	if !request.Date.IsZero() {
		rate, err = s.HistoricalRate(ctx, market, request.Date)
	} else {
		rate, err = s.LiveRate(ctx, market, 0)
	}
	if err != nil {
		return nil, err
	}
	if !rate.HasValue() {
		return nil, fmt.Errorf("%w: no value for %s on %s", ErrRateNotFound, market.ID(), rate.Date)
	}

	toAmount, _ := decimal.NewFromFloat(request.Amount).Mul(decimal.NewFromFloat(*rate.Value)).Float64()

	return &model.ConversionResult{
		FromCurrency: request.FromCurrency,
		ToCurrency:   request.ToCurrency,
		FromAmount:   request.Amount,
		ToAmount:     toAmount,
		Rate:         *rate.Value,
		Source:       rate.Source,
		Bridged:      rate.Bridged,
		Date:         rate.Date,
	}, nil
}

// WarmLiveRates resolves the configured warm markets so their live rates are
// in the store before clients ask. Unsupported markets are logged and
// skipped.
func (s *ExchangeService) WarmLiveRates(ctx context.Context) error {
	if len(s.warmMarkets) == 0 {
		return nil
	}
	s.log.Info("Warming live rates", "markets", len(s.warmMarkets))

	rates, err := s.engine.FetchRates(ctx, s.warmMarkets, s.liveTTL)
	if err != nil {
		if rates == nil {
			s.log.Error("Failed to warm live rates", "error", err)
			return translate(err)
		}
		s.log.Warn("Some warm markets are not supported", "error", err)
	}

	s.log.Info("Warmed live rates", "resolved", len(rates))
	return nil
}

func (s *ExchangeService) internalRate(market model.Market, date time.Time) model.Rate {
	day := utils.TruncateDay(date)
	timestamp := day.Unix()
	if date.IsZero() {
		now := s.now()
		day, timestamp = utils.TruncateDay(now), now.Unix()
	}
	return model.Rate{
		Market:    market,
		Source:    InternalSource,
		Value:     model.Float(1),
		Date:      utils.FormatDate(day),
		Timestamp: timestamp,
	}
}

// validateMarkets checks every currency against the enabled list. An empty
// list enables every currency.
func (s *ExchangeService) validateMarkets(ctx context.Context, markets ...model.Market) error {
	for _, m := range markets {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCurrency, err)
		}
	}

	enabled, err := s.sources.Currencies(ctx)
	if err != nil {
		s.log.Error("Failed to load enabled currencies", "error", err)
		return fmt.Errorf("loading currencies: %w", err)
	}
	if len(enabled) == 0 {
		return nil
	}

	for _, m := range markets {
		for _, c := range []model.Currency{m.Base, m.Quote} {
			if !c.IsSupported(enabled) {
				return fmt.Errorf("%w: %s", ErrInvalidCurrency, c)
			}
		}
	}
	return nil
}

func (s *ExchangeService) validateDate(date time.Time) error {
	if date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidDateRange)
	}
	if utils.TruncateDay(date).After(utils.TruncateDay(s.now())) {
		return fmt.Errorf("%w: %s", ErrDateOutOfRange, utils.FormatDate(date))
	}
	return nil
}

func (s *ExchangeService) validateDateRange(startDate, endDate time.Time) error {
	if err := s.validateDate(startDate); err != nil {
		return err
	}
	if err := s.validateDate(endDate); err != nil {
		return err
	}
	if startDate.After(endDate) {
		return ErrInvalidDateRange
	}
	return nil
}

// translate maps engine and registry errors onto the service's sentinels,
// keeping the original chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrProviderFailure):
		return fmt.Errorf("%w: %w", ErrExternalAPIFailure, err)
	case errors.Is(err, registry.ErrUnsupportedMarket):
		return fmt.Errorf("%w: %w", ErrUnsupportedMarket, err)
	case errors.Is(err, engine.ErrRateNotFound):
		return fmt.Errorf("%w: %w", ErrRateNotFound, err)
	case errors.Is(err, engine.ErrInvalidRequest):
		return fmt.Errorf("%w: %w", ErrInvalidCurrency, err)
	}
	return err
}

// UnsupportedMarkets lists the markets reported unsupported anywhere in err.
func UnsupportedMarkets(err error) []model.Market {
	var markets []model.Market
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case *registry.UnsupportedMarketError:
			markets = append(markets, x.Market)
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	if err != nil {
		walk(err)
	}
	return markets
}
