package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

const (
	CurrencylayerID      = "currencylayer.com"
	CurrencylayerBaseURL = "https://apilayer.net/api"

	// currencylayer's timeframe endpoint spans at most 365 days.
	currencylayerMaxRange = 365
)

type currencylayerError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

type currencylayerResponse struct {
	Success   bool                `json:"success"`
	Timestamp int64               `json:"timestamp"`
	Source    string              `json:"source"`
	Date      string              `json:"date,omitempty"`
	Quotes    json.RawMessage     `json:"quotes"`
	Error     *currencylayerError `json:"error,omitempty"`
}

// Currencylayer serves fiat rates from currencylayer.com. Quotes come back
// keyed by compact market code, e.g. "USDCLP".
type Currencylayer struct {
	client *client
	// useTimeframe selects the timeframe endpoint (a paid feature) over one
	// historical call per day.
	useTimeframe bool
	log          *logger.Logger
}

func NewCurrencylayer(cfg ClientConfig, useTimeframe bool, log *logger.Logger) *Currencylayer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = CurrencylayerBaseURL
	}
	return &Currencylayer{
		client:       newClient(CurrencylayerID, cfg, log),
		useTimeframe: useTimeframe,
		log:          log,
	}
}

func (c *Currencylayer) ID() string {
	return CurrencylayerID
}

func (c *Currencylayer) FetchLive(ctx context.Context, markets []model.Market) ([]model.Rate, error) {
	return c.perBase(ctx, markets, func(ctx context.Context, base model.Currency, quotes []model.Currency) ([]model.Rate, error) {
		resp, err := c.call(ctx, "live", url.Values{
			"source":     {string(base)},
			"currencies": {joinCurrencies(quotes)},
		})
		if err != nil {
			return nil, err
		}
		var values map[string]float64
		if err := json.Unmarshal(resp.Quotes, &values); err != nil {
			return nil, fmt.Errorf("failed to decode quotes: %w", err)
		}
		at := time.Unix(resp.Timestamp, 0).UTC()
		rates := c.parseQuotes(base, values, utils.FormatDate(at), resp.Timestamp)
		return fillMissing(CurrencylayerID, rates, marketsFor(base, quotes), []time.Time{utils.TruncateDay(at)}), nil
	})
}

func (c *Currencylayer) FetchHistorical(ctx context.Context, markets []model.Market, date time.Time) ([]model.Rate, error) {
	day := utils.FormatDate(date)
	return c.perBase(ctx, markets, func(ctx context.Context, base model.Currency, quotes []model.Currency) ([]model.Rate, error) {
		resp, err := c.call(ctx, "historical", url.Values{
			"source":     {string(base)},
			"currencies": {joinCurrencies(quotes)},
			"date":       {day},
		})
		if err != nil {
			return nil, err
		}
		var values map[string]float64
		if err := json.Unmarshal(resp.Quotes, &values); err != nil {
			return nil, fmt.Errorf("failed to decode quotes: %w", err)
		}
		rates := c.parseQuotes(base, values, day, resp.Timestamp)
		return fillMissing(CurrencylayerID, rates, marketsFor(base, quotes), []time.Time{utils.TruncateDay(date)}), nil
	})
}

// FetchTimeframe uses the timeframe endpoint in chunks of at most 365 days
// when enabled, and one historical call per day otherwise.
func (c *Currencylayer) FetchTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error) {
	if !c.useTimeframe {
		return c.perDay(ctx, markets, tf)
	}

	return c.perBase(ctx, markets, func(ctx context.Context, base model.Currency, quotes []model.Currency) ([]model.Rate, error) {
		var rates []model.Rate
		for _, chunk := range model.ChunkDateRange(tf, currencylayerMaxRange) {
			resp, err := c.call(ctx, "timeframe", url.Values{
				"source":     {string(base)},
				"currencies": {joinCurrencies(quotes)},
				"start_date": {utils.FormatDate(chunk.Start)},
				"end_date":   {utils.FormatDate(chunk.End)},
			})
			if err != nil {
				return nil, err
			}
			var byDate map[string]map[string]float64
			if err := json.Unmarshal(resp.Quotes, &byDate); err != nil {
				return nil, fmt.Errorf("failed to decode quotes: %w", err)
			}
			for day, values := range byDate {
				d, err := utils.ParseDate(day)
				if err != nil {
					c.log.Warn("Skipping quotes with malformed date", "provider", CurrencylayerID, "date", day)
					continue
				}
				rates = append(rates, c.parseQuotes(base, values, day, d.Unix())...)
			}
			rates = fillMissing(CurrencylayerID, rates, marketsFor(base, quotes), model.GenerateDateRange(chunk))
		}
		return rates, nil
	})
}

func (c *Currencylayer) perDay(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error) {
	var mu sync.Mutex
	var rates []model.Rate
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, d := range model.GenerateDateRange(tf) {
		g.Go(func() error {
			dayRates, err := c.FetchHistorical(gctx, markets, d)
			if err != nil {
				return err
			}
			mu.Lock()
			rates = append(rates, dayRates...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rates, nil
}

type baseFetch func(ctx context.Context, base model.Currency, quotes []model.Currency) ([]model.Rate, error)

// perBase issues one upstream call per base currency.
func (c *Currencylayer) perBase(ctx context.Context, markets []model.Market, fetch baseFetch) ([]model.Rate, error) {
	bases, quotes := quotesByBase(markets)
	var rates []model.Rate
	for _, base := range bases {
		r, err := fetch(ctx, base, quotes[base])
		if err != nil {
			return nil, err
		}
		rates = append(rates, r...)
	}
	return rates, nil
}

func (c *Currencylayer) call(ctx context.Context, endpoint string, params url.Values) (*currencylayerResponse, error) {
	body, err := c.client.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var resp currencylayerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil || !resp.Success {
		apiErr := &APIError{Provider: CurrencylayerID, Status: http.StatusOK}
		if resp.Error != nil {
			apiErr.Code, apiErr.Type, apiErr.Info = resp.Error.Code, resp.Error.Type, resp.Error.Info
		}
		return nil, apiErr
	}
	if len(resp.Quotes) == 0 {
		resp.Quotes = json.RawMessage("{}")
	}
	return &resp, nil
}

func (c *Currencylayer) parseQuotes(base model.Currency, values map[string]float64, date string, timestamp int64) []model.Rate {
	rates := make([]model.Rate, 0, len(values))
	for code, value := range values {
		market, inverted, err := model.ParseMarketCode(code, base)
		if err != nil {
			c.log.Warn("Skipping unrecognised quote", "provider", CurrencylayerID, "code", code)
			continue
		}
		if inverted {
			market = market.Inverse()
		}
		rates = append(rates, model.Rate{
			Market:     market,
			Source:     CurrencylayerID,
			SourceData: map[string]float64{code: value},
			Value:      model.Float(value),
			Date:       date,
			Timestamp:  timestamp,
		})
	}
	return rates
}

func marketsFor(base model.Currency, quotes []model.Currency) []model.Market {
	out := make([]model.Market, len(quotes))
	for i, q := range quotes {
		out[i] = model.NewMarket(base, q)
	}
	return out
}
