package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

const (
	CoinlayerID      = "coinlayer.com"
	CoinlayerBaseURL = "http://api.coinlayer.com"

	coinlayerMaxRange = 365
)

// Coinlayer serves crypto rates from coinlayer.com. Every response prices a
// list of symbols in one target currency, so a rate for symbol S under
// target T is the market S-T.
type Coinlayer struct {
	client       *client
	useTimeframe bool
	log          *logger.Logger
}

func NewCoinlayer(cfg ClientConfig, useTimeframe bool, log *logger.Logger) *Coinlayer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = CoinlayerBaseURL
	}
	return &Coinlayer{
		client:       newClient(CoinlayerID, cfg, log),
		useTimeframe: useTimeframe,
		log:          log,
	}
}

func (c *Coinlayer) ID() string {
	return CoinlayerID
}

func (c *Coinlayer) FetchLive(ctx context.Context, markets []model.Market) ([]model.Rate, error) {
	return c.perTarget(ctx, markets, func(ctx context.Context, target model.Currency, symbols []model.Currency) ([]model.Rate, error) {
		res, err := c.call(ctx, "live", target, symbols, nil)
		if err != nil {
			return nil, err
		}
		ts := res.Get("timestamp").Int()
		at := time.Unix(ts, 0).UTC()
		rates := c.parseRates(target, res.Get("rates"), utils.FormatDate(at), ts)
		return fillMissing(CoinlayerID, rates, symbolMarkets(target, symbols), []time.Time{utils.TruncateDay(at)}), nil
	})
}

func (c *Coinlayer) FetchHistorical(ctx context.Context, markets []model.Market, date time.Time) ([]model.Rate, error) {
	day := utils.FormatDate(date)
	return c.perTarget(ctx, markets, func(ctx context.Context, target model.Currency, symbols []model.Currency) ([]model.Rate, error) {
		res, err := c.call(ctx, day, target, symbols, nil)
		if err != nil {
			return nil, err
		}
		rates := c.parseRates(target, res.Get("rates"), day, res.Get("timestamp").Int())
		return fillMissing(CoinlayerID, rates, symbolMarkets(target, symbols), []time.Time{utils.TruncateDay(date)}), nil
	})
}

func (c *Coinlayer) FetchTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error) {
	if !c.useTimeframe {
		return c.perDay(ctx, markets, tf)
	}

	return c.perTarget(ctx, markets, func(ctx context.Context, target model.Currency, symbols []model.Currency) ([]model.Rate, error) {
		var rates []model.Rate
		for _, chunk := range model.ChunkDateRange(tf, coinlayerMaxRange) {
			res, err := c.call(ctx, "timeframe", target, symbols, url.Values{
				"start_date": {utils.FormatDate(chunk.Start)},
				"end_date":   {utils.FormatDate(chunk.End)},
			})
			if err != nil {
				return nil, err
			}
			res.Get("rates").ForEach(func(key, value gjson.Result) bool {
				d, err := utils.ParseDate(key.String())
				if err != nil {
					c.log.Warn("Skipping rates with malformed date", "provider", CoinlayerID, "date", key.String())
					return true
				}
				rates = append(rates, c.parseRates(target, value, key.String(), d.Unix())...)
				return true
			})
			rates = fillMissing(CoinlayerID, rates, symbolMarkets(target, symbols), model.GenerateDateRange(chunk))
		}
		return rates, nil
	})
}

func (c *Coinlayer) perDay(ctx context.Context, markets []model.Market, tf model.Timeframe) ([]model.Rate, error) {
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

// coinlayerTargets are the fiat currencies coinlayer accepts as target.
// Symbols are always cryptocurrencies.
var coinlayerTargets = map[model.Currency]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "CAD": true,
	"AUD": true, "NZD": true, "CNY": true, "HKD": true, "SGD": true, "KRW": true,
	"INR": true, "BRL": true, "MXN": true, "ARS": true, "CLP": true, "COP": true,
	"PEN": true, "UYU": true, "VES": true, "ZAR": true, "RUB": true, "TRY": true,
	"PLN": true, "CZK": true, "HUF": true, "SEK": true, "NOK": true, "DKK": true,
	"ILS": true, "AED": true, "SAR": true, "THB": true, "IDR": true, "MYR": true,
	"PHP": true, "VND": true, "TWD": true, "NGN": true, "UAH": true,
}

// targetsFor groups markets by the coinlayer target they are priced in,
// keeping the order of first appearance. A market is normally priced in its
// quote (target=quote, symbols=base). When only the base is fiat, as in
// USD-BTC, the base is the target and the rate comes back inverted.
func targetsFor(markets []model.Market) ([]model.Currency, map[model.Currency][]model.Currency) {
	var targets []model.Currency
	symbols := make(map[model.Currency][]model.Currency)
	for _, m := range markets {
		target, symbol := m.Quote, m.Base
		if coinlayerTargets[m.Base] && !coinlayerTargets[m.Quote] {
			target, symbol = m.Base, m.Quote
		}
		if _, ok := symbols[target]; !ok {
			targets = append(targets, target)
		}
		symbols[target] = append(symbols[target], symbol)
	}
	return targets, symbols
}

// perTarget issues one upstream call per target currency.
func (c *Coinlayer) perTarget(ctx context.Context, markets []model.Market, fetch baseFetch) ([]model.Rate, error) {
	targets, symbols := targetsFor(markets)
	var rates []model.Rate
	for _, target := range targets {
		r, err := fetch(ctx, target, symbols[target])
		if err != nil {
			return nil, err
		}
		rates = append(rates, r...)
	}
	return rates, nil
}

func (c *Coinlayer) call(ctx context.Context, endpoint string, target model.Currency, symbols []model.Currency, params url.Values) (gjson.Result, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("target", string(target))
	params.Set("symbols", joinCurrencies(symbols))

	body, err := c.client.get(ctx, endpoint, params)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("failed to decode response: invalid json")
	}

	res := gjson.ParseBytes(body)
	if e := res.Get("error"); e.Exists() || !res.Get("success").Bool() {
		return gjson.Result{}, &APIError{
			Provider: CoinlayerID,
			Status:   http.StatusOK,
			Code:     int(e.Get("code").Int()),
			Type:     e.Get("type").String(),
			Info:     e.Get("info").String(),
		}
	}
	return res, nil
}

func (c *Coinlayer) parseRates(target model.Currency, rates gjson.Result, date string, timestamp int64) []model.Rate {
	var out []model.Rate
	rates.ForEach(func(key, value gjson.Result) bool {
		symbol := model.Currency(key.String())
		market := model.NewMarket(symbol, target)
		rate := model.Rate{
			Market:     market,
			Source:     CoinlayerID,
			SourceData: map[string]float64{market.Code(): value.Float()},
			Date:       date,
			Timestamp:  timestamp,
		}
		if value.Type == gjson.Number {
			rate.Value = model.Float(value.Float())
		}
		out = append(out, rate)
		return true
	})
	return out
}

func symbolMarkets(target model.Currency, symbols []model.Currency) []model.Market {
	out := make([]model.Market, len(symbols))
	for i, s := range symbols {
		out[i] = model.NewMarket(s, target)
	}
	return out
}
