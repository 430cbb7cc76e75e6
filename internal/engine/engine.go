package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/domain/ports"
	"rates-engine/internal/metrics"
	"rates-engine/internal/registry"
	"rates-engine/pkg/logger"
)

// DefaultLiveTTL bounds how long a live rate is served from the store.
const DefaultLiveTTL = 300 * time.Second

// Dispatcher fans a set of markets out to the providers that serve them.
// *registry.Registry implements it.
type Dispatcher interface {
	FetchLive(ctx context.Context, markets []model.Market) (registry.Result, error)
	FetchHistorical(ctx context.Context, markets []model.Market, date time.Time) (registry.Result, error)
	FetchTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) (registry.Result, error)
}

// Engine resolves rates from the store first, then from providers, then by
// bridging through the pivot currency, writing new answers back to the
// store.
type Engine struct {
	store     ports.RateStore
	providers Dispatcher
	pivot     model.Currency
	liveTTL   time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger
}

type Option func(*Engine)

func WithPivot(c model.Currency) Option {
	return func(e *Engine) {
		e.pivot = c
	}
}

func WithLiveTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.liveTTL = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(store ports.RateStore, providers Dispatcher, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		providers: providers,
		pivot:     model.USD,
		liveTTL:   DefaultLiveTTL,
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Pivot() model.Currency {
	return e.pivot
}

// FetchRate resolves a single rate. A zero date asks for the live rate,
// cached for ttl (the engine default when ttl <= 0). The returned rate may
// carry a nil Value when the provider reports no figure for the pair.
func (e *Engine) FetchRate(ctx context.Context, market model.Market, date time.Time, ttl time.Duration) (*model.Rate, error) {
	if err := market.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	q := newRequest(market, date)
	o, err := e.fetchOne(ctx, q, e.ttl(ttl), true)
	if err != nil {
		return nil, err
	}
	return present(q, o)
}

// FetchRates resolves live rates for markets in one batch. Rates come back
// in request order. Markets no provider serves are reported through the
// returned error (joined UnsupportedMarketErrors) alongside the rates that
// did resolve; a provider failure fails the whole batch.
func (e *Engine) FetchRates(ctx context.Context, markets []model.Market, ttl time.Duration) ([]model.Rate, error) {
	reqs := make([]request, 0, len(markets))
	for _, m := range markets {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		reqs = append(reqs, newRequest(m, time.Time{}))
	}
	return e.fetchBatch(ctx, reqs, e.ttl(ttl))
}

// FetchRatesForDates is FetchRates for historical market-dates. Missing
// dates are fetched in as few contiguous ranges as possible.
func (e *Engine) FetchRatesForDates(ctx context.Context, marketDates []model.MarketDate) ([]model.Rate, error) {
	reqs := make([]request, 0, len(marketDates))
	for _, md := range marketDates {
		if err := md.Market.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if md.Date.IsZero() {
			return nil, fmt.Errorf("%w: missing date for %s", ErrInvalidRequest, md.Market.ID())
		}
		reqs = append(reqs, newRequest(md.Market, md.Date))
	}
	return e.fetchBatch(ctx, reqs, 0)
}

func (e *Engine) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return e.liveTTL
	}
	return ttl
}

func (e *Engine) fetchBatch(ctx context.Context, reqs []request, ttl time.Duration) ([]model.Rate, error) {
	if len(reqs) == 0 {
		return []model.Rate{}, nil
	}
	outcomes, err := e.resolve(ctx, reqs, ttl, true)
	if err != nil {
		return nil, err
	}
	return collect(reqs, outcomes)
}

// fetchOne is the single-rate path: store by id, store by inverse id,
// provider, then bridge.
func (e *Engine) fetchOne(ctx context.Context, q request, ttl time.Duration, allowBridge bool) (outcome, error) {
	if o, ok := e.lookupOne(ctx, q); ok {
		return o, nil
	}

	fetched, err := e.fetchMissing(ctx, []request{q})
	if err != nil {
		return outcome{}, err
	}
	o := fetched[q.key()]
	if o.hasValue() {
		e.writeBack(ctx, ttl, []resolved{{req: q, rate: *o.rate}})
		return o, nil
	}

	if !allowBridge || !e.bridgeable(q.market) {
		return o, nil
	}

	legA, legB := q.legs(e.pivot)
	var a, b outcome
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = e.fetchOne(gctx, legA, ttl, false)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = e.fetchOne(gctx, legB, ttl, false)
		return err
	})
	if err := g.Wait(); err != nil {
		return outcome{}, err
	}

	bridged := e.combineLegs(q, a, b)
	if bridged.hasValue() {
		e.writeBack(ctx, ttl, []resolved{{req: q, rate: *bridged.rate}})
	}
	return settle(o, bridged), nil
}

func (e *Engine) lookupOne(ctx context.Context, q request) (outcome, bool) {
	for i, key := range []string{q.key(), q.inverseKey()} {
		cached, err := e.store.Get(ctx, key)
		if err != nil {
			e.log.Warn("Rate store read failed", "key", key, "error", err)
			continue
		}
		if cached == nil {
			continue
		}
		rate, err := cached.Rate()
		if err != nil {
			e.log.Warn("Discarding malformed cached rate", "key", key, "error", err)
			continue
		}
		e.log.Debug("Cache hit", "key", key)
		if i == 0 {
			e.metrics.CacheLookup("hit", 1)
		} else {
			e.metrics.CacheLookup("inverse_hit", 1)
		}
		return outcome{rate: &rate}, true
	}
	e.log.Debug("Cache miss", "key", q.key())
	e.metrics.CacheLookup("miss", 1)
	return outcome{}, false
}
