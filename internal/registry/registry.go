package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/domain/ports"
	"rates-engine/internal/metrics"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

// Registry holds the provider instances and routes markets to them through
// a SourceLookup.
type Registry struct {
	providers map[string]ports.RateProvider
	sources   ports.SourceLookup
	metrics   *metrics.Metrics
	log       *logger.Logger
}

type Option func(*Registry)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func New(sources ports.SourceLookup, log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		providers: make(map[string]ports.RateProvider),
		sources:   sources,
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds p under p.ID(), replacing any provider with the same id.
func (r *Registry) Register(p ports.RateProvider) {
	r.providers[p.ID()] = p
}

func (r *Registry) Provider(id string) (ports.RateProvider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Result is the merged outcome of one dispatch. Rates keep the orientation
// the provider returned them in.
type Result struct {
	Rates       []model.Rate
	Unsupported []model.Market
	Errors      []*ProviderError
}

// Failed returns the provider error covering m, if any.
func (res Result) Failed(m model.Market) *ProviderError {
	for _, pe := range res.Errors {
		if pe.Covers(m) {
			return pe
		}
	}
	return nil
}

// BuildMarketsBySource maps each market to the id of the provider serving
// it. When the market has no provider, its inverse is tried and, if that one
// resolves, the inverse is what gets grouped. Markets without a provider in
// either orientation are returned separately.
func (r *Registry) BuildMarketsBySource(ctx context.Context, markets []model.Market) (map[string][]model.Market, []model.Market, error) {
	bySource := make(map[string][]model.Market)
	var unsupported []model.Market

	for _, market := range markets {
		id, err := r.sourceFor(ctx, market)
		if err != nil {
			return nil, nil, err
		}
		if id == "" {
			market = market.Inverse()
			if id, err = r.sourceFor(ctx, market); err != nil {
				return nil, nil, err
			}
		}
		if id == "" {
			unsupported = append(unsupported, market.Inverse())
			continue
		}
		bySource[id] = append(bySource[id], market)
	}

	return bySource, unsupported, nil
}

func (r *Registry) sourceFor(ctx context.Context, market model.Market) (string, error) {
	id, err := r.sources.SourceID(ctx, market)
	if err != nil {
		return "", fmt.Errorf("looking up source for %s: %w", market.ID(), err)
	}
	if _, ok := r.providers[id]; !ok {
		return "", nil
	}
	return id, nil
}

func (r *Registry) FetchLive(ctx context.Context, markets []model.Market) (Result, error) {
	return r.dispatch(ctx, "live", "", markets, func(ctx context.Context, p ports.RateProvider, ms []model.Market) ([]model.Rate, error) {
		return p.FetchLive(ctx, ms)
	})
}

func (r *Registry) FetchHistorical(ctx context.Context, markets []model.Market, date time.Time) (Result, error) {
	return r.dispatch(ctx, "historical", utils.FormatDate(date), markets, func(ctx context.Context, p ports.RateProvider, ms []model.Market) ([]model.Rate, error) {
		return p.FetchHistorical(ctx, ms, date)
	})
}

func (r *Registry) FetchTimeframe(ctx context.Context, markets []model.Market, tf model.Timeframe) (Result, error) {
	span := utils.FormatDate(tf.Start) + ".." + utils.FormatDate(tf.End)
	return r.dispatch(ctx, "timeframe", span, markets, func(ctx context.Context, p ports.RateProvider, ms []model.Market) ([]model.Rate, error) {
		return p.FetchTimeframe(ctx, ms, tf)
	})
}

type fetchFunc func(ctx context.Context, p ports.RateProvider, markets []model.Market) ([]model.Rate, error)

// dispatch calls every (provider, base) group concurrently. A failing group
// is recorded in Result.Errors without cancelling its siblings.
func (r *Registry) dispatch(ctx context.Context, kind, date string, markets []model.Market, fetch fetchFunc) (Result, error) {
	bySource, unsupported, err := r.BuildMarketsBySource(ctx, markets)
	if err != nil {
		return Result{}, err
	}

	res := Result{Unsupported: unsupported}
	var mu sync.Mutex
	var g errgroup.Group

	ids := make([]string, 0, len(bySource))
	for id := range bySource {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		provider := r.providers[id]
		for _, group := range GroupByBase(bySource[id]) {
			g.Go(func() error {
				r.log.Info("Fetching rates from provider",
					"provider", id, "kind", kind, "base", group[0].Base, "markets", len(group), "date", date)

				start := time.Now()
				rates, err := fetch(ctx, provider, group)
				r.metrics.ProviderRequest(id, kind, err, time.Since(start))

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					r.log.Error("Provider request failed", "provider", id, "kind", kind, "error", err)
					res.Errors = append(res.Errors, &ProviderError{Provider: id, Markets: group, Date: date, Err: err})
					return nil
				}
				res.Rates = append(res.Rates, rates...)
				return nil
			})
		}
	}

	_ = g.Wait()
	return res, nil
}

// GroupByBase splits markets into runs sharing a base currency, in order of
// first appearance.
func GroupByBase(markets []model.Market) [][]model.Market {
	index := make(map[model.Currency]int)
	var groups [][]model.Market
	for _, m := range markets {
		i, ok := index[m.Base]
		if !ok {
			i = len(groups)
			index[m.Base] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}
