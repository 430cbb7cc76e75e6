package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/registry"
	"rates-engine/pkg/utils"
)

// resolve runs the batch path for reqs, which are either all live or all
// dated. It returns one outcome per distinct request key.
func (e *Engine) resolve(ctx context.Context, reqs []request, ttl time.Duration, allowBridge bool) (map[string]outcome, error) {
	reqs = uniqueRequests(reqs)
	outcomes := make(map[string]outcome, len(reqs))

	missing := e.lookupBatch(ctx, reqs, outcomes)
	if len(missing) == 0 {
		return outcomes, nil
	}

	fetched, err := e.fetchMissing(ctx, missing)
	if err != nil {
		return nil, err
	}

	var produced []resolved
	var unresolved []request
	for _, q := range missing {
		o := fetched[q.key()]
		outcomes[q.key()] = o
		if o.hasValue() {
			produced = append(produced, resolved{req: q, rate: *o.rate})
			continue
		}
		unresolved = append(unresolved, q)
	}

	if allowBridge && len(unresolved) > 0 {
		bridged, err := e.bridgeBatch(ctx, unresolved, outcomes, ttl)
		if err != nil {
			return nil, err
		}
		for _, q := range unresolved {
			b, ok := bridged[q.key()]
			if !ok {
				continue
			}
			if b.hasValue() {
				produced = append(produced, resolved{req: q, rate: *b.rate})
			}
			outcomes[q.key()] = settle(outcomes[q.key()], b)
		}
	}

	e.writeBack(ctx, ttl, produced)
	return outcomes, nil
}

// lookupBatch fills outcomes with store hits, probing inverse keys for the
// first-round misses, and returns what is still missing.
func (e *Engine) lookupBatch(ctx context.Context, reqs []request, outcomes map[string]outcome) []request {
	missing := e.probe(ctx, reqs, request.key, outcomes)
	e.metrics.CacheLookup("hit", len(reqs)-len(missing))
	if len(missing) == 0 {
		return nil
	}

	stillMissing := e.probe(ctx, missing, request.inverseKey, outcomes)
	e.metrics.CacheLookup("inverse_hit", len(missing)-len(stillMissing))
	e.metrics.CacheLookup("miss", len(stillMissing))
	return stillMissing
}

func (e *Engine) probe(ctx context.Context, reqs []request, keyOf func(request) string, outcomes map[string]outcome) []request {
	keys := make([]string, len(reqs))
	for i, q := range reqs {
		keys[i] = keyOf(q)
	}

	cached, err := e.store.BatchGet(ctx, keys)
	if err == nil && len(cached) != len(keys) {
		err = fmt.Errorf("store returned %d entries for %d keys", len(cached), len(keys))
	}
	if err != nil {
		e.log.Warn("Rate store batch read failed", "keys", len(keys), "error", err)
		return reqs
	}

	var missing []request
	for i, q := range reqs {
		if cached[i] == nil {
			missing = append(missing, q)
			continue
		}
		rate, err := cached[i].Rate()
		if err != nil {
			e.log.Warn("Discarding malformed cached rate", "key", keys[i], "error", err)
			missing = append(missing, q)
			continue
		}
		e.log.Debug("Cache hit", "key", keys[i])
		outcomes[q.key()] = outcome{rate: &rate}
	}
	return missing
}

// providerCall is one dispatch of the dated path: a set of markets sharing
// the same missing dates, over one contiguous timeframe.
type providerCall struct {
	markets []model.Market
	tf      model.Timeframe
	res     registry.Result
}

// fetchMissing asks the providers for every request in missing and matches
// their answers back to the requests.
func (e *Engine) fetchMissing(ctx context.Context, missing []request) (map[string]outcome, error) {
	out := make(map[string]outcome, len(missing))

	if missing[0].isLive() {
		res, err := e.providers.FetchLive(ctx, uniqueMarkets(missing))
		if err != nil {
			return nil, err
		}
		idx := indexRates(res.Rates, true)
		for _, q := range missing {
			out[q.key()] = match(q, idx, res)
		}
		return out, nil
	}

	calls := planCalls(missing)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range calls {
		g.Go(func() error {
			var err error
			if c.tf.Days() == 1 {
				c.res, err = e.providers.FetchHistorical(gctx, c.markets, c.tf.Start)
			} else {
				c.res, err = e.providers.FetchTimeframe(gctx, c.markets, c.tf)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range calls {
		idx := indexRates(c.res.Rates, false)
		for _, m := range c.markets {
			for _, d := range model.GenerateDateRange(c.tf) {
				q := request{market: m, date: d}
				out[q.key()] = match(q, idx, c.res)
			}
		}
	}
	return out, nil
}

// planCalls groups markets by their exact set of missing dates, then splits
// each set into consecutive timeframes.
func planCalls(missing []request) []*providerCall {
	var order []model.Market
	datesByMarket := make(map[model.Market][]time.Time)
	for _, q := range missing {
		if _, ok := datesByMarket[q.market]; !ok {
			order = append(order, q.market)
		}
		datesByMarket[q.market] = append(datesByMarket[q.market], q.date)
	}

	type dateSet struct {
		dates   []time.Time
		markets []model.Market
	}
	var sets []*dateSet
	bySignature := make(map[string]*dateSet)
	for _, m := range order {
		dates := datesByMarket[m]
		sig := signature(dates)
		set, ok := bySignature[sig]
		if !ok {
			set = &dateSet{dates: dates}
			bySignature[sig] = set
			sets = append(sets, set)
		}
		set.markets = append(set.markets, m)
	}

	var calls []*providerCall
	for _, set := range sets {
		for _, tf := range model.ConsecutiveTimeframes(set.dates) {
			calls = append(calls, &providerCall{markets: set.markets, tf: tf})
		}
	}
	return calls
}

func signature(dates []time.Time) string {
	days := make([]string, len(dates))
	for i, d := range dates {
		days[i] = utils.FormatDate(d)
	}
	sort.Strings(days)
	return strings.Join(days, ",")
}

func uniqueMarkets(reqs []request) []model.Market {
	seen := make(map[model.Market]bool, len(reqs))
	var out []model.Market
	for _, q := range reqs {
		if !seen[q.market] {
			seen[q.market] = true
			out = append(out, q.market)
		}
	}
	return out
}

// indexRates keys provider rates the way the store does. When a provider
// returns the same key twice, a rate with a value wins over a null one.
func indexRates(rates []model.Rate, live bool) map[string]model.Rate {
	idx := make(map[string]model.Rate, len(rates))
	for _, r := range rates {
		key := LiveKey(r.Market)
		if !live {
			key = r.Market.ID() + ":" + r.Date
		}
		if prev, ok := idx[key]; ok && prev.HasValue() && !r.HasValue() {
			continue
		}
		idx[key] = r
	}
	return idx
}

// match finds the provider's answer for q in either orientation, falling
// back to the dispatch's failure or unsupported report for the market.
func match(q request, idx map[string]model.Rate, res registry.Result) outcome {
	for _, key := range []string{q.key(), q.inverseKey()} {
		if r, ok := idx[key]; ok {
			return outcome{rate: &r}
		}
	}
	if pe := res.Failed(q.market); pe != nil {
		return outcome{err: pe}
	}
	for _, m := range res.Unsupported {
		if m.SamePair(q.market) {
			return outcome{unsupported: true}
		}
	}
	return outcome{}
}

// writeBack stores produced rates in the orientation they were produced in.
// Live rates get ttl; historical ones are kept indefinitely. Store failures
// are logged and do not fail the request.
func (e *Engine) writeBack(ctx context.Context, ttl time.Duration, produced []resolved) {
	if len(produced) == 0 {
		return
	}

	entries := make(map[string]model.CachedRate, len(produced))
	for _, p := range produced {
		if !p.rate.HasValue() {
			continue
		}
		entries[storeKey(p.rate.Market, p.req.date)] = model.NewCachedRate(p.rate)
	}
	if len(entries) == 0 {
		return
	}

	live := produced[0].req.isLive()
	var err error
	switch {
	case len(entries) == 1 && live:
		for key, c := range entries {
			err = e.store.SetWithTTL(ctx, key, c, ttl)
		}
	case len(entries) == 1:
		for key, c := range entries {
			err = e.store.Set(ctx, key, c)
		}
	case live:
		err = e.store.BatchSetWithTTL(ctx, entries, ttl)
	default:
		err = e.store.BatchSet(ctx, entries)
	}
	if err != nil {
		e.log.Error("Failed to store rates", "count", len(entries), "error", err)
		return
	}

	kind := "historical"
	if live {
		kind = "live"
	}
	e.metrics.Stored(kind, len(entries))
	for key, c := range entries {
		e.log.Debug("Rate stored", "key", key, "source", c.Source, "bridged", c.Bridged)
	}
}
