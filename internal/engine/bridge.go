package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"rates-engine/internal/domain/model"
)

// bridgeable reports whether m may be synthesized through the pivot.
func (e *Engine) bridgeable(m model.Market) bool {
	return !m.IsTrivial() && !m.Involves(e.pivot)
}

// bridgeBatch resolves the pivot legs of every bridgeable request in one
// recursive call that may not bridge again. Legs already answered in known,
// in either orientation, are reused instead of being fetched a second time.
func (e *Engine) bridgeBatch(ctx context.Context, reqs []request, known map[string]outcome, ttl time.Duration) (map[string]outcome, error) {
	var eligible, pending []request
	legOutcomes := make(map[string]outcome)
	for _, q := range reqs {
		if !e.bridgeable(q.market) {
			continue
		}
		eligible = append(eligible, q)
		a, b := q.legs(e.pivot)
		for _, leg := range []request{a, b} {
			if o, ok := knownLeg(known, leg); ok {
				legOutcomes[leg.key()] = o
				continue
			}
			pending = append(pending, leg)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	e.log.Debug("Bridging through pivot", "pivot", e.pivot, "markets", len(eligible), "legs", len(pending))
	if len(pending) > 0 {
		resolved, err := e.resolve(ctx, pending, ttl, false)
		if err != nil {
			return nil, err
		}
		for k, o := range resolved {
			legOutcomes[k] = o
		}
	}

	out := make(map[string]outcome, len(eligible))
	for _, q := range eligible {
		a, b := q.legs(e.pivot)
		out[q.key()] = e.combineLegs(q, legOutcomes[a.key()], legOutcomes[b.key()])
	}
	return out, nil
}

// knownLeg returns the outcome of leg already present in known, looking up
// the inverse market when the leg itself is absent.
func knownLeg(known map[string]outcome, leg request) (outcome, bool) {
	if o, ok := known[leg.key()]; ok {
		return o, true
	}
	o, ok := known[leg.inverseKey()]
	return o, ok
}

// combineLegs synthesizes q from its base→pivot and pivot→quote legs. A
// failed leg fails the bridge, an unsupported leg makes it impossible, and
// a null leg yields a null bridged rate.
func (e *Engine) combineLegs(q request, a, b outcome) outcome {
	switch {
	case a.err != nil:
		e.metrics.Bridged("failed")
		return outcome{err: a.err}
	case b.err != nil:
		e.metrics.Bridged("failed")
		return outcome{err: b.err}
	case a.unsupported || b.unsupported || a.rate == nil || b.rate == nil:
		e.metrics.Bridged("unavailable")
		return outcome{}
	}

	legA := a.rate.Oriented(q.market.Base).Normalize()
	legB := b.rate.Oriented(e.pivot).Normalize()

	rate := model.Rate{
		Market:     q.market,
		Source:     legA.Source + "," + legB.Source,
		SourceData: []any{legA.SourceData, legB.SourceData},
		Date:       legA.Date,
		Timestamp:  legA.Timestamp,
		Bridged:    true,
	}
	if legA.HasValue() && legB.HasValue() {
		rate.Value = multiply(*legA.Value, *legB.Value)
		e.metrics.Bridged("success")
	} else {
		e.metrics.Bridged("null")
	}
	return outcome{rate: &rate}
}

// multiply returns a*b computed in decimal, without rounding.
func multiply(a, b float64) *float64 {
	product, _ := decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Float64()
	return model.Float(product)
}

// settle picks the final outcome of a request whose direct path produced no
// value, given what bridging produced.
func settle(direct, bridged outcome) outcome {
	switch {
	case bridged.hasValue(), bridged.err != nil:
		return bridged
	case direct.err != nil:
		return direct
	case bridged.rate != nil:
		return bridged
	default:
		return direct
	}
}
