package engine

import (
	"errors"
	"fmt"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/registry"
)

// outcome is how one request ended. rate is kept in the orientation it was
// produced in; it is oriented to the request only when presented.
type outcome struct {
	rate        *model.Rate
	unsupported bool
	err         *registry.ProviderError
}

func (o outcome) hasValue() bool {
	return o.rate != nil && o.rate.Value != nil
}

// resolved pairs a produced rate with the request it answers, for write-back.
type resolved struct {
	req  request
	rate model.Rate
}

func present(q request, o outcome) (*model.Rate, error) {
	switch {
	case o.err != nil:
		return nil, o.err
	case o.unsupported:
		return nil, &registry.UnsupportedMarketError{Market: q.market}
	case o.rate == nil:
		return nil, fmt.Errorf("%w: %s", ErrRateNotFound, q)
	}
	r := o.rate.Oriented(q.market.Base).Normalize()
	return &r, nil
}

// collect assembles batch results in request order. Any provider failure
// fails the batch. Unsupported markets are reported next to the rates that
// did resolve. A request nothing answered comes back as a null-valued rate.
func collect(reqs []request, outcomes map[string]outcome) ([]model.Rate, error) {
	rates := make([]model.Rate, 0, len(reqs))
	var failures, unsupported []error
	seenFailure := make(map[*registry.ProviderError]bool)
	seenUnsupported := make(map[model.Market]bool)

	for _, q := range reqs {
		o := outcomes[q.key()]
		switch {
		case o.err != nil:
			if !seenFailure[o.err] {
				seenFailure[o.err] = true
				failures = append(failures, o.err)
			}
		case o.unsupported:
			if !seenUnsupported[q.market] {
				seenUnsupported[q.market] = true
				unsupported = append(unsupported, &registry.UnsupportedMarketError{Market: q.market})
			}
		case o.rate != nil:
			rates = append(rates, o.rate.Oriented(q.market.Base).Normalize())
		default:
			rates = append(rates, q.nullRate())
		}
	}

	if len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	return rates, errors.Join(unsupported...)
}
