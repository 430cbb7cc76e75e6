package config

import (
	"context"
	"sort"
	"strings"

	"rates-engine/internal/domain/model"
)

// StaticSources serves the market mapping and currency allow-list loaded
// with the configuration.
type StaticSources struct {
	sources    map[string]string
	currencies []model.Currency
}

func NewStaticSources(sources map[string]string, currencies []string) *StaticSources {
	table := make(map[string]string, len(sources))
	for market, provider := range sources {
		table[strings.ToUpper(market)] = provider
	}
	codes := make([]string, len(currencies))
	for i, c := range currencies {
		codes[i] = strings.ToUpper(c)
	}
	sort.Strings(codes)
	return &StaticSources{sources: table, currencies: model.Currencies(codes)}
}

func (s *StaticSources) SourceID(_ context.Context, market model.Market) (string, error) {
	return s.sources[market.ID()], nil
}

func (s *StaticSources) Currencies(_ context.Context) ([]model.Currency, error) {
	return s.currencies, nil
}

// Sources returns a copy of the market mapping.
func (s *StaticSources) Sources() map[string]string {
	out := make(map[string]string, len(s.sources))
	for k, v := range s.sources {
		out[k] = v
	}
	return out
}
