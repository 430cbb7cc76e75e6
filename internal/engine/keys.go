package engine

import (
	"time"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/utils"
)

const liveSuffix = "LIVE"

// LiveKey is the store key of the live rate for m, e.g. "USD-CLP:LIVE".
func LiveKey(m model.Market) string {
	return m.ID() + ":" + liveSuffix
}

// HistoricalKey is the store key of m on date, e.g. "USD-CLP:2020-01-01".
func HistoricalKey(m model.Market, date time.Time) string {
	return m.ID() + ":" + utils.FormatDate(date)
}

func storeKey(m model.Market, date time.Time) string {
	if date.IsZero() {
		return LiveKey(m)
	}
	return HistoricalKey(m, date)
}

// request is one market at one point in time. A zero date means live.
type request struct {
	market model.Market
	date   time.Time
}

func newRequest(m model.Market, date time.Time) request {
	if date.IsZero() {
		return request{market: m}
	}
	return request{market: m, date: utils.TruncateDay(date)}
}

func (q request) isLive() bool {
	return q.date.IsZero()
}

func (q request) key() string {
	return storeKey(q.market, q.date)
}

func (q request) inverseKey() string {
	return storeKey(q.market.Inverse(), q.date)
}

// nullRate is the answer for q when neither the store nor a provider had
// anything to say about it.
func (q request) nullRate() model.Rate {
	r := model.Rate{Market: q.market}
	if !q.isLive() {
		r.Date = utils.FormatDate(q.date)
		r.Timestamp = q.date.Unix()
	}
	return r
}

// legs splits q into base→pivot and pivot→quote at the same date.
func (q request) legs(pivot model.Currency) (request, request) {
	return request{market: model.NewMarket(q.market.Base, pivot), date: q.date},
		request{market: model.NewMarket(pivot, q.market.Quote), date: q.date}
}

func (q request) String() string {
	if q.isLive() {
		return q.market.ID() + " (live)"
	}
	return q.market.ID() + " " + utils.FormatDate(q.date)
}

func uniqueRequests(reqs []request) []request {
	seen := make(map[string]struct{}, len(reqs))
	out := make([]request, 0, len(reqs))
	for _, q := range reqs {
		if _, ok := seen[q.key()]; ok {
			continue
		}
		seen[q.key()] = struct{}{}
		out = append(out, q)
	}
	return out
}
