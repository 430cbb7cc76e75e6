package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RateRequestsTotal       prometheus.Counter
	ConversionRequestsTotal prometheus.Counter
	HistoricalRequestsTotal prometheus.Counter

	CacheLookupsTotal       *prometheus.CounterVec
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	BridgedTotal            *prometheus.CounterVec
	StoredTotal             *prometheus.CounterVec
}

// NewMetrics registers the collectors on the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),

		RateRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_requests_total",
				Help: "Total number of live rate requests",
			},
		),

		ConversionRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "conversion_requests_total",
				Help: "Total number of currency conversion requests",
			},
		),

		HistoricalRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "historical_requests_total",
				Help: "Total number of historical rate requests",
			},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_cache_lookups_total",
				Help: "Rate cache lookups by result (hit, inverse_hit, miss)",
			},
			[]string{"result"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_provider_requests_total",
				Help: "Upstream provider calls",
			},
			[]string{"provider", "kind", "outcome"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rates_provider_request_duration_seconds",
				Help:    "Upstream provider call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "kind"},
		),

		BridgedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_bridged_total",
				Help: "Rates synthesized through the pivot currency, by outcome",
			},
			[]string{"outcome"},
		),

		StoredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rates_stored_total",
				Help: "Rates written back to the store, by kind (live, historical)",
			},
			[]string{"kind"},
		),
	}
}

// The helpers below are safe to call on a nil *Metrics.

func (m *Metrics) CacheLookup(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ProviderRequest(provider, kind string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, kind, outcome).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, kind).Observe(elapsed.Seconds())
}

func (m *Metrics) Bridged(outcome string) {
	if m == nil {
		return
	}
	m.BridgedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Stored(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.StoredTotal.WithLabelValues(kind).Add(float64(n))
}
