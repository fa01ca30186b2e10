package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts resolver activity.
type Metrics struct {
	fetches   *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
}

// NewMetrics registers the resolver counters with reg. A nil reg creates
// unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		fetches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "schable_resolver_fetches_total",
			Help: "Total number of documents retrieved from their source, by result.",
		}, []string{"result"}),
		cacheHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "schable_resolver_cache_hits_total",
			Help: "Total number of documents served from a cache, by tier.",
		}, []string{"tier"}),
	}
}

func (m *Metrics) fetched(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.fetches.WithLabelValues("error").Inc()
		return
	}
	m.fetches.WithLabelValues("ok").Inc()
}

func (m *Metrics) hit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}
