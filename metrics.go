package nfsidmap

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts mapper activity. A nil *Metrics records nothing.
type Metrics struct {
	lookups        *prometheus.CounterVec
	cache          *prometheus.CounterVec
	backendQueries *prometheus.CounterVec
}

// NewMetrics registers the mapper counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsidmap_lookups_total",
				Help: "Total number of identity lookups by operation and result",
			},
			[]string{"op", "result"},
		),
		cache: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsidmap_cache_total",
				Help: "Cache consultations by entity kind and outcome (hit, miss, stale)",
			},
			[]string{"kind", "outcome"},
		),
		backendQueries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfsidmap_backend_queries_total",
				Help: "Backend round trips by entity kind and result",
			},
			[]string{"kind", "result"},
		),
	}
}

func (m *Metrics) observeLookup(op string, err error) {
	if m == nil {
		return
	}

	m.lookups.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) observeCache(kind Class, outcome string) {
	if m == nil {
		return
	}

	m.cache.WithLabelValues(kind.String(), outcome).Inc()
}

func (m *Metrics) observeBackend(kind Class, err error) {
	if m == nil {
		return
	}

	m.backendQueries.WithLabelValues(kind.String(), resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
