package database

import "github.com/prometheus/client_golang/prometheus"

// Cache names used as metric labels.
const (
	cacheCases        = "cases"
	cacheDataSources  = "data_sources"
	cacheTypes        = "correlation_types"
	cacheAccounts     = "accounts"
	cacheAccountTypes = "account_types"
)

// Metrics tracks store activity.
//
// Metrics:
//   - <ns>_store_cache_hits_total: cache hits by cache name
//   - <ns>_store_cache_misses_total: cache misses by cache name
//   - <ns>_store_bulk_flushes_total: bulk staging flushes
//   - <ns>_store_bulk_rows_total: staged instances written by flushes
type Metrics struct {
	hitsTotal   *prometheus.CounterVec
	missesTotal *prometheus.CounterVec
	flushes     prometheus.Counter
	bulkRows    prometheus.Counter
}

// NewMetrics creates and registers store metrics with registry. A nil registry
// leaves the metrics unregistered, which tests use to avoid collisions.
func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "bulk_flushes_total",
			Help:      "Total number of bulk staging flushes",
		}),
		bulkRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "bulk_rows_total",
			Help:      "Total number of staged instances written by flushes",
		}),
	}

	if registry != nil {
		registry.MustRegister(m.hitsTotal, m.missesTotal, m.flushes, m.bulkRows)
	}
	return m
}

func (m *Metrics) hit(cache string)  { m.hitsTotal.WithLabelValues(cache).Inc() }
func (m *Metrics) miss(cache string) { m.missesTotal.WithLabelValues(cache).Inc() }

func (m *Metrics) flushed(rows int) {
	m.flushes.Inc()
	m.bulkRows.Add(float64(rows))
}
