package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wingmem/internal/memory"
)

// metrics holds the server's Prometheus instruments. Each server owns its
// registry so tests can spin up several servers without duplicate
// registration panics.
type metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetrics(store *memory.Store, hotThreshold float64, recentWindow time.Duration) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		requestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingmem_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "wingmem_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wingmem_atoms_total",
		Help: "Number of stored fact atoms",
	}, tableGauge(store, "atoms"))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wingmem_contexts_total",
		Help: "Number of context annotations",
	}, tableGauge(store, "context_atoms"))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wingmem_chains_total",
		Help: "Number of pattern chains",
	}, tableGauge(store, "pattern_chains"))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wingmem_db_size_bytes",
		Help: "SQLite database file size in bytes",
	}, func() float64 {
		return float64(store.SizeBytes())
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wingmem_hot_atoms",
		Help: "Atoms whose heat score is at or above the configured threshold",
	}, func() float64 {
		count, err := store.HotAtomCount(hotThreshold)
		if err != nil {
			return 0
		}
		return float64(count)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wingmem_recent_queries",
		Help: "Queries logged inside the configured recency window",
	}, func() float64 {
		count, err := store.RecentQueryCount(recentWindow)
		if err != nil {
			return 0
		}
		return float64(count)
	})

	return m
}

func tableGauge(store *memory.Store, table string) func() float64 {
	return func() float64 {
		counts, err := store.TableCounts()
		if err != nil {
			return 0
		}
		return float64(counts[table])
	}
}
