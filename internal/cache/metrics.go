package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache-level Prometheus metrics. All metrics carry a "cache" label whose
// value is the Group set in Config, allowing multiple cache instances to be
// distinguished in dashboards and alerts. Instances with an empty Group skip
// Prometheus entirely and rely on the in-process latency aggregator alone.
var (
	// HitsTotal counts lookups served from the store per group.
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compute_cache_hits_total",
			Help: "Total number of compute cache hits.",
		},
		[]string{"cache"},
	)

	// MissesTotal counts lookups that fell through to the producer per group.
	MissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compute_cache_misses_total",
			Help: "Total number of compute cache misses.",
		},
		[]string{"cache"},
	)

	// EvictionsTotal counts entries removed by the sweep per group.
	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compute_cache_evictions_total",
			Help: "Total number of entries evicted by the TTL sweep.",
		},
		[]string{"cache"},
	)

	// InvalidationsTotal counts entries removed by explicit invalidation per group.
	InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compute_cache_invalidations_total",
			Help: "Total number of entries removed by explicit invalidation.",
		},
		[]string{"cache"},
	)

	// ProducerErrorsTotal counts failed producer invocations per group.
	ProducerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compute_cache_producer_errors_total",
			Help: "Total number of producer invocations that returned an error.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(
		HitsTotal,
		MissesTotal,
		EvictionsTotal,
		InvalidationsTotal,
		ProducerErrorsTotal,
	)
}

// entriesCollector is a Prometheus Collector that lazily reports the current
// entry count for a single cache group by calling lenFunc at scrape time.
// Reading lazily keeps the gauge honest even though the sweep runs
// opportunistically rather than on a timer.
type entriesCollector struct {
	desc    *prometheus.Desc
	lenFunc func() int
}

func (c *entriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *entriesCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.lenFunc()))
}

var (
	entriesCollectorMu sync.Mutex
	entriesCollectors  = make(map[string]*entriesCollector)
	// entriesReg is the Prometheus registerer used for entries collectors.
	// Exposed as a variable so tests can substitute an isolated registry.
	entriesReg prometheus.Registerer = prometheus.DefaultRegisterer
)

// registerEntriesCollector registers a per-group entries collector. If a
// collector for the same group already exists it is replaced, making it safe
// to create a new cache instance for a group that was previously registered
// (e.g., in tests).
func registerEntriesCollector(group string, lenFunc func() int) *entriesCollector {
	desc := prometheus.NewDesc(
		"compute_cache_entries",
		"Current number of entries in the compute cache.",
		nil,
		prometheus.Labels{"cache": group},
	)
	c := &entriesCollector{desc: desc, lenFunc: lenFunc}

	entriesCollectorMu.Lock()
	defer entriesCollectorMu.Unlock()

	if old, ok := entriesCollectors[group]; ok {
		entriesReg.Unregister(old)
	}
	entriesCollectors[group] = c
	_ = entriesReg.Register(c)
	return c
}

// unregisterEntriesCollector removes the entries collector for the given group.
func unregisterEntriesCollector(group string) {
	entriesCollectorMu.Lock()
	defer entriesCollectorMu.Unlock()

	if c, ok := entriesCollectors[group]; ok {
		entriesReg.Unregister(c)
		delete(entriesCollectors, group)
	}
}
