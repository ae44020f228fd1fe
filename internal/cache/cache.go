// Package cache implements the memoizing compute cache at the heart of the
// marketplace analytics layer: expensive computations (conventionally
// database aggregations) are wrapped in GetOrCompute and keyed by an opaque
// string, with per-call TTLs, size-triggered sweeping, wildcard
// invalidation, latency aggregation, and per-actor call-rate tracking.
//
// The cache holds no state outside the instance returned by New, so callers
// own its lifecycle end to end.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sellergrid/computecache/internal/apperrors"
	"github.com/sellergrid/computecache/internal/frequency"
	"github.com/sellergrid/computecache/internal/metrics"
)

// entry is one memoized result. Entries are immutable once stored; a repeat
// miss for the same key overwrites the whole entry.
type entry struct {
	value           any
	storedAt        time.Time
	computeDuration time.Duration
	operation       string
}

// ComputeCache is the get-or-compute façade plus its private collaborators:
// the entry store, the latency aggregator, and the request-frequency
// tracker. Each collaborator carries its own lock; the locks are never held
// simultaneously.
type ComputeCache struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg     Config
	latency *metrics.Aggregator
	tracker *frequency.Tracker
	sf      *singleflight.Group
	logger  zerolog.Logger
	group   string

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// New creates a ComputeCache from the given config. When cfg.Group is
// non-empty, Prometheus counters are recorded under that group label and a
// lazy entries collector is registered that reads Len() at scrape time.
func New(cfg Config) *ComputeCache {
	cfg = cfg.withDefaults()

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &ComputeCache{
		entries: make(map[string]*entry),
		cfg:     cfg,
		latency: metrics.NewAggregator(),
		tracker: frequency.NewTracker(cfg.FrequencyWindow, cfg.FrequencyMaxWindows),
		logger:  logger,
		group:   cfg.Group,
		now:     time.Now,
	}
	if cfg.SingleFlight {
		c.sf = &singleflight.Group{}
	}
	if c.group != "" {
		registerEntriesCollector(c.group, c.Len)
	}
	return c
}

// GetOrCompute returns the cached value for key when one exists that is
// younger than ttl, and otherwise runs producer, stores its result under
// key, and returns it. A zero ttl selects the cache's default TTL; a
// negative ttl is rejected with ErrInvalidTTL, as is an empty key with
// ErrInvalidKey. Producer failures are propagated unchanged and nothing is
// cached for them.
//
// The operation label groups latency samples: hits are recorded under
// "<operation>_cache", misses under "<operation>_db" with the full
// lookup-plus-producer duration, and failures under "<operation>_error_db".
//
// A key must always be used with the same result type T; retrieving a stored
// value as a different type fails.
func GetOrCompute[T any](ctx context.Context, c *ComputeCache, key string, ttl time.Duration, operation string, producer func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.getOrCompute(ctx, key, ttl, operation, func(ctx context.Context) (any, error) {
		return producer(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %q holds %T, not %T", key, v, zero)
	}
	return typed, nil
}

func (c *ComputeCache) getOrCompute(ctx context.Context, key string, ttl time.Duration, operation string, producer func(context.Context) (any, error)) (any, error) {
	if key == "" {
		return nil, apperrors.NewInvalidKeyError(key)
	}
	if ttl < 0 {
		return nil, apperrors.NewInvalidTTLError(ttl)
	}
	if ttl == 0 {
		ttl = c.cfg.DefaultTTL
	}

	start := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.storedAt) < ttl {
		value := e.value
		c.mu.Unlock()

		if c.group != "" {
			HitsTotal.WithLabelValues(c.group).Inc()
		}
		c.latency.Record(operation, c.now().Sub(start), true)
		return value, nil
	}
	c.mu.Unlock()

	if c.group != "" {
		MissesTotal.WithLabelValues(c.group).Inc()
	}

	if c.sf != nil {
		v, err, _ := c.sf.Do(key, func() (any, error) {
			return c.compute(ctx, key, operation, start, producer)
		})
		return v, err
	}
	return c.compute(ctx, key, operation, start, producer)
}

// compute runs the producer, stores the result, and records the miss
// latency. On producer failure nothing is stored; the error is returned to
// the caller untouched so its type survives errors.Is / errors.As checks.
func (c *ComputeCache) compute(ctx context.Context, key, operation string, start time.Time, producer func(context.Context) (any, error)) (any, error) {
	value, err := producer(ctx)
	if err != nil {
		if c.group != "" {
			ProducerErrorsTotal.WithLabelValues(c.group).Inc()
		}
		c.latency.Record(operation+"_error", c.now().Sub(start), false)
		return nil, err
	}

	elapsed := c.now().Sub(start)

	c.mu.Lock()
	c.entries[key] = &entry{
		value:           value,
		storedAt:        c.now(),
		computeDuration: elapsed,
		operation:       operation,
	}
	needSweep := len(c.entries) > c.cfg.SweepThreshold
	c.mu.Unlock()

	c.latency.Record(operation, elapsed, false)

	// Opportunistic maintenance, not a correctness requirement: the TTL
	// check on read already hides expired entries.
	if needSweep {
		c.sweep()
	}
	return value, nil
}

// Len returns the number of entries currently stored, including entries
// that have expired but not yet been swept.
func (c *ComputeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MetricsSnapshot returns a copy of all latency buckets, keyed by
// "<operation>_<cache|db>", with averages rounded to two decimal places.
func (c *ComputeCache) MetricsSnapshot() map[string]metrics.Sample {
	return c.latency.Snapshot()
}

// Aggregator exposes the latency aggregator, e.g. for wiring the /stats
// endpoint of the metrics HTTP server.
func (c *ComputeCache) Aggregator() *metrics.Aggregator {
	return c.latency
}

// RecordCall appends a call by actor to the sliding window for operation and
// returns the resulting window length. When the window exceeds the
// configured alert threshold a warning is logged; taking further action is
// up to the caller.
func (c *ComputeCache) RecordCall(operation, actor string) int {
	n := c.tracker.RecordCall(operation, actor)
	if n > c.cfg.FrequencyAlertThreshold {
		c.logger.Warn().
			Str("operation", operation).
			Str("actor", actor).
			Int("calls_in_window", n).
			Dur("window", c.tracker.Window()).
			Msg("Call rate above alert threshold")
	}
	return n
}

// Close releases instance-level resources (the Prometheus entries
// collector). The cache must not be used after Close.
func (c *ComputeCache) Close() error {
	if c.group != "" {
		unregisterEntriesCollector(c.group)
	}
	return nil
}
