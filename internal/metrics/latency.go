package metrics

import (
	"math"
	"sync"
	"time"
)

// Bucket sources. Hits are served from the cache; misses fall through to the
// underlying computation (conventionally a database aggregation).
const (
	SourceCache = "cache"
	SourceDB    = "db"
)

// Sample is the running latency aggregate for one (operation, source) bucket.
// All durations are in milliseconds.
type Sample struct {
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_time_ms"`
	AvgMs   float64 `json:"avg_time_ms"`
	MinMs   float64 `json:"min_time_ms"`
	MaxMs   float64 `json:"max_time_ms"`
}

// Aggregator accumulates per-operation latency samples, split by whether the
// request was served from the cache or by the underlying computation.
// Buckets are created lazily on first use and never removed; the bucket space
// is bounded by the set of operation labels the callers use.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[string]*Sample
}

// NewAggregator creates an empty latency aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[string]*Sample),
	}
}

// BucketKey returns the key under which a sample for the given operation and
// outcome is aggregated: "<operation>_cache" for hits, "<operation>_db" for misses.
func BucketKey(operation string, hit bool) string {
	if hit {
		return operation + "_" + SourceCache
	}
	return operation + "_" + SourceDB
}

// Record folds one observed duration into the bucket for the given operation
// and outcome. After every update AvgMs == TotalMs / Count and
// MinMs <= AvgMs <= MaxMs.
func (a *Aggregator) Record(operation string, d time.Duration, hit bool) {
	ms := float64(d) / float64(time.Millisecond)
	key := BucketKey(operation, hit)

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.buckets[key]
	if !ok {
		s = &Sample{MinMs: math.Inf(1)}
		a.buckets[key] = s
	}

	s.Count++
	s.TotalMs += ms
	s.AvgMs = s.TotalMs / float64(s.Count)
	if ms < s.MinMs {
		s.MinMs = ms
	}
	if ms > s.MaxMs {
		s.MaxMs = ms
	}
}

// Snapshot returns a copy of every bucket with AvgMs rounded to two decimal
// places. Mutating the returned map does not affect the aggregator.
func (a *Aggregator) Snapshot() map[string]Sample {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Sample, len(a.buckets))
	for key, s := range a.buckets {
		copied := *s
		copied.AvgMs = math.Round(copied.AvgMs*100) / 100
		out[key] = copied
	}
	return out
}
