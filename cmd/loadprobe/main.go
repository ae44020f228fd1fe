// loadprobe exercises a ComputeCache with a synthetic read-heavy workload
// against a simulated slow producer, exposing the Prometheus metrics and the
// latency snapshot over HTTP while it runs. Useful for eyeballing hit rates,
// sweep behavior, and alert logging before wiring the cache into a service.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sellergrid/computecache/internal/cache"
	"github.com/sellergrid/computecache/internal/config"
	"github.com/sellergrid/computecache/internal/metrics"
)

// operations mirrors the shape of the analytics queries the cache fronts in
// production: a label and a typical computation cost.
var operations = []struct {
	name string
	keys int
	cost time.Duration
}{
	{name: "dashboard_stats", keys: 20, cost: 40 * time.Millisecond},
	{name: "inventory_summary", keys: 50, cost: 25 * time.Millisecond},
	{name: "sales_analytics", keys: 10, cost: 80 * time.Millisecond},
}

func main() {
	cfg := config.GetConfig()
	logger := config.GetLogger()

	c := cache.New(cfg.ComputeCacheConfig())
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close cache")
		}
	}()

	// Serve /metrics and /stats while the probe runs.
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewHTTPServer(cfg.Metrics.Address, cfg.Metrics.Port, c.Aggregator())
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("Starting metrics HTTP server")
			if err := metricsServer.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
				logger.Fatal().Err(err).Msg("Failed to serve metrics")
			}
		}()
		defer func() {
			if err := metricsServer.Shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Failed to shutdown metrics server")
			}
		}()
	}

	ctx, stop := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		stop()
	}()

	logger.Info().Msg("Probe started; Ctrl-C to stop and print the latency snapshot")
	run(ctx, c)

	printSnapshot(c)
	logger.Info().Msg("Probe stopped")
}

// run drives lookups across a small key space until the context is canceled.
// Key reuse is what produces cache hits.
func run(ctx context.Context, c *cache.ComputeCache) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		op := operations[rng.Intn(len(operations))]
		entity := rng.Intn(op.keys)
		key := fmt.Sprintf("%s_%d", op.name, entity)
		actor := fmt.Sprintf("seller-%d", entity)

		c.RecordCall(op.name, actor)
		_, err := cache.GetOrCompute(ctx, c, key, 30*time.Second, op.name, func(ctx context.Context) (map[string]any, error) {
			return simulateAggregation(ctx, op.cost, key)
		})
		if err != nil && ctx.Err() == nil {
			logger := config.GetLogger()
			logger.Error().Err(err).Str("key", key).Msg("Lookup failed")
		}
	}
}

// simulateAggregation stands in for the expensive database work the cache
// fronts in production.
func simulateAggregation(ctx context.Context, cost time.Duration, key string) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(cost):
	}
	return map[string]any{
		"key":         key,
		"computed_at": time.Now().UTC(),
	}, nil
}

func printSnapshot(c *cache.ComputeCache) {
	snap := c.MetricsSnapshot()
	buckets := make([]string, 0, len(snap))
	for b := range snap {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	fmt.Println()
	fmt.Println("bucket                         count    avg(ms)    min(ms)    max(ms)")
	fmt.Println("----------------------------------------------------------------------")
	for _, b := range buckets {
		s := snap[b]
		fmt.Printf("%-30s %6d %10.2f %10.2f %10.2f\n", b, s.Count, s.AvgMs, s.MinMs, s.MaxMs)
	}
	fmt.Printf("\nentries still cached: %d\n", c.Len())
}
