package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sellergrid/computecache/internal/apperrors"
)

// fakeClock lets tests control the cache's view of time.
type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// newTestCache builds a cache with a deterministic clock and registers a
// cleanup for Close.
func newTestCache(t *testing.T, cfg Config) (*ComputeCache, *fakeClock) {
	t.Helper()
	c := New(cfg)
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	c.now = clock.Now
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

// constProducer returns a producer that yields v and counts its invocations.
func constProducer(v string, calls *int32) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	var calls int32

	got, err := GetOrCompute(context.Background(), c, "dashboard_stats_42", 0, "dashboard_stats", constProducer("payload", &calls))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != "payload" {
		t.Fatalf("Expected payload, got %q", got)
	}
	if calls != 1 {
		t.Fatalf("Expected 1 producer call, got %d", calls)
	}

	// Immediate repeat call must be a hit.
	got, err = GetOrCompute(context.Background(), c, "dashboard_stats_42", 0, "dashboard_stats", constProducer("other", &calls))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != "payload" {
		t.Errorf("Expected cached payload, got %q", got)
	}
	if calls != 1 {
		t.Errorf("Expected producer not to run again, got %d calls", calls)
	}
}

func TestGetOrCompute_TTLCorrectness(t *testing.T) {
	c, clock := newTestCache(t, Config{})
	var calls int32
	ttl := time.Second

	if _, err := GetOrCompute(context.Background(), c, "k", ttl, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	// Within the TTL: hit.
	clock.Advance(500 * time.Millisecond)
	if _, err := GetOrCompute(context.Background(), c, "k", ttl, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected hit within TTL, got %d producer calls", calls)
	}

	// At or past the TTL: miss.
	clock.Advance(500 * time.Millisecond)
	if _, err := GetOrCompute(context.Background(), c, "k", ttl, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected miss once TTL elapsed, got %d producer calls", calls)
	}
}

func TestGetOrCompute_PerCallTTLOverridesDefault(t *testing.T) {
	c, clock := newTestCache(t, Config{DefaultTTL: time.Hour})
	var calls int32

	if _, err := GetOrCompute(context.Background(), c, "k", time.Second, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := GetOrCompute(context.Background(), c, "k", time.Second, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected the per-call TTL to govern staleness, got %d producer calls", calls)
	}
}

func TestGetOrCompute_InvalidArguments(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	var calls int32

	_, err := GetOrCompute(context.Background(), c, "", 0, "op", constProducer("v", &calls))
	if !errors.Is(err, &apperrors.ErrInvalidKey{}) {
		t.Errorf("Expected ErrInvalidKey for empty key, got %v", err)
	}

	_, err = GetOrCompute(context.Background(), c, "k", -time.Second, "op", constProducer("v", &calls))
	if !errors.Is(err, &apperrors.ErrInvalidTTL{}) {
		t.Errorf("Expected ErrInvalidTTL for negative TTL, got %v", err)
	}

	if calls != 0 {
		t.Errorf("Expected producer never to run on invalid arguments, got %d calls", calls)
	}
	if c.Len() != 0 {
		t.Errorf("Expected nothing cached, got %d entries", c.Len())
	}
}

func TestGetOrCompute_ProducerErrorIsNotCached(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	var calls int32
	boom := errors.New("aggregation pipeline failed")

	failing := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", boom
	}

	_, err := GetOrCompute(context.Background(), c, "k", 0, "op", failing)
	if err != boom {
		t.Fatalf("Expected the producer error unchanged, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Expected no entry cached after failure, got %d", c.Len())
	}

	// No negative caching: the next call runs the producer again.
	got, err := GetOrCompute(context.Background(), c, "k", 0, "op", constProducer("v", &calls))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != "v" {
		t.Errorf("Expected v, got %q", got)
	}
	if calls != 2 {
		t.Errorf("Expected 2 producer calls, got %d", calls)
	}

	snap := c.MetricsSnapshot()
	if snap["op_error_db"].Count != 1 {
		t.Errorf("op_error_db count = %d, want 1", snap["op_error_db"].Count)
	}
	if snap["op_db"].Count != 1 {
		t.Errorf("op_db count = %d, want 1", snap["op_db"].Count)
	}
}

func TestGetOrCompute_SweepThreshold(t *testing.T) {
	c, clock := newTestCache(t, Config{DefaultTTL: time.Minute, SweepThreshold: 5})
	var calls int32

	keys := []string{"a", "b", "c", "d", "e", "f"}
	for _, k := range keys {
		if _, err := GetOrCompute(context.Background(), c, k, 0, "op", constProducer("v", &calls)); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", k, err)
		}
	}
	// Sweep ran (len > 5) but nothing was old enough to remove.
	if c.Len() != 6 {
		t.Fatalf("Expected 6 fresh entries to survive the sweep, got %d", c.Len())
	}

	// Age everything past the default TTL, then trigger one more insert.
	clock.Advance(2 * time.Minute)
	if _, err := GetOrCompute(context.Background(), c, "g", 0, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute(g): %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Expected the sweep to remove all expired entries, got %d remaining", c.Len())
	}
}

func TestGetOrCompute_SweepUsesDefaultTTLNotEntryTTL(t *testing.T) {
	c, clock := newTestCache(t, Config{DefaultTTL: time.Minute, SweepThreshold: 2})
	var calls int32

	// Requested with a TTL far longer than the default.
	if _, err := GetOrCompute(context.Background(), c, "long", time.Hour, "op", constProducer("v", &calls)); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	clock.Advance(2 * time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		if _, err := GetOrCompute(context.Background(), c, k, 0, "op", constProducer("v", &calls)); err != nil {
			t.Fatalf("GetOrCompute(%s): %v", k, err)
		}
	}

	// "long" is still within its requested hour, but the sweep evicts
	// against the default TTL.
	c.mu.Lock()
	_, ok := c.entries["long"]
	c.mu.Unlock()
	if ok {
		t.Error("Expected the sweep to evict by default TTL regardless of the entry's requested TTL")
	}
}

func TestGetOrCompute_EndToEndScenario(t *testing.T) {
	c, clock := newTestCache(t, Config{})

	var calls int32
	slowProducer := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		clock.Advance(50 * time.Millisecond)
		return "V", nil
	}

	// t=0: miss, producer takes 50ms.
	got, err := GetOrCompute(context.Background(), c, "x", time.Second, "op", slowProducer)
	if err != nil || got != "V" {
		t.Fatalf("GetOrCompute = %q, %v", got, err)
	}

	// t=500ms: hit.
	clock.Advance(450 * time.Millisecond)
	got, err = GetOrCompute(context.Background(), c, "x", time.Second, "op", slowProducer)
	if err != nil || got != "V" {
		t.Fatalf("GetOrCompute = %q, %v", got, err)
	}

	// t=1500ms: entry is stale, producer runs again.
	clock.Advance(time.Second)
	if _, err := GetOrCompute(context.Background(), c, "x", time.Second, "op", slowProducer); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	if calls != 2 {
		t.Errorf("Expected 2 producer invocations, got %d", calls)
	}

	snap := c.MetricsSnapshot()
	if snap["op_db"].Count != 2 {
		t.Errorf("op_db count = %d, want 2", snap["op_db"].Count)
	}
	if snap["op_cache"].Count != 1 {
		t.Errorf("op_cache count = %d, want 1", snap["op_cache"].Count)
	}
	if snap["op_db"].MinMs < 50 {
		t.Errorf("op_db min = %vms, want >= 50ms (includes producer time)", snap["op_db"].MinMs)
	}
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c := New(Config{SingleFlight: true})
	t.Cleanup(func() { _ = c.Close() })

	var calls int32
	release := make(chan struct{})
	producer := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetOrCompute(context.Background(), c, "k", time.Minute, "op", producer)
		}(i)
	}

	// Give every worker time to reach the miss path, then let the single
	// producer finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 producer invocation with single-flight, got %d", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("worker %d got %q, want shared", i, results[i])
		}
	}
}

func TestGetOrCompute_ConcurrentMissesWithoutSingleFlight(t *testing.T) {
	c := New(Config{})
	t.Cleanup(func() { _ = c.Close() })

	var calls int32
	var started sync.WaitGroup
	release := make(chan struct{})
	started.Add(2)

	producer := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			started.Done()
			<-release
			return v, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = GetOrCompute(context.Background(), c, "k", time.Minute, "op", producer("first"))
	}()
	go func() {
		defer wg.Done()
		_, _ = GetOrCompute(context.Background(), c, "k", time.Minute, "op", producer("second"))
	}()

	started.Wait()
	close(release)
	wg.Wait()

	// Both producers ran; the stored value is whichever finished last.
	if calls != 2 {
		t.Errorf("Expected both concurrent misses to run the producer, got %d calls", calls)
	}
	got, err := GetOrCompute(context.Background(), c, "k", time.Minute, "op", producer("third"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != "first" && got != "second" {
		t.Errorf("Expected one of the racing values to win, got %q", got)
	}
}

func TestGetOrCompute_TypeMismatch(t *testing.T) {
	c, _ := newTestCache(t, Config{})

	if _, err := GetOrCompute(context.Background(), c, "k", 0, "op", func(context.Context) (int, error) {
		return 7, nil
	}); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}

	_, err := GetOrCompute(context.Background(), c, "k", 0, "op", func(context.Context) (string, error) {
		return "s", nil
	})
	if err == nil {
		t.Fatal("Expected an error when reading a cached int as string")
	}
}

func TestGetOrCompute_ContextReachesProducer(t *testing.T) {
	c, _ := newTestCache(t, Config{})

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")

	got, err := GetOrCompute(ctx, c, "k", 0, "op", func(ctx context.Context) (string, error) {
		v, _ := ctx.Value(ctxKey{}).(string)
		return v, nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if got != "marker" {
		t.Errorf("Expected the caller's context in the producer, got %q", got)
	}
}

func TestRecordCall_ReturnsWindowLength(t *testing.T) {
	c, _ := newTestCache(t, Config{})

	for i := 1; i <= 3; i++ {
		if n := c.RecordCall("dashboard_stats", "seller-9"); n != i {
			t.Fatalf("RecordCall #%d = %d, want %d", i, n, i)
		}
	}
}

func TestRecordCall_AlertLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	c, _ := newTestCache(t, Config{FrequencyAlertThreshold: 2, Logger: &logger})

	c.RecordCall("op", "actor")
	c.RecordCall("op", "actor")
	if buf.Len() != 0 {
		t.Fatalf("Expected no alert at threshold, got %q", buf.String())
	}

	c.RecordCall("op", "actor")
	if !strings.Contains(buf.String(), "Call rate above alert threshold") {
		t.Errorf("Expected an alert log above threshold, got %q", buf.String())
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.DefaultTTL != DefaultTTL {
		t.Errorf("DefaultTTL = %v, want %v", cfg.DefaultTTL, DefaultTTL)
	}
	if cfg.SweepThreshold != DefaultSweepThreshold {
		t.Errorf("SweepThreshold = %d, want %d", cfg.SweepThreshold, DefaultSweepThreshold)
	}
	if cfg.FrequencyAlertThreshold != DefaultFrequencyAlertThreshold {
		t.Errorf("FrequencyAlertThreshold = %d, want %d", cfg.FrequencyAlertThreshold, DefaultFrequencyAlertThreshold)
	}
}
