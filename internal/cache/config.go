package cache

import (
	"time"

	"github.com/rs/zerolog"
)

// Default configuration values, applied by withDefaults when the
// corresponding Config field is left at its zero value.
const (
	// DefaultTTL is the fallback time-to-live for entries whose callers did
	// not request one, and the age limit used by the sweep.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepThreshold is the entry count above which a store mutation
	// triggers a sweep of expired entries.
	DefaultSweepThreshold = 100

	// DefaultFrequencyAlertThreshold is the window length above which
	// RecordCall logs a high-call-rate warning.
	DefaultFrequencyAlertThreshold = 30
)

// Config holds the configuration for a ComputeCache instance. All knobs are
// injected here rather than read from package-level state so tests and
// composition roots can build isolated instances.
type Config struct {
	// DefaultTTL is used when GetOrCompute is called with a zero TTL, and is
	// the age limit the sweep evicts against. The sweep ignores each
	// entry's individually requested TTL; see sweep.go.
	DefaultTTL time.Duration

	// SweepThreshold is the entry count that triggers a sweep after an
	// insert. Zero selects DefaultSweepThreshold.
	SweepThreshold int

	// SingleFlight collapses concurrent misses for the same key into a
	// single producer invocation. When off, simultaneous misses each run
	// the producer and the last writer wins the stored value. Enabling it
	// also means only the executing call
	// records a miss latency sample; waiters share its result.
	SingleFlight bool

	// FrequencyWindow is the sliding window size for RecordCall. Zero
	// selects frequency.DefaultWindow.
	FrequencyWindow time.Duration

	// FrequencyAlertThreshold is the window length above which RecordCall
	// logs a warning. Zero selects DefaultFrequencyAlertThreshold.
	FrequencyAlertThreshold int

	// FrequencyMaxWindows caps the number of tracked (operation, actor)
	// pairs. Zero selects frequency.DefaultMaxWindows.
	FrequencyMaxWindows int

	// EntityKeyTemplates lists fmt templates with a single %s placeholder
	// (e.g. "dashboard_stats_%s"). InvalidateEntity interpolates each with
	// the entity ID and removes the resulting keys. Kept injectable so the
	// cache stays domain-agnostic.
	EntityKeyTemplates []string

	// Group is an optional label value used to namespace the Prometheus
	// metrics (compute_cache_hits_total, etc.). When empty, no Prometheus
	// metrics are recorded for this instance.
	Group string

	// Logger receives structured logs for sweeps, invalidations, and
	// frequency alerts. If nil, logging is disabled.
	Logger *zerolog.Logger
}

// withDefaults returns a copy of the config with zero values replaced by the
// package defaults.
func (cfg Config) withDefaults() Config {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.SweepThreshold <= 0 {
		cfg.SweepThreshold = DefaultSweepThreshold
	}
	if cfg.FrequencyAlertThreshold <= 0 {
		cfg.FrequencyAlertThreshold = DefaultFrequencyAlertThreshold
	}
	return cfg
}
