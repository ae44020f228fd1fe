package cache

// sweep removes every entry older than the cache-wide default TTL. It runs
// opportunistically when an insert pushes the entry count past the sweep
// threshold, never on a timer.
//
// The age check uses the default TTL rather than the TTL each entry was
// requested with: the sweep is a coarse size-control mechanism,
// and read-time staleness is already enforced per call in getOrCompute. An
// entry requested with a TTL longer than the default can therefore be swept
// early and recomputed on its next miss.
func (c *ComputeCache) sweep() {
	start := c.now()

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if start.Sub(e.storedAt) > c.cfg.DefaultTTL {
			delete(c.entries, key)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	if removed > 0 && c.group != "" {
		EvictionsTotal.WithLabelValues(c.group).Add(float64(removed))
	}
	c.logger.Debug().
		Int("removed", removed).
		Int("remaining", remaining).
		Dur("took", c.now().Sub(start)).
		Msg("Swept expired cache entries")
}
