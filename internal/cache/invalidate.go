package cache

import (
	"fmt"
	"strings"
)

// Invalidate removes cache entries for the given key and returns how many
// were removed. A key containing the "*" wildcard marker is treated as a
// pattern (see InvalidatePattern); otherwise exactly one entry is removed if
// present, and the call is a no-op if not.
func (c *ComputeCache) Invalidate(key string) int {
	if strings.Contains(key, "*") {
		return c.InvalidatePattern(key)
	}

	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok {
		return 0
	}
	c.countInvalidations(1)
	return 1
}

// InvalidatePattern removes every entry whose key contains the pattern with
// its "*" markers stripped, and returns the removed count. This is the
// deliberate, simplified contract: substring matching, not glob or regex.
// "dashboard_stats_*" therefore removes "dashboard_stats_42" but leaves
// "inventory_42" alone.
func (c *ComputeCache) InvalidatePattern(pattern string) int {
	needle := strings.ReplaceAll(pattern, "*", "")

	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.Contains(key, needle) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	c.countInvalidations(removed)
	c.logger.Debug().
		Str("pattern", pattern).
		Int("removed", removed).
		Msg("Invalidated cache entries by pattern")
	return removed
}

// InvalidateAll clears the entire store.
func (c *ComputeCache) InvalidateAll() {
	c.mu.Lock()
	removed := len(c.entries)
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	c.countInvalidations(removed)
	c.logger.Debug().Int("removed", removed).Msg("Invalidated all cache entries")
}

// InvalidateEntity removes the entries for every configured entity key
// template interpolated with entityID, returning the total removed. The
// template list is injected through Config.EntityKeyTemplates so the cache
// itself carries no knowledge of the business domain.
func (c *ComputeCache) InvalidateEntity(entityID string) int {
	removed := 0
	for _, tmpl := range c.cfg.EntityKeyTemplates {
		removed += c.Invalidate(fmt.Sprintf(tmpl, entityID))
	}
	c.logger.Debug().
		Str("entity_id", entityID).
		Int("removed", removed).
		Msg("Invalidated entity cache entries")
	return removed
}

func (c *ComputeCache) countInvalidations(n int) {
	if n > 0 && c.group != "" {
		InvalidationsTotal.WithLabelValues(c.group).Add(float64(n))
	}
}
