package pipeline

import (
	"sync"

	"github.com/couchcryptid/naad-alert-ingest/internal/observability"
)

// DefaultCacheCeiling is used when no ceiling is configured.
const DefaultCacheCeiling = 10000

// IdentityCache is a bounded set of alert identifiers shared by every stream
// and the backfill path. When an insertion pushes it past its ceiling the
// whole set is cleared and only the new identifier survives. This is a full
// reset rather than an eviction policy, so an identifier seen just before a
// reset can be delivered once more.
type IdentityCache struct {
	mu      sync.Mutex
	ids     map[string]struct{}
	ceiling int
	resets  int
	metrics *observability.Metrics
}

// NewIdentityCache creates a cache holding at most ceiling identifiers.
func NewIdentityCache(ceiling int, metrics *observability.Metrics) *IdentityCache {
	if ceiling <= 0 {
		ceiling = DefaultCacheCeiling
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &IdentityCache{
		ids:     make(map[string]struct{}),
		ceiling: ceiling,
		metrics: metrics,
	}
}

// Observe records id and reports whether it was new.
func (c *IdentityCache) Observe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.ids[id]; seen {
		return false
	}
	c.ids[id] = struct{}{}
	if len(c.ids) > c.ceiling {
		clear(c.ids)
		c.ids[id] = struct{}{}
		c.resets++
		c.metrics.IdentityCacheResets.Inc()
	}
	c.metrics.IdentityCacheSize.Set(float64(len(c.ids)))
	return true
}

// Contains reports whether id is currently cached without recording it.
func (c *IdentityCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// Len returns the number of identifiers currently held.
func (c *IdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Resets returns how many times the cache has overflowed.
func (c *IdentityCache) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}
