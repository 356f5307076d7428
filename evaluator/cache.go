package evaluator

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/snow-ghost/feasopt/core"
)

// DefaultCacheSize bounds the memoized outcomes per run.
const DefaultCacheSize = 4096

// CacheStats represents cache statistics
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
}

// CalculateHitRate calculates the hit rate
func (s *CacheStats) CalculateHitRate() {
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	} else {
		s.HitRate = 0.0
	}
}

// Cache memoizes evaluator outcomes by canonical point key. The evaluator is
// deterministic, so entries never expire.
type Cache struct {
	cache *lru.Cache[string, core.Outcome]
	stats CacheStats
	mu    sync.Mutex
}

// NewCache creates an LRU cache holding up to size outcomes.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{stats: CacheStats{MaxSize: size}}
	inner, err := lru.NewWithEvict[string, core.Outcome](size, func(string, core.Outcome) {
		c.stats.Evictions++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	c.cache = inner
	return c, nil
}

// Get retrieves an outcome from the cache
func (c *Cache) Get(key string) (core.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.cache.Get(key)
	if !ok {
		c.stats.Misses++
		return core.Outcome{}, false
	}
	c.stats.Hits++
	return out, true
}

// Set stores an outcome
func (c *Cache) Set(key string, out core.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, out)
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.cache.Len()
	stats.CalculateHitRate()
	return stats
}

// Len returns the number of items in the cache
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Len()
}
