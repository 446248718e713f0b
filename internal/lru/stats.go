package lru

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
	Limit     int
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	if lookups := s.Hits + s.Misses; lookups > 0 {
		return float64(s.Hits) / float64(lookups)
	}

	return 0
}

// Stats returns the current counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	n := len(c.items)
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       n,
		Limit:     c.limit,
	}
}

// Hits returns the hit count without locking.
func (c *Cache[K, V]) Hits() int64 { return c.hits.Load() }

// Misses returns the miss count without locking.
func (c *Cache[K, V]) Misses() int64 { return c.misses.Load() }
