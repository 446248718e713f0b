// Package lru provides a bounded, concurrency-safe least-recently-used map
// with compute-on-miss.
package lru

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

type node[K comparable, V any] struct {
	key        K
	val        V
	prev, next *node[K, V]
}

// Cache maps keys to values, dropping the least recently used entry once
// the limit is reached.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*node[K, V]
	// root is the list sentinel: root.next is the newest entry, root.prev
	// the oldest.
	root  node[K, V]
	limit int

	evicted func(K, V)
	keyOf   func(K) string
	flight  singleflight.Group

	hits, misses, evictions atomic.Int64
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvictHook calls fn under the cache lock for every entry dropped to
// make room.
func WithEvictHook[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.evicted = fn }
}

// WithSharedCompute makes concurrent GetOrCompute misses on one key share a
// single compute call. keyOf must map distinct keys to distinct strings.
func WithSharedCompute[K comparable, V any](keyOf func(K) string) Option[K, V] {
	return func(c *Cache[K, V]) { c.keyOf = keyOf }
}

// New returns a cache holding at most limit entries. It panics when limit
// is not positive.
func New[K comparable, V any](limit int, opts ...Option[K, V]) *Cache[K, V] {
	if limit <= 0 {
		panic("lru: limit must be positive")
	}

	c := &Cache[K, V]{items: make(map[K]*node[K, V]), limit: limit}
	c.root.next, c.root.prev = &c.root, &c.root

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Keys returns the keys from newest to oldest.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for n := c.root.next; n != &c.root; n = n.next {
		keys = append(keys, n.key)
	}

	return keys
}

// Get returns the value for key and marks it newest. It counts a hit or a
// miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		c.misses.Add(1)

		var zero V

		return zero, false
	}

	c.hits.Add(1)
	c.touch(n)

	return n.val, true
}

// Peek returns the value for key without touching recency or counters.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		return n.val, true
	}

	var zero V

	return zero, false
}

// Put stores val under key and marks it newest.
func (c *Cache[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(key, val)
}

// GetOrCompute returns the value for key, calling compute on a miss. When
// misses race, the first stored value wins and every caller receives it.
// Errors are returned and nothing is stored.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if val, ok := c.Get(key); ok {
		return val, nil
	}

	fill := func() (V, error) {
		val, err := compute()
		if err != nil {
			return val, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if n, ok := c.items[key]; ok {
			c.touch(n)

			return n.val, nil
		}

		c.store(key, val)

		return val, nil
	}

	if c.keyOf == nil {
		return fill()
	}

	v, err, _ := c.flight.Do(c.keyOf(key), func() (any, error) { return fill() })
	val, _ := v.(V)

	return val, err
}

// Remove deletes key and reports whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if ok {
		unlink(n)
		delete(c.items, key)
	}

	return ok
}

// Purge drops every entry without calling the evict hook.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.items)
	c.root.next, c.root.prev = &c.root, &c.root
}

func (c *Cache[K, V]) store(key K, val V) {
	if n, ok := c.items[key]; ok {
		n.val = val
		c.touch(n)

		return
	}

	for len(c.items) >= c.limit {
		oldest := c.root.prev
		unlink(oldest)
		delete(c.items, oldest.key)
		c.evictions.Add(1)

		if c.evicted != nil {
			c.evicted(oldest.key, oldest.val)
		}
	}

	n := &node[K, V]{key: key, val: val}
	c.items[key] = n
	c.pushFront(n)
}

func (c *Cache[K, V]) touch(n *node[K, V]) {
	if c.root.next == n {
		return
	}

	unlink(n)
	c.pushFront(n)
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.prev = &c.root
	n.next = c.root.next
	c.root.next.prev = n
	c.root.next = n
}

func unlink[K comparable, V any](n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}
