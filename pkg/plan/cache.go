package plan

import (
	"strconv"

	"github.com/Sumatoshi-tech/flightrec/internal/lru"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
)

// DefaultCacheSize is the default number of plans a Cache retains.
const DefaultCacheSize = 4096

// Key identifies a compiled plan independently of the recording it came
// from: identical schemas share a fingerprint and therefore plans.
type Key struct {
	Fingerprint uint64
	TypeID      int64
	Mode        Mode
}

func (k Key) String() string {
	return strconv.FormatUint(k.Fingerprint, 16) + "/" + strconv.FormatInt(k.TypeID, 10) + "/" + k.Mode.String()
}

// Cache is a process-wide, concurrency-safe store of compiled plans.
type Cache struct {
	plans *lru.Cache[Key, *Plan]
}

// NewCache returns a cache retaining at most size plans. A non-positive
// size selects DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}

	return &Cache{plans: lru.New(size, lru.WithSharedCompute[Key, *Plan](Key.String))}
}

// GetOrCompile returns the cached plan for typeID in mode, compiling it with
// comp on a miss. Concurrent misses for one key share a single compile.
func (c *Cache) GetOrCompile(comp *Compiler, typeID int64, mode Mode) (*Plan, error) {
	key := Key{Fingerprint: comp.Registry().Fingerprint(), TypeID: typeID, Mode: mode}

	return c.plans.GetOrCompute(key, func() (*Plan, error) {
		return comp.Compile(typeID, mode)
	})
}

// Len returns the number of cached plans.
func (c *Cache) Len() int { return c.plans.Len() }

// Stats returns hit, miss and eviction counters.
func (c *Cache) Stats() lru.Stats { return c.plans.Stats() }

// CacheHits returns the total hit count.
func (c *Cache) CacheHits() int64 { return c.plans.Hits() }

// CacheMisses returns the total miss count.
func (c *Cache) CacheMisses() int64 { return c.plans.Misses() }

// Source compiles plans for one registry through a shared cache. It is
// chunk-scoped and not safe for concurrent use.
type Source struct {
	cache *Cache
	comp  *Compiler
}

// NewSource returns a plan source for reg. A nil cache compiles every plan
// locally.
func NewSource(cache *Cache, reg *metadata.Registry) *Source {
	return &Source{cache: cache, comp: NewCompiler(reg)}
}

// Plan returns the plan for typeID in mode.
func (s *Source) Plan(typeID int64, mode Mode) (*Plan, error) {
	if s.cache == nil {
		return s.comp.Compile(typeID, mode)
	}

	return s.cache.GetOrCompile(s.comp, typeID, mode)
}

// Registry returns the registry plans are compiled from.
func (s *Source) Registry() *metadata.Registry { return s.comp.Registry() }
