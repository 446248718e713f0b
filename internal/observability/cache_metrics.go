package observability

import "go.opentelemetry.io/otel/metric"

// CacheStatsProvider exposes cumulative cache counters.
type CacheStatsProvider interface {
	CacheHits() int64
	CacheMisses() int64
}

// RegisterCacheMetrics reports the plan cache hit and miss totals on mt.
// A nil provider registers nothing.
func RegisterCacheMetrics(mt metric.Meter, plans CacheStatsProvider) error {
	if plans == nil {
		return nil
	}

	in := instruments{meter: mt}
	in.total("flightrec.plan_cache.hits", "{hit}", "Plan cache lookups served from cache", plans.CacheHits)
	in.total("flightrec.plan_cache.misses", "{miss}", "Plan cache lookups that compiled a plan", plans.CacheMisses)

	return in.err()
}
