// Package recording drives decoding of whole recordings: it locates chunks,
// runs one worker per chunk on a bounded pool and dispatches decoded events
// to registered handlers.
package recording

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/flightrec/internal/observability"
	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
)

// Context is the long-lived state shared by sessions: the plan cache, the
// execution strategy and telemetry. Build one per process or per group of
// recordings with the same schema; it is safe for concurrent use.
type Context struct {
	cache    *plan.Cache
	strategy plan.Strategy
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.DecodeMetrics
}

type contextConfig struct {
	logger    *slog.Logger
	meter     metric.Meter
	tracer    trace.Tracer
	cacheSize int
	strategy  string
}

// ContextOption configures NewContext.
type ContextOption func(*contextConfig)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) ContextOption {
	return func(c *contextConfig) { c.logger = l }
}

// WithMeter records decode and plan cache metrics on m.
func WithMeter(m metric.Meter) ContextOption {
	return func(c *contextConfig) { c.meter = m }
}

// WithTracer records run and chunk spans on t.
func WithTracer(t trace.Tracer) ContextOption {
	return func(c *contextConfig) { c.tracer = t }
}

// WithCacheSize bounds the number of cached plans.
func WithCacheSize(n int) ContextOption {
	return func(c *contextConfig) { c.cacheSize = n }
}

// WithStrategy selects the plan execution strategy by name ("auto",
// "direct" or "interpreter").
func WithStrategy(name string) ContextOption {
	return func(c *contextConfig) { c.strategy = name }
}

// NewContext builds a parsing context.
func NewContext(opts ...ContextOption) (*Context, error) {
	var cfg contextConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	strategy, err := plan.SelectStrategy(cfg.strategy)
	if err != nil {
		return nil, err
	}

	pctx := &Context{
		cache:    plan.NewCache(cfg.cacheSize),
		strategy: strategy,
		logger:   cfg.logger,
		tracer:   cfg.tracer,
	}

	if pctx.logger == nil {
		pctx.logger = observability.DiscardLogger()
	}

	if pctx.tracer == nil {
		pctx.tracer = nooptrace.NewTracerProvider().Tracer(observability.TracerName)
	}

	if cfg.meter != nil {
		pctx.metrics, err = observability.NewDecodeMetrics(cfg.meter)
		if err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}

		if err := observability.RegisterCacheMetrics(cfg.meter, pctx.cache); err != nil {
			return nil, fmt.Errorf("plan cache metrics: %w", err)
		}
	}

	return pctx, nil
}

// Cache returns the shared plan cache.
func (c *Context) Cache() *plan.Cache { return c.cache }

// Strategy returns the plan execution strategy.
func (c *Context) Strategy() plan.Strategy { return c.strategy }

// Logger returns the context logger.
func (c *Context) Logger() *slog.Logger { return c.logger }
