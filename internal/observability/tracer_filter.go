package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Span names emitted by the decoder.
const (
	SpanRun      = "flightrec.run"
	SpanChunk    = "flightrec.chunk"
	SpanMetadata = "flightrec.chunk.metadata"
	SpanPlans    = "flightrec.chunk.plans"
)

// detailSpan reports whether name is a per-chunk step span.
func detailSpan(name string) bool { return name == SpanMetadata || name == SpanPlans }

type detailFilterProvider struct {
	embedded.TracerProvider

	next trace.TracerProvider
}

// NewFilteringTracerProvider wraps next so metadata and plan spans become
// no-ops; run and chunk spans are exported. Recordings with thousands of
// chunks otherwise flood the collector.
func NewFilteringTracerProvider(next trace.TracerProvider) trace.TracerProvider {
	return detailFilterProvider{next: next}
}

func (p detailFilterProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return detailFilterTracer{
		next: p.next.Tracer(name, opts...),
		noop: nooptrace.NewTracerProvider().Tracer(name, opts...),
	}
}

type detailFilterTracer struct {
	embedded.Tracer

	next, noop trace.Tracer
}

func (t detailFilterTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if detailSpan(name) {
		return t.noop.Start(ctx, name, opts...)
	}

	return t.next.Start(ctx, name, opts...)
}
