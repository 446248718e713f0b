package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// ProbeBuildResource exposes newResource for testing.
func ProbeBuildResource(cfg Config) (*resource.Resource, error) {
	return newResource(cfg)
}

// ProbeSamplerSpan reports whether a span started under the sampler
// resolved from cfg is recorded.
func ProbeSamplerSpan(cfg Config) (sampled bool) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sampler(cfg)),
	)

	_, span := tp.Tracer("test").Start(context.Background(), "probe")
	span.End()

	// Check spans before Shutdown, which clears the exporter.
	spans := exporter.GetSpans()

	shutdownErr := tp.Shutdown(context.Background())
	if shutdownErr != nil {
		return false
	}

	return len(spans) > 0
}

// ProbeFilteredSpans runs names through a filtering provider and the
// attribute filter, returning the exported spans.
func ProbeFilteredSpans(names []string, attrs map[string]string) tracetest.SpanStubs {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), nil)),
	)

	var provider trace.TracerProvider = tp

	tracer := NewFilteringTracerProvider(provider).Tracer(TracerName)

	for _, name := range names {
		_, span := tracer.Start(context.Background(), name)
		for k, v := range attrs {
			span.SetAttributes(attribute.String(k, v))
		}

		span.End()
	}

	spans := exporter.GetSpans()
	_ = tp.Shutdown(context.Background())

	return spans
}
