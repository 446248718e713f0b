package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation scope of decoder spans.
	TracerName = "flightrec"
	// MeterName is the instrumentation scope of decoder metrics.
	MeterName = "flightrec"
)

// samplers maps OTEL_TRACES_SAMPLER values to samplers; the argument is the
// parsed OTEL_TRACES_SAMPLER_ARG.
var samplers = map[string]func(ratio float64) sdktrace.Sampler{
	"always_on":    func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off":   func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": sdktrace.TraceIDRatioBased,
	"parentbased_always_on": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
	"parentbased_always_off": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.NeverSample())
	},
	"parentbased_traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))
	},
}

// Providers holds the initialized observability providers.
type Providers struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger *slog.Logger

	// MetricsHandler serves the Prometheus scrape endpoint; nil unless
	// Config.Prometheus is set.
	MetricsHandler http.Handler

	// Shutdown flushes pending telemetry. It is safe to call more than once.
	Shutdown func(ctx context.Context) error
}

// Init is InitWithWriter logging to os.Stderr.
func Init(cfg Config) (Providers, error) {
	return InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter installs the tracer and meter providers selected by cfg as
// the OTel globals and returns them with a logger writing to w. Without any
// exporter configured the providers are no-ops.
func InitWithWriter(cfg Config, w io.Writer) (Providers, error) {
	ctx := context.Background()

	res, err := newResource(cfg)
	if err != nil {
		return Providers{}, err
	}

	var flush flushers

	tp, err := flush.tracerProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, fmt.Errorf("build tracer provider: %w", err)
	}

	mp, handler, err := flush.meterProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, errors.Join(fmt.Errorf("build meter provider: %w", err), flush.run(ctx, cfg))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return Providers{
		Tracer:         tp.Tracer(TracerName),
		Meter:          mp.Meter(MeterName),
		Logger:         NewLogger(cfg, w),
		MetricsHandler: handler,
		Shutdown:       func(ctx context.Context) error { return flush.run(ctx, cfg) },
	}, nil
}

// flushers collects the shutdown functions of the exporters Init started.
type flushers []func(context.Context) error

func (f *flushers) add(fn func(context.Context) error) { *f = append(*f, fn) }

// run shuts exporters down in reverse start order under cfg's timeout.
func (f flushers) run(ctx context.Context, cfg Config) error {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for _, fn := range slices.Backward(f) {
		errs = append(errs, fn(ctx))
	}

	return errors.Join(errs...)
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	if cfg.Mode != "" {
		attrs = append(attrs, attribute.String("app.mode", string(cfg.Mode)))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	return res, nil
}

func (f *flushers) tracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (trace.TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return nooptrace.NewTracerProvider(), nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.OTLPHeaders))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	var stripped *slog.Logger
	if cfg.DebugTrace {
		stripped = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewAttributeFilter(sdktrace.NewBatchSpanProcessor(exporter), stripped)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg)),
	)
	f.add(sdk.Shutdown)

	if cfg.TraceVerbose {
		return sdk, nil
	}

	return NewFilteringTracerProvider(sdk), nil
}

// sampler prefers DebugTrace, then the standard OTel environment variables,
// then cfg.SampleRatio.
func sampler(cfg Config) sdktrace.Sampler {
	if cfg.DebugTrace {
		return sdktrace.AlwaysSample()
	}

	if build, ok := samplers[os.Getenv("OTEL_TRACES_SAMPLER")]; ok {
		return build(parseRatio(os.Getenv("OTEL_TRACES_SAMPLER_ARG")))
	}

	if cfg.SampleRatio > 0 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

func (f *flushers) meterProvider(
	ctx context.Context, cfg Config, res *resource.Resource,
) (metric.MeterProvider, http.Handler, error) {
	if cfg.OTLPEndpoint == "" && !cfg.Prometheus {
		return noopmetric.NewMeterProvider(), nil, nil
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	var handler http.Handler

	if cfg.Prometheus {
		// A private registry keeps Go runtime collectors off the endpoint.
		registry := prometheus.NewRegistry()

		reader, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(reader))
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	if cfg.OTLPEndpoint != "" {
		grpcOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithInsecure())
		}

		if len(cfg.OTLPHeaders) > 0 {
			grpcOpts = append(grpcOpts, otlpmetricgrpc.WithHeaders(cfg.OTLPHeaders))
		}

		exporter, err := otlpmetricgrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	f.add(mp.Shutdown)

	return mp, handler, nil
}

// ParseOTLPHeaders parses "key=value,key=value". Pairs without '=' are
// ignored; nil is returned when nothing remains.
func ParseOTLPHeaders(raw string) map[string]string {
	var headers map[string]string

	for pair := range strings.SplitSeq(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		if headers == nil {
			headers = make(map[string]string)
		}

		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return headers
}

func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1
	}

	return ratio
}
