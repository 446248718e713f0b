package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/flightrec/internal/observability"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum data type for %s", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}

	return total
}

func setupMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return mp, reader
}

func TestDecodeMetrics_RecordChunk(t *testing.T) {
	t.Parallel()

	mp, reader := setupMeter(t)

	dm, err := observability.NewDecodeMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	dm.RecordChunk(ctx, observability.ChunkStats{
		Outcome: observability.OutcomeOK, Duration: time.Second, Dispatched: 10, Skipped: 3, Bytes: 4096,
	})
	dm.RecordChunk(ctx, observability.ChunkStats{
		Outcome: observability.OutcomeAborted, Duration: 2 * time.Second, Dispatched: 1,
	})
	dm.RecordError(ctx, "chunk")

	rm := collectMetrics(t, reader)

	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "flightrec.chunks.total")))
	assert.Equal(t, int64(11), sumOf(t, findMetric(rm, "flightrec.events.dispatched.total")))
	assert.Equal(t, int64(3), sumOf(t, findMetric(rm, "flightrec.events.skipped.total")))
	assert.Equal(t, int64(4096), sumOf(t, findMetric(rm, "flightrec.bytes.scanned.total")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(rm, "flightrec.decode.errors.total")))

	dur := findMetric(rm, "flightrec.chunk.duration.seconds")
	require.NotNil(t, dur)

	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "expected Histogram data type")
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestDecodeMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var dm *observability.DecodeMetrics

	// Should not panic.
	dm.RecordChunk(context.Background(), observability.ChunkStats{Outcome: observability.OutcomeOK})
	dm.RecordError(context.Background(), "format")
}

type fakeCache struct{ hits, misses int64 }

func (f fakeCache) CacheHits() int64   { return f.hits }
func (f fakeCache) CacheMisses() int64 { return f.misses }

func TestRegisterCacheMetrics(t *testing.T) {
	t.Parallel()

	mp, reader := setupMeter(t)

	require.NoError(t, observability.RegisterCacheMetrics(mp.Meter("test"), fakeCache{hits: 7, misses: 2}))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(7), sumOf(t, findMetric(rm, "flightrec.plan_cache.hits")))
	assert.Equal(t, int64(2), sumOf(t, findMetric(rm, "flightrec.plan_cache.misses")))
}

func TestRegisterCacheMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	mp, reader := setupMeter(t)

	require.NoError(t, observability.RegisterCacheMetrics(mp.Meter("test"), nil))

	rm := collectMetrics(t, reader)
	assert.Nil(t, findMetric(rm, "flightrec.plan_cache.hits"))
}

func TestInit_NoopWhenNothingConfigured(t *testing.T) {
	t.Parallel()

	providers, err := observability.InitWithWriter(observability.DefaultConfig(), io.Discard)
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	ctx, span := providers.Tracer.Start(context.Background(), observability.SpanRun)
	span.End()
	assert.NotNil(t, ctx)

	require.NoError(t, providers.Shutdown(context.Background()))
	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusServesDecoderMetrics(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true

	providers, err := observability.InitWithWriter(cfg, io.Discard)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })
	require.NotNil(t, providers.MetricsHandler)

	dm, err := observability.NewDecodeMetrics(providers.Meter)
	require.NoError(t, err)

	dm.RecordChunk(context.Background(), observability.ChunkStats{Outcome: observability.OutcomeOK, Dispatched: 5})

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	providers.MetricsHandler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	body := rec.Body.String()
	assert.Contains(t, body, "target_info")
	assert.Contains(t, body, "flightrec_events_dispatched")
}

func TestInit_LoggerWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true

	providers, err := observability.InitWithWriter(cfg, &buf)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	providers.Logger.Info("hello", "chunk", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "flightrec", record["service"])
	assert.Equal(t, "cli", record["mode"])
}

func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewTracingHandler(inner, "test-svc", "test", observability.ModeLibrary))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	logger.WithGroup("chunk").InfoContext(trace.ContextWithSpanContext(context.Background(), sc), "decoded", "index", 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["chunk"].(map[string]any)["trace_id"]) //nolint:forcetypeassert // test.
	assert.Equal(t, "test-svc", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "library", record["mode"])
}

func TestTracingHandler_NoTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "flightrec", "", observability.ModeCLI))

	logger.InfoContext(context.Background(), "no span")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	_, hasTraceID := record["trace_id"]
	assert.False(t, hasTraceID)

	_, hasEnv := record["env"]
	assert.False(t, hasEnv)
}

func TestDiscardLogger(t *testing.T) {
	t.Parallel()

	logger := observability.DiscardLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestDiagnosticsServer(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true

	providers, err := observability.InitWithWriter(cfg, io.Discard)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", providers.MetricsHandler, observability.DiscardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	for _, path := range []string{"/healthz", "/metrics"} {
		req, reqErr := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+srv.Addr()+path, http.NoBody)
		require.NoError(t, reqErr)

		resp, doErr := http.DefaultClient.Do(req)
		require.NoError(t, doErr)

		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestFilters_DropDetailSpansAndUnknownAttributes(t *testing.T) {
	t.Parallel()

	spans := observability.ProbeFilteredSpans(
		[]string{observability.SpanRun, observability.SpanMetadata, observability.SpanChunk, observability.SpanPlans},
		map[string]string{"chunk.index": "0", "recording.path": "/tmp/x.jfr", "user.name": "x"},
	)

	require.Len(t, spans, 2)
	assert.Equal(t, observability.SpanRun, spans[0].Name)
	assert.Equal(t, observability.SpanChunk, spans[1].Name)

	for _, s := range spans {
		require.Len(t, s.Attributes, 1)
		assert.Equal(t, "chunk.index", string(s.Attributes[0].Key))
	}
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("novalue"))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, observability.ParseOTLPHeaders(" a=1 , b = 2"))
}

func TestBuildResource(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "dev"

	res, err := observability.ProbeBuildResource(cfg)
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}

	assert.Equal(t, "flightrec", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "cli", attrs["app.mode"])
}

func TestSelectSampler(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	assert.True(t, observability.ProbeSamplerSpan(cfg))

	cfg.DebugTrace = true
	assert.True(t, observability.ProbeSamplerSpan(cfg))
}
