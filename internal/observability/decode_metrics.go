package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricChunksTotal      = "flightrec.chunks.total"
	metricChunkDuration    = "flightrec.chunk.duration.seconds"
	metricEventsDispatched = "flightrec.events.dispatched.total"
	metricEventsSkipped    = "flightrec.events.skipped.total"
	metricBytesScanned     = "flightrec.bytes.scanned.total"
	metricDecodeErrors     = "flightrec.decode.errors.total"

	attrOutcome = "chunk.outcome"
	attrKind    = "error.kind"
)

// Chunk outcomes reported with chunk metrics.
const (
	OutcomeOK      = "ok"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// durationBucketBoundaries covers 1ms to 60s, from small flush chunks to
// multi-gigabyte continuous recordings.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// DecodeMetrics holds OTel instruments for chunk decoding.
type DecodeMetrics struct {
	chunksTotal      metric.Int64Counter
	chunkDuration    metric.Float64Histogram
	eventsDispatched metric.Int64Counter
	eventsSkipped    metric.Int64Counter
	bytesScanned     metric.Int64Counter
	decodeErrors     metric.Int64Counter
}

// ChunkStats holds the statistics of one decoded chunk.
type ChunkStats struct {
	Outcome    string
	Duration   time.Duration
	Dispatched int64
	Skipped    int64
	Bytes      int64
}

// NewDecodeMetrics creates the decode instruments on mt.
func NewDecodeMetrics(mt metric.Meter) (*DecodeMetrics, error) {
	in := instruments{meter: mt}

	dm := &DecodeMetrics{
		chunksTotal:      in.counter(metricChunksTotal, "{chunk}", "Chunks decoded by outcome"),
		chunkDuration:    in.seconds(metricChunkDuration, "Per-chunk decode duration", durationBucketBoundaries),
		eventsDispatched: in.counter(metricEventsDispatched, "{event}", "Events delivered to handlers"),
		eventsSkipped:    in.counter(metricEventsSkipped, "{event}", "Event records skipped by size"),
		bytesScanned:     in.counter(metricBytesScanned, "By", "Chunk bytes walked"),
		decodeErrors:     in.counter(metricDecodeErrors, "{error}", "Fatal decode errors by kind"),
	}

	if err := in.err(); err != nil {
		return nil, err
	}

	return dm, nil
}

// RecordChunk records a finished chunk. A nil receiver records nothing.
func (dm *DecodeMetrics) RecordChunk(ctx context.Context, stats ChunkStats) {
	if dm == nil {
		return
	}

	dm.chunksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, stats.Outcome)))
	dm.chunkDuration.Record(ctx, stats.Duration.Seconds())
	dm.eventsDispatched.Add(ctx, stats.Dispatched)
	dm.eventsSkipped.Add(ctx, stats.Skipped)
	dm.bytesScanned.Add(ctx, stats.Bytes)
}

// RecordError counts one fatal error of the given kind.
func (dm *DecodeMetrics) RecordError(ctx context.Context, kind string) {
	if dm == nil {
		return
	}

	dm.decodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}
