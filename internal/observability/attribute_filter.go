package observability

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// exportedPrefixes lists the attribute namespaces the decoder emits.
var exportedPrefixes = []string{"flightrec.", "chunk.", "event.", "error", "cache"}

// privateKeys carry recording-derived text and never leave the process
// even though their namespace is exported.
var privateKeys = []string{"recording.path", "event.text"}

func exportable(key string) bool {
	for _, k := range privateKeys {
		if key == k {
			return false
		}
	}

	for _, p := range exportedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}

	return false
}

// scrubber is a SpanProcessor that hands ended spans to next with every
// non-exportable attribute removed.
type scrubber struct {
	next   sdktrace.SpanProcessor
	logger *slog.Logger
	warned sync.Map
}

// NewAttributeFilter wraps next so exported spans keep only decoder
// attributes. A non-nil logger receives one warning per stripped key.
func NewAttributeFilter(next sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &scrubber{next: next, logger: logger}
}

func (s *scrubber) OnStart(ctx context.Context, span sdktrace.ReadWriteSpan) { s.next.OnStart(ctx, span) }

func (s *scrubber) OnEnd(span sdktrace.ReadOnlySpan) {
	s.next.OnEnd(scrubbedSpan{ReadOnlySpan: span, attrs: s.scrub(span.Attributes())})
}

func (s *scrubber) Shutdown(ctx context.Context) error { return s.next.Shutdown(ctx) }

func (s *scrubber) ForceFlush(ctx context.Context) error { return s.next.ForceFlush(ctx) }

func (s *scrubber) scrub(in []attribute.KeyValue) []attribute.KeyValue {
	out := in[:0:0]

	for _, kv := range in {
		key := string(kv.Key)
		if exportable(key) {
			out = append(out, kv)

			continue
		}

		if _, seen := s.warned.LoadOrStore(key, struct{}{}); !seen && s.logger != nil {
			s.logger.Warn("span attribute stripped", "key", key)
		}
	}

	return out
}

type scrubbedSpan struct {
	sdktrace.ReadOnlySpan

	attrs []attribute.KeyValue
}

func (s scrubbedSpan) Attributes() []attribute.KeyValue { return s.attrs }
