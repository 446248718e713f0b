package observability

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// NewLogger returns the text or JSON logger selected by cfg, stamped with
// service metadata and trace context.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogJSON {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(NewTracingHandler(h, cfg.ServiceName, cfg.Environment, cfg.Mode))
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// TracingHandler adds trace_id and span_id from the record's context to
// every record, and service, mode and env once at construction.
type TracingHandler struct {
	slog.Handler
}

// NewTracingHandler wraps inner. The service attributes are bound before
// any group so they stay at the top level.
func NewTracingHandler(inner slog.Handler, service, env string, mode AppMode) *TracingHandler {
	attrs := []slog.Attr{slog.String("service", service), slog.String("mode", string(mode))}
	if env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	return &TracingHandler{Handler: inner.WithAttrs(attrs)}
}

// Handle implements slog.Handler.
func (h *TracingHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{Handler: h.Handler.WithGroup(name)}
}
