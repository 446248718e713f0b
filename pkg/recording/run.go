package recording

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/flightrec/internal/observability"
	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
	"github.com/Sumatoshi-tech/flightrec/pkg/pool"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// Record type ids reserved for chunk blocks.
const (
	recordMetadata = 0
	recordPool     = 1
)

// Run decodes every complete chunk and blocks until all are done or
// aborted. Chunks run concurrently on at most WithWorkers goroutines;
// events of one chunk are delivered in record order, with no ordering
// across chunks.
//
// Run returns nil when every chunk finished or was aborted, otherwise the
// first fatal error: a *ChunkError or a *CallbackError. With
// WithStrictTruncation a truncated trailing chunk fails Run up front.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	if s.strict && s.trunc != nil {
		return s.trunc
	}

	ctx, span := s.pctx.tracer.Start(ctx, observability.SpanRun,
		trace.WithAttributes(attribute.Int("flightrec.chunks", len(s.descs))))
	defer span.End()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var g errgroup.Group

	g.SetLimit(s.workers)

	for _, d := range s.descs {
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}

			err := s.runChunk(runCtx, d)
			if err == nil {
				return nil
			}

			var cbErr *CallbackError
			if s.policy == CancelSiblings || errors.As(err, &cbErr) {
				cancel(err)
			}

			return err
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	return ctx.Err()
}

// chunkWorker owns everything chunk-scoped. It is confined to one goroutine.
type chunkWorker struct {
	s         *Session
	desc      chunk.Descriptor
	ctl       *Control
	handlers  []*handler
	listeners []*listenerReg
	src       *plan.Source
	entries   map[int64]*dispatch
	fields    []FieldRange

	dispatched int64
	skipped    int64
}

// dispatch is the per-type routing of one chunk.
type dispatch struct {
	typ      *metadata.Type
	full     *plan.Plan
	skip     *plan.Plan
	handlers []*handler
}

func (s *Session) runChunk(ctx context.Context, d chunk.Descriptor) error {
	started := time.Now()

	ctx, span := s.pctx.tracer.Start(ctx, observability.SpanChunk, trace.WithAttributes(
		attribute.Int("chunk.index", d.Index),
		attribute.Int64("chunk.offset", d.Offset),
		attribute.Int64("chunk.size", d.Size()),
	))
	defer span.End()

	handlers, listeners := s.snapshot()

	w := &chunkWorker{
		s:         s,
		desc:      d,
		ctl:       &Control{ctx: ctx, desc: d},
		handlers:  handlers,
		listeners: listeners,
		entries:   make(map[int64]*dispatch),
	}

	err := w.run(ctx)

	for _, l := range w.listeners {
		l.l.OnChunkEnd(w.ctl, err)
	}

	outcome := observability.OutcomeOK

	switch {
	case err != nil:
		outcome = observability.OutcomeFailed

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var cbErr *CallbackError

		kind := "chunk"
		if errors.As(err, &cbErr) {
			kind = "callback"
		}

		s.pctx.metrics.RecordError(ctx, kind)
		s.pctx.logger.WarnContext(ctx, "chunk failed", "chunk", d.Index, "error", err)
	case w.ctl.Aborted():
		outcome = observability.OutcomeAborted
	}

	s.pctx.metrics.RecordChunk(ctx, observability.ChunkStats{
		Outcome:    outcome,
		Duration:   time.Since(started),
		Dispatched: w.dispatched,
		Skipped:    w.skipped,
		Bytes:      d.Size(),
	})

	s.pctx.logger.DebugContext(ctx, "chunk done",
		"chunk", d.Index, "outcome", outcome, "dispatched", w.dispatched, "skipped", w.skipped)

	return err
}

func (w *chunkWorker) chunkErr(err error) error {
	return &ChunkError{Index: w.desc.Index, Offset: w.desc.Offset, Err: err}
}

func (w *chunkWorker) cursor(start, end int) *cursor.Cursor {
	return cursor.New(w.s.data, start, end, w.desc.Compressed())
}

func (w *chunkWorker) run(ctx context.Context) error {
	for _, l := range w.listeners {
		l.l.OnChunkStart(w.ctl)
	}

	_, mspan := w.s.pctx.tracer.Start(ctx, observability.SpanMetadata)
	reg, err := metadata.Parse(w.cursor(int(w.desc.Offset), int(w.desc.End())), w.desc)
	mspan.End()

	if err != nil {
		return w.chunkErr(err)
	}

	w.ctl.reg = reg

	for _, l := range w.listeners {
		l.l.OnMetadata(w.ctl, reg)
	}

	w.src = plan.NewSource(w.s.pctx.cache, reg)
	w.ctl.pool = pool.New(w.s.data, w.desc, reg, w.src)

	defer w.ctl.pool.Release()

	if err := w.compileHandled(ctx, reg); err != nil {
		return w.chunkErr(err)
	}

	return w.iterate(ctx)
}

// compileHandled compiles full plans for every event type a handler wants
// before the first record is read.
func (w *chunkWorker) compileHandled(ctx context.Context, reg *metadata.Registry) error {
	if len(w.handlers) == 0 {
		return nil
	}

	_, span := w.s.pctx.tracer.Start(ctx, observability.SpanPlans)
	defer span.End()

	for _, t := range reg.Events() {
		if _, err := w.entry(t.ID); err != nil {
			return err
		}
	}

	return nil
}

// entry returns the routing of typeID, or nil for ids the registry lacks.
func (w *chunkWorker) entry(typeID int64) (*dispatch, error) {
	if e, ok := w.entries[typeID]; ok {
		return e, nil
	}

	t, ok := w.ctl.reg.ByID(typeID)
	if !ok {
		w.entries[typeID] = nil

		return nil, nil
	}

	e := &dispatch{typ: t}

	for _, h := range w.handlers {
		if h.matches(t) {
			e.handlers = append(e.handlers, h)
		}
	}

	if len(e.handlers) > 0 {
		full, err := w.src.Plan(typeID, plan.ModeFull)
		if err != nil {
			return nil, err
		}

		e.full = full
	}

	w.entries[typeID] = e

	return e, nil
}

func (w *chunkWorker) iterate(ctx context.Context) error {
	pos, end := int(w.desc.StreamStart()), int(w.desc.End())
	c := w.cursor(pos, end)

	for pos < end {
		if ctx.Err() != nil || w.ctl.Aborted() {
			return nil
		}

		if err := c.SetPos(pos); err != nil {
			return w.chunkErr(err)
		}

		size, err := c.Int()
		if err != nil {
			return w.chunkErr(fmt.Errorf("record size at %d: %w", pos, err))
		}

		typeID, err := c.Long()
		if err != nil {
			return w.chunkErr(fmt.Errorf("record type at %d: %w", pos, err))
		}

		recEnd := pos + int(size)
		if size <= 0 || recEnd > end || c.Pos() > recEnd {
			return w.chunkErr(fmt.Errorf("%w: size %d at %d", ErrRecordFraming, size, pos))
		}

		if typeID != recordMetadata && typeID != recordPool {
			if err := w.record(typeID, pos, c.Pos(), recEnd); err != nil {
				return err
			}
		}

		pos = recEnd
	}

	return nil
}

// record handles one event record.
func (w *chunkWorker) record(typeID int64, start, payload, end int) error {
	w.ctl.pos.Store(int64(start))

	e, err := w.entry(typeID)
	if err != nil {
		return w.chunkErr(err)
	}

	if e == nil {
		w.skipped++

		return nil
	}

	if len(w.listeners) > 0 {
		if err := w.notify(e, start, payload, end); err != nil {
			return w.chunkErr(err)
		}
	}

	if len(e.handlers) == 0 {
		w.skipped++

		return nil
	}

	w.dispatched++

	return w.deliver(e, payload, end)
}

func (w *chunkWorker) notify(e *dispatch, start, payload, end int) error {
	if e.skip == nil {
		skip, err := w.src.Plan(e.typ.ID, plan.ModeSkip)
		if err != nil {
			return err
		}

		e.skip = skip
	}

	w.fields = w.fields[:0]

	c := w.cursor(payload, end)
	if err := plan.Walk(c, e.skip, func(r plan.FieldRange) { w.fields = append(w.fields, r) }); err != nil {
		return err
	}

	if err := checkEnd(e.typ, c, end); err != nil {
		return err
	}

	ev := RawEvent{Type: e.typ, Start: start, Payload: payload, End: end, Fields: w.fields}

	for _, l := range w.listeners {
		if l.active.Load() {
			l.l.OnEvent(w.ctl, ev)
		}
	}

	return nil
}

func checkEnd(t *metadata.Type, c *cursor.Cursor, end int) error {
	if c.Pos() == end {
		return nil
	}

	return &plan.FieldDecodeError{
		Type: t.Name,
		Pos:  c.Pos(),
		Err:  fmt.Errorf("%w: stopped at %d, record ends at %d", ErrTrailingBytes, c.Pos(), end),
	}
}

// deliver decodes the record for each matching handler and calls it. The
// generic value is decoded once and shared by generic handlers.
func (w *chunkWorker) deliver(e *dispatch, payload, end int) error {
	var generic *Event

	for _, h := range e.handlers {
		if !h.active.Load() {
			continue
		}

		if h.typed != nil {
			ptr := reflect.New(h.goType)

			c := w.cursor(payload, end)
			if err := w.s.pctx.strategy.Decode(c, e.full, w.ctl.pool, ptr.Elem()); err != nil {
				return w.chunkErr(err)
			}

			if err := checkEnd(e.typ, c, end); err != nil {
				return w.chunkErr(err)
			}

			if err := w.invoke(e.typ, func() error { return h.typed(ptr, w.ctl) }); err != nil {
				return err
			}

			continue
		}

		if generic == nil {
			ev, err := w.decodeGeneric(e, payload, end)
			if err != nil {
				return w.chunkErr(err)
			}

			generic = &ev
		}

		if err := w.invoke(e.typ, func() error { return h.generic(*generic, w.ctl) }); err != nil {
			return err
		}

		if w.ctl.Aborted() {
			return nil
		}
	}

	return nil
}

func (w *chunkWorker) decodeGeneric(e *dispatch, payload, end int) (Event, error) {
	c := w.cursor(payload, end)

	v, err := plan.Interpret(c, e.full, w.ctl.pool)
	if err != nil {
		return Event{}, err
	}

	if err := checkEnd(e.typ, c, end); err != nil {
		return Event{}, err
	}

	obj, ok := v.(*value.Object)
	if !ok {
		// Simple event types unwrap; rewrap the single field.
		obj = value.NewObject(e.typ.ID, e.typ.Name, 1)
		if len(e.typ.Fields) > 0 {
			obj.Set(e.typ.Fields[0].Name, v)
		}
	}

	return Event{Type: e.typ, Fields: obj}, nil
}

// invoke calls fn, converting returned errors and panics to *CallbackError.
func (w *chunkWorker) invoke(t *metadata.Type, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Type: t.Name, Chunk: w.desc.Index, Err: fmt.Errorf("%w: %v", ErrCallbackPanic, r)}
		}
	}()

	if cbErr := fn(); cbErr != nil {
		return &CallbackError{Type: t.Name, Chunk: w.desc.Index, Err: cbErr}
	}

	return nil
}
