package recording_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/flightrec/internal/jfrtest"
	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/recording"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

const (
	sampleType = "test.Sample"
	otherType  = "test.Other"
)

var classes = []jfrtest.Class{
	{ID: 100, Name: "test.Thread", Fields: []jfrtest.Field{{Name: "name", Type: "java.lang.String"}}},
	{ID: 200, Name: sampleType, Super: "jdk.jfr.Event", Fields: []jfrtest.Field{
		{Name: "startTime", Type: "long"},
		{Name: "value", Type: "long"},
		{Name: "thread", Type: "test.Thread", ConstantPool: true},
	}},
	{ID: 201, Name: otherType, Super: "jdk.jfr.Event", Fields: []jfrtest.Field{
		{Name: "flag", Type: "boolean"},
	}},
}

var threads = []jfrtest.Pool{{Type: "test.Thread", Entries: []jfrtest.Entry{
	{ID: 1, Value: func(w *jfrtest.Writer) { w.String("main") }},
}}}

func sample(v int64) jfrtest.Event {
	return jfrtest.Event{Type: sampleType, Payload: func(w *jfrtest.Writer) {
		w.Long(1000 + v).Long(v).Long(1)
	}}
}

func other() jfrtest.Event {
	return jfrtest.Event{Type: otherType, Payload: func(w *jfrtest.Writer) { w.Bool(true) }}
}

func newChunk(events ...jfrtest.Event) jfrtest.Chunk {
	return jfrtest.Chunk{
		Classes:        classes,
		Pools:          threads,
		Events:         events,
		StartNanos:     1_700_000_000_000_000_000,
		DurationNanos:  int64(time.Second),
		StartTicks:     1000,
		TicksPerSecond: 1000,
	}
}

func twoChunks() []byte {
	return jfrtest.Recording(newChunk(sample(10), sample(20)), newChunk(sample(5)))
}

func open(t *testing.T, data []byte, opts ...recording.Option) *recording.Session {
	t.Helper()

	s, err := recording.FromBytes(context.Background(), data, opts...)
	require.NoError(t, err)

	return s
}

type collector struct {
	mu     sync.Mutex
	values []int64
}

func (c *collector) handle(ev recording.Event, _ *recording.Control) error {
	v, ok := ev.Fields.Int64("value")
	if !ok {
		return errors.New("value missing")
	}

	c.mu.Lock()
	c.values = append(c.values, v)
	c.mu.Unlock()

	return nil
}

func TestSession_DeliversEveryEventOnce(t *testing.T) {
	t.Parallel()

	s := open(t, twoChunks())
	require.Len(t, s.Chunks(), 2)

	var c collector

	s.HandleType(sampleType, c.handle)
	require.NoError(t, s.Run(context.Background()))

	assert.ElementsMatch(t, []int64{5, 10, 20}, c.values)
	assert.Less(t, slices.Index(c.values, 10), slices.Index(c.values, 20))
}

func TestSession_HandleAllSeesEveryType(t *testing.T) {
	t.Parallel()

	s := open(t, jfrtest.Recording(newChunk(sample(1), other(), sample(2))), recording.WithWorkers(1))

	var names []string

	s.HandleAll(func(ev recording.Event, _ *recording.Control) error {
		names = append(names, ev.Name())

		return nil
	})
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{sampleType, otherType, sampleType}, names)
}

func TestSession_GenericValuesResolvePools(t *testing.T) {
	t.Parallel()

	s := open(t, jfrtest.Recording(newChunk(sample(3))))

	var thread any

	s.HandleType(sampleType, func(ev recording.Event, _ *recording.Control) error {
		thread, _ = ev.Fields.Get("thread")

		return nil
	})
	require.NoError(t, s.Run(context.Background()))

	ref, ok := thread.(*value.Reference)
	require.True(t, ok, "got %T", thread)

	obj, ok := ref.Object()
	require.True(t, ok)

	name, _ := obj.String("name")
	assert.Equal(t, "main", name)
}

type sampleThread struct {
	Name string
}

type typedSample struct {
	StartTime int64
	Value     int64
	Thread    *sampleThread
}

func TestHandle_DecodesIntoStructs(t *testing.T) {
	t.Parallel()

	for _, strategy := range []string{"direct", "interpreter"} {
		t.Run(strategy, func(t *testing.T) {
			t.Parallel()

			pctx, err := recording.NewContext(recording.WithStrategy(strategy))
			require.NoError(t, err)

			s := open(t, twoChunks(), recording.WithParsingContext(pctx), recording.WithWorkers(1))

			var got []typedSample

			recording.Handle(s, sampleType, func(ev *typedSample, _ *recording.Control) error {
				got = append(got, *ev)

				return nil
			})
			require.NoError(t, s.Run(context.Background()))

			require.Len(t, got, 3)
			assert.Equal(t, int64(10), got[0].Value)
			assert.Equal(t, int64(1010), got[0].StartTime)
			require.NotNil(t, got[0].Thread)
			assert.Equal(t, "main", got[0].Thread.Name)
		})
	}
}

func TestSession_AbortStopsOnlyTheIssuingChunk(t *testing.T) {
	t.Parallel()

	data := jfrtest.Recording(
		newChunk(sample(1), sample(2), sample(3), sample(4)),
		newChunk(sample(5), sample(6)),
	)
	s := open(t, data, recording.WithWorkers(1))

	var c collector

	s.HandleType(sampleType, func(ev recording.Event, ctl *recording.Control) error {
		if err := c.handle(ev, ctl); err != nil {
			return err
		}

		if v, _ := ev.Fields.Int64("value"); v == 2 {
			ctl.Abort()
		}

		return nil
	})
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []int64{1, 2, 5, 6}, c.values)
}

func TestRegistration_DestroyStopsDelivery(t *testing.T) {
	t.Parallel()

	s := open(t, twoChunks(), recording.WithWorkers(1))

	var (
		calls int
		reg   *recording.Registration
	)

	reg = s.HandleType(sampleType, func(recording.Event, *recording.Control) error {
		calls++
		reg.Destroy()

		return nil
	})
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, calls)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestControl_Accessors(t *testing.T) {
	t.Parallel()

	data := twoChunks()
	spans := jfrtest.EventSpans(data, 0)
	s := open(t, data, recording.WithWorkers(1))

	var (
		positions []int64
		stamps    []time.Time
	)

	s.HandleType(sampleType, func(ev recording.Event, ctl *recording.Control) error {
		if ctl.Chunk().Index != 0 {
			return nil
		}

		assert.NotNil(t, ctl.Registry())
		assert.NotNil(t, ctl.Pool())
		assert.NotNil(t, ctl.Context())

		ticks, _ := ev.Fields.Int64("startTime")

		positions = append(positions, ctl.Position())
		stamps = append(stamps, ctl.TicksToTime(ticks))

		return nil
	})
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, positions, 2)
	assert.Equal(t, int64(spans[0].Start), positions[0])
	assert.Equal(t, int64(spans[1].Start), positions[1])

	start := time.Unix(0, 1_700_000_000_000_000_000)
	assert.True(t, start.Add(10*time.Millisecond).Equal(stamps[0]), "got %v", stamps[0])
}

type rangeListener struct {
	recording.BaseListener

	mu      sync.Mutex
	starts  int
	ends    []error
	events  []recording.RawEvent
	regSeen bool
}

func (l *rangeListener) OnChunkStart(*recording.Control) {
	l.mu.Lock()
	l.starts++
	l.mu.Unlock()
}

func (l *rangeListener) OnMetadata(_ *recording.Control, reg *metadata.Registry) {
	l.mu.Lock()
	l.regSeen = reg != nil
	l.mu.Unlock()
}

func (l *rangeListener) OnEvent(_ *recording.Control, ev recording.RawEvent) {
	ev.Fields = slices.Clone(ev.Fields)

	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *rangeListener) OnChunkEnd(_ *recording.Control, err error) {
	l.mu.Lock()
	l.ends = append(l.ends, err)
	l.mu.Unlock()
}

func TestListener_ReportsFieldRanges(t *testing.T) {
	t.Parallel()

	data := jfrtest.Recording(newChunk(sample(7), other()))
	spans := jfrtest.EventSpans(data, 0)
	s := open(t, data)

	l := &rangeListener{}
	s.Listen(l)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 1, l.starts)
	assert.True(t, l.regSeen)
	assert.Equal(t, []error{nil}, l.ends)
	require.Len(t, l.events, 2)

	for i, ev := range l.events {
		assert.Equal(t, spans[i].Start, ev.Start)
		assert.Equal(t, spans[i].Payload, ev.Payload)
		assert.Equal(t, spans[i].End, ev.End)
		require.NotEmpty(t, ev.Fields)
		assert.Equal(t, ev.Payload, ev.Fields[0].Start)
		assert.Equal(t, ev.End, ev.Fields[len(ev.Fields)-1].End)
	}

	assert.Len(t, l.events[0].Fields, 3)
	assert.Equal(t, "value", l.events[0].Fields[1].Name)
	assert.Len(t, l.events[1].Fields, 1)
}

func TestSummary_CountsPerType(t *testing.T) {
	t.Parallel()

	data := jfrtest.Recording(newChunk(sample(1), other(), sample(2)), newChunk(sample(3)))
	s := open(t, data)

	sum := recording.NewSummary()
	s.Listen(sum)
	require.NoError(t, s.Run(context.Background()))

	rows := sum.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, sampleType, rows[0].Type)
	assert.Equal(t, int64(3), rows[0].Count)
	assert.Equal(t, otherType, rows[1].Type)
	assert.Equal(t, int64(1), rows[1].Count)

	events, size := sum.Totals()
	assert.Equal(t, int64(4), events)
	assert.Positive(t, size)

	seen, failed := sum.Chunks()
	assert.Equal(t, 2, seen)
	assert.Zero(t, failed)

	start, dur := sum.Span()
	assert.Equal(t, time.Unix(0, 1_700_000_000_000_000_000), start)
	assert.Equal(t, 2*time.Second, dur)
}

func corruptSample() jfrtest.Event {
	return jfrtest.Event{Type: sampleType, Payload: func(w *jfrtest.Writer) {
		w.Long(1).Long(2).Long(1).Byte(0xff)
	}}
}

func TestSession_ChunkErrorPolicies(t *testing.T) {
	t.Parallel()

	data := jfrtest.Recording(newChunk(sample(1), corruptSample(), sample(2)), newChunk(sample(3)))

	tests := []struct {
		policy recording.FailurePolicy
		want   []int64
	}{
		{recording.CancelSiblings, []int64{1}},
		{recording.FinishSiblings, []int64{1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()

			s := open(t, data, recording.WithWorkers(1), recording.WithFailurePolicy(tt.policy))

			var c collector

			s.HandleType(sampleType, c.handle)

			err := s.Run(context.Background())

			var chunkErr *recording.ChunkError
			require.ErrorAs(t, err, &chunkErr)
			assert.Equal(t, 0, chunkErr.Index)
			require.ErrorIs(t, err, recording.ErrTrailingBytes)
			assert.Equal(t, tt.want, c.values)
		})
	}
}

func TestSession_ListenerSeesChunkFailure(t *testing.T) {
	t.Parallel()

	s := open(t, jfrtest.Recording(newChunk(corruptSample())))

	l := &rangeListener{}
	s.Listen(l)

	sum := recording.NewSummary()
	s.Listen(sum)

	require.Error(t, s.Run(context.Background()))
	require.Len(t, l.ends, 1)
	require.ErrorIs(t, l.ends[0], recording.ErrTrailingBytes)

	_, failed := sum.Chunks()
	assert.Equal(t, 1, failed)
}

func TestSession_CallbackErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name string
		fn   recording.HandlerFunc
		want error
	}{
		{"returned", func(recording.Event, *recording.Control) error { return boom }, boom},
		{"panic", func(recording.Event, *recording.Control) error { panic("kaput") }, recording.ErrCallbackPanic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := open(t, twoChunks(), recording.WithFailurePolicy(recording.FinishSiblings))
			s.HandleType(sampleType, tt.fn)

			err := s.Run(context.Background())

			var cbErr *recording.CallbackError
			require.ErrorAs(t, err, &cbErr)
			assert.Equal(t, sampleType, cbErr.Type)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSession_RunIsNotReentrant(t *testing.T) {
	t.Parallel()

	s := open(t, jfrtest.Recording(newChunk(sample(1))))

	var inner error

	s.HandleType(sampleType, func(_ recording.Event, ctl *recording.Control) error {
		inner = s.Run(ctl.Context())

		return nil
	})
	require.NoError(t, s.Run(context.Background()))
	require.ErrorIs(t, inner, recording.ErrRunning)
}

func TestSession_CancelledContext(t *testing.T) {
	t.Parallel()

	s := open(t, twoChunks())

	var calls atomic.Int32

	s.HandleAll(func(recording.Event, *recording.Control) error {
		calls.Add(1)

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestFromBytes_CompressedInput(t *testing.T) {
	t.Parallel()

	raw := twoChunks()

	var gz bytes.Buffer

	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var lz bytes.Buffer

	lw := lz4.NewWriter(&lz)
	_, err = lw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	for name, data := range map[string][]byte{"gzip": gz.Bytes(), "lz4": lz.Bytes()} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := open(t, data)
			assert.Equal(t, len(raw), s.Size())

			var c collector

			s.HandleType(sampleType, c.handle)
			require.NoError(t, s.Run(context.Background()))
			assert.Len(t, c.values, 3)
		})
	}
}

func TestFromBytes_MaxSizeBoundsDecompressedInput(t *testing.T) {
	t.Parallel()

	raw := twoChunks()
	limit := int64(len(raw))

	var lz bytes.Buffer

	lw := lz4.NewWriter(&lz)
	_, err := lw.Write(append(slices.Clone(raw), make([]byte, 1<<20)...))
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	_, err = recording.FromBytes(context.Background(), lz.Bytes(), recording.WithMaxSize(limit))

	var re *recording.ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "lz4 decompress", re.Op)
	require.ErrorIs(t, err, recording.ErrTooLarge)

	_, err = recording.FromBytes(context.Background(), raw, recording.WithMaxSize(limit-1))
	require.ErrorIs(t, err, recording.ErrTooLarge)

	s := open(t, raw, recording.WithMaxSize(limit))
	assert.Equal(t, len(raw), s.Size())
}

func TestFromBytes_CorruptGzip(t *testing.T) {
	t.Parallel()

	_, err := recording.FromBytes(context.Background(), []byte{0x1f, 0x8b, 0x08, 0x00, 0x01})

	var re *recording.ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "gunzip", re.Op)
}

func TestFromBytes_ForeignInput(t *testing.T) {
	t.Parallel()

	_, err := recording.FromBytes(context.Background(), []byte("PK\x03\x04 this is a zip archive, not a recording"))

	var fe *chunk.FormatError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, err, chunk.ErrBadMagic)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rec.jfr")
	require.NoError(t, os.WriteFile(path, twoChunks(), 0o600))

	s, err := recording.Open(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	assert.Len(t, s.Chunks(), 2)

	reg, err := s.Metadata(1)
	require.NoError(t, err)

	_, ok := reg.ByName(sampleType)
	assert.True(t, ok)

	_, err = s.Metadata(2)
	require.Error(t, err)
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.jfr")

	_, err := recording.Open(context.Background(), path)

	var re *recording.ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, path, re.Path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSession_Truncation(t *testing.T) {
	t.Parallel()

	complete := jfrtest.Recording(newChunk(sample(1)))
	data := append(slices.Clone(complete), newChunk(sample(2)).Bytes()[:100]...)

	t.Run("lenient", func(t *testing.T) {
		t.Parallel()

		s := open(t, data)
		require.NotNil(t, s.Truncation())
		assert.Equal(t, 1, s.Truncation().Complete)
		assert.Len(t, s.Chunks(), 1)

		var c collector

		s.HandleType(sampleType, c.handle)
		require.NoError(t, s.Run(context.Background()))
		assert.Equal(t, []int64{1}, c.values)
	})

	t.Run("strict", func(t *testing.T) {
		t.Parallel()

		s := open(t, data, recording.WithStrictTruncation())

		var calls int

		s.HandleAll(func(recording.Event, *recording.Control) error {
			calls++

			return nil
		})

		err := s.Run(context.Background())

		var te *chunk.TruncationError
		require.ErrorAs(t, err, &te)
		require.ErrorIs(t, err, chunk.ErrTruncated)
		assert.Zero(t, calls)
	})
}

func TestContext_SharedPlanCache(t *testing.T) {
	t.Parallel()

	pctx, err := recording.NewContext(recording.WithCacheSize(64))
	require.NoError(t, err)

	data := twoChunks()

	for range 2 {
		s := open(t, data, recording.WithParsingContext(pctx), recording.WithWorkers(1))
		s.HandleType(sampleType, func(recording.Event, *recording.Control) error { return nil })
		require.NoError(t, s.Run(context.Background()))
	}

	assert.Positive(t, pctx.Cache().CacheHits())
	assert.Positive(t, pctx.Cache().Len())
}

func TestNewContext_UnknownStrategy(t *testing.T) {
	t.Parallel()

	_, err := recording.NewContext(recording.WithStrategy("jit"))
	require.Error(t, err)
}

func TestParseFailurePolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []recording.FailurePolicy{recording.CancelSiblings, recording.FinishSiblings} {
		got, err := recording.ParseFailurePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := recording.ParseFailurePolicy("ignore")
	require.Error(t, err)
}
