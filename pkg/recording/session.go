package recording

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Session decodes one recording. Register handlers, then call Run. A
// session may be run again after Run returns.
type Session struct {
	pctx    *Context
	path    string
	data    []byte
	descs   []chunk.Descriptor
	trunc   *chunk.TruncationError
	workers int
	policy  FailurePolicy
	strict  bool
	maxSize int64

	mu        sync.Mutex
	nextID    uint64
	handlers  []*handler
	listeners []*listenerReg
	running   atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithParsingContext shares pctx, and therefore its plan cache, with other
// sessions. Without it a session builds a private default context.
func WithParsingContext(pctx *Context) Option {
	return func(s *Session) { s.pctx = pctx }
}

// WithWorkers bounds the number of chunks decoded concurrently. The default
// is GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Session) { s.workers = n }
}

// WithFailurePolicy selects what happens to sibling chunks on a ChunkError.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Session) { s.policy = p }
}

// WithStrictTruncation makes Run fail with the *chunk.TruncationError of a
// short trailing chunk instead of decoding the complete chunks.
func WithStrictTruncation() Option {
	return func(s *Session) { s.strict = true }
}

// WithMaxSize bounds the decompressed recording to n bytes. Larger input
// fails with a *ResourceError wrapping ErrTooLarge. Zero means no limit.
func WithMaxSize(n int64) Option {
	return func(s *Session) { s.maxSize = n }
}

// Open reads the recording at path. gzip and lz4 frame compressed files are
// decompressed transparently.
func Open(ctx context.Context, path string, opts ...Option) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ResourceError{Op: "read", Path: path, Err: err}
	}

	s, err := FromBytes(ctx, data, opts...)
	if err != nil {
		var re *ResourceError
		if errors.As(err, &re) {
			re.Path = path
		}

		return nil, err
	}

	s.path = path

	return s, nil
}

// FromBytes creates a session over an in-memory recording. Foreign or
// corrupt input fails here with a *chunk.FormatError; a short trailing chunk
// is recorded and reported by Truncation.
func FromBytes(ctx context.Context, data []byte, opts ...Option) (*Session, error) {
	s := &Session{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(s)
	}

	if s.pctx == nil {
		pctx, err := NewContext()
		if err != nil {
			return nil, err
		}

		s.pctx = pctx
	}

	if s.workers < 1 {
		s.workers = 1
	}

	raw, err := decompress(data, s.maxSize)
	if err != nil {
		return nil, err
	}

	s.data = raw

	descs, err := chunk.Locate(raw)

	var trunc *chunk.TruncationError

	switch {
	case errors.As(err, &trunc):
		s.trunc = trunc
		s.pctx.logger.WarnContext(ctx, "recording ends in a truncated chunk",
			"complete_chunks", trunc.Complete, "offset", trunc.Offset,
			"declared", trunc.Declared, "available", trunc.Available)
	case err != nil:
		s.pctx.metrics.RecordError(ctx, "format")

		return nil, err
	}

	s.descs = descs

	return s, nil
}

func decompress(data []byte, limit int64) ([]byte, error) {
	var (
		r  io.Reader
		op string
	)

	if limit > 0 && int64(len(data)) > limit {
		return nil, &ResourceError{Op: "read", Err: fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), limit)}
	}

	switch {
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &ResourceError{Op: "gunzip", Err: err}
		}

		r, op = zr, "gunzip"
	case bytes.HasPrefix(data, lz4Magic):
		r, op = lz4.NewReader(bytes.NewReader(data)), "lz4 decompress"
	default:
		return data, nil
	}

	if limit > 0 {
		// One byte past the limit tells an exact fit from an overflow.
		r = io.LimitReader(r, limit+1)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &ResourceError{Op: op, Err: err}
	}

	if limit > 0 && int64(len(out)) > limit {
		return nil, &ResourceError{Op: op, Err: fmt.Errorf("%w: decompresses past %d bytes", ErrTooLarge, limit)}
	}

	return out, nil
}

// Path returns the file the session was opened from, or "".
func (s *Session) Path() string { return s.path }

// Size returns the decompressed recording size.
func (s *Session) Size() int { return len(s.data) }

// Chunks returns the complete chunks of the recording.
func (s *Session) Chunks() []chunk.Descriptor { return s.descs }

// Truncation returns the trailing-chunk truncation, or nil.
func (s *Session) Truncation() *chunk.TruncationError { return s.trunc }

// Context returns the parsing context of the session.
func (s *Session) Context() *Context { return s.pctx }

// Metadata parses the type registry of chunk i.
func (s *Session) Metadata(i int) (*metadata.Registry, error) {
	if i < 0 || i >= len(s.descs) {
		return nil, fmt.Errorf("chunk %d out of range [0,%d)", i, len(s.descs))
	}

	d := s.descs[i]

	reg, err := metadata.Parse(cursor.New(s.data, int(d.Offset), int(d.End()), d.Compressed()), d)
	if err != nil {
		return nil, &ChunkError{Index: d.Index, Offset: d.Offset, Err: err}
	}

	return reg, nil
}
