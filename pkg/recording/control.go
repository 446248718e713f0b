package recording

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/pool"
)

// Control is the per-chunk handle passed to handlers and listeners.
type Control struct {
	ctx     context.Context
	desc    chunk.Descriptor
	reg     *metadata.Registry
	pool    *pool.Registry
	pos     atomic.Int64
	aborted atomic.Bool
}

// Abort stops the issuing chunk after the current event. Other chunks are
// unaffected and Run returns normally.
func (c *Control) Abort() { c.aborted.Store(true) }

// Aborted reports whether Abort was called.
func (c *Control) Aborted() bool { return c.aborted.Load() }

// Position returns the absolute offset of the current record.
func (c *Control) Position() int64 { return c.pos.Load() }

// Chunk returns the descriptor of the chunk being decoded.
func (c *Control) Chunk() chunk.Descriptor { return c.desc }

// Registry returns the chunk's type registry; nil before metadata is parsed.
func (c *Control) Registry() *metadata.Registry { return c.reg }

// Pool returns the chunk's constant-pool registry; nil before metadata is
// parsed.
func (c *Control) Pool() *pool.Registry { return c.pool }

// TicksToTime converts a tick timestamp of this chunk to wall-clock time.
func (c *Control) TicksToTime(ticks int64) time.Time { return c.desc.TicksToTime(ticks) }

// TicksToDuration converts a tick span of this chunk to a duration.
func (c *Control) TicksToDuration(ticks int64) time.Duration { return c.desc.TicksToDuration(ticks) }

// Context returns the context of the running Run call.
func (c *Control) Context() context.Context { return c.ctx }
