package recording

import (
	"sync/atomic"

	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
)

// FieldRange is the absolute byte range of one top-level event field.
type FieldRange = plan.FieldRange

// RawEvent locates one event record. Offsets are absolute within the
// decompressed recording.
type RawEvent struct {
	Type    *metadata.Type
	Start   int
	Payload int
	End     int
	Fields  []FieldRange
}

// Size returns the record size including its header.
func (e RawEvent) Size() int { return e.End - e.Start }

// Listener observes chunk decoding at the byte level. Methods are called
// from chunk workers, concurrently for different chunks and in order within
// one chunk. The Fields slice of a RawEvent is reused after OnEvent returns.
type Listener interface {
	OnChunkStart(ctl *Control)
	OnMetadata(ctl *Control, reg *metadata.Registry)
	OnEvent(ctl *Control, ev RawEvent)
	// OnChunkEnd receives the chunk's fatal error, or nil.
	OnChunkEnd(ctl *Control, err error)
}

// BaseListener implements Listener with no-ops, for embedding.
type BaseListener struct{}

// OnChunkStart implements Listener.
func (BaseListener) OnChunkStart(*Control) {}

// OnMetadata implements Listener.
func (BaseListener) OnMetadata(*Control, *metadata.Registry) {}

// OnEvent implements Listener.
func (BaseListener) OnEvent(*Control, RawEvent) {}

// OnChunkEnd implements Listener.
func (BaseListener) OnChunkEnd(*Control, error) {}

type listenerReg struct {
	id     uint64
	l      Listener
	active atomic.Bool
}

// Listen registers a lifecycle listener.
func (s *Session) Listen(l Listener) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	reg := &listenerReg{id: s.nextID, l: l}
	reg.active.Store(true)
	s.listeners = append(s.listeners, reg)

	return &Registration{s: s, id: reg.id, active: &reg.active}
}
