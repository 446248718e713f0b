// Package pool resolves constant-pool references of one chunk. Entries are
// located lazily, indexed per type on first touch and decoded on first use.
package pool

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/plan"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// ErrMalformed indicates a constant-pool chain that cannot be walked.
var ErrMalformed = errors.New("malformed constant pool")

// poolRecordType is the record type id of constant-pool records.
const poolRecordType = 1

// stringType names the pool that tag-2 text references point into.
const stringType = "java.lang.String"

// PlanSource supplies compiled plans for the chunk's types.
type PlanSource interface {
	Plan(typeID int64, mode plan.Mode) (*plan.Plan, error)
}

// span is one pool of one segment: count entries starting at pos.
type span struct {
	pos   int
	count int
}

type entryKey struct {
	typeID int64
	id     int64
}

type typedKey struct {
	entryKey
	typ reflect.Type
}

// Registry is the constant-pool registry of one chunk. It is owned by the
// chunk's worker and not safe for concurrent use.
type Registry struct {
	data  []byte
	desc  chunk.Descriptor
	types *metadata.Registry
	plans PlanSource

	scanned bool
	scanErr error
	spans   map[int64][]span

	index     map[int64]map[int64]int
	values    map[entryKey]any
	resolving map[entryKey]bool
	typed     map[typedKey]reflect.Value
}

// New returns the registry for the chunk desc of data. Nothing is read until
// the first lookup.
func New(data []byte, desc chunk.Descriptor, types *metadata.Registry, plans PlanSource) *Registry {
	r := &Registry{data: data, desc: desc, types: types, plans: plans}
	r.Release()

	return r
}

// Release drops every decoded value and index. Later lookups rebuild them.
func (r *Registry) Release() {
	r.index = make(map[int64]map[int64]int)
	r.values = make(map[entryKey]any)
	r.resolving = make(map[entryKey]bool)
	r.typed = make(map[typedKey]reflect.Value)
}

func (r *Registry) cursor(start int) *cursor.Cursor {
	return cursor.New(r.data, start, int(r.desc.End()), r.desc.Compressed())
}

// scan walks the segment chain from the newest record and records where
// each type's entries start. Entry values are skipped with skip plans.
func (r *Registry) scan() error {
	if r.scanned {
		return r.scanErr
	}

	r.scanned = true
	r.spans = make(map[int64][]span)
	r.scanErr = r.walkChain()

	return r.scanErr
}

func (r *Registry) walkChain() error {
	if r.desc.Header.PoolOffset == 0 {
		return nil
	}

	seen := make(map[int]bool)

	for pos := int(r.desc.PoolPos()); ; {
		if seen[pos] || pos < int(r.desc.StreamStart()) || pos >= int(r.desc.End()) {
			return fmt.Errorf("%w: segment offset %d", ErrMalformed, pos)
		}

		seen[pos] = true

		delta, err := r.walkSegment(pos)
		if err != nil {
			return fmt.Errorf("segment at %d: %w", pos, err)
		}

		if delta == 0 {
			return nil
		}

		pos += int(delta)
	}
}

// walkSegment indexes the pools of the record at pos and returns the delta
// to the previous record.
func (r *Registry) walkSegment(pos int) (int64, error) {
	c := r.cursor(pos)

	size, err := c.Int()
	if err != nil {
		return 0, err
	}

	kind, err := c.Long()
	if err != nil {
		return 0, err
	}

	if kind != poolRecordType || size <= 0 {
		return 0, fmt.Errorf("%w: record type %d size %d", ErrMalformed, kind, size)
	}

	c, err = c.Sub(c.Pos(), pos+int(size))
	if err != nil {
		return 0, err
	}

	// start ticks, duration ticks
	for range 2 {
		if err := c.SkipInt(8); err != nil {
			return 0, err
		}
	}

	delta, err := c.Long()
	if err != nil {
		return 0, err
	}

	if _, err := c.Byte(); err != nil {
		return 0, err
	}

	pools, err := c.Int()
	if err != nil {
		return 0, err
	}

	for range pools {
		if err := r.walkPool(c); err != nil {
			return 0, err
		}
	}

	return delta, nil
}

func (r *Registry) walkPool(c *cursor.Cursor) error {
	typeID, err := c.Long()
	if err != nil {
		return err
	}

	count, err := c.Int()
	if err != nil {
		return err
	}

	if count < 0 || int(count) > c.Remaining() {
		return fmt.Errorf("%w: pool %d declares %d entries", ErrMalformed, typeID, count)
	}

	p, err := r.plans.Plan(typeID, plan.ModeSkip)
	if err != nil {
		return err
	}

	r.spans[typeID] = append(r.spans[typeID], span{pos: c.Pos(), count: int(count)})

	for range count {
		if err := c.SkipInt(8); err != nil {
			return err
		}

		if err := plan.Skip(c, p); err != nil {
			return err
		}
	}

	return nil
}

// entries returns the id index of typeID, building it on first touch. The
// newest segment wins when an id appears more than once.
func (r *Registry) entries(typeID int64) (map[int64]int, error) {
	if idx, ok := r.index[typeID]; ok {
		return idx, nil
	}

	if err := r.scan(); err != nil {
		return nil, err
	}

	spans := r.spans[typeID]
	idx := make(map[int64]int)

	if len(spans) > 0 {
		p, err := r.plans.Plan(typeID, plan.ModeSkip)
		if err != nil {
			return nil, err
		}

		for _, s := range spans {
			c := r.cursor(s.pos)

			for range s.count {
				id, err := c.Long()
				if err != nil {
					return nil, err
				}

				if _, dup := idx[id]; !dup {
					idx[id] = c.Pos()
				}

				if err := plan.Skip(c, p); err != nil {
					return nil, err
				}
			}
		}
	}

	r.index[typeID] = idx

	return idx, nil
}

// Offset returns the absolute offset of the value of entry id of typeID.
func (r *Registry) Offset(typeID, id int64) (int, bool, error) {
	idx, err := r.entries(typeID)
	if err != nil {
		return 0, false, err
	}

	pos, ok := idx[id]

	return pos, ok, nil
}

// Len returns the number of entries of typeID.
func (r *Registry) Len(typeID int64) (int, error) {
	idx, err := r.entries(typeID)
	if err != nil {
		return 0, err
	}

	return len(idx), nil
}

func (r *Registry) unresolved(typeID, id int64) value.Unresolved {
	u := value.Unresolved{TypeID: typeID, ID: id}
	if t, ok := r.types.ByID(typeID); ok {
		u.TypeName = t.Name
	}

	return u
}

// Get returns the value of entry id of typeID. Missing entries and unknown
// pools yield value.Unresolved rather than an error.
func (r *Registry) Get(typeID, id int64) (any, error) {
	return r.Resolve(typeID, id)
}

// Resolve decodes entry id of typeID with its full plan and caches the
// result for the chunk. Simple types unwrap transitively, through pool
// references as well as inline values.
func (r *Registry) Resolve(typeID, id int64) (any, error) {
	key := entryKey{typeID: typeID, id: id}
	if v, ok := r.values[key]; ok {
		return v, nil
	}

	if r.resolving[key] {
		return r.unresolved(typeID, id), nil
	}

	pos, ok, err := r.Offset(typeID, id)
	if err != nil {
		return nil, err
	}

	if !ok {
		return r.unresolved(typeID, id), nil
	}

	p, err := r.plans.Plan(typeID, plan.ModeFull)
	if err != nil {
		return nil, err
	}

	r.resolving[key] = true
	defer delete(r.resolving, key)

	v, err := plan.Interpret(r.cursor(pos), p, r)
	if err != nil {
		return nil, fmt.Errorf("pool %s#%d: %w", p.Type.Name, id, err)
	}

	if p.Simple() {
		v = value.Deref(v)
	}

	r.values[key] = v

	return v, nil
}

// String resolves a pooled text reference.
func (r *Registry) String(id int64) (string, bool) {
	t, ok := r.types.ByName(stringType)
	if !ok {
		return "", false
	}

	v, err := r.Resolve(t.ID, id)
	if err != nil {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

// Typed returns the shared Go value of entry id of typeID bound to typ. The
// pointer is memoized before fill runs, so cyclic entries bind to the same
// pointers.
func (r *Registry) Typed(typeID, id int64, typ reflect.Type, fill plan.FillFunc) (reflect.Value, bool, error) {
	key := typedKey{entryKey: entryKey{typeID: typeID, id: id}, typ: typ}
	if ptr, ok := r.typed[key]; ok {
		return ptr, true, nil
	}

	pos, ok, err := r.Offset(typeID, id)
	if err != nil || !ok {
		return reflect.Value{}, false, err
	}

	p, err := r.plans.Plan(typeID, plan.ModeFull)
	if err != nil {
		return reflect.Value{}, false, err
	}

	ptr := reflect.New(typ)
	r.typed[key] = ptr

	if err := fill(r.cursor(pos), p, ptr.Elem()); err != nil {
		delete(r.typed, key)

		return reflect.Value{}, false, fmt.Errorf("pool %s#%d: %w", p.Type.Name, id, err)
	}

	return ptr, true, nil
}
