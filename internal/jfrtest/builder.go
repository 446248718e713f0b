package jfrtest

import (
	"encoding/binary"
	"slices"
	"strconv"
)

// HeaderSize is the size of a chunk header.
const HeaderSize = 68

// Builtin type ids assigned when a chunk does not declare them itself.
var builtinIDs = map[string]int64{
	"boolean":          10,
	"byte":             11,
	"char":             12,
	"short":            13,
	"int":              14,
	"long":             15,
	"float":            16,
	"double":           17,
	"java.lang.String": 18,
}

// Field declares one field of a class.
type Field struct {
	Name         string
	Type         string
	Array        bool
	ConstantPool bool
	Annotations  []Annotation
}

// Annotation declares one annotation element.
type Annotation struct {
	Type  string
	Attrs [][2]string
}

// Class declares one type in the metadata block.
type Class struct {
	ID          int64
	Name        string
	Super       string
	Simple      bool
	Fields      []Field
	Annotations []Annotation
}

// Entry is one constant-pool entry.
type Entry struct {
	ID    int64
	Value func(w *Writer)
}

// Pool is the set of entries for one type.
type Pool struct {
	Type    string
	Entries []Entry
}

// Event is one event record.
type Event struct {
	Type    string
	Payload func(w *Writer)
}

// Chunk describes one chunk to build.
type Chunk struct {
	Classes []Class
	Pools   []Pool
	Events  []Event

	StartNanos     int64
	DurationNanos  int64
	StartTicks     int64
	TicksPerSecond int64

	Uncompressed bool
	// SplitPools writes each pool in its own chained constant-pool record.
	SplitPools bool
	// BlocksLast places the metadata and constant-pool records after the events.
	BlocksLast bool
	// FileState overrides the header file-state byte.
	FileState byte
	// MajorVersion overrides the header major version (default 2).
	MajorVersion uint16
}

// Recording concatenates built chunks.
func Recording(chunks ...Chunk) []byte {
	var out []byte
	for _, ch := range chunks {
		out = append(out, ch.Bytes()...)
	}

	return out
}

// TypeID returns the id the chunk assigns to a type name.
func (ch Chunk) TypeID(name string) int64 {
	return ch.ids()[name]
}

func (ch Chunk) ids() map[string]int64 {
	ids := make(map[string]int64, len(builtinIDs)+len(ch.Classes))
	for name, id := range builtinIDs {
		ids[name] = id
	}

	for _, cl := range ch.Classes {
		ids[cl.Name] = cl.ID
	}

	return ids
}

func (ch Chunk) classes() []Class {
	declared := make(map[string]bool, len(ch.Classes))
	for _, cl := range ch.Classes {
		declared[cl.Name] = true
	}

	out := slices.Clone(ch.Classes)

	for name, id := range builtinIDs {
		if !declared[name] {
			out = append(out, Class{ID: id, Name: name})
		}
	}

	slices.SortFunc(out, func(a, b Class) int { return int(a.ID - b.ID) })

	return out
}

// Bytes encodes the chunk.
func (ch Chunk) Bytes() []byte {
	compressed := !ch.Uncompressed
	ids := ch.ids()

	metadata := ch.metadataRecord(ids, compressed)

	var events []byte
	for _, ev := range ch.Events {
		events = append(events, record(ids[ev.Type], compressed, ev.Payload)...)
	}

	body := make([]byte, 0, len(metadata)+len(events))

	var metaOffset, poolOffset int64

	appendBlocks := func() {
		metaOffset = int64(HeaderSize + len(body))
		body = append(body, metadata...)
		poolOffset = ch.appendPools(&body, ids, compressed)
	}

	if ch.BlocksLast {
		body = append(body, events...)
		appendBlocks()
	} else {
		appendBlocks()
		body = append(body, events...)
	}

	size := int64(HeaderSize + len(body))
	header := ch.header(size, poolOffset, metaOffset, compressed)

	return append(header, body...)
}

func (ch Chunk) header(size, poolOffset, metaOffset int64, compressed bool) []byte {
	major := ch.MajorVersion
	if major == 0 {
		major = 2
	}

	ticks := ch.TicksPerSecond
	if ticks == 0 {
		ticks = 1_000_000_000
	}

	h := []byte{'F', 'L', 'R', 0}
	h = binary.BigEndian.AppendUint16(h, major)
	h = binary.BigEndian.AppendUint16(h, 1)

	for _, v := range []int64{size, poolOffset, metaOffset, ch.StartNanos, ch.DurationNanos, ch.StartTicks, ticks} {
		h = binary.BigEndian.AppendUint64(h, uint64(v))
	}

	var flags byte = 2
	if compressed {
		flags |= 1
	}

	return append(h, ch.FileState, 0, 0, flags)
}

// appendPools writes the constant-pool records and returns the chunk offset
// of the newest one.
func (ch Chunk) appendPools(body *[]byte, ids map[string]int64, compressed bool) int64 {
	groups := [][]Pool{ch.Pools}
	if ch.SplitPools && len(ch.Pools) > 1 {
		groups = groups[:0]
		for _, p := range ch.Pools {
			groups = append(groups, []Pool{p})
		}
	}

	var prev int64

	for i, group := range groups {
		at := int64(HeaderSize + len(*body))

		var delta int64
		if i > 0 {
			delta = prev - at
		}

		rec := record(1, compressed, func(w *Writer) {
			w.Long(0).Long(0).Long(delta).Bool(false).Int(int32(len(group)))

			for _, p := range group {
				w.Long(ids[p.Type]).Int(int32(len(p.Entries)))

				for _, e := range p.Entries {
					w.Long(e.ID)
					e.Value(w)
				}
			}
		})

		*body = append(*body, rec...)
		prev = at
	}

	return prev
}

func (ch Chunk) metadataRecord(ids map[string]int64, compressed bool) []byte {
	st := &stringTable{index: map[string]int{}}
	root := ch.elementTree(ids, st)

	return record(0, compressed, func(w *Writer) {
		w.Long(0).Long(0).Long(1)
		w.Int(int32(len(st.values)))

		for _, s := range st.values {
			w.String(s)
		}

		root.write(w)
	})
}

func (ch Chunk) elementTree(ids map[string]int64, st *stringTable) *element {
	meta := &element{name: st.add("metadata")}

	for _, cl := range ch.classes() {
		ce := &element{name: st.add("class")}
		ce.attr(st, "id", strconv.FormatInt(cl.ID, 10))
		ce.attr(st, "name", cl.Name)

		if cl.Super != "" {
			ce.attr(st, "superType", cl.Super)
		}

		if cl.Simple {
			ce.attr(st, "simpleType", "true")
		}

		for _, a := range cl.Annotations {
			ce.children = append(ce.children, annotationElement(a, ids, st))
		}

		for _, f := range cl.Fields {
			fe := &element{name: st.add("field")}
			fe.attr(st, "name", f.Name)
			fe.attr(st, "class", strconv.FormatInt(ids[f.Type], 10))

			if f.Array {
				fe.attr(st, "dimension", "1")
			}

			if f.ConstantPool {
				fe.attr(st, "constantPool", "true")
			}

			for _, a := range f.Annotations {
				fe.children = append(fe.children, annotationElement(a, ids, st))
			}

			ce.children = append(ce.children, fe)
		}

		meta.children = append(meta.children, ce)
	}

	region := &element{name: st.add("region")}
	region.attr(st, "locale", "en_US")
	region.attr(st, "gmtOffset", "0")

	root := &element{name: st.add("root")}
	root.children = []*element{meta, region}

	return root
}

func annotationElement(a Annotation, ids map[string]int64, st *stringTable) *element {
	ae := &element{name: st.add("annotation")}
	ae.attr(st, "class", strconv.FormatInt(ids[a.Type], 10))

	for _, kv := range a.Attrs {
		ae.attr(st, kv[0], kv[1])
	}

	return ae
}

type stringTable struct {
	index  map[string]int
	values []string
}

func (st *stringTable) add(s string) int {
	if i, ok := st.index[s]; ok {
		return i
	}

	st.index[s] = len(st.values)
	st.values = append(st.values, s)

	return st.index[s]
}

type element struct {
	name     int
	attrs    [][2]int
	children []*element
}

func (e *element) attr(st *stringTable, k, v string) {
	e.attrs = append(e.attrs, [2]int{st.add(k), st.add(v)})
}

func (e *element) write(w *Writer) {
	w.Int(int32(e.name)).Int(int32(len(e.attrs)))

	for _, kv := range e.attrs {
		w.Int(int32(kv[0])).Int(int32(kv[1]))
	}

	w.Int(int32(len(e.children)))

	for _, ch := range e.children {
		ch.write(w)
	}
}

// record frames a payload with its size and type id in the chunk's
// integer encoding.
func record(typeID int64, compressed bool, payload func(w *Writer)) []byte {
	w := NewWriter(compressed)
	w.Long(typeID)

	if payload != nil {
		payload(w)
	}

	body := w.Bytes()

	if !compressed {
		return append(NewWriter(false).Int(int32(len(body)+4)).Bytes(), body...)
	}

	size := len(body) + 1
	for VarlongLen(uint64(size))+len(body) != size {
		size = len(body) + VarlongLen(uint64(size))
	}

	return append(AppendVarlong(nil, uint64(size)), body...)
}
