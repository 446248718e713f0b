package metadata

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Registry is the linked set of types declared by one chunk.
type Registry struct {
	Header Header
	// Region holds the attributes of the region element, such as locale.
	Region []Attr

	types       []*Type
	byID        map[int64]*Type
	byName      map[string]*Type
	fingerprint uint64
}

func newRegistry() *Registry {
	return &Registry{
		byID:   make(map[int64]*Type),
		byName: make(map[string]*Type),
	}
}

func (r *Registry) add(t *Type) error {
	if prev, ok := r.byID[t.ID]; ok {
		return fmt.Errorf("%w: id %d declared by %s and %s", ErrDuplicateType, t.ID, prev.Name, t.Name)
	}

	if prev, ok := r.byName[t.Name]; ok {
		return fmt.Errorf("%w: %s declared with ids %d and %d", ErrDuplicateType, t.Name, prev.ID, t.ID)
	}

	r.byID[t.ID] = t
	r.byName[t.Name] = t
	r.types = append(r.types, t)

	return nil
}

func (r *Registry) seal() {
	slices.SortFunc(r.types, func(a, b *Type) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}

		return 0
	})

	r.fingerprint = r.computeFingerprint()
}

// ByID returns the type with the given chunk-local id.
func (r *Registry) ByID(id int64) (*Type, bool) {
	t, ok := r.byID[id]

	return t, ok
}

// ByName returns the type with the given qualified name.
func (r *Registry) ByName(name string) (*Type, bool) {
	t, ok := r.byName[name]

	return t, ok
}

// Types returns all types ordered by id.
func (r *Registry) Types() []*Type { return r.types }

// Len returns the number of declared types.
func (r *Registry) Len() int { return len(r.types) }

// Events returns the event types ordered by id.
func (r *Registry) Events() []*Type {
	var out []*Type

	for _, t := range r.types {
		if t.IsEvent() {
			out = append(out, t)
		}
	}

	return out
}

// Fingerprint returns the structural hash of the registry. Registries
// decoded from identical metadata share a fingerprint; changing any field's
// name, type, dimension or pool flag changes it.
func (r *Registry) Fingerprint() uint64 { return r.fingerprint }

func (r *Registry) computeFingerprint() uint64 {
	h := xxhash.New()

	var num [8]byte

	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(num[:], uint64(v)) //nolint:gosec // bit pattern only.
		_, _ = h.Write(num[:])
	}

	writeString := func(s string) {
		writeInt(int64(len(s)))
		_, _ = h.WriteString(s)
	}

	writeBool := func(b bool) {
		if b {
			writeInt(1)
		} else {
			writeInt(0)
		}
	}

	for _, t := range r.types {
		writeInt(t.ID)
		writeString(t.Name)
		writeBool(t.Simple)
		writeString(t.Super)
		writeInt(int64(len(t.Fields)))

		for _, f := range t.Fields {
			writeString(f.RawName)
			writeInt(f.TypeID)
			writeInt(int64(f.Dimension))
			writeBool(f.ConstantPool)
		}
	}

	return h.Sum64()
}

// DumpOptions controls the schema listing.
type DumpOptions struct {
	// IDs includes chunk-local type ids. Leave unset when comparing the
	// schemas of different recordings.
	IDs bool
	// Builtins includes primitive and string types.
	Builtins bool
}

// Dump writes a textual schema listing ordered by type name.
func (r *Registry) Dump(w io.Writer, opts DumpOptions) error {
	types := slices.Clone(r.types)
	slices.SortFunc(types, func(a, b *Type) int { return strings.Compare(a.Name, b.Name) })

	var b strings.Builder

	for _, t := range types {
		if t.Kind.Primitive() && !opts.Builtins {
			continue
		}

		b.WriteString("class ")
		b.WriteString(t.Name)

		if t.Super != "" {
			b.WriteString(" extends ")
			b.WriteString(t.Super)
		}

		if t.Simple {
			b.WriteString(" simple")
		}

		if opts.IDs {
			fmt.Fprintf(&b, " #%d", t.ID)
		}

		b.WriteString(" {\n")

		for _, f := range t.Fields {
			b.WriteString("  ")
			b.WriteString(f.Type.Name)
			b.WriteString(strings.Repeat("[]", f.Dimension))
			b.WriteByte(' ')
			b.WriteString(f.RawName)

			if f.ConstantPool {
				b.WriteString(" @pool")
			}

			if unit := f.Unit(); unit != "" {
				fmt.Fprintf(&b, " @%s(%s)", f.contentTypeName(), unit)
			}

			b.WriteByte('\n')
		}

		b.WriteString("}\n")
	}

	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("write schema: %w", err)
	}

	return nil
}

func (f *Field) contentTypeName() string {
	a, _ := f.ContentType()
	if a.Type == nil {
		return ""
	}

	return a.Type.SimpleName()
}
