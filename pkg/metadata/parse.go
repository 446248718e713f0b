package metadata

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Sumatoshi-tech/flightrec/pkg/chunk"
	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
)

// Sentinel errors for metadata decoding.
var (
	// ErrNotMetadata indicates the header's metadata pointer does not address
	// a metadata record.
	ErrNotMetadata = errors.New("record is not a metadata record")
	// ErrBadElement indicates a structurally invalid element tree.
	ErrBadElement = errors.New("malformed metadata element")
	// ErrUnknownType indicates a reference to a type id that is not declared.
	ErrUnknownType = errors.New("reference to undeclared type")
	// ErrDuplicateType indicates two classes declaring the same id or name.
	ErrDuplicateType = errors.New("duplicate type declaration")
)

// maxElementDepth bounds element nesting. Real trees are five levels deep.
const maxElementDepth = 32

const recordTypeMetadata = 0

// Element and attribute names of the schema tree.
const (
	elemMetadata   = "metadata"
	elemRegion     = "region"
	elemClass      = "class"
	elemField      = "field"
	elemAnnotation = "annotation"
	elemSetting    = "setting"

	attrID           = "id"
	attrName         = "name"
	attrSuperType    = "superType"
	attrSimpleType   = "simpleType"
	attrClass        = "class"
	attrDimension    = "dimension"
	attrConstantPool = "constantPool"
	attrDefaultValue = "defaultValue"
)

// element is one node of the raw schema tree.
type element struct {
	name     string
	attrs    []Attr
	children []*element
}

func (e *element) attr(key string) string {
	for _, kv := range e.attrs {
		if kv.Key == key {
			return kv.Value
		}
	}

	return ""
}

// Header carries the metadata record prologue.
type Header struct {
	StartTicks    int64
	DurationTicks int64
	ID            int64
}

// Parse decodes the metadata record the descriptor points at. c must span
// the chunk.
func Parse(c *cursor.Cursor, d chunk.Descriptor) (*Registry, error) {
	rc, err := c.Sub(int(d.MetadataPos()), int(d.End()))
	if err != nil {
		return nil, fmt.Errorf("metadata record: %w", err)
	}

	start := rc.Pos()

	size, err := rc.Int()
	if err != nil {
		return nil, fmt.Errorf("metadata record size: %w", err)
	}

	if size <= 0 {
		return nil, fmt.Errorf("%w: record size %d at %d", cursor.ErrMalformed, size, start)
	}

	rc, err = rc.Sub(rc.Pos(), start+int(size))
	if err != nil {
		return nil, fmt.Errorf("metadata record: %w", err)
	}

	typeID, err := rc.Long()
	if err != nil {
		return nil, fmt.Errorf("metadata record type: %w", err)
	}

	if typeID != recordTypeMetadata {
		return nil, fmt.Errorf("%w: type id %d at %d", ErrNotMetadata, typeID, start)
	}

	var hdr Header

	for _, dst := range []*int64{&hdr.StartTicks, &hdr.DurationTicks, &hdr.ID} {
		if *dst, err = rc.Long(); err != nil {
			return nil, fmt.Errorf("metadata prologue: %w", err)
		}
	}

	strs, err := readStrings(rc)
	if err != nil {
		return nil, err
	}

	root, err := readElement(rc, strs, 0)
	if err != nil {
		return nil, err
	}

	reg, err := build(root)
	if err != nil {
		return nil, err
	}

	reg.Header = hdr

	return reg, nil
}

func readStrings(c *cursor.Cursor) ([]string, error) {
	n, err := c.Int()
	if err != nil {
		return nil, fmt.Errorf("string table size: %w", err)
	}

	if n < 0 || int(n) > c.Remaining() {
		return nil, fmt.Errorf("%w: string table of %d entries", cursor.ErrMalformed, n)
	}

	strs := make([]string, n)

	for i := range strs {
		s, _, textErr := c.Text(nil)
		if textErr != nil {
			return nil, fmt.Errorf("string table entry %d: %w", i, textErr)
		}

		strs[i] = s
	}

	return strs, nil
}

func readElement(c *cursor.Cursor, strs []string, depth int) (*element, error) {
	if depth > maxElementDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrBadElement, maxElementDepth)
	}

	name, err := readIndexed(c, strs)
	if err != nil {
		return nil, err
	}

	e := &element{name: name}

	nattrs, err := readCount(c)
	if err != nil {
		return nil, err
	}

	e.attrs = make([]Attr, 0, nattrs)

	for range nattrs {
		k, keyErr := readIndexed(c, strs)
		if keyErr != nil {
			return nil, keyErr
		}

		v, valErr := readIndexed(c, strs)
		if valErr != nil {
			return nil, valErr
		}

		e.attrs = append(e.attrs, Attr{Key: k, Value: v})
	}

	nchildren, err := readCount(c)
	if err != nil {
		return nil, err
	}

	e.children = make([]*element, 0, nchildren)

	for range nchildren {
		child, childErr := readElement(c, strs, depth+1)
		if childErr != nil {
			return nil, childErr
		}

		e.children = append(e.children, child)
	}

	return e, nil
}

func readIndexed(c *cursor.Cursor, strs []string) (string, error) {
	idx, err := c.Int()
	if err != nil {
		return "", fmt.Errorf("element string index: %w", err)
	}

	if idx < 0 || int(idx) >= len(strs) {
		return "", fmt.Errorf("%w: string index %d outside table of %d", ErrBadElement, idx, len(strs))
	}

	return strs[idx], nil
}

func readCount(c *cursor.Cursor) (int, error) {
	n, err := c.Int()
	if err != nil {
		return 0, fmt.Errorf("element count: %w", err)
	}

	// Every entry takes at least one byte.
	if n < 0 || int(n) > c.Remaining() {
		return 0, fmt.Errorf("%w: count %d at %d", ErrBadElement, n, c.Pos())
	}

	return int(n), nil
}

// build links the raw tree into a registry. The first pass registers every
// class by id; the second resolves field, supertype and annotation
// references by lookup, so self-referential schemas never recurse.
func build(root *element) (*Registry, error) {
	reg := newRegistry()

	var classes []*element

	for _, top := range root.children {
		switch top.name {
		case elemMetadata:
			for _, ce := range top.children {
				if ce.name == elemClass {
					classes = append(classes, ce)
				}
			}
		case elemRegion:
			reg.Region = append(reg.Region, top.attrs...)
		}
	}

	for _, ce := range classes {
		t, err := declareType(ce)
		if err != nil {
			return nil, err
		}

		if err := reg.add(t); err != nil {
			return nil, err
		}
	}

	for _, ce := range classes {
		if err := reg.link(ce); err != nil {
			return nil, err
		}
	}

	reg.seal()

	return reg, nil
}

func declareType(ce *element) (*Type, error) {
	id, err := strconv.ParseInt(ce.attr(attrID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: class id %q", ErrBadElement, ce.attr(attrID))
	}

	name := ce.attr(attrName)
	if name == "" {
		return nil, fmt.Errorf("%w: class %d without a name", ErrBadElement, id)
	}

	return &Type{
		ID:     id,
		Name:   name,
		Super:  ce.attr(attrSuperType),
		Simple: ce.attr(attrSimpleType) == "true",
		Kind:   kindByName[name],
	}, nil
}

func (r *Registry) link(ce *element) error {
	t := r.byName[ce.attr(attrName)]

	if t.Super != "" {
		t.SuperType = r.byName[t.Super]
	}

	used := make(map[string]bool)

	for _, child := range ce.children {
		switch child.name {
		case elemField:
			f, err := r.linkField(t, child)
			if err != nil {
				return err
			}

			if used[f.Name] {
				f.Name = fmt.Sprintf("%s_%d", f.Name, len(t.Fields))
			}

			used[f.Name] = true
			t.Fields = append(t.Fields, f)
		case elemAnnotation:
			t.Annotations = append(t.Annotations, r.linkAnnotation(child))
		case elemSetting:
			sid, _ := strconv.ParseInt(child.attr(attrClass), 10, 64)
			t.Settings = append(t.Settings, Setting{
				Name:         child.attr(attrName),
				TypeID:       sid,
				DefaultValue: child.attr(attrDefaultValue),
			})
		}
	}

	if t.Simple && len(t.Fields) != 1 {
		t.Simple = false
	}

	return nil
}

func (r *Registry) linkField(owner *Type, fe *element) (Field, error) {
	raw := fe.attr(attrName)

	typeID, err := strconv.ParseInt(fe.attr(attrClass), 10, 64)
	if err != nil {
		return Field{}, fmt.Errorf("%w: field %s.%s class %q", ErrBadElement, owner.Name, raw, fe.attr(attrClass))
	}

	ft, ok := r.byID[typeID]
	if !ok {
		return Field{}, fmt.Errorf("%w: field %s.%s references id %d", ErrUnknownType, owner.Name, raw, typeID)
	}

	f := Field{
		Name:         SanitizeName(raw),
		RawName:      raw,
		TypeID:       typeID,
		Type:         ft,
		ConstantPool: fe.attr(attrConstantPool) == "true",
	}

	if dim := fe.attr(attrDimension); dim != "" {
		n, dimErr := strconv.Atoi(dim)
		if dimErr != nil || n < 0 {
			return Field{}, fmt.Errorf("%w: field %s.%s dimension %q", ErrBadElement, owner.Name, raw, dim)
		}

		f.Dimension = n
	}

	for _, child := range fe.children {
		if child.name == elemAnnotation {
			f.Annotations = append(f.Annotations, r.linkAnnotation(child))
		}
	}

	return f, nil
}

func (r *Registry) linkAnnotation(ae *element) Annotation {
	id, _ := strconv.ParseInt(ae.attr(attrClass), 10, 64)

	a := Annotation{TypeID: id, Type: r.byID[id]}

	for _, kv := range ae.attrs {
		if kv.Key != attrClass {
			a.Attrs = append(a.Attrs, kv)
		}
	}

	return a
}
