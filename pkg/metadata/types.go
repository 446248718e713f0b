// Package metadata decodes the schema block of a chunk into a registry of
// linked type descriptors.
package metadata

import "strings"

// Kind classifies the builtin value types that have a direct wire encoding.
type Kind uint8

// Builtin kinds. KindNone marks a composite type.
const (
	KindNone Kind = iota
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindString
)

var kindByName = map[string]Kind{
	"boolean":          KindBoolean,
	"byte":             KindByte,
	"char":             KindChar,
	"short":            KindShort,
	"int":              KindInt,
	"long":             KindLong,
	"float":            KindFloat,
	"double":           KindDouble,
	"java.lang.String": KindString,
}

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindByte:
		return "byte"
	case KindChar:
		return "char"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindNone:
		return "object"
	}

	return "unknown"
}

// Primitive reports whether values of kind k are read directly from the wire.
func (k Kind) Primitive() bool { return k != KindNone }

// Well-known annotation type names.
const (
	AnnotationLabel       = "jdk.jfr.Label"
	AnnotationDescription = "jdk.jfr.Description"
	AnnotationContentType = "jdk.jfr.ContentType"
	AnnotationTimestamp   = "jdk.jfr.Timestamp"
	AnnotationTimespan    = "jdk.jfr.Timespan"

	// TicksUnit is the Timestamp and Timespan value for tick-based fields.
	TicksUnit = "TICKS"

	eventSuperType = "jdk.jfr.Event"
)

// Annotation is one annotation element attached to a type or field.
type Annotation struct {
	TypeID int64
	// Type is nil when the annotation class is not declared in the chunk.
	Type  *Type
	Attrs []Attr
}

// Attr is an annotation attribute in declaration order.
type Attr struct {
	Key   string
	Value string
}

// Name returns the annotation type name, or "" when it is not declared.
func (a Annotation) Name() string {
	if a.Type == nil {
		return ""
	}

	return a.Type.Name
}

// Value returns the attribute named "value".
func (a Annotation) Value() string {
	v, _ := a.Attr("value")

	return v
}

// Attr returns the attribute named key.
func (a Annotation) Attr(key string) (string, bool) {
	for _, kv := range a.Attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return "", false
}

// Setting is a setting element declared by an event type.
type Setting struct {
	Name         string
	TypeID       int64
	DefaultValue string
}

// Field describes one field of a type.
type Field struct {
	// Name is a valid identifier derived from RawName.
	Name    string
	RawName string
	TypeID  int64
	Type    *Type
	// Dimension is the array depth; 0 for scalars.
	Dimension int
	// ConstantPool marks a field encoded as a constant-pool id.
	ConstantPool bool
	Annotations  []Annotation
}

// IsArray reports whether the field holds a sequence.
func (f *Field) IsArray() bool { return f.Dimension > 0 }

// Label returns the jdk.jfr.Label value of the field.
func (f *Field) Label() string { return annotationValue(f.Annotations, AnnotationLabel) }

// Description returns the jdk.jfr.Description value of the field.
func (f *Field) Description() string { return annotationValue(f.Annotations, AnnotationDescription) }

// ContentType returns the first annotation of the field whose own type is
// marked as a content type, such as jdk.jfr.Timestamp or jdk.jfr.DataAmount.
func (f *Field) ContentType() (Annotation, bool) {
	for _, a := range f.Annotations {
		if a.Type != nil && hasAnnotation(a.Type.Annotations, AnnotationContentType) {
			return a, true
		}
	}

	return Annotation{}, false
}

// Unit returns the value of the field's content-type annotation, for example
// "TICKS" or "BYTES".
func (f *Field) Unit() string {
	a, ok := f.ContentType()
	if !ok {
		return ""
	}

	return a.Value()
}

// IsTicks reports whether the field is a timestamp or timespan in ticks.
func (f *Field) IsTicks() bool {
	a, ok := f.ContentType()
	if !ok {
		return false
	}

	name := a.Name()

	return (name == AnnotationTimestamp || name == AnnotationTimespan) && a.Value() == TicksUnit
}

// Type describes one type declared in a chunk's metadata.
type Type struct {
	ID   int64
	Name string
	// Super is the declared supertype name; SuperType is set when that type
	// is itself declared in the chunk.
	Super     string
	SuperType *Type
	// Simple marks a single-field transparent wrapper.
	Simple      bool
	Kind        Kind
	Fields      []Field
	Annotations []Annotation
	Settings    []Setting
}

// IsEvent reports whether the type is an event type.
func (t *Type) IsEvent() bool { return t.Super == eventSuperType }

// Field returns the field named name, matching either the sanitized or the
// raw name.
func (t *Type) Field(name string) (*Field, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name || t.Fields[i].RawName == name {
			return &t.Fields[i], true
		}
	}

	return nil, false
}

// Label returns the jdk.jfr.Label value of the type.
func (t *Type) Label() string { return annotationValue(t.Annotations, AnnotationLabel) }

// Description returns the jdk.jfr.Description value of the type.
func (t *Type) Description() string { return annotationValue(t.Annotations, AnnotationDescription) }

// SimpleName returns the last dotted component of the type name.
func (t *Type) SimpleName() string {
	if i := strings.LastIndexByte(t.Name, '.'); i >= 0 {
		return t.Name[i+1:]
	}

	return t.Name
}

func annotationValue(anns []Annotation, name string) string {
	for _, a := range anns {
		if a.Name() == name {
			return a.Value()
		}
	}

	return ""
}

func hasAnnotation(anns []Annotation, name string) bool {
	for _, a := range anns {
		if a.Name() == name {
			return true
		}
	}

	return false
}
