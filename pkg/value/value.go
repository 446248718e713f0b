// Package value holds the generic representation of decoded values: ordered
// field containers, sequences and lazily resolved constant-pool references.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/elliotchance/orderedmap/v3"
	"gopkg.in/yaml.v3"
)

// Object is an ordered field container for one decoded composite value.
// Field values are nil, bool, int8, rune, int16, int32, int64, float32,
// float64, string, *Object, *Sequence, *Reference or Unresolved.
type Object struct {
	TypeID   int64
	TypeName string

	fields *orderedmap.OrderedMap[string, any]
}

// NewObject returns an empty object sized for n fields.
func NewObject(typeID int64, typeName string, n int) *Object {
	return &Object{
		TypeID:   typeID,
		TypeName: typeName,
		fields:   orderedmap.NewOrderedMapWithCapacity[string, any](n),
	}
}

// Set assigns a field, appending it when new.
func (o *Object) Set(name string, v any) { o.fields.Set(name, v) }

// Get returns a field value.
func (o *Object) Get(name string) (any, bool) { return o.fields.Get(name) }

// Len returns the number of fields.
func (o *Object) Len() int { return o.fields.Len() }

// Keys returns the field names in declaration order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.fields.Len())
	for el := o.fields.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}

	return keys
}

// All iterates fields in declaration order.
func (o *Object) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for el := o.fields.Front(); el != nil; el = el.Next() {
			if !yield(el.Key, el.Value) {
				return
			}
		}
	}
}

// Int64 returns an integer field widened to int64.
func (o *Object) Int64(name string) (int64, bool) {
	v, ok := o.fields.Get(name)
	if !ok {
		return 0, false
	}

	return AsInt64(v)
}

// String returns a text field. Null text reports false.
func (o *Object) String(name string) (string, bool) {
	v, ok := o.fields.Get(name)
	if !ok {
		return "", false
	}

	s, ok := Deref(v).(string)

	return s, ok
}

// MarshalJSON encodes the fields as a JSON object in declaration order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	first := true

	for k, v := range o.All() {
		if !first {
			buf.WriteByte(',')
		}

		first = false

		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", k, err)
		}

		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s.%s: %w", o.TypeName, k, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// MarshalYAML encodes the fields as a YAML mapping in declaration order.
func (o *Object) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	for k, v := range o.All() {
		var val yaml.Node
		if err := val.Encode(v); err != nil {
			return nil, fmt.Errorf("encode field %s.%s: %w", o.TypeName, k, err)
		}

		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	}

	return node, nil
}

// Sequence wraps the elements of an array field.
type Sequence struct {
	// Elem is the element type name.
	Elem  string
	Items []any
}

// Len returns the number of elements.
func (s *Sequence) Len() int { return len(s.Items) }

// At returns element i.
func (s *Sequence) At(i int) any { return s.Items[i] }

// MarshalJSON encodes the elements as a JSON array.
func (s *Sequence) MarshalJSON() ([]byte, error) {
	if s.Items == nil {
		return []byte("[]"), nil
	}

	out, err := json.Marshal(s.Items)
	if err != nil {
		return nil, fmt.Errorf("encode %s sequence: %w", s.Elem, err)
	}

	return out, nil
}

// MarshalYAML encodes the elements as a YAML sequence.
func (s *Sequence) MarshalYAML() (any, error) {
	if s.Items == nil {
		return []any{}, nil
	}

	return s.Items, nil
}

// Unresolved stands in for a constant-pool reference whose id has no entry.
type Unresolved struct {
	TypeID   int64
	TypeName string
	ID       int64
}

func (u Unresolved) String() string {
	return fmt.Sprintf("unresolved %s#%d", u.TypeName, u.ID)
}

// MarshalJSON encodes the dangling reference as a marker object.
func (u Unresolved) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, `{"$unresolved":%q,"id":%d}`, u.TypeName, u.ID), nil
}

// IsUnresolved reports whether v is, or a reference resolving to, an
// Unresolved sentinel.
func IsUnresolved(v any) bool {
	_, ok := Deref(v).(Unresolved)

	return ok
}

// AsInt64 widens any integer value to int64.
func AsInt64(v any) (int64, bool) {
	switch n := Deref(v).(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case bool:
		if n {
			return 1, true
		}

		return 0, true
	}

	return 0, false
}
