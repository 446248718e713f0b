package plan

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// ErrBindType indicates a decoded value that does not fit the Go field it
// is bound to.
var ErrBindType = errors.New("cannot bind value to Go type")

// bindTag is the struct tag naming the wire field of a Go field.
const bindTag = "jfr"

// TypedResolver extends Resolver with shared typed pool values.
type TypedResolver interface {
	Resolver
	// Typed returns a pointer to the Go value of entry id of typeID bound to
	// typ. On first use it allocates the pointer, memoizes it, then calls
	// fill with a cursor at the entry value, the entry's full plan and the
	// pointee. ok is false when the entry does not exist.
	Typed(typeID, id int64, typ reflect.Type, fill FillFunc) (ptr reflect.Value, ok bool, err error)
}

// FillFunc decodes one value of p from c into dst.
type FillFunc func(c *cursor.Cursor, p *Plan, dst reflect.Value) error

var (
	objectType    = reflect.TypeFor[*value.Object]()
	sequenceType  = reflect.TypeFor[*value.Sequence]()
	referenceType = reflect.TypeFor[*value.Reference]()
)

// fieldMap maps lower-cased wire names to Go struct field indexes.
type fieldMap map[string][]int

var fieldMaps sync.Map // reflect.Type -> fieldMap

func structFields(t reflect.Type) fieldMap {
	if fm, ok := fieldMaps.Load(t); ok {
		return fm.(fieldMap) //nolint:forcetypeassert // only fieldMap is stored.
	}

	fm := make(fieldMap, t.NumField())

	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}

		name := sf.Name

		if tag, ok := sf.Tag.Lookup(bindTag); ok {
			if tag == "-" {
				continue
			}

			name, _, _ = strings.Cut(tag, ",")
		}

		fm[strings.ToLower(name)] = sf.Index
		fm[strings.ToLower(metadata.SanitizeName(name))] = sf.Index
	}

	actual, _ := fieldMaps.LoadOrStore(t, fm)

	return actual.(fieldMap) //nolint:forcetypeassert // only fieldMap is stored.
}

// lookup finds the Go field for a wire field by sanitized or raw name.
func (fm fieldMap) lookup(name, raw string) ([]int, bool) {
	if idx, ok := fm[strings.ToLower(name)]; ok {
		return idx, true
	}

	idx, ok := fm[strings.ToLower(raw)]

	return idx, ok
}

// generic reports whether dst receives generic values unchanged.
func generic(t reflect.Type) bool {
	return t.Kind() == reflect.Interface || t == objectType || t == sequenceType || t == referenceType
}

// settle allocates through pointers and returns the addressable target.
func settle(dst reflect.Value) reflect.Value {
	for dst.Kind() == reflect.Pointer && !generic(dst.Type()) {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}

		dst = dst.Elem()
	}

	return dst
}

// setGeneric stores v in a generic destination.
func setGeneric(dst reflect.Value, v any) error {
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("%w: %T into %s", ErrBindType, v, dst.Type())
	}

	dst.Set(rv)

	return nil
}

// setScalar stores a primitive or text value in dst, converting between
// numeric widths. A nil value leaves dst untouched.
func setScalar(dst reflect.Value, v any) error {
	if v == nil {
		return nil
	}

	if generic(dst.Type()) {
		return setGeneric(dst, v)
	}

	dst = settle(dst)

	switch dst.Kind() {
	case reflect.Bool:
		if b, ok := v.(bool); ok {
			dst.SetBool(b)

			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n, ok := value.AsInt64(v); ok && !dst.OverflowInt(n) {
			dst.SetInt(n)

			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n, ok := value.AsInt64(v); ok {
			dst.SetUint(uint64(n)) //nolint:gosec // bit pattern of unsigned wire values.

			return nil
		}
	case reflect.Float32, reflect.Float64:
		switch f := v.(type) {
		case float32:
			dst.SetFloat(float64(f))

			return nil
		case float64:
			dst.SetFloat(f)

			return nil
		}

		if n, ok := value.AsInt64(v); ok {
			dst.SetFloat(float64(n))

			return nil
		}
	case reflect.String:
		switch s := v.(type) {
		case string:
			dst.SetString(s)
		case rune:
			dst.SetString(string(s))
		default:
			dst.SetString(fmt.Sprint(v))
		}

		return nil
	default:
	}

	return fmt.Errorf("%w: %T into %s", ErrBindType, v, dst.Type())
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

// bindRef stores a constant-pool reference in dst. Integer destinations
// receive the raw id; generic ones a lazy reference; anything else the
// shared typed pool value.
func bindRef(res TypedResolver, typeID int64, typeName string, id int64, dst reflect.Value, fill FillFunc) error {
	t := dst.Type()

	switch {
	case generic(t):
		return setGeneric(dst, value.NewReference(typeID, typeName, id, res))
	case isInteger(t.Kind()):
		return setScalar(dst, id)
	case res == nil:
		return nil
	}

	target := t
	if t.Kind() == reflect.Pointer {
		target = t.Elem()
	}

	ptr, ok, err := res.Typed(typeID, id, target, fill)
	if err != nil || !ok {
		return err
	}

	if t.Kind() == reflect.Pointer {
		dst.Set(ptr)
	} else {
		dst.Set(ptr.Elem())
	}

	return nil
}
