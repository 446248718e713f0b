package value

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Resolver materializes constant-pool entries.
type Resolver interface {
	// Resolve returns the value of entry id in the pool of typeID. A missing
	// entry yields an Unresolved value, not an error.
	Resolve(typeID, id int64) (any, error)
}

// Reference is a constant-pool pointer resolved on first use. It stays
// valid while the recording bytes it was decoded from are alive.
type Reference struct {
	TypeID   int64
	TypeName string
	ID       int64

	res  Resolver
	once sync.Once
	val  any
	err  error

	// encoding guards against cyclic pool graphs during marshaling.
	encoding atomic.Bool
}

// NewReference returns a lazy reference to entry id of typeID.
func NewReference(typeID int64, typeName string, id int64, res Resolver) *Reference {
	return &Reference{TypeID: typeID, TypeName: typeName, ID: id, res: res}
}

// Resolve returns the referenced value, decoding it on the first call.
func (r *Reference) Resolve() (any, error) {
	r.once.Do(func() {
		if r.res == nil {
			r.val = Unresolved{TypeID: r.TypeID, TypeName: r.TypeName, ID: r.ID}

			return
		}

		r.val, r.err = r.res.Resolve(r.TypeID, r.ID)
	})

	return r.val, r.err
}

// Value returns the referenced value. A decode failure yields an Unresolved
// sentinel; use Resolve to observe the error.
func (r *Reference) Value() any {
	v, err := r.Resolve()
	if err != nil {
		return Unresolved{TypeID: r.TypeID, TypeName: r.TypeName, ID: r.ID}
	}

	return v
}

// Object returns the referenced value when it is a composite.
func (r *Reference) Object() (*Object, bool) {
	o, ok := r.Value().(*Object)

	return o, ok
}

func (r *Reference) String() string {
	return fmt.Sprintf("%s#%d", r.TypeName, r.ID)
}

// MarshalJSON encodes the referenced value. A reference met again while it
// is being encoded is written as a marker object.
func (r *Reference) MarshalJSON() ([]byte, error) {
	if !r.encoding.CompareAndSwap(false, true) {
		return fmt.Appendf(nil, `{"$ref":%q,"id":%d}`, r.TypeName, r.ID), nil
	}
	defer r.encoding.Store(false)

	v, err := r.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", r, err)
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r, err)
	}

	return out, nil
}

// MarshalYAML encodes the referenced value.
func (r *Reference) MarshalYAML() (any, error) {
	if !r.encoding.CompareAndSwap(false, true) {
		return map[string]any{"$ref": r.TypeName, "id": r.ID}, nil
	}
	defer r.encoding.Store(false)

	v, err := r.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", r, err)
	}

	// Encode while the guard is held; a returned value is encoded later.
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r, err)
	}

	return &node, nil
}

// Deref follows references to the value they point at.
func Deref(v any) any {
	for {
		ref, ok := v.(*Reference)
		if !ok {
			return v
		}

		v = ref.Value()
	}
}
