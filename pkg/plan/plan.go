// Package plan compiles type descriptors into flat decode and skip
// programs and executes them over a cursor.
package plan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
)

// Mode selects what a plan does with the bytes it covers.
type Mode uint8

const (
	// ModeSkip plans only advance the cursor.
	ModeSkip Mode = iota
	// ModeFull plans materialize values.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}

	return "skip"
}

// OpKind enumerates plan operations.
type OpKind uint8

// Operation kinds.
const (
	// OpPrimitive reads or skips one builtin scalar.
	OpPrimitive OpKind = iota
	// OpText reads one tagged text value.
	OpText
	// OpArray reads a count followed by that many Elem values.
	OpArray
	// OpNested reads an inline value of another plan.
	OpNested
	// OpPoolRef reads a constant-pool id.
	OpPoolRef
	// OpSkipFixed skips a run of fixed-width fields.
	OpSkipFixed
	// OpSkipText skips one tagged text value.
	OpSkipText
)

func (k OpKind) String() string {
	switch k {
	case OpPrimitive:
		return "primitive"
	case OpText:
		return "text"
	case OpArray:
		return "array"
	case OpNested:
		return "nested"
	case OpPoolRef:
		return "poolref"
	case OpSkipFixed:
		return "skipfixed"
	case OpSkipText:
		return "skiptext"
	}

	return "unknown"
}

// Op is one step of a plan.
type Op struct {
	Kind OpKind
	// Field is the field the op reads; nil for array elements and
	// coalesced skips.
	Field *metadata.Field
	// Prim is the scalar kind of OpPrimitive.
	Prim metadata.Kind
	// Width is the byte count of OpSkipFixed.
	Width int
	// Fields lists the fields covered by OpSkipFixed.
	Fields []*metadata.Field
	// Elem is the element op of OpArray.
	Elem *Op
	// Nested is the inline plan of OpNested.
	Nested *Plan
	// Target is the referenced pool type of OpPoolRef.
	Target *metadata.Type
}

// Name returns the field name the op reads, or "".
func (o *Op) Name() string {
	if o.Field == nil {
		return ""
	}

	return o.Field.Name
}

// Plan is the compiled program for one type in one mode. Plans are
// immutable once compiled and safe for concurrent use.
type Plan struct {
	Type *metadata.Type
	Mode Mode
	Ops  []Op

	// bindings maps a Go struct type to its per-op field indexes. It lives
	// and dies with the plan.
	bindings sync.Map
}

// Simple reports whether values of the plan unwrap to their single field.
func (p *Plan) Simple() bool { return p.Type.Simple }

// Sentinel errors for plan compilation and execution.
var (
	// ErrUnknownType indicates a type id missing from the registry.
	ErrUnknownType = errors.New("unknown type id")
	// ErrTooDeep indicates inline nesting beyond the executor limit.
	ErrTooDeep = errors.New("value nesting too deep")
)

// maxDepth bounds inline nesting during execution. Self-referential inline
// types can otherwise recurse without consuming input.
const maxDepth = 256

// FieldDecodeError reports the field being decoded when a read failed.
type FieldDecodeError struct {
	Type  string
	Field string
	Pos   int
	Err   error
}

func (e *FieldDecodeError) Error() string {
	return fmt.Sprintf("decode %s.%s at %d: %v", e.Type, e.Field, e.Pos, e.Err)
}

func (e *FieldDecodeError) Unwrap() error { return e.Err }

// fieldError wraps err unless it already names a field.
func fieldError(p *Plan, op *Op, pos int, err error) error {
	var fe *FieldDecodeError
	if errors.As(err, &fe) {
		return err
	}

	name := op.Name()
	if name == "" && len(op.Fields) > 0 {
		name = op.Fields[0].Name
	}

	return &FieldDecodeError{Type: p.Type.Name, Field: name, Pos: pos, Err: err}
}

type compileKey struct {
	id   int64
	mode Mode
}

// Compiler builds plans for the types of one registry. It memoizes per
// (type, mode) and is not safe for concurrent use.
type Compiler struct {
	reg   *metadata.Registry
	plans map[compileKey]*Plan
}

// NewCompiler returns a compiler over reg.
func NewCompiler(reg *metadata.Registry) *Compiler {
	return &Compiler{reg: reg, plans: make(map[compileKey]*Plan)}
}

// Registry returns the registry the compiler reads.
func (c *Compiler) Registry() *metadata.Registry { return c.reg }

// Compile returns the plan for typeID in mode. A plan is registered before
// its ops are filled, so cyclic inline graphs terminate.
func (c *Compiler) Compile(typeID int64, mode Mode) (*Plan, error) {
	key := compileKey{id: typeID, mode: mode}
	if p, ok := c.plans[key]; ok {
		return p, nil
	}

	t, ok := c.reg.ByID(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}

	p := &Plan{Type: t, Mode: mode}
	c.plans[key] = p

	if t.Kind.Primitive() {
		p.Ops = []Op{c.scalarOp(nil, t, mode)}

		return p, nil
	}

	ops := make([]Op, 0, len(t.Fields))

	for i := range t.Fields {
		f := &t.Fields[i]

		op, err := c.fieldOp(f, f.Dimension, mode)
		if err != nil {
			delete(c.plans, key)

			return nil, fmt.Errorf("compile %s.%s: %w", t.Name, f.Name, err)
		}

		op.Field = f
		ops = append(ops, op)
	}

	if mode == ModeSkip {
		ops = coalesce(ops)
	}

	p.Ops = ops

	return p, nil
}

func (c *Compiler) fieldOp(f *metadata.Field, dim int, mode Mode) (Op, error) {
	if dim > 0 {
		elem, err := c.fieldOp(f, dim-1, mode)
		if err != nil {
			return Op{}, err
		}

		return Op{Kind: OpArray, Elem: &elem}, nil
	}

	if f.ConstantPool {
		return Op{Kind: OpPoolRef, Target: f.Type}, nil
	}

	if f.Type.Kind.Primitive() {
		return c.scalarOp(f, f.Type, mode), nil
	}

	nested, err := c.Compile(f.TypeID, mode)
	if err != nil {
		return Op{}, err
	}

	return Op{Kind: OpNested, Nested: nested}, nil
}

func (c *Compiler) scalarOp(f *metadata.Field, t *metadata.Type, mode Mode) Op {
	if t.Kind == metadata.KindString {
		if mode == ModeSkip {
			return Op{Kind: OpSkipText, Field: f}
		}

		return Op{Kind: OpText, Field: f, Prim: t.Kind}
	}

	if mode == ModeSkip {
		if w := fixedWidth(t.Kind); w > 0 {
			op := Op{Kind: OpSkipFixed, Width: w}
			if f != nil {
				op.Fields = []*metadata.Field{f}
			}

			return op
		}
	}

	return Op{Kind: OpPrimitive, Field: f, Prim: t.Kind}
}

// fixedWidth returns the encoded size of kinds whose width does not depend
// on integer compression.
func fixedWidth(k metadata.Kind) int {
	switch k {
	case metadata.KindBoolean, metadata.KindByte:
		return 1
	case metadata.KindFloat:
		return 4
	case metadata.KindDouble:
		return 8
	default:
		return 0
	}
}

// intWidth returns the uncompressed width of an integer kind.
func intWidth(k metadata.Kind) int {
	switch k {
	case metadata.KindShort, metadata.KindChar:
		return 2
	case metadata.KindInt:
		return 4
	default:
		return 8
	}
}

// coalesce merges adjacent fixed-width skips into one op.
func coalesce(ops []Op) []Op {
	out := ops[:0]

	for _, op := range ops {
		if op.Kind == OpSkipFixed && len(out) > 0 && out[len(out)-1].Kind == OpSkipFixed {
			last := &out[len(out)-1]
			last.Width += op.Width
			last.Fields = append(last.Fields, op.Fields...)

			continue
		}

		if op.Kind == OpSkipFixed {
			op.Field = nil
		}

		out = append(out, op)
	}

	return out
}
