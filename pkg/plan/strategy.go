package plan

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// Strategy names accepted by SelectStrategy.
const (
	StrategyAuto        = "auto"
	StrategyDirect      = "direct"
	StrategyInterpreter = "interpreter"
)

// ErrUnknownStrategy indicates an unrecognized strategy name.
var ErrUnknownStrategy = errors.New("unknown decode strategy")

// Strategy executes full plans into caller-defined Go values.
type Strategy interface {
	Name() string
	// Decode reads one value of p from c into dst, which must be settable.
	Decode(c *cursor.Cursor, p *Plan, res TypedResolver, dst reflect.Value) error
}

type candidate struct {
	name  string
	build func() Strategy
	probe func() error
}

// candidates are ordered by preference. The interpreter works everywhere.
var candidates = []candidate{
	{name: StrategyDirect, build: newDirect, probe: probeDirect},
	{name: StrategyInterpreter, build: newInterpreter, probe: func() error { return nil }},
}

// probed memoizes the automatic selection for the process.
var probed = sync.OnceValue(func() Strategy {
	for _, cand := range candidates {
		if cand.probe() == nil {
			return cand.build()
		}
	}

	return newInterpreter()
})

// SelectStrategy returns the named strategy. An empty name or "auto" returns
// the first candidate whose probe succeeds, probing once per process.
func SelectStrategy(name string) (Strategy, error) {
	if name == "" || name == StrategyAuto {
		return probed(), nil
	}

	for _, cand := range candidates {
		if cand.name == name {
			if err := cand.probe(); err != nil {
				return nil, fmt.Errorf("strategy %s unavailable: %w", name, err)
			}

			return cand.build(), nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// direct binds Go struct fields by index straight from the cursor. It is
// stateless; field bindings are cached on each plan.
type direct struct{}

// fieldBinding is the Go field index for one plan op; nil skips the op.
type fieldBinding []int

func newDirect() Strategy { return &direct{} }

func probeDirect() error {
	var target struct{ V int64 }

	f := reflect.ValueOf(&target).Elem().Field(0)
	if !f.CanSet() {
		return fmt.Errorf("%w: reflective field assignment unavailable", ErrBindType)
	}

	if err := setScalar(f, int32(7)); err != nil {
		return err
	}

	if target.V != 7 {
		return fmt.Errorf("%w: reflective assignment lost the value", ErrBindType)
	}

	return nil
}

func (d *direct) Name() string { return StrategyDirect }

func (d *direct) Decode(c *cursor.Cursor, p *Plan, res TypedResolver, dst reflect.Value) error {
	if p.Mode != ModeFull {
		return fmt.Errorf("%w: %s", ErrSkipPlan, p.Type.Name)
	}

	return d.decodePlan(c, p, res, dst, 0)
}

func (d *direct) fill(res TypedResolver) FillFunc {
	return func(c *cursor.Cursor, p *Plan, dst reflect.Value) error {
		return d.decodePlan(c, p, res, dst, 0)
	}
}

func binding(p *Plan, t reflect.Type) []fieldBinding {
	if b, ok := p.bindings.Load(t); ok {
		return b.([]fieldBinding) //nolint:forcetypeassert // only bindings are stored.
	}

	fm := structFields(t)
	b := make([]fieldBinding, len(p.Ops))

	for i := range p.Ops {
		f := p.Ops[i].Field
		if f == nil {
			continue
		}

		if idx, ok := fm.lookup(f.Name, f.RawName); ok {
			b[i] = idx
		}
	}

	actual, _ := p.bindings.LoadOrStore(t, b)

	return actual.([]fieldBinding) //nolint:forcetypeassert // only bindings are stored.
}

func (d *direct) decodePlan(c *cursor.Cursor, p *Plan, res TypedResolver, dst reflect.Value, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: %s", ErrTooDeep, p.Type.Name)
	}

	if generic(dst.Type()) {
		v, err := interpPlan(c, p, res, depth)
		if err != nil {
			return err
		}

		return setGeneric(dst, v)
	}

	dst = settle(dst)

	if p.Type.Kind.Primitive() || (p.Simple() && dst.Kind() != reflect.Struct) {
		op := &p.Ops[0]
		at := c.Pos()

		if err := d.decodeOp(c, op, res, dst, depth); err != nil {
			return fieldError(p, op, at, err)
		}

		return nil
	}

	if dst.Kind() != reflect.Struct {
		return fmt.Errorf("%w: %s into %s", ErrBindType, p.Type.Name, dst.Type())
	}

	b := binding(p, dst.Type())

	for i := range p.Ops {
		op := &p.Ops[i]
		at := c.Pos()

		var err error
		if b[i] == nil {
			err = skipOp(c, op, depth)
		} else {
			err = d.decodeOp(c, op, res, dst.FieldByIndex(b[i]), depth)
		}

		if err != nil {
			return fieldError(p, op, at, err)
		}
	}

	return nil
}

func (d *direct) decodeOp(c *cursor.Cursor, op *Op, res TypedResolver, dst reflect.Value, depth int) error {
	if generic(dst.Type()) && op.Kind != OpPoolRef {
		v, err := interpOp(c, op, res, depth)
		if err != nil {
			return err
		}

		return setGeneric(dst, v)
	}

	switch op.Kind {
	case OpPrimitive:
		v, err := ReadPrimitive(c, op.Prim)
		if err != nil {
			return err
		}

		return setScalar(dst, v)
	case OpText:
		var pool cursor.StringPool
		if res != nil {
			pool = res.String
		}

		s, present, err := c.Text(pool)
		if err != nil || !present {
			return err
		}

		return setScalar(dst, s)
	case OpPoolRef:
		id, err := c.Long()
		if err != nil {
			return err
		}

		return bindRef(res, op.Target.ID, op.Target.Name, id, dst, d.fill(res))
	case OpNested:
		return d.decodePlan(c, op.Nested, res, dst, depth+1)
	case OpArray:
		return d.decodeArray(c, op, res, dst, depth)
	case OpSkipFixed, OpSkipText:
		return ErrSkipPlan
	}

	return fmt.Errorf("%w: op %s", cursor.ErrMalformed, op.Kind)
}

func (d *direct) decodeArray(c *cursor.Cursor, op *Op, res TypedResolver, dst reflect.Value, depth int) error {
	n, err := arrayLen(c, op.Elem)
	if err != nil {
		return err
	}

	dst = settle(dst)

	switch dst.Kind() {
	case reflect.Slice:
		out := reflect.MakeSlice(dst.Type(), n, n)

		for i := range n {
			if err := d.decodeOp(c, op.Elem, res, out.Index(i), depth+1); err != nil {
				return err
			}
		}

		dst.Set(out)

		return nil
	case reflect.Array:
		for i := range n {
			if i >= dst.Len() {
				err = skipOp(c, op.Elem, depth+1)
			} else {
				err = d.decodeOp(c, op.Elem, res, dst.Index(i), depth+1)
			}

			if err != nil {
				return err
			}
		}

		return nil
	default:
		return fmt.Errorf("%w: array into %s", ErrBindType, dst.Type())
	}
}

// interpreter materializes generic values, then assigns them.
type interpreter struct{}

func newInterpreter() Strategy { return interpreter{} }

func (interpreter) Name() string { return StrategyInterpreter }

func (in interpreter) Decode(c *cursor.Cursor, p *Plan, res TypedResolver, dst reflect.Value) error {
	v, err := Interpret(c, p, res)
	if err != nil {
		return err
	}

	return in.assign(res, p, v, dst)
}

func (in interpreter) fill(res TypedResolver) FillFunc {
	return func(c *cursor.Cursor, p *Plan, dst reflect.Value) error {
		v, err := interpPlan(c, p, res, 0)
		if err != nil {
			return err
		}

		return in.assign(res, p, v, dst)
	}
}

// assign stores v into dst. p is the inline plan v was read with, or for a
// sequence the plan of its elements; nil when v has no inline plan.
func (in interpreter) assign(res TypedResolver, p *Plan, v any, dst reflect.Value) error {
	if v == nil {
		return nil
	}

	if generic(dst.Type()) {
		return setGeneric(dst, v)
	}

	// Interpret unwraps simple types; a struct destination still binds the
	// wrapper's single field, as direct does.
	if _, isSeq := v.(*value.Sequence); !isSeq && p != nil && p.Simple() && !p.Type.Kind.Primitive() && structDst(dst.Type()) {
		return in.assignWrapped(res, p, v, settle(dst))
	}

	switch x := v.(type) {
	case *value.Reference:
		return bindRef(res, x.TypeID, x.TypeName, x.ID, dst, in.fill(res))
	case value.Unresolved:
		return nil
	case *value.Object:
		dst = settle(dst)
		if dst.Kind() != reflect.Struct {
			return fmt.Errorf("%w: %s into %s", ErrBindType, x.TypeName, dst.Type())
		}

		fm := structFields(dst.Type())

		for k, fv := range x.All() {
			op := fieldOp(p, k)

			raw := k
			if op != nil && op.Field != nil {
				raw = op.Field.RawName
			}

			idx, ok := fm.lookup(k, raw)
			if !ok {
				continue
			}

			if err := in.assign(res, opPlan(op), fv, dst.FieldByIndex(idx)); err != nil {
				return fmt.Errorf("field %s.%s: %w", x.TypeName, k, err)
			}
		}

		return nil
	case *value.Sequence:
		dst = settle(dst)

		switch dst.Kind() {
		case reflect.Slice:
			out := reflect.MakeSlice(dst.Type(), x.Len(), x.Len())
			for i, item := range x.Items {
				if err := in.assign(res, p, item, out.Index(i)); err != nil {
					return err
				}
			}

			dst.Set(out)

			return nil
		case reflect.Array:
			for i, item := range x.Items {
				if i >= dst.Len() {
					break
				}

				if err := in.assign(res, p, item, dst.Index(i)); err != nil {
					return err
				}
			}

			return nil
		default:
			return fmt.Errorf("%w: sequence into %s", ErrBindType, dst.Type())
		}
	}

	return setScalar(dst, v)
}

// assignWrapped binds the unwrapped value v of simple plan p into the
// struct field matching p's single field.
func (in interpreter) assignWrapped(res TypedResolver, p *Plan, v any, dst reflect.Value) error {
	op := &p.Ops[0]
	if op.Field == nil {
		return nil
	}

	idx, ok := structFields(dst.Type()).lookup(op.Field.Name, op.Field.RawName)
	if !ok {
		return nil
	}

	if err := in.assign(res, opPlan(op), v, dst.FieldByIndex(idx)); err != nil {
		return fmt.Errorf("field %s.%s: %w", p.Type.Name, op.Field.Name, err)
	}

	return nil
}

func structDst(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Kind() == reflect.Struct
}

// fieldOp returns the op of p reading the field named name, or nil.
func fieldOp(p *Plan, name string) *Op {
	if p == nil {
		return nil
	}

	for i := range p.Ops {
		if p.Ops[i].Name() == name {
			return &p.Ops[i]
		}
	}

	return nil
}

// opPlan returns the inline plan of values read by op, looking through
// arrays to their elements.
func opPlan(op *Op) *Plan {
	if op == nil {
		return nil
	}

	switch op.Kind {
	case OpNested:
		return op.Nested
	case OpArray:
		return opPlan(op.Elem)
	}

	return nil
}
