package plan

import (
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/flightrec/pkg/cursor"
	"github.com/Sumatoshi-tech/flightrec/pkg/metadata"
	"github.com/Sumatoshi-tech/flightrec/pkg/value"
)

// ErrSkipPlan is returned when a value is requested from a skip plan.
var ErrSkipPlan = errors.New("plan compiled in skip mode cannot materialize values")

// Resolver supplies constant-pool lookups while a plan executes.
type Resolver interface {
	value.Resolver
	// String resolves a pooled text reference.
	String(id int64) (string, bool)
}

// Skip advances c past exactly one value of p. Plans of either mode can be
// skipped.
func Skip(c *cursor.Cursor, p *Plan) error {
	return skipPlan(c, p, 0)
}

func skipPlan(c *cursor.Cursor, p *Plan, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: %s", ErrTooDeep, p.Type.Name)
	}

	for i := range p.Ops {
		op := &p.Ops[i]
		at := c.Pos()

		if err := skipOp(c, op, depth); err != nil {
			return fieldError(p, op, at, err)
		}
	}

	return nil
}

func skipOp(c *cursor.Cursor, op *Op, depth int) error {
	switch op.Kind {
	case OpSkipFixed:
		return c.Skip(op.Width)
	case OpText, OpSkipText:
		return c.SkipText()
	case OpPoolRef:
		return c.SkipInt(8)
	case OpPrimitive:
		if w := fixedWidth(op.Prim); w > 0 {
			return c.Skip(w)
		}

		return c.SkipInt(intWidth(op.Prim))
	case OpNested:
		return skipPlan(c, op.Nested, depth+1)
	case OpArray:
		n, err := arrayLen(c, op.Elem)
		if err != nil {
			return err
		}

		for range n {
			if err := skipOp(c, op.Elem, depth+1); err != nil {
				return err
			}
		}

		return nil
	}

	return fmt.Errorf("%w: op %s", cursor.ErrMalformed, op.Kind)
}

// maxEmptyElems bounds arrays whose elements may encode to zero bytes, such
// as instances of a class without fields.
const maxEmptyElems = 1 << 20

func arrayLen(c *cursor.Cursor, elem *Op) (int, error) {
	at := c.Pos()

	n, err := c.Int()
	if err != nil {
		return 0, err
	}

	limit := c.Remaining()
	if !occupiesByte(elem, 0) {
		limit = maxEmptyElems
	}

	if n < 0 || int(n) > limit {
		return 0, fmt.Errorf("%w: array length %d at %d (remaining %d)", cursor.ErrMalformed, n, at, c.Remaining())
	}

	return int(n), nil
}

// occupiesByte reports whether every value read by op takes at least one
// byte. Nesting deeper than a few levels is treated as possibly empty.
func occupiesByte(op *Op, depth int) bool {
	switch op.Kind {
	case OpSkipFixed:
		return op.Width > 0
	case OpNested:
		if depth >= 8 {
			return false
		}

		for i := range op.Nested.Ops {
			if occupiesByte(&op.Nested.Ops[i], depth+1) {
				return true
			}
		}

		return false
	}

	return true
}

// FieldRange is the absolute byte range of one top-level field.
type FieldRange struct {
	Name  string
	Start int
	End   int
}

// Len returns the encoded size of the field.
func (r FieldRange) Len() int { return r.End - r.Start }

// Walk advances c past one value of p, reporting the byte range of every
// top-level field. Coalesced fixed-width runs are split back into fields.
func Walk(c *cursor.Cursor, p *Plan, fn func(FieldRange)) error {
	for i := range p.Ops {
		op := &p.Ops[i]
		at := c.Pos()

		if op.Kind == OpSkipFixed && len(op.Fields) > 0 {
			for _, f := range op.Fields {
				w := fixedWidth(f.Type.Kind)
				start := c.Pos()

				if err := c.Skip(w); err != nil {
					return fieldError(p, op, start, err)
				}

				fn(FieldRange{Name: f.Name, Start: start, End: c.Pos()})
			}

			continue
		}

		if err := skipOp(c, op, 0); err != nil {
			return fieldError(p, op, at, err)
		}

		fn(FieldRange{Name: op.Name(), Start: at, End: c.Pos()})
	}

	return nil
}

// Interpret materializes one value of the full plan p. Composite values
// become *value.Object; simple wrappers unwrap to their single field.
func Interpret(c *cursor.Cursor, p *Plan, res Resolver) (any, error) {
	if p.Mode != ModeFull {
		return nil, fmt.Errorf("%w: %s", ErrSkipPlan, p.Type.Name)
	}

	return interpPlan(c, p, res, 0)
}

func interpPlan(c *cursor.Cursor, p *Plan, res Resolver, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: %s", ErrTooDeep, p.Type.Name)
	}

	if p.Type.Kind.Primitive() || p.Simple() {
		op := &p.Ops[0]
		at := c.Pos()

		v, err := interpOp(c, op, res, depth)
		if err != nil {
			return nil, fieldError(p, op, at, err)
		}

		return v, nil
	}

	obj := value.NewObject(p.Type.ID, p.Type.Name, len(p.Ops))

	for i := range p.Ops {
		op := &p.Ops[i]
		at := c.Pos()

		v, err := interpOp(c, op, res, depth)
		if err != nil {
			return nil, fieldError(p, op, at, err)
		}

		obj.Set(op.Name(), v)
	}

	return obj, nil
}

func interpOp(c *cursor.Cursor, op *Op, res Resolver, depth int) (any, error) {
	switch op.Kind {
	case OpPrimitive:
		return ReadPrimitive(c, op.Prim)
	case OpText:
		var pool cursor.StringPool
		if res != nil {
			pool = res.String
		}

		s, present, err := c.Text(pool)
		if err != nil || !present {
			return nil, err
		}

		return s, nil
	case OpPoolRef:
		id, err := c.Long()
		if err != nil {
			return nil, err
		}

		return value.NewReference(op.Target.ID, op.Target.Name, id, res), nil
	case OpNested:
		return interpPlan(c, op.Nested, res, depth+1)
	case OpArray:
		n, err := arrayLen(c, op.Elem)
		if err != nil {
			return nil, err
		}

		seq := &value.Sequence{Elem: elemName(op.Elem), Items: make([]any, n)}

		for i := range n {
			v, elemErr := interpOp(c, op.Elem, res, depth+1)
			if elemErr != nil {
				return nil, elemErr
			}

			seq.Items[i] = v
		}

		return seq, nil
	case OpSkipFixed, OpSkipText:
		return nil, ErrSkipPlan
	}

	return nil, fmt.Errorf("%w: op %s", cursor.ErrMalformed, op.Kind)
}

// ReadPrimitive reads one builtin scalar of kind k.
func ReadPrimitive(c *cursor.Cursor, k metadata.Kind) (any, error) {
	switch k {
	case metadata.KindBoolean:
		return c.Bool()
	case metadata.KindByte:
		b, err := c.Byte()

		return int8(b), err //nolint:gosec // signed byte.
	case metadata.KindChar:
		ch, err := c.Char()

		return rune(ch), err
	case metadata.KindShort:
		return c.Short()
	case metadata.KindInt:
		return c.Int()
	case metadata.KindLong:
		return c.Long()
	case metadata.KindFloat:
		return c.Float32()
	case metadata.KindDouble:
		return c.Float64()
	case metadata.KindString:
		s, present, err := c.Text(nil)
		if err != nil || !present {
			return nil, err
		}

		return s, nil
	case metadata.KindNone:
	}

	return nil, fmt.Errorf("%w: kind %s is not primitive", cursor.ErrMalformed, k)
}

func elemName(op *Op) string {
	switch op.Kind {
	case OpNested:
		return op.Nested.Type.Name
	case OpPoolRef:
		return op.Target.Name
	case OpArray:
		return elemName(op.Elem) + "[]"
	case OpText, OpSkipText:
		return "java.lang.String"
	case OpPrimitive, OpSkipFixed:
	}

	if op.Field != nil {
		return op.Field.Type.Name
	}

	return op.Prim.String()
}
