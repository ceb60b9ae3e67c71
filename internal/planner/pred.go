package planner

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/julianstephens/structdb/query"
	"github.com/julianstephens/structdb/schema"
)

// pred is one compiled condition: operands are already key-encoded, so
// evaluation is bytes.Compare against the row's encoded field value.
type pred struct {
	field string
	op    query.Op
	vt    *schema.ValueType // type used to encode row-side values

	key            []byte   // Eq..Le operand, Contains element
	blo, bhi       []byte   // canonical range bounds
	bloInc, bhiInc bool
	keys           [][]byte // In operands, sorted distinct
	n              int      // Len operand
	subs           []pred
}

func badCond(desc *schema.Descriptor, c *query.Cond, reason string, cause error) error {
	return &query.Error{Err: query.ErrInvalidQuery, Struct: desc.Name, Field: c.Field, Reason: reason, Cause: cause}
}

func compilePred(desc *schema.Descriptor, c *query.Cond) (pred, error) {
	f, _, ok := desc.Field(c.Field)
	if !ok {
		return pred{}, badCond(desc, c, "unknown field", nil)
	}
	p := pred{field: c.Field, op: c.Op}

	switch c.Op {
	case query.OpEq, query.OpNe, query.OpGt, query.OpGe, query.OpLt, query.OpLe:
		if !f.Type.Kind.Indexable() {
			return pred{}, badCond(desc, c, "cannot compare a "+f.Type.Kind.String()+" field", nil)
		}
		p.vt = &f.Type
		kb, err := schema.KeyFor(p.vt, c.Value)
		if err != nil {
			return pred{}, badCond(desc, c, "operand does not fit the field type", err)
		}
		p.key = kb
		switch c.Op {
		case query.OpGt:
			p.blo, p.bloInc = kb, false
		case query.OpGe:
			p.blo, p.bloInc = kb, true
		case query.OpLt:
			p.bhi, p.bhiInc = kb, false
		case query.OpLe:
			p.bhi, p.bhiInc = kb, true
		}

	case query.OpRange:
		if !f.Type.Kind.Indexable() {
			return pred{}, badCond(desc, c, "cannot compare a "+f.Type.Kind.String()+" field", nil)
		}
		p.vt = &f.Type
		if c.Lo != nil {
			kb, err := schema.KeyFor(p.vt, c.Lo)
			if err != nil {
				return pred{}, badCond(desc, c, "range low bound does not fit the field type", err)
			}
			p.blo, p.bloInc = kb, c.IncLo
		}
		if c.Hi != nil {
			kb, err := schema.KeyFor(p.vt, c.Hi)
			if err != nil {
				return pred{}, badCond(desc, c, "range high bound does not fit the field type", err)
			}
			p.bhi, p.bhiInc = kb, c.IncHi
		}

	case query.OpIn:
		if !f.Type.Kind.Indexable() {
			return pred{}, badCond(desc, c, "cannot compare a "+f.Type.Kind.String()+" field", nil)
		}
		p.vt = &f.Type
		p.keys = make([][]byte, 0, len(c.Values))
		for _, v := range c.Values {
			kb, err := schema.KeyFor(p.vt, v)
			if err != nil {
				return pred{}, badCond(desc, c, "in operand does not fit the field type", err)
			}
			p.keys = append(p.keys, kb)
		}
		slices.SortFunc(p.keys, bytes.Compare)
		p.keys = slices.CompactFunc(p.keys, bytes.Equal)

	case query.OpContains:
		if f.Type.Kind != schema.KindSeq {
			return pred{}, badCond(desc, c, "contains requires a sequence field", nil)
		}
		if !f.Type.Elem.Kind.Indexable() {
			return pred{}, badCond(desc, c, "sequence element is not comparable", nil)
		}
		p.vt = f.Type.Elem
		kb, err := schema.KeyFor(p.vt, c.Value)
		if err != nil {
			return pred{}, badCond(desc, c, "element operand does not fit the sequence type", err)
		}
		p.key = kb

	case query.OpLenEq, query.OpLenGt, query.OpLenLt:
		if f.Type.Kind != schema.KindSeq {
			return pred{}, badCond(desc, c, "length conditions require a sequence field", nil)
		}
		n, ok := c.Value.(int)
		if !ok {
			return pred{}, badCond(desc, c, "length operand must be an int", nil)
		}
		p.n = n

	case query.OpSub:
		if f.Type.Kind != schema.KindEmbedded {
			return pred{}, badCond(desc, c, "sub conditions require an embedded field", nil)
		}
		p.subs = make([]pred, len(c.Subs))
		for i := range c.Subs {
			sp, err := compilePred(f.Type.Nested, &c.Subs[i])
			if err != nil {
				return pred{}, err
			}
			p.subs[i] = sp
		}

	default:
		return pred{}, badCond(desc, c, "unknown operator", nil)
	}
	return p, nil
}

// pointKeys returns the exact keys an Eq or In predicate addresses, sorted
// and distinct.
func (p *pred) pointKeys() [][]byte {
	if p.op == query.OpEq {
		return [][]byte{p.key}
	}
	return p.keys
}

func (p *pred) eval(v any) (bool, error) {
	fv, err := schema.FieldOf(v, p.field)
	if err != nil {
		return false, err
	}

	switch p.op {
	case query.OpSub:
		for i := range p.subs {
			ok, err := p.subs[i].eval(fv)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case query.OpContains:
		seq, ok := fv.([]any)
		if !ok {
			return false, fmt.Errorf("planner: field %q: expected sequence value, got %T", p.field, fv)
		}
		for _, el := range seq {
			kb, err := schema.KeyFor(p.vt, el)
			if err != nil {
				return false, err
			}
			if bytes.Equal(kb, p.key) {
				return true, nil
			}
		}
		return false, nil

	case query.OpLenEq, query.OpLenGt, query.OpLenLt:
		seq, ok := fv.([]any)
		if !ok {
			return false, fmt.Errorf("planner: field %q: expected sequence value, got %T", p.field, fv)
		}
		switch p.op {
		case query.OpLenEq:
			return len(seq) == p.n, nil
		case query.OpLenGt:
			return len(seq) > p.n, nil
		default:
			return len(seq) < p.n, nil
		}
	}

	kb, err := schema.KeyFor(p.vt, fv)
	if err != nil {
		return false, err
	}
	switch p.op {
	case query.OpEq:
		return bytes.Equal(kb, p.key), nil
	case query.OpNe:
		return !bytes.Equal(kb, p.key), nil
	case query.OpGt:
		return bytes.Compare(kb, p.key) > 0, nil
	case query.OpGe:
		return bytes.Compare(kb, p.key) >= 0, nil
	case query.OpLt:
		return bytes.Compare(kb, p.key) < 0, nil
	case query.OpLe:
		return bytes.Compare(kb, p.key) <= 0, nil
	case query.OpRange:
		if p.blo != nil {
			c := bytes.Compare(kb, p.blo)
			if c < 0 || (c == 0 && !p.bloInc) {
				return false, nil
			}
		}
		if p.bhi != nil {
			c := bytes.Compare(kb, p.bhi)
			if c > 0 || (c == 0 && !p.bhiInc) {
				return false, nil
			}
		}
		return true, nil
	case query.OpIn:
		_, found := slices.BinarySearchFunc(p.keys, kb, bytes.Compare)
		return found, nil
	}
	return false, fmt.Errorf("planner: field %q: unhandled operator %s", p.field, p.op)
}

func evalAll(preds []pred, v any) (bool, error) {
	for i := range preds {
		ok, err := preds[i].eval(v)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
