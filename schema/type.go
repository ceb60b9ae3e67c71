package schema

import "fmt"

// Type is the binding a generated package implements per struct type. The
// engine never reflects over application structs; everything it needs flows
// through this interface and the FieldLookup values return.
type Type interface {
	// Descriptor returns the logical shape. The engine treats it as
	// immutable after Define.
	Descriptor() *Descriptor

	// New returns a pointer to a fresh zero value of the bound struct.
	New() any

	// Encode serializes a value previously returned by New or Decode into
	// the canonical record payload.
	Encode(v any) ([]byte, error)

	// Decode parses a canonical payload into a pointer to the bound struct.
	Decode(data []byte) (any, error)
}

// Named reports which struct a value belongs to. Generated top-level struct
// values implement it so the store can resolve a value's binding without
// being told the type name.
type Named interface {
	StructName() string
}

// FieldLookup exposes field access by name on decoded values. Generated
// struct types implement it, including embedded struct types, so the query
// engine can evaluate predicates without reflection.
//
// Returned values are normalized: scalar fields return their natural Go
// type, ref fields return model.Rid, option fields return nil when absent
// and the element value otherwise, sequence fields return []any, and
// embedded fields return a value that itself implements FieldLookup. The
// shapes mirror what DecodeGeneric produces.
type FieldLookup interface {
	FieldValue(name string) (any, error)
}

// Projection decodes a subset of fields from a canonical payload. Generated
// projections skip unprojected fields instead of materializing them.
type Projection interface {
	// Fields returns the projected field names, a subset of the source
	// descriptor's fields.
	Fields() []string

	// DecodeProjected parses only the projected fields out of data.
	DecodeProjected(d *Descriptor, data []byte) (any, error)
}

// FieldOf resolves a field by name on a decoded value via its FieldLookup
// implementation.
func FieldOf(v any, name string) (any, error) {
	fl, ok := v.(FieldLookup)
	if !ok {
		return nil, fmt.Errorf("schema: %T does not support field lookup", v)
	}
	return fl.FieldValue(name)
}

// DecodeGeneric parses a canonical payload against a descriptor without a
// generated binding, producing a field-name keyed map. Scalars decode to
// their natural Go types, options to nil or the value, sequences to []any,
// and embedded structs to nested maps. Used by tooling that only has the
// persisted descriptor.
func DecodeGeneric(d *Descriptor, data []byte) (map[string]any, error) {
	r := NewReader(data)
	out, err := decodeGenericFields(r, d)
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeGenericFields(r *Reader, d *Descriptor) (map[string]any, error) {
	out := make(map[string]any, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		v, err := decodeGenericValue(r, &f.Type)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodeGenericValue(r *Reader, vt *ValueType) (any, error) {
	switch vt.Kind {
	case KindI8:
		return r.I8(), r.Err()
	case KindI16:
		return r.I16(), r.Err()
	case KindI32:
		return r.I32(), r.Err()
	case KindI64:
		return r.I64(), r.Err()
	case KindI128:
		return r.I128(), r.Err()
	case KindU8:
		return r.U8(), r.Err()
	case KindU16:
		return r.U16(), r.Err()
	case KindU32:
		return r.U32(), r.Err()
	case KindU64:
		return r.U64(), r.Err()
	case KindU128:
		return r.U128(), r.Err()
	case KindF32:
		return r.F32(), r.Err()
	case KindF64:
		return r.F64(), r.Err()
	case KindBool:
		return r.Bool(), r.Err()
	case KindString:
		return r.String(), r.Err()
	case KindBytes:
		return r.Bytes(), r.Err()
	case KindRef:
		return r.Rid(), r.Err()
	case KindOption:
		if !r.Present() {
			return nil, r.Err()
		}
		return decodeGenericValue(r, vt.Elem)
	case KindSeq:
		n := r.Len()
		if err := r.Err(); err != nil {
			return nil, err
		}
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := decodeGenericValue(r, vt.Elem)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case KindEmbedded:
		return decodeGenericFields(r, vt.Nested)
	}
	return nil, &DecodeError{Err: ErrInvalidValue, Offset: r.Offset(), Kind: vt.Kind}
}
