package schema

// Descriptor persistence. Defined descriptors are stored inside the store
// file as records of the reserved system type, using the same canonical
// primitives as record payloads.

// MarshalDescriptor serializes d: struct name, field count, then per field
// the name, the value type tree, and the index declaration.
func MarshalDescriptor(d *Descriptor) []byte {
	b := make([]byte, 0, 64)
	b = AppendString(b, d.Name)
	b = AppendLen(b, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		b = AppendString(b, f.Name)
		b = appendValueType(b, &f.Type)
		if f.Index == nil {
			b = AppendU8(b, 0)
		} else {
			b = AppendU8(b, uint8(f.Index.Mode))
			b = AppendString(b, f.Index.Name)
		}
	}
	return b
}

func appendValueType(b []byte, vt *ValueType) []byte {
	b = AppendU8(b, uint8(vt.Kind))
	switch vt.Kind {
	case KindRef:
		b = AppendString(b, vt.Target)
	case KindEmbedded:
		b = AppendString(b, vt.Target)
		b = AppendBytes(b, MarshalDescriptor(vt.Nested))
	case KindOption, KindSeq:
		b = appendValueType(b, vt.Elem)
	}
	return b
}

// UnmarshalDescriptor parses the MarshalDescriptor form and validates the
// result.
func UnmarshalDescriptor(data []byte) (*Descriptor, error) {
	r := NewReader(data)
	d, err := readDescriptor(r)
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func readDescriptor(r *Reader) (*Descriptor, error) {
	d := &Descriptor{Name: r.String()}
	n := r.Len()
	for i := 0; i < n; i++ {
		var f FieldDescriptor
		f.Name = r.String()
		vt, err := readValueType(r, 0)
		if err != nil {
			return nil, err
		}
		f.Type = *vt
		switch tag := r.U8(); tag {
		case 0:
		case uint8(IndexCluster), uint8(IndexExclusive):
			f.Index = &IndexDecl{Mode: IndexMode(tag), Name: r.String()}
		default:
			return nil, &DecodeError{Err: ErrBadTag, Offset: r.Offset()}
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		d.Fields = append(d.Fields, f)
	}
	return d, r.Err()
}

// maxTypeDepth caps value type nesting so a corrupt descriptor cannot drive
// unbounded recursion.
const maxTypeDepth = 16

func readValueType(r *Reader, depth int) (*ValueType, error) {
	if depth > maxTypeDepth {
		return nil, &DecodeError{Err: ErrInvalidDescriptor, Offset: r.Offset()}
	}
	vt := &ValueType{Kind: Kind(r.U8())}
	switch vt.Kind {
	case KindRef:
		vt.Target = r.String()
	case KindEmbedded:
		vt.Target = r.String()
		nested := r.Bytes()
		if err := r.Err(); err != nil {
			return nil, err
		}
		d, err := UnmarshalDescriptor(nested)
		if err != nil {
			return nil, err
		}
		vt.Nested = d
	case KindOption, KindSeq:
		elem, err := readValueType(r, depth+1)
		if err != nil {
			return nil, err
		}
		vt.Elem = elem
	}
	return vt, r.Err()
}
