package schema

// IndexMode selects the uniqueness contract of a declared index.
type IndexMode uint8

const (
	// IndexCluster allows many records per key; lookups return all of them
	// in rid order.
	IndexCluster IndexMode = iota + 1

	// IndexExclusive admits at most one live record per key.
	IndexExclusive
)

func (m IndexMode) String() string {
	switch m {
	case IndexCluster:
		return "cluster"
	case IndexExclusive:
		return "exclusive"
	}
	return "unknown"
}

// IndexDecl declares a secondary index on a field. Name must be unique
// within the descriptor; it identifies the index to the query planner and to
// the find-by surface.
type IndexDecl struct {
	Mode IndexMode
	Name string
}

// FieldDescriptor describes a single field: its name, value type, and an
// optional index declaration.
type FieldDescriptor struct {
	Name  string
	Type  ValueType
	Index *IndexDecl
}

// Descriptor is the logical shape of a struct type: its name and ordered
// field list. Field order is part of the persisted record layout, so it is
// structural.
type Descriptor struct {
	Name   string
	Fields []FieldDescriptor
}

// Field returns the descriptor and position of the named field.
func (d *Descriptor) Field(name string) (*FieldDescriptor, int, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], i, true
		}
	}
	return nil, -1, false
}

// Indexes returns the declared indexes in field declaration order.
func (d *Descriptor) Indexes() []IndexedField {
	var out []IndexedField
	for i := range d.Fields {
		if d.Fields[i].Index != nil {
			out = append(out, IndexedField{Field: &d.Fields[i], Pos: i})
		}
	}
	return out
}

// IndexedField pairs an indexed field with its declaration position.
type IndexedField struct {
	Field *FieldDescriptor
	Pos   int
}

// Validate checks the descriptor for structural soundness: a non-empty
// struct name, non-empty unique field names, complete value type trees, and
// index declarations only on indexable kinds with unique index names.
func (d *Descriptor) Validate() error {
	if d == nil || d.Name == "" {
		return &DescriptorError{Err: ErrInvalidDescriptor, Reason: "empty struct name"}
	}
	seen := make(map[string]struct{}, len(d.Fields))
	idxNames := make(map[string]struct{})
	for i := range d.Fields {
		f := &d.Fields[i]
		if f.Name == "" {
			return &DescriptorError{Err: ErrInvalidDescriptor, Struct: d.Name, Reason: "empty field name"}
		}
		if _, dup := seen[f.Name]; dup {
			return &DescriptorError{Err: ErrInvalidDescriptor, Struct: d.Name, Field: f.Name, Reason: "duplicate field name"}
		}
		seen[f.Name] = struct{}{}
		if err := validateValueType(d.Name, f.Name, &f.Type); err != nil {
			return err
		}
		if f.Index != nil {
			if !f.Type.Kind.Indexable() {
				return &DescriptorError{Err: ErrNotIndexable, Struct: d.Name, Field: f.Name, Reason: f.Type.Kind.String() + " fields cannot be indexed"}
			}
			if f.Index.Name == "" {
				return &DescriptorError{Err: ErrInvalidDescriptor, Struct: d.Name, Field: f.Name, Reason: "empty index name"}
			}
			if f.Index.Mode != IndexCluster && f.Index.Mode != IndexExclusive {
				return &DescriptorError{Err: ErrInvalidDescriptor, Struct: d.Name, Field: f.Name, Reason: "invalid index mode"}
			}
			if _, dup := idxNames[f.Index.Name]; dup {
				return &DescriptorError{Err: ErrInvalidDescriptor, Struct: d.Name, Field: f.Name, Reason: "duplicate index name"}
			}
			idxNames[f.Index.Name] = struct{}{}
		}
	}
	return nil
}

func validateValueType(structName, fieldName string, vt *ValueType) error {
	switch vt.Kind {
	case KindI8, KindI16, KindI32, KindI64, KindI128,
		KindU8, KindU16, KindU32, KindU64, KindU128,
		KindF32, KindF64, KindBool, KindString, KindBytes:
		return nil
	case KindRef:
		if vt.Target == "" {
			return &DescriptorError{Err: ErrInvalidDescriptor, Struct: structName, Field: fieldName, Reason: "ref without target"}
		}
		return nil
	case KindEmbedded:
		if vt.Target == "" || vt.Nested == nil {
			return &DescriptorError{Err: ErrInvalidDescriptor, Struct: structName, Field: fieldName, Reason: "embedded without nested descriptor"}
		}
		return vt.Nested.Validate()
	case KindOption, KindSeq:
		if vt.Elem == nil {
			return &DescriptorError{Err: ErrInvalidDescriptor, Struct: structName, Field: fieldName, Reason: vt.Kind.String() + " without element type"}
		}
		if vt.Elem.Kind == KindOption && vt.Kind == KindOption {
			return &DescriptorError{Err: ErrInvalidDescriptor, Struct: structName, Field: fieldName, Reason: "option of option"}
		}
		return validateValueType(structName, fieldName, vt.Elem)
	}
	return &DescriptorError{Err: ErrInvalidDescriptor, Struct: structName, Field: fieldName, Reason: "unknown kind"}
}
