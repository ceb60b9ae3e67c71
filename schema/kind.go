// Package schema defines struct descriptors, the canonical record encoding,
// the order-preserving index key encoding, and the contract generated type
// bindings implement to plug application structs into the store.
package schema

// Kind enumerates the value kinds a field may hold. The numeric values are
// part of the persisted descriptor format and must not change.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindF32
	KindF64
	KindBool
	KindString
	KindBytes
	KindRef
	KindEmbedded
	KindOption
	KindSeq
)

var kindNames = map[Kind]string{
	KindInvalid:  "invalid",
	KindI8:       "i8",
	KindI16:      "i16",
	KindI32:      "i32",
	KindI64:      "i64",
	KindI128:     "i128",
	KindU8:       "u8",
	KindU16:      "u16",
	KindU32:      "u32",
	KindU64:      "u64",
	KindU128:     "u128",
	KindF32:      "f32",
	KindF64:      "f64",
	KindBool:     "bool",
	KindString:   "string",
	KindBytes:    "bytes",
	KindRef:      "ref",
	KindEmbedded: "embedded",
	KindOption:   "option",
	KindSeq:      "seq",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Indexable reports whether a field of this kind may carry an index
// declaration. Wrapper and composite kinds cannot be indexed.
func (k Kind) Indexable() bool {
	switch k {
	case KindOption, KindSeq, KindEmbedded, KindInvalid:
		return false
	}
	return true
}

// ValueType describes the full type of a field as a small tree: scalar kinds
// are leaves, Option and Seq wrap an element type, Ref names a target struct,
// and Embedded nests a full descriptor.
type ValueType struct {
	Kind Kind

	// Elem is the element type for Option and Seq kinds.
	Elem *ValueType

	// Target is the referenced struct name for Ref and Embedded kinds.
	Target string

	// Nested is the embedded struct's descriptor for Embedded kinds.
	Nested *Descriptor
}

// String renders the type compactly: scalar kinds by name, wrappers and
// references with their element or target, e.g. "seq(option(i64))".
func (v ValueType) String() string {
	switch v.Kind {
	case KindOption, KindSeq:
		if v.Elem != nil {
			return v.Kind.String() + "(" + v.Elem.String() + ")"
		}
	case KindRef, KindEmbedded:
		if v.Target != "" {
			return v.Kind.String() + "(" + v.Target + ")"
		}
	}
	return v.Kind.String()
}

// Constructors for the common value types. Generated bindings use these to
// build descriptors; they keep descriptor literals readable in hand-written
// code too.

func I8() ValueType   { return ValueType{Kind: KindI8} }
func I16() ValueType  { return ValueType{Kind: KindI16} }
func I32() ValueType  { return ValueType{Kind: KindI32} }
func I64() ValueType  { return ValueType{Kind: KindI64} }
func I128() ValueType { return ValueType{Kind: KindI128} }
func U8() ValueType   { return ValueType{Kind: KindU8} }
func U16() ValueType  { return ValueType{Kind: KindU16} }
func U32() ValueType  { return ValueType{Kind: KindU32} }
func U64() ValueType  { return ValueType{Kind: KindU64} }
func U128() ValueType { return ValueType{Kind: KindU128} }
func F32() ValueType  { return ValueType{Kind: KindF32} }
func F64() ValueType  { return ValueType{Kind: KindF64} }
func Bool() ValueType { return ValueType{Kind: KindBool} }
func Str() ValueType  { return ValueType{Kind: KindString} }
func Blob() ValueType { return ValueType{Kind: KindBytes} }

// Ref builds a reference to another struct type by name. References are
// stored as rids and never followed implicitly.
func Ref(target string) ValueType { return ValueType{Kind: KindRef, Target: target} }

// Embedded nests another struct's fields inline in the record payload.
func Embedded(target string, nested *Descriptor) ValueType {
	return ValueType{Kind: KindEmbedded, Target: target, Nested: nested}
}

// Option wraps elem so the field may be absent.
func Option(elem ValueType) ValueType { return ValueType{Kind: KindOption, Elem: &elem} }

// Seq declares an ordered sequence of elem values.
func Seq(elem ValueType) ValueType { return ValueType{Kind: KindSeq, Elem: &elem} }
