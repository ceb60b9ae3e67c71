// Package query is the public filter language and cursor surface of the
// store. A query is a conjunction of field conditions; the engine turns
// them into an index scan plus residual filters evaluated on decoded
// values.
package query

// Op identifies a condition operator.
type Op uint8

const (
	OpEq Op = iota + 1
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpRange
	OpIn
	OpContains
	OpLenEq
	OpLenGt
	OpLenLt
	OpSub
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpRange:
		return "range"
	case OpIn:
		return "in"
	case OpContains:
		return "contains"
	case OpLenEq:
		return "len_eq"
	case OpLenGt:
		return "len_gt"
	case OpLenLt:
		return "len_lt"
	case OpSub:
		return "sub"
	}
	return "unknown"
}

// Cond is one condition on a named field. All conditions of a query must
// hold. Fields are exported so generated code can build conditions without
// going through the constructors.
type Cond struct {
	Field string
	Op    Op

	// Value carries the operand of the single-operand operators: Eq
	// through Le, Contains, and the Len family (an int).
	Value any

	// Range bounds. A nil bound leaves that side open.
	Lo, Hi       any
	IncLo, IncHi bool

	// In operands.
	Values []any

	// Sub conditions, applied to an embedded-record field.
	Subs []Cond
}

// Eq matches records whose field equals v.
func Eq(field string, v any) Cond { return Cond{Field: field, Op: OpEq, Value: v} }

// Ne matches records whose field differs from v.
func Ne(field string, v any) Cond { return Cond{Field: field, Op: OpNe, Value: v} }

// Gt matches records whose field is greater than v.
func Gt(field string, v any) Cond { return Cond{Field: field, Op: OpGt, Value: v} }

// Ge matches records whose field is greater than or equal to v.
func Ge(field string, v any) Cond { return Cond{Field: field, Op: OpGe, Value: v} }

// Lt matches records whose field is less than v.
func Lt(field string, v any) Cond { return Cond{Field: field, Op: OpLt, Value: v} }

// Le matches records whose field is less than or equal to v.
func Le(field string, v any) Cond { return Cond{Field: field, Op: OpLe, Value: v} }

// Range matches records whose field lies between lo and hi. A nil bound
// leaves that side open; incLo and incHi select closed bounds.
func Range(field string, lo, hi any, incLo, incHi bool) Cond {
	return Cond{Field: field, Op: OpRange, Lo: lo, Hi: hi, IncLo: incLo, IncHi: incHi}
}

// In matches records whose field equals any of vs.
func In(field string, vs ...any) Cond { return Cond{Field: field, Op: OpIn, Values: vs} }

// Contains matches records whose sequence field has an element equal to
// elem.
func Contains(field string, elem any) Cond { return Cond{Field: field, Op: OpContains, Value: elem} }

// LenEq matches records whose sequence field has exactly n elements.
func LenEq(field string, n int) Cond { return Cond{Field: field, Op: OpLenEq, Value: n} }

// LenGt matches records whose sequence field has more than n elements.
func LenGt(field string, n int) Cond { return Cond{Field: field, Op: OpLenGt, Value: n} }

// LenLt matches records whose sequence field has fewer than n elements.
func LenLt(field string, n int) Cond { return Cond{Field: field, Op: OpLenLt, Value: n} }

// Sub applies conds to an embedded-record field.
func Sub(field string, conds ...Cond) Cond { return Cond{Field: field, Op: OpSub, Subs: conds} }
