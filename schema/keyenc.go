package schema

import (
	"encoding/binary"
	"math"

	"github.com/julianstephens/structdb/model"
)

// Order-preserving key encoding. Index keys compare with bytes.Compare, so
// every kind is transformed to make byte order match value order:
//
//   - signed integers: big-endian with the sign bit flipped
//   - unsigned integers: big-endian
//   - floats: canonicalized NaN, then sign-flip transform (negative values
//     have all bits inverted, non-negative values have the sign bit set),
//     big-endian; the result orders -Inf < finite < +Inf < NaN
//   - bool: one byte, false < true
//   - string, bytes: raw bytes (lexicographic)
//   - ref: big-endian (type, segment, slot) triple
//
// Negative zero is canonicalized to positive zero so float equality and key
// equality agree.

const (
	f32SignBit = uint32(1) << 31
	f64SignBit = uint64(1) << 63

	// Canonical quiet NaN bit patterns.
	f32NaN = uint32(0x7FC00000)
	f64NaN = uint64(0x7FF8000000000000)
)

// KeyFor encodes v as the index key for a field of type vt.
func KeyFor(vt *ValueType, v any) ([]byte, error) {
	return AppendKey(nil, vt, v)
}

// AppendKey appends the key form of v to b.
func AppendKey(b []byte, vt *ValueType, v any) ([]byte, error) {
	switch vt.Kind {
	case KindI8, KindI16, KindI32, KindI64:
		n, ok := asInt64(v)
		if !ok || !fitsSigned(n, vt.Kind) {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		return appendSignedKey(b, n, vt.Kind), nil
	case KindU8, KindU16, KindU32, KindU64:
		n, ok := asUint64(v)
		if !ok || !fitsUnsigned(n, vt.Kind) {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		return appendUnsignedKey(b, n, vt.Kind), nil
	case KindI128:
		n, ok := v.(Int128)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		b = binary.BigEndian.AppendUint64(b, uint64(n.Hi)^f64SignBit)
		return binary.BigEndian.AppendUint64(b, n.Lo), nil
	case KindU128:
		n, ok := v.(Uint128)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		b = binary.BigEndian.AppendUint64(b, n.Hi)
		return binary.BigEndian.AppendUint64(b, n.Lo), nil
	case KindF32:
		f, ok := asFloat64(v)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		return appendF32Key(b, float32(f)), nil
	case KindF64:
		f, ok := asFloat64(v)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		return appendF64Key(b, f), nil
	case KindBool:
		t, ok := v.(bool)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		if t {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		return append(b, s...), nil
	case KindBytes:
		p, ok := v.([]byte)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		return append(b, p...), nil
	case KindRef:
		r, ok := v.(model.Rid)
		if !ok {
			return nil, &ValueError{Err: ErrInvalidValue, Kind: vt.Kind, Got: v}
		}
		b = binary.BigEndian.AppendUint32(b, uint32(r.Type))
		b = binary.BigEndian.AppendUint32(b, uint32(r.Segment))
		return binary.BigEndian.AppendUint16(b, uint16(r.Slot)), nil
	}
	return nil, &ValueError{Err: ErrNotIndexable, Kind: vt.Kind, Got: v}
}

func appendSignedKey(b []byte, n int64, k Kind) []byte {
	switch k {
	case KindI8:
		return append(b, uint8(n)^0x80)
	case KindI16:
		return binary.BigEndian.AppendUint16(b, uint16(n)^0x8000)
	case KindI32:
		return binary.BigEndian.AppendUint32(b, uint32(n)^0x80000000)
	default:
		return binary.BigEndian.AppendUint64(b, uint64(n)^f64SignBit)
	}
}

func appendUnsignedKey(b []byte, n uint64, k Kind) []byte {
	switch k {
	case KindU8:
		return append(b, uint8(n))
	case KindU16:
		return binary.BigEndian.AppendUint16(b, uint16(n))
	case KindU32:
		return binary.BigEndian.AppendUint32(b, uint32(n))
	default:
		return binary.BigEndian.AppendUint64(b, n)
	}
}

func appendF32Key(b []byte, f float32) []byte {
	bits := math.Float32bits(f)
	if f != f {
		bits = f32NaN
	} else if bits == f32SignBit { // -0 → +0
		bits = 0
	}
	if bits&f32SignBit != 0 {
		bits = ^bits
	} else {
		bits |= f32SignBit
	}
	return binary.BigEndian.AppendUint32(b, bits)
}

func appendF64Key(b []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if f != f {
		bits = f64NaN
	} else if bits == f64SignBit { // -0 → +0
		bits = 0
	}
	if bits&f64SignBit != 0 {
		bits = ^bits
	} else {
		bits |= f64SignBit
	}
	return binary.BigEndian.AppendUint64(b, bits)
}

func fitsSigned(n int64, k Kind) bool {
	switch k {
	case KindI8:
		return n >= math.MinInt8 && n <= math.MaxInt8
	case KindI16:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case KindI32:
		return n >= math.MinInt32 && n <= math.MaxInt32
	}
	return true
}

func fitsUnsigned(n uint64, k Kind) bool {
	switch k {
	case KindU8:
		return n <= math.MaxUint8
	case KindU16:
		return n <= math.MaxUint16
	case KindU32:
		return n <= math.MaxUint32
	}
	return true
}

// Numeric coercions. Query values arrive as whatever literal type the caller
// wrote, so integer and float kinds accept any Go numeric of the right sign
// and range.

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int8:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int16:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
