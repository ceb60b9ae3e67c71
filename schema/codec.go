package schema

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/julianstephens/structdb/model"
)

// Canonical record encoding: fixed-width scalars little-endian, one-byte
// bools, u32 length prefixes for strings, bytes, and sequences, a one-byte
// presence tag for options, refs as the (type, segment, slot) triple, and
// embedded structs inline. Encoding a value then decoding it yields an
// identical value, and encoding is deterministic: equal values produce equal
// bytes.

// Int128 is a 128-bit signed integer in two 64-bit halves.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Uint128 is a 128-bit unsigned integer in two 64-bit halves.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Append primitives. Generated Encode methods chain these in field order.

func AppendU8(b []byte, v uint8) []byte { return append(b, v) }

func AppendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func AppendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func AppendU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func AppendU128(b []byte, v Uint128) []byte {
	b = binary.LittleEndian.AppendUint64(b, v.Lo)
	return binary.LittleEndian.AppendUint64(b, v.Hi)
}

func AppendI8(b []byte, v int8) []byte   { return append(b, byte(v)) }
func AppendI16(b []byte, v int16) []byte { return AppendU16(b, uint16(v)) }
func AppendI32(b []byte, v int32) []byte { return AppendU32(b, uint32(v)) }
func AppendI64(b []byte, v int64) []byte { return AppendU64(b, uint64(v)) }

func AppendI128(b []byte, v Int128) []byte {
	b = binary.LittleEndian.AppendUint64(b, v.Lo)
	return binary.LittleEndian.AppendUint64(b, uint64(v.Hi))
}

func AppendF32(b []byte, v float32) []byte {
	return AppendU32(b, math.Float32bits(v))
}

func AppendF64(b []byte, v float64) []byte {
	return AppendU64(b, math.Float64bits(v))
}

func AppendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func AppendString(b []byte, v string) []byte {
	b = AppendU32(b, uint32(len(v)))
	return append(b, v...)
}

func AppendBytes(b []byte, v []byte) []byte {
	b = AppendU32(b, uint32(len(v)))
	return append(b, v...)
}

func AppendRid(b []byte, r model.Rid) []byte {
	b = AppendU32(b, uint32(r.Type))
	b = AppendU32(b, uint32(r.Segment))
	return AppendU16(b, uint16(r.Slot))
}

// AppendLen writes a sequence element count.
func AppendLen(b []byte, n int) []byte { return AppendU32(b, uint32(n)) }

// AppendPresent writes an option presence tag.
func AppendPresent(b []byte, present bool) []byte { return AppendBool(b, present) }

// Reader decodes a canonical payload front to back. The first failure
// sticks: every later call returns a zero value, and Done reports the error.
// Generated Decode methods read fields in order and finish with Done.
type Reader struct {
	b   []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) fail(kind Kind, sentinel error) {
	if r.err == nil {
		r.err = &DecodeError{Err: sentinel, Offset: r.off, Kind: kind}
	}
}

func (r *Reader) take(n int, kind Kind) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b)-r.off < n {
		r.fail(kind, ErrShortBuffer)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) U8() uint8 {
	p := r.take(1, KindU8)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) U16() uint16 {
	p := r.take(2, KindU16)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) U32() uint32 {
	p := r.take(4, KindU32)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) U64() uint64 {
	p := r.take(8, KindU64)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) U128() Uint128 {
	p := r.take(16, KindU128)
	if p == nil {
		return Uint128{}
	}
	return Uint128{Lo: binary.LittleEndian.Uint64(p), Hi: binary.LittleEndian.Uint64(p[8:])}
}

func (r *Reader) I8() int8   { return int8(r.U8()) }
func (r *Reader) I16() int16 { return int16(r.U16()) }
func (r *Reader) I32() int32 { return int32(r.U32()) }
func (r *Reader) I64() int64 { return int64(r.U64()) }

func (r *Reader) I128() Int128 {
	p := r.take(16, KindI128)
	if p == nil {
		return Int128{}
	}
	return Int128{Lo: binary.LittleEndian.Uint64(p), Hi: int64(binary.LittleEndian.Uint64(p[8:]))}
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }
func (r *Reader) F64() float64 { return math.Float64frombits(r.U64()) }

func (r *Reader) Bool() bool {
	p := r.take(1, KindBool)
	if p == nil {
		return false
	}
	switch p[0] {
	case 0:
		return false
	case 1:
		return true
	}
	r.off--
	r.fail(KindBool, ErrBadTag)
	return false
}

func (r *Reader) String() string {
	start := r.off
	n := r.U32()
	p := r.take(int(n), KindString)
	if p == nil {
		return ""
	}
	if !utf8.Valid(p) {
		r.off = start
		r.fail(KindString, ErrInvalidUTF8)
		return ""
	}
	return string(p)
}

// Bytes returns a copy; payloads may alias page buffers.
func (r *Reader) Bytes() []byte {
	n := r.U32()
	p := r.take(int(n), KindBytes)
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

func (r *Reader) Rid() model.Rid {
	t := r.U32()
	seg := r.U32()
	slot := r.U16()
	if r.err != nil {
		return model.Rid{}
	}
	return model.Rid{Type: model.TypeID(t), Segment: model.SegmentID(seg), Slot: model.SlotID(slot)}
}

// Len reads a sequence element count. Counts larger than the remaining
// payload are rejected up front so callers can size slices from the result.
func (r *Reader) Len() int {
	start := r.off
	n := r.U32()
	if r.err != nil {
		return 0
	}
	if int(n) > len(r.b)-r.off {
		r.off = start
		r.fail(KindSeq, ErrBadCount)
		return 0
	}
	return int(n)
}

// Present reads an option presence tag.
func (r *Reader) Present() bool {
	p := r.take(1, KindOption)
	if p == nil {
		return false
	}
	switch p[0] {
	case 0:
		return false
	case 1:
		return true
	}
	r.off--
	r.fail(KindOption, ErrBadTag)
	return false
}

// Skip advances past one value of the given type without materializing it.
// Projections use this to jump over unprojected fields.
func (r *Reader) Skip(vt *ValueType) {
	if r.err != nil {
		return
	}
	switch vt.Kind {
	case KindI8, KindU8:
		r.take(1, vt.Kind)
	case KindI16, KindU16:
		r.take(2, vt.Kind)
	case KindI32, KindU32, KindF32:
		r.take(4, vt.Kind)
	case KindI64, KindU64, KindF64:
		r.take(8, vt.Kind)
	case KindI128, KindU128:
		r.take(16, vt.Kind)
	case KindBool:
		r.Bool()
	case KindString, KindBytes:
		n := r.U32()
		r.take(int(n), vt.Kind)
	case KindRef:
		r.take(10, vt.Kind)
	case KindOption:
		if r.Present() {
			r.Skip(vt.Elem)
		}
	case KindSeq:
		n := r.Len()
		for i := 0; i < n && r.err == nil; i++ {
			r.Skip(vt.Elem)
		}
	case KindEmbedded:
		for i := range vt.Nested.Fields {
			r.Skip(&vt.Nested.Fields[i].Type)
			if r.err != nil {
				return
			}
		}
	default:
		r.fail(vt.Kind, ErrInvalidValue)
	}
}

// Err returns the first decode error, if any.
func (r *Reader) Err() error { return r.err }

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.off }

// Remaining reports how many bytes are left.
func (r *Reader) Remaining() int { return len(r.b) - r.off }

// Done finishes a full-record decode: it returns the first error, or
// ErrTrailingBytes when the payload was not fully consumed.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return &DecodeError{Err: ErrTrailingBytes, Offset: r.off}
	}
	return nil
}
