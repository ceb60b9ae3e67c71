package pager

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/julianstephens/go-utils/checksum"
	"github.com/julianstephens/structdb/internal/errutil"
	"github.com/julianstephens/structdb/model"
)

// On-disk layout. The file is an array of fixed-size pages; page 0 is the
// store header, every later page is one segment. All integers little-endian.
const (
	// Magic identifies a store file.
	Magic = "STRUCTSYv1"
	// FormatVersion is the current header format version.
	FormatVersion = 1

	// DefaultPageSize is used when Options.PageSize is zero.
	DefaultPageSize = 16384
	// MinPageSize and MaxPageSize bound the configurable page size.
	MinPageSize = 512
	MaxPageSize = 32768

	// HeaderSize is the fixed header region on page 0, followed by its CRC.
	HeaderSize    = 64
	headerCRCSize = 4

	// SegmentHeaderSize is the fixed header at the start of each segment page.
	SegmentHeaderSize = 64
	// SlotHeaderSize prefixes every slot: generation u32 + size u32.
	SlotHeaderSize = 8
	// MinSlotSize is the smallest allocation bucket.
	MinSlotSize = 64
	// MaxSlotsPerSegment is capped by the 32-byte live bitmap.
	MaxSlotsPerSegment = 256

	segLiveBitmapOff  = 32
	segLiveBitmapSize = 32

	segFlagFree = 0x0001
)

// Header is the decoded form of page 0.
type Header struct {
	Version       uint16
	PageSize      uint32
	StoreID       uuid.UUID
	LastLSN       uint64
	NextTypeID    uint32
	SegmentCount  uint32
	SchemaSegment uint32
	FreeHead      uint32
}

// EncodeHeader writes h into the fixed region of a header page. The page
// must already be zeroed; bytes past the CRC are left untouched.
func EncodeHeader(h Header, page []byte) {
	copy(page[0:10], Magic)
	binary.LittleEndian.PutUint16(page[10:12], h.Version)
	binary.LittleEndian.PutUint16(page[12:14], uint16(h.PageSize))
	copy(page[16:32], h.StoreID[:])
	binary.LittleEndian.PutUint64(page[32:40], h.LastLSN)
	binary.LittleEndian.PutUint32(page[40:44], h.NextTypeID)
	binary.LittleEndian.PutUint32(page[44:48], h.SegmentCount)
	binary.LittleEndian.PutUint32(page[48:52], h.SchemaSegment)
	binary.LittleEndian.PutUint32(page[52:56], h.FreeHead)
	binary.LittleEndian.PutUint32(page[HeaderSize:HeaderSize+headerCRCSize], checksum.CRC32C(page[:HeaderSize]))
}

// DecodeHeader validates and decodes a header page. buf must hold at least
// HeaderSize+4 bytes.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize+headerCRCSize {
		return h, wrapErr(ErrBadHeader, "decode-header", "", errutil.Coordinates{}, nil)
	}
	if string(buf[0:10]) != Magic {
		return h, wrapErr(ErrBadHeader, "decode-header", "", errutil.Coordinates{}, nil)
	}
	want := binary.LittleEndian.Uint32(buf[HeaderSize : HeaderSize+headerCRCSize])
	if got := checksum.CRC32C(buf[:HeaderSize]); got != want {
		return h, wrapErr(ErrBadHeader, "decode-header-crc", "", errutil.Coordinates{}, nil)
	}
	h.Version = binary.LittleEndian.Uint16(buf[10:12])
	if h.Version != FormatVersion {
		return h, wrapErr(ErrBadHeader, "decode-header-version", "", errutil.Coordinates{}, nil)
	}
	h.PageSize = uint32(binary.LittleEndian.Uint16(buf[12:14]))
	if !validPageSize(int(h.PageSize)) {
		return h, wrapErr(ErrBadHeader, "decode-header-pagesize", "", errutil.Coordinates{}, nil)
	}
	copy(h.StoreID[:], buf[16:32])
	h.LastLSN = binary.LittleEndian.Uint64(buf[32:40])
	h.NextTypeID = binary.LittleEndian.Uint32(buf[40:44])
	h.SegmentCount = binary.LittleEndian.Uint32(buf[44:48])
	h.SchemaSegment = binary.LittleEndian.Uint32(buf[48:52])
	h.FreeHead = binary.LittleEndian.Uint32(buf[52:56])
	return h, nil
}

// SegmentHeader is the decoded form of a segment page's fixed header. The
// live bitmap is manipulated in place on page bytes, not through this struct.
type SegmentHeader struct {
	TypeID    model.TypeID
	SlotSize  uint32
	SlotCount uint16
	Flags     uint16
	NextFree  uint32
}

// Free reports whether the segment sits on the free chain.
func (sh SegmentHeader) Free() bool { return sh.Flags&segFlagFree != 0 }

// EncodeSegmentHeader writes sh into the first bytes of a segment page,
// leaving the live bitmap region alone.
func EncodeSegmentHeader(sh SegmentHeader, page []byte) {
	binary.LittleEndian.PutUint32(page[0:4], uint32(sh.TypeID))
	binary.LittleEndian.PutUint32(page[4:8], sh.SlotSize)
	binary.LittleEndian.PutUint16(page[8:10], sh.SlotCount)
	binary.LittleEndian.PutUint16(page[10:12], sh.Flags)
	binary.LittleEndian.PutUint32(page[12:16], sh.NextFree)
}

// DecodeSegmentHeader decodes and sanity-checks a segment page header.
// pageSize is the store page size; seg is used only for error context.
func DecodeSegmentHeader(page []byte, pageSize uint32, seg uint32) (SegmentHeader, error) {
	var sh SegmentHeader
	if len(page) < SegmentHeaderSize {
		return sh, wrapErr(ErrBadSegment, "decode-segment", "", errutil.Coordinates{Segment: errutil.U32(seg)}, nil)
	}
	sh.TypeID = model.TypeID(binary.LittleEndian.Uint32(page[0:4]))
	sh.SlotSize = binary.LittleEndian.Uint32(page[4:8])
	sh.SlotCount = binary.LittleEndian.Uint16(page[8:10])
	sh.Flags = binary.LittleEndian.Uint16(page[10:12])
	sh.NextFree = binary.LittleEndian.Uint32(page[12:16])
	if sh.Free() {
		return sh, nil
	}
	if !isPow2(sh.SlotSize) || sh.SlotSize < MinSlotSize || sh.SlotSize > pageSize/2 {
		return sh, wrapErr(ErrBadSegment, "decode-segment-slotsize", "", errutil.Coordinates{Segment: errutil.U32(seg)}, nil)
	}
	if want := SlotsPerSegment(pageSize, sh.SlotSize); sh.SlotCount != want {
		return sh, wrapErr(ErrBadSegment, "decode-segment-slotcount", "", errutil.Coordinates{Segment: errutil.U32(seg)}, nil)
	}
	return sh, nil
}

// SlotSizeFor returns the power-of-two bucket whose payload capacity fits n,
// or 0 when n exceeds the largest bucket for this page size.
func SlotSizeFor(n int, pageSize uint32) uint32 {
	if n < 0 {
		return 0
	}
	for s := uint32(MinSlotSize); s <= pageSize/2; s <<= 1 {
		if int(s-SlotHeaderSize) >= n {
			return s
		}
	}
	return 0
}

// MaxPayload is the largest record payload a store with this page size holds.
func MaxPayload(pageSize uint32) int {
	return int(pageSize/2) - SlotHeaderSize
}

// SlotsPerSegment returns how many slots of the given bucket fit in one
// segment page, capped by the live bitmap width.
func SlotsPerSegment(pageSize, slotSize uint32) uint16 {
	n := (pageSize - SegmentHeaderSize) / slotSize
	if n > MaxSlotsPerSegment {
		n = MaxSlotsPerSegment
	}
	return uint16(n)
}

func slotOffset(slotSize uint32, slot model.SlotID) int {
	return SegmentHeaderSize + int(slotSize)*int(slot)
}

func liveGet(page []byte, slot model.SlotID) bool {
	return page[segLiveBitmapOff+int(slot)/8]&(1<<(uint(slot)%8)) != 0
}

func liveSet(page []byte, slot model.SlotID) {
	page[segLiveBitmapOff+int(slot)/8] |= 1 << (uint(slot) % 8)
}

func liveClear(page []byte, slot model.SlotID) {
	page[segLiveBitmapOff+int(slot)/8] &^= 1 << (uint(slot) % 8)
}

func liveCount(page []byte) int {
	n := 0
	for _, b := range page[segLiveBitmapOff : segLiveBitmapOff+segLiveBitmapSize] {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

func slotGeneration(page []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(page[off : off+4])
}

func setSlotGeneration(page []byte, off int, gen uint32) {
	binary.LittleEndian.PutUint32(page[off:off+4], gen)
}

func slotPayloadLen(page []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(page[off+4 : off+8])
}

func setSlotPayloadLen(page []byte, off int, n uint32) {
	binary.LittleEndian.PutUint32(page[off+4:off+8], n)
}

func validPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && isPow2(uint32(n))
}

func isPow2(n uint32) bool { return n != 0 && n&(n-1) == 0 }
