// Package model defines the identifier types shared by every layer of the
// store: type ids, segment ids, slot ids, and the record id (Rid) that
// combines them.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

type (
	// TypeID identifies a defined struct type. Assigned once at define time
	// and never reused within the lifetime of a store file.
	TypeID uint32

	// SegmentID identifies a segment (one page) within the store file.
	// Segment 0 is the file header and never holds records.
	SegmentID uint32

	// SlotID identifies a slot within a segment.
	SlotID uint16
)

// Rid is the stable identity of a persistent record: the type it belongs to,
// the segment holding it, and the slot within that segment. The zero Rid is
// not a valid record id.
type Rid struct {
	Type    TypeID
	Segment SegmentID
	Slot    SlotID
}

// IsZero reports whether r is the zero (invalid) record id.
func (r Rid) IsZero() bool {
	return r.Type == 0 && r.Segment == 0 && r.Slot == 0
}

// String renders r as "type/segment/slot".
func (r Rid) String() string {
	return fmt.Sprintf("%d/%d/%d", r.Type, r.Segment, r.Slot)
}

// Compare orders rids by (Type, Segment, Slot). It returns -1, 0, or 1.
func (r Rid) Compare(o Rid) int {
	switch {
	case r.Type != o.Type:
		if r.Type < o.Type {
			return -1
		}
		return 1
	case r.Segment != o.Segment:
		if r.Segment < o.Segment {
			return -1
		}
		return 1
	case r.Slot != o.Slot:
		if r.Slot < o.Slot {
			return -1
		}
		return 1
	}
	return 0
}

// ParseRid parses the "type/segment/slot" form produced by String.
func ParseRid(s string) (Rid, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Rid{}, fmt.Errorf("model: malformed rid %q", s)
	}
	t, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Rid{}, fmt.Errorf("model: malformed rid %q: %w", s, err)
	}
	seg, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Rid{}, fmt.Errorf("model: malformed rid %q: %w", s, err)
	}
	slot, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return Rid{}, fmt.Errorf("model: malformed rid %q: %w", s, err)
	}
	return Rid{Type: TypeID(t), Segment: SegmentID(seg), Slot: SlotID(slot)}, nil
}
