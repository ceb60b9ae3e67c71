package errutil

import "fmt"

// Coordinates holds positional information (log sequence number, page,
// segment, slot) used in error formatting across the storage packages.
type Coordinates struct {
	// LSN is the log sequence number associated with the error.
	LSN *uint64

	// Page is the page id where the error occurred.
	Page *uint32

	// Segment is the segment id where the error occurred.
	Segment *uint32

	// Slot is the slot index within a segment where the error occurred.
	Slot *uint16

	// Offset is the byte offset within a file where the error occurred.
	Offset *int64
}

// FormatCoordinates returns a formatted string representation of the error
// coordinates. It includes only non-nil values in the format
// "lsn=X page=Y seg=Z slot=N at=O". Returns an empty string if all
// coordinates are nil.
func (c *Coordinates) FormatCoordinates() string {
	if c == nil {
		return ""
	}

	var parts []string

	if c.LSN != nil {
		parts = append(parts, fmt.Sprintf("lsn=%d", *c.LSN))
	}
	if c.Page != nil {
		parts = append(parts, fmt.Sprintf("page=%d", *c.Page))
	}
	if c.Segment != nil {
		parts = append(parts, fmt.Sprintf("seg=%d", *c.Segment))
	}
	if c.Slot != nil {
		parts = append(parts, fmt.Sprintf("slot=%d", *c.Slot))
	}
	if c.Offset != nil {
		parts = append(parts, fmt.Sprintf("at=%d", *c.Offset))
	}

	if len(parts) == 0 {
		return ""
	}

	result := ""
	for i, part := range parts {
		if i > 0 {
			result += " "
		}
		result += part
	}
	return result
}

// String implements the Stringer interface for Coordinates.
func (c *Coordinates) String() string {
	return c.FormatCoordinates()
}

// U64 returns a pointer to v, for filling optional coordinate fields.
func U64(v uint64) *uint64 { return &v }

// U32 returns a pointer to v.
func U32(v uint32) *uint32 { return &v }

// U16 returns a pointer to v.
func U16(v uint16) *uint16 { return &v }

// I64 returns a pointer to v.
func I64(v int64) *int64 { return &v }
