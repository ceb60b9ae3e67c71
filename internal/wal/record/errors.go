package record

import (
	"errors"
	"fmt"
	"io"
)

// Frame parse failures. Every ParseError carries exactly one of these in
// Err, so errors.Is picks the failure class out of any wrapped chain.
var (
	ErrTruncated        = errors.New("record: truncated")
	ErrCorrupt          = errors.New("record: corrupt")
	ErrTooLarge         = errors.New("record: too large")
	ErrInvalidType      = errors.New("record: invalid type")
	ErrInvalidLength    = errors.New("record: invalid length (must be > 0)")
	ErrChecksumMismatch = errors.New("record: checksum mismatch")
)

// ParseError locates a frame that failed to read back.
type ParseError struct {
	// Err is the stable sentinel naming the failure class.
	Err error

	// Offset is the byte offset of the frame's length prefix.
	Offset int64

	// SafeTruncateOffset is where the log may be cut to drop the bad
	// tail, normally the start of the failing frame.
	SafeTruncateOffset int64

	DeclaredLen uint32
	RawType     byte
	RecordType  RecordType
	Want        int
	Have        int

	// Cause keeps the underlying failure, io.ErrUnexpectedEOF for
	// truncations.
	Cause error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%v offset=%d safe=%d len=%d type=0x%02x want=%d have=%d",
		e.Err, e.Offset, e.SafeTruncateOffset, e.DeclaredLen, e.RawType, e.Want, e.Have)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// AsParseError pulls a ParseError out of a wrapped chain.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	ok := errors.As(err, &pe)
	return pe, ok
}

// IsCleanEOF reports an end of stream on a frame boundary.
func IsCleanEOF(err error) bool { return errors.Is(err, io.EOF) }

// IsTruncation reports a frame cut short, the signature of a crash mid
// append.
func IsTruncation(err error) bool { return errors.Is(err, ErrTruncated) }

// IsCorruption reports bytes that cannot be a valid frame at all.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorrupt) || errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrTooLarge) || errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrChecksumMismatch)
}

var (
	ErrCodecTruncated = errors.New("record: codec truncated payload")
	ErrCodecInvalid   = errors.New("record: codec invalid payload")
)

// CodecError reports a payload that framed correctly but does not decode as
// its record type.
type CodecError struct {
	Kind string // "page_image", "commit"
	At   int    // byte offset within payload where failure occurred
	Want int
	Have int
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("record: codec %s at=%d want=%d have=%d: %v",
		e.Kind, e.At, e.Want, e.Have, e.Err,
	)
}

func (e *CodecError) Unwrap() error { return e.Err }
