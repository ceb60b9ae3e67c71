package record

import (
	"encoding/binary"
	"io"
)

// EncodePageImagePayload encodes a page image body: lsn, page id, then the
// raw page bytes.
func EncodePageImagePayload(lsn uint64, pageID uint32, image []byte) []byte {
	out := make([]byte, PageImageHeaderSize+len(image))
	binary.LittleEndian.PutUint64(out[0:], lsn)
	binary.LittleEndian.PutUint32(out[8:], pageID)
	copy(out[PageImageHeaderSize:], image)
	return out
}

// DecodePageImagePayload decodes a page image body. The returned Image
// aliases payload.
func DecodePageImagePayload(payload []byte) (PageImagePayload, error) {
	if len(payload) <= PageImageHeaderSize {
		return PageImagePayload{}, &CodecError{
			Kind: "page_image",
			At:   0,
			Want: PageImageHeaderSize + 1,
			Have: len(payload),
			Err:  ErrCodecTruncated,
		}
	}
	return PageImagePayload{
		LSN:    binary.LittleEndian.Uint64(payload[0:]),
		PageID: binary.LittleEndian.Uint32(payload[8:]),
		Image:  payload[PageImageHeaderSize:],
	}, nil
}

// EncodeCommitPayload encodes a commit body: lsn, batch page count, and the
// xor of the batch's page image frame CRCs.
func EncodeCommitPayload(lsn uint64, pageCount uint32, xor uint32) []byte {
	out := make([]byte, CommitPayloadSize)
	binary.LittleEndian.PutUint64(out[0:], lsn)
	binary.LittleEndian.PutUint32(out[8:], pageCount)
	binary.LittleEndian.PutUint32(out[12:], xor)
	return out
}

// DecodeCommitPayload decodes a commit body.
func DecodeCommitPayload(payload []byte) (CommitPayload, error) {
	if len(payload) != CommitPayloadSize {
		return CommitPayload{}, &CodecError{
			Kind: "commit",
			At:   0,
			Want: CommitPayloadSize,
			Have: len(payload),
			Err:  ErrCodecInvalid,
		}
	}
	return CommitPayload{
		LSN:         binary.LittleEndian.Uint64(payload[0:]),
		PageCount:   binary.LittleEndian.Uint32(payload[8:]),
		XorChecksum: binary.LittleEndian.Uint32(payload[12:]),
	}, nil
}

// FrameReader reads framed records from a stream, tracking byte offsets so
// callers can report safe truncation points.
type FrameReader struct {
	r      io.Reader
	offset int64
}

// NewFrameReader creates a FrameReader positioned at offset 0 of r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:      r,
		offset: 0,
	}
}

// Next reads the next record from the underlying reader. A clean EOF at a
// frame boundary returns io.EOF; anything else mid-frame is a ParseError
// whose SafeTruncateOffset points at the start of the failing frame.
func (rr *FrameReader) Next() (FramedRecord, error) {
	recordStart := rr.offset

	hdr := make([]byte, RecordHeaderSize)
	n, err := io.ReadFull(rr.r, hdr)
	if err != nil {
		rr.offset += int64(n)
		if err == io.EOF && n == 0 {
			return FramedRecord{}, io.EOF
		}

		return FramedRecord{}, &ParseError{
			Err:                ErrTruncated,
			Offset:             recordStart,
			SafeTruncateOffset: recordStart,
			Want:               RecordHeaderSize,
			Have:               n,
			Cause:              io.ErrUnexpectedEOF,
		}
	}

	recordLen := binary.LittleEndian.Uint32(hdr)
	if err = ValidateRecordLength(recordLen); err != nil {
		if pe, ok := AsParseError(err); ok {
			pe.Offset = recordStart
			pe.SafeTruncateOffset = recordStart
			return FramedRecord{}, pe
		}
		return FramedRecord{}, err
	}

	body := make([]byte, recordLen+RecordCRCSize)
	n, err = io.ReadFull(rr.r, body)
	if err != nil {
		rr.offset += int64(RecordHeaderSize + n)
		return FramedRecord{}, &ParseError{
			Err:                ErrTruncated,
			Offset:             recordStart,
			SafeTruncateOffset: recordStart,
			DeclaredLen:        recordLen,
			Want:               int(recordLen) + RecordCRCSize,
			Have:               n,
			Cause:              io.ErrUnexpectedEOF,
		}
	}
	rr.offset += int64(RecordHeaderSize + len(body))

	recordTypeRaw := body[0]
	recordType := RecordType(recordTypeRaw)
	if recordType <= RecordTypeUnknown || recordType > RecordTypeCommit {
		return FramedRecord{}, &ParseError{
			Err:                ErrInvalidType,
			Offset:             recordStart,
			SafeTruncateOffset: recordStart,
			DeclaredLen:        recordLen,
			RawType:            recordTypeRaw,
			RecordType:         recordType,
		}
	}

	rec := FramedRecord{
		Offset: recordStart,
		Size:   int64(RecordHeaderSize + recordLen + RecordCRCSize),
		Record: Record{
			Len:     recordLen,
			Type:    recordType,
			Payload: body[1:int(recordLen)],
			CRC: binary.LittleEndian.Uint32(
				body[recordLen : recordLen+RecordCRCSize],
			),
		},
	}

	if !VerifyChecksum(&rec.Record) {
		return FramedRecord{}, &ParseError{
			Err:                ErrChecksumMismatch,
			Offset:             recordStart,
			SafeTruncateOffset: recordStart,
			DeclaredLen:        recordLen,
			RawType:            recordTypeRaw,
			RecordType:         recordType,
		}
	}

	return rec, nil
}

// Offset returns the current offset in the underlying reader.
func (rr *FrameReader) Offset() int64 {
	return rr.offset
}
