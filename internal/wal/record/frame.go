package record

import (
	"encoding/binary"
	"io"
)

const (
	RecordHeaderSize     = 4 // Length of the record length field
	RecordTypeHeaderSize = 1 // Length of the record type field
	RecordCRCSize        = 4 // Length of the CRC32 field

	// PageImageHeaderSize is the fixed prefix of a page image payload
	// (lsn + page id) before the image bytes.
	PageImageHeaderSize = 8 + 4

	// CommitPayloadSize is the exact size of a commit payload
	// (lsn + page count + xor checksum).
	CommitPayloadSize = 8 + 4 + 4

	// MaxRecordSize bounds a single frame. Page images dominate; the largest
	// supported page is 32 KiB, so this leaves ample slack without letting a
	// corrupt length prefix drive huge allocations.
	MaxRecordSize = 256 * 1024
)

// ValidateRecordLength checks if the given record length is within valid bounds.
func ValidateRecordLength(length uint32) error {
	if length < 1 {
		return &ParseError{
			Err:         ErrInvalidLength,
			DeclaredLen: length,
		}
	}

	if length > MaxRecordSize {
		return &ParseError{
			Err:         ErrTooLarge,
			DeclaredLen: length,
			Want:        MaxRecordSize,
			Have:        int(length),
		}
	}
	return nil
}

// ValidateRecordFrame validates the record type and payload shape before
// framing.
func ValidateRecordFrame(recordType RecordType, payload []byte) error {
	if err := ValidateRecordLength(uint32(len(payload)) + 1); err != nil { //nolint:gosec
		return err
	}
	switch recordType {
	case RecordTypePageImage:
		if len(payload) <= PageImageHeaderSize {
			return &ParseError{
				Err:        ErrInvalidLength,
				Have:       len(payload),
				Want:       PageImageHeaderSize + 1,
				RecordType: recordType,
			}
		}
	case RecordTypeCommit:
		if len(payload) != CommitPayloadSize {
			return &ParseError{
				Err:        ErrInvalidLength,
				Have:       len(payload),
				Want:       CommitPayloadSize,
				RecordType: recordType,
			}
		}
	default:
		return &ParseError{
			Err:        ErrInvalidType,
			RecordType: recordType,
		}
	}

	return nil
}

// EncodedRecordSize returns the on-disk size of a frame with the given
// payload length.
func EncodedRecordSize(payloadLen int) int64 {
	return RecordHeaderSize + 1 + int64(payloadLen) + RecordCRCSize
}

// EncodeFrame encodes a record with the given type and payload:
// [len u32][type u8][payload][crc32c u32], with the CRC computed over the
// type byte and payload.
func EncodeFrame(recordType RecordType, payload []byte) ([]byte, error) {
	recordLen := uint32(len(payload)) + 1 //nolint:gosec
	if err := ValidateRecordFrame(recordType, payload); err != nil {
		return nil, err
	}

	data := make([]byte, RecordHeaderSize+recordLen+RecordCRCSize)

	binary.LittleEndian.PutUint32(data[:RecordHeaderSize], recordLen)

	data[4] = byte(recordType)
	copy(data[5:], payload)

	crc := ComputeChecksum(data[RecordHeaderSize : RecordHeaderSize+recordLen])
	crcIndex := RecordHeaderSize + recordLen
	binary.LittleEndian.PutUint32(data[crcIndex:], crc)

	return data, nil
}

// DecodeFrame decodes a single complete frame from data.
func DecodeFrame(data []byte) (FramedRecord, error) {
	if len(data) < RecordHeaderSize+RecordCRCSize {
		return FramedRecord{}, &ParseError{
			Err:   ErrTruncated,
			Want:  RecordHeaderSize + RecordCRCSize,
			Have:  len(data),
			Cause: io.ErrUnexpectedEOF,
		}
	}

	recordLen := binary.LittleEndian.Uint32(data[:RecordHeaderSize])
	if err := ValidateRecordLength(recordLen); err != nil {
		if pe, ok := AsParseError(err); ok {
			pe.Offset = 0
			pe.SafeTruncateOffset = 0
			return FramedRecord{}, pe
		}
		return FramedRecord{}, err
	}

	wantTotal := RecordHeaderSize + int(recordLen) + RecordCRCSize
	if len(data) < wantTotal {
		return FramedRecord{}, &ParseError{
			Err:         ErrTruncated,
			DeclaredLen: recordLen,
			Want:        wantTotal,
			Have:        len(data),
			Cause:       io.ErrUnexpectedEOF,
		}
	}
	if len(data) != wantTotal {
		return FramedRecord{}, &ParseError{
			Err:         ErrCorrupt,
			DeclaredLen: recordLen,
			Want:        wantTotal,
			Have:        len(data),
		}
	}

	rawType := data[RecordHeaderSize]
	recordType := RecordType(rawType)
	if recordType <= RecordTypeUnknown || recordType > RecordTypeCommit {
		return FramedRecord{}, &ParseError{
			Err:         ErrInvalidType,
			DeclaredLen: recordLen,
			RawType:     rawType,
			RecordType:  recordType,
		}
	}

	rec := FramedRecord{
		Offset: 0,
		Size:   int64(RecordHeaderSize + recordLen + RecordCRCSize),
		Record: Record{
			Len:     recordLen,
			Type:    recordType,
			Payload: data[RecordHeaderSize+1 : RecordHeaderSize+recordLen],
			CRC: binary.LittleEndian.Uint32(
				data[RecordHeaderSize+recordLen : wantTotal],
			),
		},
	}

	if !VerifyChecksum(&rec.Record) {
		return FramedRecord{}, &ParseError{
			Err:         ErrChecksumMismatch,
			DeclaredLen: recordLen,
			RawType:     rawType,
			RecordType:  recordType,
		}
	}

	return rec, nil
}
