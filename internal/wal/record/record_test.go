package record_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
	"github.com/julianstephens/structdb/internal/wal/record"
)

func validPageImage(t *testing.T, lsn uint64, pageID uint32, fill byte) []byte {
	t.Helper()
	image := bytes.Repeat([]byte{fill}, 128)
	frame, err := record.EncodeFrame(record.RecordTypePageImage, record.EncodePageImagePayload(lsn, pageID, image))
	tst.RequireNoError(t, err)
	return frame
}

// TestEncodeDecodeFrameRoundTrip verifies a frame survives encode/decode
func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	image := bytes.Repeat([]byte{0xAB}, 64)
	payload := record.EncodePageImagePayload(9, 3, image)
	frame, err := record.EncodeFrame(record.RecordTypePageImage, payload)
	tst.RequireNoError(t, err)

	tst.RequireDeepEqual(t, int64(len(frame)), record.EncodedRecordSize(len(payload)))

	rec, err := record.DecodeFrame(frame)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rec.Record.Type, record.RecordTypePageImage)

	decoded, err := record.DecodePageImagePayload(rec.Record.Payload)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, decoded.LSN, uint64(9))
	tst.RequireDeepEqual(t, decoded.PageID, uint32(3))
	tst.RequireDeepEqual(t, decoded.Image, image)
}

// TestEncodeDecodeCommitPayload verifies commit payload round trip
func TestEncodeDecodeCommitPayload(t *testing.T) {
	payload := record.EncodeCommitPayload(42, 5, 0xDEADBEEF)
	tst.RequireDeepEqual(t, len(payload), record.CommitPayloadSize)

	decoded, err := record.DecodeCommitPayload(payload)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, decoded.LSN, uint64(42))
	tst.RequireDeepEqual(t, decoded.PageCount, uint32(5))
	tst.RequireDeepEqual(t, decoded.XorChecksum, uint32(0xDEADBEEF))
}

func TestDecodeCommitPayloadWrongSize(t *testing.T) {
	_, err := record.DecodeCommitPayload(make([]byte, record.CommitPayloadSize-1))
	if err == nil {
		t.Fatal("expected error for undersized commit payload")
	}
	var ce *record.CodecError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CodecError, got %T", err)
	}
}

func TestValidateRecordFrame(t *testing.T) {
	testCases := []struct {
		name       string
		recordType record.RecordType
		payload    []byte
		wantErr    error
	}{
		{
			name:       "ValidPageImage",
			recordType: record.RecordTypePageImage,
			payload:    record.EncodePageImagePayload(1, 1, []byte{0xFF}),
		},
		{
			name:       "PageImageTooShort",
			recordType: record.RecordTypePageImage,
			payload:    make([]byte, record.PageImageHeaderSize),
			wantErr:    record.ErrInvalidLength,
		},
		{
			name:       "ValidCommit",
			recordType: record.RecordTypeCommit,
			payload:    record.EncodeCommitPayload(1, 1, 1),
		},
		{
			name:       "CommitWrongSize",
			recordType: record.RecordTypeCommit,
			payload:    make([]byte, record.CommitPayloadSize+1),
			wantErr:    record.ErrInvalidLength,
		},
		{
			name:       "UnknownType",
			recordType: record.RecordType(99),
			payload:    []byte{1, 2, 3},
			wantErr:    record.ErrInvalidType,
		},
		{
			name:       "OversizedPayload",
			recordType: record.RecordTypePageImage,
			payload:    make([]byte, record.MaxRecordSize+1),
			wantErr:    record.ErrTooLarge,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := record.ValidateRecordFrame(tc.recordType, tc.payload)
			if tc.wantErr == nil {
				tst.RequireNoError(t, err)
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDecodeFrameChecksumMismatch(t *testing.T) {
	frame := validPageImage(t, 1, 1, 0x11)
	// Flip a bit inside the payload region
	frame[record.RecordHeaderSize+5] ^= 0xFF

	_, err := record.DecodeFrame(frame)
	if !errors.Is(err, record.ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
	pe, ok := record.AsParseError(err)
	tst.AssertTrue(t, ok, "expected ParseError")
	tst.RequireDeepEqual(t, pe.Err, record.ErrChecksumMismatch)
}

func TestDecodeFrameInvalidType(t *testing.T) {
	frame := validPageImage(t, 1, 1, 0x11)
	frame[record.RecordHeaderSize] = 0x7F

	_, err := record.DecodeFrame(frame)
	if !errors.Is(err, record.ErrInvalidType) {
		t.Fatalf("expected invalid type, got %v", err)
	}
}

func TestFrameReaderSequence(t *testing.T) {
	var buf bytes.Buffer
	f1 := validPageImage(t, 1, 2, 0xAA)
	f2 := validPageImage(t, 1, 3, 0xBB)
	commit, err := record.EncodeFrame(record.RecordTypeCommit, record.EncodeCommitPayload(1, 2, 0))
	tst.RequireNoError(t, err)
	buf.Write(f1)
	buf.Write(f2)
	buf.Write(commit)

	rr := record.NewFrameReader(&buf)

	rec, err := rr.Next()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rec.Record.Type, record.RecordTypePageImage)
	tst.RequireDeepEqual(t, rec.Offset, int64(0))

	rec, err = rr.Next()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rec.Record.Type, record.RecordTypePageImage)
	tst.RequireDeepEqual(t, rec.Offset, int64(len(f1)))

	rec, err = rr.Next()
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rec.Record.Type, record.RecordTypeCommit)

	_, err = rr.Next()
	tst.RequireDeepEqual(t, err, io.EOF)
}

func TestFrameReaderTornTail(t *testing.T) {
	full := validPageImage(t, 7, 1, 0xCC)
	torn := validPageImage(t, 7, 2, 0xDD)

	var buf bytes.Buffer
	buf.Write(full)
	buf.Write(torn[:len(torn)/2])

	rr := record.NewFrameReader(&buf)
	_, err := rr.Next()
	tst.RequireNoError(t, err)

	_, err = rr.Next()
	if !errors.Is(err, record.ErrTruncated) {
		t.Fatalf("expected truncation, got %v", err)
	}
	pe, ok := record.AsParseError(err)
	tst.AssertTrue(t, ok, "expected ParseError")
	tst.RequireDeepEqual(t, pe.SafeTruncateOffset, int64(len(full)))
}

func TestFrameReaderGarbageLength(t *testing.T) {
	var buf bytes.Buffer
	hdr := make([]byte, record.RecordHeaderSize)
	binary.LittleEndian.PutUint32(hdr, record.MaxRecordSize+10)
	buf.Write(hdr)
	buf.Write(bytes.Repeat([]byte{0xEE}, 32))

	rr := record.NewFrameReader(&buf)
	_, err := rr.Next()
	if !errors.Is(err, record.ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
}
