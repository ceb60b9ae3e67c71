package record

type RecordType uint8

const (
	RecordTypeUnknown RecordType = iota

	// RecordTypePageImage carries the after-image of one page touched by a
	// commit batch.
	RecordTypePageImage

	// RecordTypeCommit marks the end of a batch. A batch is durable only if
	// its commit record is present and its checksum binds the page images
	// that precede it.
	RecordTypeCommit
)

func (t RecordType) String() string {
	switch t {
	case RecordTypePageImage:
		return "page_image"
	case RecordTypeCommit:
		return "commit"
	default:
		return "unknown"
	}
}

type Record struct {
	Type    RecordType
	Payload []byte
	CRC     uint32
	// The length of the record type + payload (excluding CRC)
	Len uint32
}

type FramedRecord struct {
	Record Record
	Size   int64
	Offset int64
}

// PageImagePayload is the decoded body of a page image record.
type PageImagePayload struct {
	LSN    uint64
	PageID uint32
	Image  []byte
}

// CommitPayload is the decoded body of a commit record. XorChecksum is the
// XOR of the frame CRCs of the batch's page image records; replay recomputes
// it and discards the batch on mismatch.
type CommitPayload struct {
	LSN         uint64
	PageCount   uint32
	XorChecksum uint32
}
