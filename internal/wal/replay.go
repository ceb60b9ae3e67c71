package wal

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/julianstephens/go-utils/generic"
	"github.com/julianstephens/structdb/internal/wal/record"
)

type TailStatus int

const (
	// TailStatusValid indicates the log ends cleanly at a batch boundary.
	TailStatusValid TailStatus = iota
	// TailStatusTruncated indicates an incomplete batch at the tail,
	// recoverable by truncating at SafeOffset.
	TailStatusTruncated
	// TailStatusCorrupt indicates an undecodable or inconsistent record was
	// found; everything from SafeOffset on must be discarded.
	TailStatusCorrupt
)

func (ts TailStatus) String() string {
	switch ts {
	case TailStatusValid:
		return "valid"
	case TailStatusTruncated:
		return "truncated"
	case TailStatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ReplayResult summarizes a replay pass.
type ReplayResult struct {
	// LastLSN is the highest LSN whose batch was applied.
	LastLSN uint64
	// BatchesApplied counts complete, checksum-valid batches handed to apply.
	BatchesApplied int
	// TailStatus classifies how the log ended.
	TailStatus TailStatus
	// SafeOffset is the byte offset of the first discardable byte: the end
	// of the last complete batch.
	SafeOffset int64
}

// ApplyFunc receives one complete, validated batch: its commit marker and
// the page images in append order.
type ApplyFunc func(commit record.CommitPayload, pages []record.PageImagePayload) error

// Replay scans the sidecar front to back, groups page images into batches,
// validates each batch against its commit marker (LSN agreement, page count,
// xor of frame CRCs), and hands complete batches to apply. Incomplete or
// invalid tails are reported, not applied; apply errors abort the pass.
//
// Replay reads through its own file handle, so it can run while the Log is
// open for append as long as no appends happen concurrently.
func (l *Log) Replay(apply ApplyFunc) (*ReplayResult, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, wrapLogErr("replay", ErrOpenFailed, l.path, 0, err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
		return nil, wrapLogErr("replay", ErrOpenFailed, l.path, HeaderSize, err)
	}

	res := &ReplayResult{
		TailStatus: TailStatusValid,
		SafeOffset: HeaderSize,
	}

	var (
		pending    []record.PageImagePayload
		batchLSN   uint64
		xor        uint32
		batchStart int64 = HeaderSize
	)

	rr := record.NewFrameReader(bufio.NewReaderSize(f, appendBufferSize))
	for {
		rec, err := rr.Next()
		if err != nil {
			if err == io.EOF {
				if len(pending) > 0 {
					// Batch started but its commit never made it out.
					res.TailStatus = TailStatusTruncated
					res.SafeOffset = batchStart
					l.lg.Warn("incomplete batch at log tail",
						"lsn", batchLSN, "pages", len(pending), "safe_offset", batchStart)
				}
				return res, nil
			}

			pe, ok := record.AsParseError(err)
			safe := generic.If(len(pending) > 0, batchStart, res.SafeOffset)
			if ok && len(pending) == 0 {
				safe = pe.SafeTruncateOffset
			}
			res.SafeOffset = safe
			res.TailStatus = generic.If(errors.Is(err, record.ErrTruncated), TailStatusTruncated, TailStatusCorrupt)
			l.lg.Warn("invalid log tail",
				"status", res.TailStatus.String(), "safe_offset", safe, "reason", err.Error())
			return res, nil
		}

		switch rec.Record.Type {
		case record.RecordTypePageImage:
			p, derr := record.DecodePageImagePayload(rec.Record.Payload)
			if derr != nil {
				res.TailStatus = TailStatusCorrupt
				res.SafeOffset = generic.If(len(pending) > 0, batchStart, rec.Offset)
				l.lg.Warn("undecodable page image in log", "offset", rec.Offset, "reason", derr.Error())
				return res, nil
			}
			if len(pending) == 0 {
				batchLSN = p.LSN
				batchStart = rec.Offset
				xor = 0
			} else if p.LSN != batchLSN {
				res.TailStatus = TailStatusCorrupt
				res.SafeOffset = batchStart
				l.lg.Warn("page image lsn mismatch in batch",
					"offset", rec.Offset, "batch_lsn", batchLSN, "page_lsn", p.LSN)
				return res, nil
			}
			pending = append(pending, p)
			xor ^= rec.Record.CRC

		case record.RecordTypeCommit:
			c, derr := record.DecodeCommitPayload(rec.Record.Payload)
			if derr != nil {
				res.TailStatus = TailStatusCorrupt
				res.SafeOffset = generic.If(len(pending) > 0, batchStart, rec.Offset)
				l.lg.Warn("undecodable commit marker in log", "offset", rec.Offset, "reason", derr.Error())
				return res, nil
			}
			if len(pending) > 0 && c.LSN != batchLSN {
				res.TailStatus = TailStatusCorrupt
				res.SafeOffset = batchStart
				l.lg.Warn("commit lsn mismatch", "offset", rec.Offset, "batch_lsn", batchLSN, "commit_lsn", c.LSN)
				return res, nil
			}
			if int(c.PageCount) != len(pending) || c.XorChecksum != xor {
				res.TailStatus = TailStatusCorrupt
				res.SafeOffset = generic.If(len(pending) > 0, batchStart, rec.Offset)
				l.lg.Warn("commit marker does not bind its batch",
					"offset", rec.Offset,
					"want_pages", c.PageCount, "have_pages", len(pending),
					"want_xor", c.XorChecksum, "have_xor", xor)
				return res, nil
			}

			if err := apply(c, pending); err != nil {
				return res, wrapLogErr("replay", ErrReplayApply, l.path, rec.Offset, err)
			}
			res.BatchesApplied++
			res.LastLSN = c.LSN
			res.SafeOffset = rec.Offset + rec.Size
			pending = pending[:0]
			batchStart = res.SafeOffset
		}
	}
}
