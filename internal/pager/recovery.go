package pager

import (
	"fmt"

	"github.com/julianstephens/structdb/internal/errutil"
	"github.com/julianstephens/structdb/internal/wal"
	"github.com/julianstephens/structdb/internal/wal/record"
)

// recover replays the WAL tail left by an unclean shutdown. Every complete,
// checksum-valid batch is re-applied to the main file (idempotent: the
// images are absolute page states); an incomplete or corrupt tail is
// discarded. Runs during Open, before the segment scan.
func (p *Pager) recover() error {
	res, err := p.wal.Replay(func(_ record.CommitPayload, pages []record.PageImagePayload) error {
		for _, pi := range pages {
			if len(pi.Image) != int(p.hdr.PageSize) {
				return fmt.Errorf("page image of %d bytes, store page size is %d", len(pi.Image), p.hdr.PageSize)
			}
			off := int64(pi.PageID) * int64(p.hdr.PageSize)
			if _, err := p.f.WriteAt(pi.Image, off); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapErr(ErrOpenFailed, "recover-replay", p.path, errutil.Coordinates{}, err)
	}
	p.replayed = *res

	if res.BatchesApplied > 0 {
		if err := p.f.Sync(); err != nil {
			return wrapErr(ErrOpenFailed, "recover-sync", p.path, errutil.Coordinates{}, err)
		}
		// The header page travels inside each batch, so reload it.
		if err := p.readHeader(0); err != nil {
			return err
		}
		p.lg.Info("wal replay applied", "batches", res.BatchesApplied, "lastLSN", res.LastLSN)
	}

	switch res.TailStatus {
	case wal.TailStatusTruncated:
		p.lg.Info("discarding incomplete wal tail", "safe_offset", res.SafeOffset)
	case wal.TailStatusCorrupt:
		p.lg.Warn("discarding corrupt wal tail", "safe_offset", res.SafeOffset)
	}

	if res.BatchesApplied > 0 || res.TailStatus != wal.TailStatusValid {
		if err := p.wal.TruncateToHeader(); err != nil {
			return wrapErr(ErrOpenFailed, "recover-truncate", p.path, errutil.Coordinates{}, err)
		}
	}
	return nil
}
