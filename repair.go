package structdb

import (
	"context"
	"os"

	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/wal"
)

// RepairReport summarizes what Repair found and did.
type RepairReport struct {
	// BatchesApplied counts complete WAL batches re-applied to the data
	// file.
	BatchesApplied int
	// LastLSN is the highest LSN applied, zero if nothing was replayed.
	LastLSN uint64
	// TailStatus is "valid", "truncated", or "corrupt": how the WAL ended.
	TailStatus string
	// DiscardedBytes is how much of the WAL tail could not be replayed and
	// was dropped.
	DiscardedBytes int64
}

// Repair recovers a store that shut down uncleanly: it replays every
// complete WAL batch, discards a torn or corrupt tail, verifies the
// physical file, and leaves the store checkpointed with an empty WAL. The
// same recovery runs on every Open; Repair exists so tooling can run it
// explicitly and report what was lost. The store must not be open
// elsewhere.
func Repair(path string, lg logger.Logger) (RepairReport, error) {
	if path == "" {
		return RepairReport{}, wrapStoreErr("repair", ErrInvalidPath, path, nil)
	}
	if lg == nil {
		lg = logger.NoOpLogger{}
	}

	var walSize int64
	if fi, err := os.Stat(path + "-wal"); err == nil {
		walSize = fi.Size()
	}

	pg, err := pager.Open(path, pager.Options{}, lg)
	if err != nil {
		return RepairReport{}, translate("repair", path, err)
	}

	res := pg.Replayed()
	rep := RepairReport{
		BatchesApplied: res.BatchesApplied,
		LastLSN:        res.LastLSN,
		TailStatus:     res.TailStatus.String(),
	}
	if res.TailStatus != wal.TailStatusValid && walSize > res.SafeOffset {
		rep.DiscardedBytes = walSize - res.SafeOffset
	}

	if err := pg.Verify(context.Background()); err != nil {
		pg.Close()
		return rep, translate("repair", path, err)
	}
	if err := pg.Close(); err != nil {
		return rep, translate("repair", path, err)
	}
	return rep, nil
}
