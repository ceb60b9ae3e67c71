package structdb

import (
	"errors"
	"fmt"

	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/internal/txn"
	"github.com/julianstephens/structdb/query"
)

var (
	ErrInvalidPath           = errors.New("structdb: invalid path")
	ErrOpenFailed            = errors.New("structdb: open failed")
	ErrManifestInvalid       = errors.New("structdb: manifest invalid")
	ErrOptionsMismatch       = errors.New("structdb: options mismatch")
	ErrLocked                = errors.New("structdb: locked by another process")
	ErrClosed                = errors.New("structdb: closed")
	ErrBackingStore          = errors.New("structdb: backing store failure")
	ErrRecoveryRequired      = errors.New("structdb: recovery required")
	ErrPoisoned              = errors.New("structdb: store poisoned, reopen required")
	ErrStructAlreadyDefined  = errors.New("structdb: struct already defined with a different shape")
	ErrStructNotDefined      = errors.New("structdb: struct not defined")
	ErrMigrationNotSupported = errors.New("structdb: stored schema differs, migration not supported")
	ErrInvalidId             = errors.New("structdb: invalid record id")
	ErrNotFound              = errors.New("structdb: record not found")
	ErrDuplicateKey          = errors.New("structdb: duplicate key on exclusive index")
	ErrTxDone                = errors.New("structdb: transaction is done")
	ErrRecordTooLarge        = errors.New("structdb: record too large")
	ErrBackupFailed          = errors.New("structdb: backup failed")
	ErrRestoreFailed         = errors.New("structdb: restore failed")
)

// Query failures surface with the query package's own sentinels.
var (
	ErrSortLimit       = query.ErrSortLimit
	ErrFieldNotIndexed = query.ErrFieldNotIndexed
	ErrInvalidQuery    = query.ErrInvalidQuery
)

// StoreError wraps store-level failures with stable sentinels for errors.Is,
// while preserving Cause for inspection/logging.
type StoreError struct {
	Err error

	// Op describes the operation: "open", "define", "commit", "query", etc.
	Op string

	// Path is the store's data file path.
	Path string

	Cause error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err.Error(), e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) CauseErr() error { return e.Cause }

func wrapStoreErr(op string, sentinel error, path string, cause error) error {
	return &StoreError{
		Err:   sentinel,
		Op:    op,
		Path:  path,
		Cause: cause,
	}
}

// translate maps an engine error onto the public kinds, keeping the engine
// error as Cause. Schema and query errors are public surface already and
// pass through unchanged.
func translate(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case errors.Is(err, pager.ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, pager.ErrInvalidRid):
		kind = ErrInvalidId
	case errors.Is(err, pager.ErrTooLarge):
		kind = ErrRecordTooLarge
	case errors.Is(err, pager.ErrRecoveryRequired):
		kind = ErrRecoveryRequired
	case errors.Is(err, pager.ErrLocked):
		kind = ErrLocked
	case errors.Is(err, pager.ErrClosed):
		kind = ErrClosed
	case errors.Is(err, pager.ErrBatchDone), errors.Is(err, txn.ErrTxDone):
		kind = ErrTxDone
	case errors.Is(err, txn.ErrPoisoned):
		kind = ErrPoisoned
	case errors.Is(err, btree.ErrDuplicateKey):
		kind = ErrDuplicateKey
	case errors.Is(err, registry.ErrStructAlreadyDefined):
		kind = ErrStructAlreadyDefined
	case errors.Is(err, registry.ErrStructNotDefined):
		kind = ErrStructNotDefined
	case errors.Is(err, registry.ErrMigrationNotSupported):
		kind = ErrMigrationNotSupported
	case errors.Is(err, registry.ErrCatalogCorrupt),
		errors.Is(err, btree.ErrDiverged),
		errors.Is(err, pager.ErrCorrupt),
		errors.Is(err, pager.ErrIO),
		errors.Is(err, pager.ErrBadHeader),
		errors.Is(err, pager.ErrBadSegment),
		errors.Is(err, pager.ErrStoreFull),
		errors.Is(err, pager.ErrOpenFailed):
		kind = ErrBackingStore
	default:
		return err
	}
	return wrapStoreErr(op, kind, path, err)
}
