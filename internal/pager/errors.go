package pager

import (
	"errors"
	"fmt"

	"github.com/julianstephens/structdb/internal/errutil"
)

var (
	// ErrOpenFailed indicates the store file could not be created or opened.
	ErrOpenFailed = errors.New("pager: open failed")
	// ErrLocked indicates another process holds the store file lock.
	ErrLocked = errors.New("pager: store is locked by another process")
	// ErrBadHeader indicates the header page failed validation.
	ErrBadHeader = errors.New("pager: invalid store header")
	// ErrBadSegment indicates a segment header failed validation.
	ErrBadSegment = errors.New("pager: invalid segment header")
	// ErrClosed indicates the pager has been closed.
	ErrClosed = errors.New("pager: closed")
	// ErrRecoveryRequired indicates a failed apply left the store in a state
	// that only a reopen (and WAL replay) can repair.
	ErrRecoveryRequired = errors.New("pager: recovery required")
	// ErrNotFound indicates the slot is not live.
	ErrNotFound = errors.New("pager: record not found")
	// ErrInvalidRid indicates a malformed or mistyped record id.
	ErrInvalidRid = errors.New("pager: invalid record id")
	// ErrTooLarge indicates a payload exceeding the largest slot bucket.
	ErrTooLarge = errors.New("pager: record too large")
	// ErrStoreFull indicates the segment address space is exhausted.
	ErrStoreFull = errors.New("pager: store full")
	// ErrBatchDone indicates use of a committed or aborted batch.
	ErrBatchDone = errors.New("pager: batch already finished")
	// ErrBatchActive indicates a second concurrent write batch.
	ErrBatchActive = errors.New("pager: another write batch is active")
	// ErrCorrupt indicates on-disk state that violates the format.
	ErrCorrupt = errors.New("pager: corrupt store data")
	// ErrIO wraps read/write/sync failures against the backing file.
	ErrIO = errors.New("pager: backing store i/o failed")
)

// PagerError carries positional context for a pager failure.
type PagerError struct {
	Err    error
	Op     string
	Path   string
	Coords errutil.Coordinates
	Cause  error
}

func (e *PagerError) Error() string {
	msg := fmt.Sprintf("%v: op=%s", e.Err, e.Op)
	if e.Path != "" {
		msg += fmt.Sprintf(" path=%s", e.Path)
	}
	if c := e.Coords.String(); c != "" {
		msg += " " + c
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *PagerError) Unwrap() error { return e.Err }

// CauseErr returns the underlying system error, if any.
func (e *PagerError) CauseErr() error { return e.Cause }

func wrapErr(sentinel error, op, path string, coords errutil.Coordinates, cause error) error {
	return &PagerError{Err: sentinel, Op: op, Path: path, Coords: coords, Cause: cause}
}
