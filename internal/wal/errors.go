package wal

import (
	"errors"
	"fmt"
)

var (
	ErrAppendFailed = errors.New("wal: append failed")
	ErrShortWrite   = errors.New("wal: short write")
	ErrFlushFailed  = errors.New("wal: flush failed")
	ErrSyncFailed   = errors.New("wal: fsync failed")
	ErrCloseFailed  = errors.New("wal: close failed")

	ErrWALClosed     = errors.New("wal: log closed")
	ErrCreateFailed  = errors.New("wal: create failed")
	ErrOpenFailed    = errors.New("wal: open failed")
	ErrBadHeader     = errors.New("wal: bad header")
	ErrStoreMismatch = errors.New("wal: sidecar belongs to a different store")
	ErrTruncate      = errors.New("wal: truncate failed")

	ErrReplayApply = errors.New("wal: replay apply failed")
)

// LogError carries the failing operation and log position along with a
// stable sentinel in Err for errors.Is.
type LogError struct {
	Err    error
	Op     string
	Path   string
	Offset int64
	Cause  error
}

func (e *LogError) Error() string {
	msg := e.Err.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s@%d)", msg, e.Path, e.Offset)
	}
	return msg
}

func (e *LogError) Unwrap() error { return e.Err }

// CauseErr returns the underlying cause, kept out of the errors.Is chain.
func (e *LogError) CauseErr() error { return e.Cause }
