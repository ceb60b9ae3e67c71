package btree

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey indicates an exclusive index already maps the key to a
	// different record.
	ErrDuplicateKey = errors.New("index: duplicate key on exclusive index")
	// ErrUnknownIndex indicates an operation against an index that was never
	// created.
	ErrUnknownIndex = errors.New("index: unknown index")
	// ErrEntryMissing indicates a removal for a key/rid pair the index does
	// not hold. Index and record state drifting apart is a store bug.
	ErrEntryMissing = errors.New("index: entry missing")
	// ErrDiverged indicates a verification pass found trees that disagree
	// with the stored records.
	ErrDiverged = errors.New("index: diverged from records")
)

// IndexError names the index an operation failed against.
type IndexError struct {
	Err   error
	Index string
	Op    string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v: op=%s index=%s", e.Err, e.Op, e.Index)
}

func (e *IndexError) Unwrap() error { return e.Err }

func wrapIdxErr(sentinel error, op, index string) error {
	return &IndexError{Err: sentinel, Op: op, Index: index}
}
