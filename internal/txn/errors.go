package txn

import (
	"errors"
)

var (
	// ErrTxDone indicates an operation on a transaction that already
	// committed, rolled back, or closed.
	ErrTxDone = errors.New("txn: transaction is done")

	// ErrPoisoned indicates a commit failed while its effects were partly
	// visible. The store refuses all further work until it is reopened,
	// which rebuilds every derived structure from the data file.
	ErrPoisoned = errors.New("txn: store poisoned by a failed commit")
)

// TxError carries the failing operation alongside the sentinel.
type TxError struct {
	Err   error
	Op    string
	Cause error
}

func (e *TxError) Error() string {
	msg := e.Err.Error() + ": op=" + e.Op
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TxError) Unwrap() error { return e.Err }

// CauseErr returns the underlying error, if any.
func (e *TxError) CauseErr() error { return e.Cause }

func wrapTxErr(sentinel error, op string, cause error) error {
	return &TxError{Err: sentinel, Op: op, Cause: cause}
}
