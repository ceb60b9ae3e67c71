package recstore

import (
	"github.com/julianstephens/structdb/model"
)

// RecordError adds the logical operation, struct name, and record id to a
// failure from the layers below. It defines no sentinels of its own: Err is
// the underlying pager, index, or schema error, so errors.Is keeps working
// across the wrap.
type RecordError struct {
	Err    error
	Struct string
	Op     string
	Rid    model.Rid
}

func (e *RecordError) Error() string {
	msg := e.Err.Error() + ": op=" + e.Op + " struct=" + e.Struct
	if !e.Rid.IsZero() {
		msg += " rid=" + e.Rid.String()
	}
	return msg
}

func (e *RecordError) Unwrap() error { return e.Err }

func wrapRecErr(err error, op, structName string, rid model.Rid) error {
	return &RecordError{Err: err, Op: op, Struct: structName, Rid: rid}
}
