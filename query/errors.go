package query

import "errors"

var (
	// ErrSortLimit indicates an ordering that no index could serve and a
	// row set larger than the in-memory sort cap.
	ErrSortLimit = errors.New("query: sort limit exceeded")

	// ErrFieldNotIndexed indicates a find-by lookup on a field without a
	// declared index.
	ErrFieldNotIndexed = errors.New("query: field not indexed")

	// ErrInvalidQuery indicates input that does not fit the struct shape:
	// an unknown field, an operand of the wrong type, or an operator that
	// does not apply to the field's kind.
	ErrInvalidQuery = errors.New("query: invalid query")
)

// Error pinpoints the query input that failed.
type Error struct {
	Err    error
	Struct string
	Field  string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Struct != "" {
		msg += " struct=" + e.Struct
	}
	if e.Field != "" {
		msg += " field=" + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CauseErr returns the underlying error, if any.
func (e *Error) CauseErr() error { return e.Cause }
