package logger

import "errors"

var (
	ErrLogCreate = errors.New("logger: create error")
	ErrLogClose  = errors.New("logger: close error")
)

// SinkError wraps a logger construction or shutdown failure. Err holds the
// stable sentinel for errors.Is; Cause keeps the underlying failure.
type SinkError struct {
	Err   error
	Op    string
	Path  string
	Cause error
}

func (e *SinkError) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *SinkError) Unwrap() error { return e.Err }

func sinkErr(sentinel error, op, path string, cause error) error {
	return &SinkError{Err: sentinel, Op: op, Path: path, Cause: cause}
}
