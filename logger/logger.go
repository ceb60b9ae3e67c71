// Package logger is the logging facade the store writes through. The engine
// only sees the Logger interface; callers pick an implementation at open
// time, and tests pass NoOpLogger.
package logger

// Logger accepts leveled messages with alternating key/value fields.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, err error, fields ...any)
}

// Closeable marks implementations that hold files open or buffer output
// and want a flush on shutdown.
type Closeable interface {
	Close() error
}

// NoOpLogger discards every message. It is the default wherever a caller
// supplies no logger.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any)        {}
func (NoOpLogger) Info(string, ...any)         {}
func (NoOpLogger) Warn(string, ...any)         {}
func (NoOpLogger) Error(string, error, ...any) {}

var _ Logger = NoOpLogger{}
