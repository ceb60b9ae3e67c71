package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/julianstephens/go-utils/helpers"
	goulog "github.com/julianstephens/go-utils/logger"
)

// severity orders levels so threshold checks reduce to a comparison.
// Error is the top, so error messages pass every threshold.
type severity int

const (
	sevDebug severity = iota
	sevInfo
	sevWarn
	sevError
)

var sevLabels = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (s severity) label() string { return sevLabels[s] }

func parseSeverity(level string) severity {
	switch level {
	case "debug":
		return sevDebug
	case "warn":
		return sevWarn
	case "error":
		return sevError
	default:
		return sevInfo
	}
}

const stampLayout = "2006-01-02T15:04:05.000Z07:00"

// ConsoleLogger renders one line per message to a writer pair. Errors go
// to the error writer, everything else to the output writer.
type ConsoleLogger struct {
	threshold severity
	out       io.Writer
	err       io.Writer
}

// NewConsoleLogger returns a stdout/stderr logger filtering below level.
// Level is one of "debug", "info", "warn", "error"; anything else reads
// as "info".
func NewConsoleLogger(level string) Logger {
	return &ConsoleLogger{threshold: parseSeverity(level), out: os.Stdout, err: os.Stderr}
}

func (cl *ConsoleLogger) Debug(msg string, fields ...any) { cl.emit(sevDebug, msg, fields) }

func (cl *ConsoleLogger) Info(msg string, fields ...any) { cl.emit(sevInfo, msg, fields) }

func (cl *ConsoleLogger) Warn(msg string, fields ...any) { cl.emit(sevWarn, msg, fields) }

func (cl *ConsoleLogger) Error(msg string, err error, fields ...any) {
	cl.emit(sevError, msg, append([]any{"error", err}, fields...))
}

func (cl *ConsoleLogger) emit(sev severity, msg string, fields []any) {
	if sev < cl.threshold {
		return
	}
	line := make([]byte, 0, 64+len(msg))
	line = append(line, '[')
	line = time.Now().AppendFormat(line, stampLayout)
	line = append(line, "] "...)
	line = append(line, sev.label()...)
	line = append(line, ": "...)
	line = append(line, msg...)
	for i := 0; i+1 < len(fields); i += 2 {
		line = fmt.Appendf(line, " %v=%v", fields[i], fields[i+1])
	}
	line = append(line, '\n')
	w := cl.out
	if sev == sevError {
		w = cl.err
	}
	w.Write(line) // nolint:errcheck
}

// Rotation policy for file logs. Rotated files are compressed and dropped
// after four weeks.
const (
	logRetainDays  = 28
	logCompressOld = true
)

// FileLogger writes structured JSON lines to a rotating file.
type FileLogger struct {
	backend *goulog.Logger
	path    string
}

// NewFileLogger opens a rotating file logger under dir, creating the
// directory when missing. maxSizeMB bounds a single file and maxBackups
// bounds how many rotated files are kept.
func NewFileLogger(dir, name string, maxSizeMB, maxBackups int) (Logger, error) {
	if err := helpers.Ensure(dir, true); err != nil {
		return nil, sinkErr(ErrLogCreate, "create file logger", dir, err)
	}
	path := filepath.Join(dir, name)
	backend := goulog.New()
	err := backend.SetFileOutputWithConfig(goulog.FileRotationConfig{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     logRetainDays,
		Compress:   logCompressOld,
	})
	if err != nil {
		return nil, sinkErr(ErrLogCreate, "create file logger", path, err)
	}
	return &FileLogger{backend: backend, path: path}, nil
}

func (fl *FileLogger) Debug(msg string, fields ...any) {
	if len(fields) == 0 {
		fl.backend.Debug(msg)
		return
	}
	fl.backend.WithFields(fieldMap(fields)).Debug(msg)
}

func (fl *FileLogger) Info(msg string, fields ...any) {
	if len(fields) == 0 {
		fl.backend.Info(msg)
		return
	}
	fl.backend.WithFields(fieldMap(fields)).Info(msg)
}

func (fl *FileLogger) Warn(msg string, fields ...any) {
	if len(fields) == 0 {
		fl.backend.Warn(msg)
		return
	}
	fl.backend.WithFields(fieldMap(fields)).Warn(msg)
}

func (fl *FileLogger) Error(msg string, err error, fields ...any) {
	fl.backend.WithFields(fieldMap(append([]any{"error", err}, fields...))).Error(msg)
}

// Close satisfies Closeable. The backend writes through on every call, so
// there is nothing buffered to flush.
func (fl *FileLogger) Close() error { return nil }

// fieldMap pairs up alternating keys and values. A dangling trailing key
// is dropped.
func fieldMap(fields []any) map[string]any {
	m := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		m[fmt.Sprint(fields[i])] = fields[i+1]
	}
	return m
}

// MultiLogger fans every call out to each wrapped logger in order.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines loggers into one. Calls reach every sink.
func NewMultiLogger(sinks ...Logger) Logger {
	return &MultiLogger{sinks: sinks}
}

func (ml *MultiLogger) Debug(msg string, fields ...any) {
	for _, s := range ml.sinks {
		s.Debug(msg, fields...)
	}
}

func (ml *MultiLogger) Info(msg string, fields ...any) {
	for _, s := range ml.sinks {
		s.Info(msg, fields...)
	}
}

func (ml *MultiLogger) Warn(msg string, fields ...any) {
	for _, s := range ml.sinks {
		s.Warn(msg, fields...)
	}
}

func (ml *MultiLogger) Error(msg string, err error, fields ...any) {
	for _, s := range ml.sinks {
		s.Error(msg, err, fields...)
	}
}

// Close closes every closeable sink and reports the joined failures.
func (ml *MultiLogger) Close() error {
	var errs []error
	for _, s := range ml.sinks {
		if c, ok := s.(Closeable); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return sinkErr(ErrLogClose, "close multi logger", "", errors.Join(errs...))
}
