package schema

import (
	"errors"
	"fmt"
)

var (
	// Descriptor validation errors
	ErrInvalidDescriptor = errors.New("schema: invalid descriptor")
	ErrNotIndexable      = errors.New("schema: field kind not indexable")
	ErrUnknownField      = errors.New("schema: unknown field")

	// Encoding errors
	ErrInvalidValue = errors.New("schema: value does not match field type")

	// Decoding errors
	ErrShortBuffer   = errors.New("schema: short buffer")
	ErrTrailingBytes = errors.New("schema: trailing bytes after record")
	ErrInvalidUTF8   = errors.New("schema: string is not valid utf-8")
	ErrBadCount      = errors.New("schema: implausible element count")
	ErrBadTag        = errors.New("schema: invalid presence tag")
)

// DescriptorError reports a structural problem in a descriptor.
// Err holds a stable sentinel for errors.Is.
type DescriptorError struct {
	Err    error
	Struct string
	Field  string
	Reason string
}

func (e *DescriptorError) Error() string {
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

func (e *DescriptorError) Unwrap() error { return e.Err }

// DecodeError reports a malformed record payload with the byte offset where
// decoding failed.
type DecodeError struct {
	Err    error
	Offset int
	Kind   Kind
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s at=%d kind=%s", e.Err.Error(), e.Offset, e.Kind)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValueError reports a Go value that cannot be encoded as the declared kind.
type ValueError struct {
	Err   error
	Field string
	Kind  Kind
	Got   any
}

func (e *ValueError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg += " field=" + e.Field
	}
	return fmt.Sprintf("%s kind=%s got=%T", msg, e.Kind, e.Got)
}

func (e *ValueError) Unwrap() error { return e.Err }
