package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrStructNotDefined indicates a type name with no binding in this
	// process.
	ErrStructNotDefined = errors.New("registry: struct not defined")
	// ErrStructAlreadyDefined indicates a second, structurally different
	// definition under a name already bound in this process.
	ErrStructAlreadyDefined = errors.New("registry: struct already defined with a different shape")
	// ErrMigrationNotSupported indicates the persisted descriptor for a name
	// is structurally incompatible with the definition being bound.
	ErrMigrationNotSupported = errors.New("registry: stored schema differs, migration not supported")
	// ErrCatalogCorrupt indicates an undecodable schema catalog record.
	ErrCatalogCorrupt = errors.New("registry: schema catalog corrupt")
)

// RegistryError carries the struct name an operation failed for.
type RegistryError struct {
	Err    error
	Struct string
	Op     string
	Cause  error
}

func (e *RegistryError) Error() string {
	msg := fmt.Sprintf("%v: op=%s", e.Err, e.Op)
	if e.Struct != "" {
		msg += fmt.Sprintf(" struct=%s", e.Struct)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *RegistryError) Unwrap() error { return e.Err }

// CauseErr returns the underlying error, if any.
func (e *RegistryError) CauseErr() error { return e.Cause }

func wrapRegErr(sentinel error, op, name string, cause error) error {
	return &RegistryError{Err: sentinel, Op: op, Struct: name, Cause: cause}
}
