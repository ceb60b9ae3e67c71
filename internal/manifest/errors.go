package manifest

import "errors"

var (
	ErrManifestNotFound           = errors.New("manifest: file not found")
	ErrManifestUnsupportedVersion = errors.New("manifest: unsupported version")
	ErrManifestEncode             = errors.New("manifest: unable to encode to JSON")
	ErrManifestDecode             = errors.New("manifest: unable to decode from JSON")
	ErrManifestWrite              = errors.New("manifest: unable to write to file")
)

// SidecarError ties a manifest failure to the sidecar path. Err holds the
// stable sentinel for errors.Is; Cause keeps the underlying failure.
type SidecarError struct {
	Err   error
	Path  string
	Cause error
}

func (e *SidecarError) Error() string {
	if e.Cause != nil {
		return e.Err.Error() + " (" + e.Path + "): " + e.Cause.Error()
	}
	return e.Err.Error() + " (" + e.Path + ")"
}

func (e *SidecarError) Unwrap() error { return e.Err }

func sidecarErr(sentinel error, path string, cause error) error {
	return &SidecarError{Err: sentinel, Path: path, Cause: cause}
}
