// Package manifest reads and writes the store's manifest sidecar, a small
// JSON file next to the data file recording how the store was created so
// tooling can reopen it with the right settings.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"
)

const (
	// Version is the manifest schema version this build writes.
	Version = 1

	// Suffix is appended to the data file path to form the manifest path.
	Suffix = ".manifest.json"
)

// Manifest describes a store's durable open defaults.
type Manifest struct {
	Version       int    `json:"version"`
	StoreID       string `json:"store_id"`
	PageSize      int    `json:"page_size"`
	FsyncOnCommit bool   `json:"fsync_on_commit"`
	SortCap       int    `json:"sort_cap"`
}

// PathFor returns the manifest path for a store data file.
func PathFor(storePath string) string {
	return storePath + Suffix
}

// Exists reports whether a manifest sits next to the data file.
func Exists(storePath string) bool {
	return helpers.Exists(PathFor(storePath))
}

// Load reads the manifest for the store at storePath.
func Load(storePath string) (*Manifest, error) {
	manifestPath := PathFor(storePath)
	if !helpers.Exists(manifestPath) {
		return nil, sidecarErr(ErrManifestNotFound, manifestPath, nil)
	}

	m := &Manifest{}
	if err := jsonutil.ReadFileStrict(manifestPath, m); err != nil {
		return nil, sidecarErr(ErrManifestDecode, manifestPath, err)
	}

	if m.Version > Version {
		err := fmt.Errorf("version %d is newer than %d", m.Version, Version)
		return nil, sidecarErr(ErrManifestUnsupportedVersion, manifestPath, err)
	}

	return m, nil
}

// Save writes the manifest next to the store at storePath. The write is
// atomic and the parent directory is synced so the sidecar survives a
// crash right after creation.
func (m *Manifest) Save(storePath string) error {
	manifestPath := PathFor(storePath)
	data, err := jsonutil.Marshal(m)
	if err != nil {
		return sidecarErr(ErrManifestEncode, manifestPath, err)
	}

	if err := helpers.AtomicFileWrite(manifestPath, data); err != nil {
		return sidecarErr(ErrManifestWrite, manifestPath, err)
	}
	dir, err := os.Open(filepath.Dir(manifestPath)) //nolint:gosec
	if err != nil {
		return sidecarErr(ErrManifestWrite, manifestPath, err)
	}
	defer func() { _ = dir.Close() }()

	if err := dir.Sync(); err != nil {
		return sidecarErr(ErrManifestWrite, manifestPath, err)
	}
	return nil
}
