//go:build !unix

package pager

import "os"

// fileLock guards a store file against concurrent processes.
type fileLock interface {
	Unlock() error
}

type noopLock struct{}

// lockFile is a no-op on platforms without flock. Single-process use is the
// caller's responsibility there.
func lockFile(_ *os.File) (fileLock, error) {
	return noopLock{}, nil
}

func (noopLock) Unlock() error { return nil }
