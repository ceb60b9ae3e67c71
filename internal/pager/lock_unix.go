//go:build unix

package pager

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLock guards a store file against concurrent processes.
type fileLock interface {
	Unlock() error
}

type flockLock struct {
	f *os.File
}

// lockFile takes a non-blocking exclusive flock on the store file. A held
// lock by another process surfaces immediately instead of hanging the open.
func lockFile(f *os.File) (fileLock, error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, err
	}
	return &flockLock{f: f}, nil
}

func (l *flockLock) Unlock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
