package testutil

import (
	"os"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
)

// WALPath returns the WAL sidecar path for a store data file.
func WALPath(path string) string { return path + "-wal" }

// CrashCopy copies the store file, its WAL sidecar, and its manifest to
// dstPath while the source handles may still be open, reproducing the
// on-disk state a power loss at this instant would leave behind. Every
// acknowledged commit is flushed to the OS before it returns, so the copy
// always contains it.
//
// Batches are applied to the data file as they commit, so an aligned copy
// is already rolled forward. To exercise replay, copy the data file early
// and the WAL late with CopyFile; the lag is what recovery has to close.
func CrashCopy(t *testing.T, srcPath, dstPath string) {
	t.Helper()
	CopyFile(t, srcPath, dstPath)
	for _, suffix := range []string{"-wal", ".manifest.json"} {
		if _, err := os.Stat(srcPath + suffix); err == nil {
			CopyFile(t, srcPath+suffix, dstPath+suffix)
		}
	}
}

// CopyFile copies one file, failing the test on error.
func CopyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, os.WriteFile(dst, data, 0o644))
}

// TruncateTail cuts n bytes off the end of the file at path, simulating a
// torn write.
func TruncateTail(t *testing.T, path string, n int64) {
	t.Helper()
	size := FileSize(t, path) - n
	if size < 0 {
		size = 0
	}
	tst.RequireNoError(t, os.Truncate(path, size))
}

// CorruptTail flips one byte n bytes before the end of the file at path.
func CorruptTail(t *testing.T, path string, n int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	tst.RequireNoError(t, err)
	defer func() {
		_ = f.Close()
	}()

	fi, err := f.Stat()
	tst.RequireNoError(t, err)
	off := fi.Size() - n
	buf := make([]byte, 1)
	_, err = f.ReadAt(buf, off)
	tst.RequireNoError(t, err)
	buf[0] ^= 0xFF
	_, err = f.WriteAt(buf, off)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, f.Sync())
}

// FileSize returns the size of the file at path.
func FileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	tst.RequireNoError(t, err)
	return fi.Size()
}
