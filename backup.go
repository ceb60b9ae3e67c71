package structdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/julianstephens/go-utils/helpers"
	"github.com/klauspost/compress/zstd"

	"github.com/julianstephens/structdb/internal/manifest"
	"github.com/julianstephens/structdb/internal/pager"
)

// Backup streams a consistent, zstd-compressed image of the data file to w.
// It runs against a read snapshot, so commits keep landing while the backup
// is written and none of them leak into it. The stream decompresses to a
// store file Restore or any opener can use directly.
func (s *Store) Backup(w io.Writer) error {
	if err := s.guard("backup"); err != nil {
		return err
	}
	snap, err := s.pg.Snapshot()
	if err != nil {
		return translate("backup", s.path, err)
	}
	defer snap.Release()

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return wrapStoreErr("backup", ErrBackupFailed, s.path, err)
	}
	n, err := snap.WriteTo(zw)
	if err != nil {
		zw.Close()
		return translate("backup", s.path, err)
	}
	if err := zw.Close(); err != nil {
		return wrapStoreErr("backup", ErrBackupFailed, s.path, err)
	}
	s.lg.Info("backup written", "path", s.path, "bytes", n, "last_lsn", snap.LastLSN())
	return nil
}

// Restore rebuilds a store data file at path from a backup stream. It
// refuses to overwrite an existing file and clears stale sidecars, so the
// next Open starts from the restored image with an empty WAL and a fresh
// manifest.
func Restore(r io.Reader, path string) error {
	if path == "" {
		return wrapStoreErr("restore", ErrInvalidPath, path, nil)
	}
	if helpers.Exists(path) {
		return wrapStoreErr("restore", ErrRestoreFailed, path, errors.New("refusing to overwrite existing file"))
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return wrapStoreErr("restore", ErrRestoreFailed, path, err)
	}
	defer zr.Close()

	tmp := path + ".restore"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return wrapStoreErr("restore", ErrRestoreFailed, path, err)
	}
	n, err := io.Copy(f, zr)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return wrapStoreErr("restore", ErrRestoreFailed, path, err)
	}
	if err := checkRestoredHeader(tmp, n); err != nil {
		os.Remove(tmp)
		return wrapStoreErr("restore", ErrRestoreFailed, path, err)
	}

	// Sidecars from a previous store at this path describe data that no
	// longer exists.
	for _, stale := range []string{path + "-wal", manifest.PathFor(path)} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			os.Remove(tmp)
			return wrapStoreErr("restore", ErrRestoreFailed, path, err)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return wrapStoreErr("restore", ErrRestoreFailed, path, err)
	}
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// checkRestoredHeader rejects streams that do not decompress to a store
// file before anything is renamed into place.
func checkRestoredHeader(tmp string, size int64) error {
	f, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, pager.MinPageSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return fmt.Errorf("backup stream too short: %w", err)
	}
	hdr, err := pager.DecodeHeader(buf)
	if err != nil {
		return err
	}
	want := int64(hdr.SegmentCount+1) * int64(hdr.PageSize)
	if size != want {
		return fmt.Errorf("restored file is %d bytes, header implies %d", size, want)
	}
	return nil
}
