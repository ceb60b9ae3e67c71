// Package wal manages the write-ahead log sidecar: a single append-only file
// holding page after-images and commit markers. The log is truncated back to
// its header after every successful checkpoint, so it only ever contains the
// batches not yet applied to the data file.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/internal/wal/record"
)

const (
	walMagic   = "STRUCTSYWAL"
	walVersion = 1

	// HeaderSize is the fixed sidecar header: magic (11), version (1),
	// store id (16), reserved (4).
	HeaderSize = 32

	appendBufferSize = 64 << 10 // 64KiB
)

type Log struct {
	mu sync.Mutex

	path    string
	storeID uuid.UUID
	f       *os.File
	w       *bufio.Writer
	offset  int64 // end-of-file append position
	closed  bool
	lg      logger.Logger
}

func wrapLogErr(op string, sentinel error, path string, offset int64, cause error) error {
	return &LogError{
		Err:    sentinel,
		Path:   path,
		Offset: offset,
		Op:     op,
		Cause:  cause,
	}
}

// Open opens or creates the sidecar at path for the store identified by
// storeID. A fresh file gets a header; an existing file must carry a valid
// header with a matching store id.
func Open(path string, storeID uuid.UUID, lg logger.Logger) (*Log, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec
	if err != nil {
		return nil, wrapLogErr("open", ErrOpenFailed, path, 0, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, wrapLogErr("open", ErrOpenFailed, path, 0, err)
	}

	l := &Log{
		path:    path,
		storeID: storeID,
		f:       f,
		lg:      lg,
	}

	if info.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			f.Close() //nolint:errcheck
			return nil, err
		}
	} else {
		if err := l.checkHeader(); err != nil {
			f.Close() //nolint:errcheck
			return nil, err
		}
		l.offset = info.Size()
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close() //nolint:errcheck
		return nil, wrapLogErr("open", ErrOpenFailed, path, l.offset, err)
	}
	l.w = bufio.NewWriterSize(f, appendBufferSize)

	return l, nil
}

func (l *Log) writeHeader() error {
	hdr := make([]byte, HeaderSize)
	copy(hdr, walMagic)
	hdr[len(walMagic)] = walVersion
	copy(hdr[len(walMagic)+1:], l.storeID[:])

	if _, err := l.f.WriteAt(hdr, 0); err != nil {
		return wrapLogErr("write_header", ErrCreateFailed, l.path, 0, err)
	}
	if err := l.f.Sync(); err != nil {
		return wrapLogErr("write_header", ErrSyncFailed, l.path, 0, err)
	}
	l.offset = HeaderSize
	return nil
}

func (l *Log) checkHeader() error {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(l.f, 0, HeaderSize), hdr); err != nil {
		return wrapLogErr("check_header", ErrBadHeader, l.path, 0, err)
	}
	if !bytes.Equal(hdr[:len(walMagic)], []byte(walMagic)) {
		return wrapLogErr("check_header", ErrBadHeader, l.path, 0, nil)
	}
	if hdr[len(walMagic)] != walVersion {
		return wrapLogErr("check_header", ErrBadHeader, l.path, 0, nil)
	}
	var id uuid.UUID
	copy(id[:], hdr[len(walMagic)+1:])
	if id != l.storeID {
		return wrapLogErr("check_header", ErrStoreMismatch, l.path, 0, nil)
	}
	return nil
}

// AppendPage appends a page after-image frame. It returns the frame's CRC so
// the caller can accumulate the commit marker's xor checksum.
func (l *Log) AppendPage(lsn uint64, pageID uint32, image []byte) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, wrapLogErr("append", ErrWALClosed, l.path, l.offset, nil)
	}

	payload := record.EncodePageImagePayload(lsn, pageID, image)
	return l.appendLocked(record.RecordTypePageImage, payload)
}

// AppendCommit appends the batch's commit marker.
func (l *Log) AppendCommit(lsn uint64, pageCount uint32, xor uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return wrapLogErr("append", ErrWALClosed, l.path, l.offset, nil)
	}

	_, err := l.appendLocked(record.RecordTypeCommit, record.EncodeCommitPayload(lsn, pageCount, xor))
	return err
}

func (l *Log) appendLocked(rt record.RecordType, payload []byte) (uint32, error) {
	frame, err := record.EncodeFrame(rt, payload)
	if err != nil {
		return 0, wrapLogErr("append", ErrAppendFailed, l.path, l.offset, err)
	}

	n, err := l.w.Write(frame)
	if err != nil {
		return 0, wrapLogErr("append", ErrAppendFailed, l.path, l.offset, err)
	}
	if n != len(frame) {
		return 0, wrapLogErr("append", ErrShortWrite, l.path, l.offset, nil)
	}
	l.offset += int64(n)

	crc := binary.LittleEndian.Uint32(frame[len(frame)-record.RecordCRCSize:])
	return crc, nil
}

// Flush flushes buffered appends to the OS.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return wrapLogErr("flush", ErrWALClosed, l.path, l.offset, nil)
	}
	if err := l.w.Flush(); err != nil {
		return wrapLogErr("flush", ErrFlushFailed, l.path, l.offset, err)
	}
	return nil
}

// FSync flushes and then fsyncs the sidecar. Once it returns, every appended
// frame is durable.
func (l *Log) FSync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return wrapLogErr("fsync", ErrWALClosed, l.path, l.offset, nil)
	}
	if err := l.w.Flush(); err != nil {
		return wrapLogErr("fsync", ErrFlushFailed, l.path, l.offset, err)
	}
	if err := l.f.Sync(); err != nil {
		return wrapLogErr("fsync", ErrSyncFailed, l.path, l.offset, err)
	}
	return nil
}

// Size returns the current append offset (header included).
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// TruncateToHeader discards every frame, keeping the header. Called after a
// checkpoint has applied the logged batches to the data file.
func (l *Log) TruncateToHeader() error {
	return l.TruncateTo(HeaderSize)
}

// TruncateTo discards everything at and beyond offset. Used by recovery to
// drop an invalid tail. Offsets inside the header are clamped to it.
func (l *Log) TruncateTo(offset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return wrapLogErr("truncate", ErrWALClosed, l.path, l.offset, nil)
	}
	if offset < HeaderSize {
		offset = HeaderSize
	}

	if err := l.w.Flush(); err != nil {
		return wrapLogErr("truncate", ErrFlushFailed, l.path, l.offset, err)
	}
	if err := l.f.Truncate(offset); err != nil {
		return wrapLogErr("truncate", ErrTruncate, l.path, offset, err)
	}
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return wrapLogErr("truncate", ErrTruncate, l.path, offset, err)
	}
	if err := l.f.Sync(); err != nil {
		return wrapLogErr("truncate", ErrSyncFailed, l.path, offset, err)
	}
	l.offset = offset
	l.w.Reset(l.f)
	return nil
}

// Close closes the sidecar. Buffered but unflushed frames are dropped, which
// is safe: an unflushed batch was never acknowledged as committed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.f.Close(); err != nil {
		return wrapLogErr("close", ErrCloseFailed, l.path, l.offset, err)
	}
	return nil
}
