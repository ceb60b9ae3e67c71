// Package pager owns the on-disk layout of a store: a page-structured main
// file (header page + slotted segment pages) and its write-ahead sidecar.
// All mutation flows through write batches that commit via the WAL in two
// phases, so a crash at any point either replays or discards cleanly.
package pager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/julianstephens/structdb/internal/errutil"
	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/internal/wal"
	"github.com/julianstephens/structdb/model"
)

const (
	// SchemaTypeID is the reserved type id for the schema catalog. Segments
	// carrying it hold descriptor records; the header tracks the first one.
	SchemaTypeID model.TypeID = 0

	// maxSegments keeps segment coordinates packable into 32 bits
	// (segment<<8 | slot) for the free-slot bitmaps.
	maxSegments = 1<<24 - 1

	// defaultCheckpointBytes bounds WAL growth when fsync-on-commit is off.
	defaultCheckpointBytes = 4 << 20
)

// Options configures a pager at open time. PageSize only matters when the
// file is created; afterwards the persisted value wins and a conflicting
// option fails the open.
type Options struct {
	PageSize        int
	FsyncOnCommit   bool
	CheckpointBytes int64
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.CheckpointBytes == 0 {
		o.CheckpointBytes = defaultCheckpointBytes
	}
	return o
}

type segMeta struct {
	typeID    model.TypeID
	slotSize  uint32
	slotCount uint16
	live      int
	free      bool
}

type bucketKey struct {
	typeID   model.TypeID
	slotSize uint32
}

// Pager mediates all access to the store file. Reads take the shared lock;
// commit apply takes the exclusive lock so readers never observe a torn
// page. At most one write batch exists at a time.
type Pager struct {
	mu   sync.RWMutex
	path string
	f    *os.File
	flk  fileLock
	wal  *wal.Log
	lg   logger.Logger
	opts Options

	hdr  Header
	segs []*segMeta // indexed by segment id, [0] unused
	free map[bucketKey]*roaring.Bitmap

	snapshots   map[*Snapshot]struct{}
	batchActive bool
	recovery    bool
	closed      bool

	replayed wal.ReplayResult
}

// Replayed reports what open-time WAL recovery found and applied.
func (p *Pager) Replayed() wal.ReplayResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.replayed
}

// Open creates or opens the store file at path, acquires its lock, replays
// any WAL tail, and scans the segment directory into memory.
func Open(path string, opts Options, lg logger.Logger) (*Pager, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	reqPageSize := opts.PageSize
	opts = opts.withDefaults()
	if !validPageSize(opts.PageSize) {
		return nil, wrapErr(ErrOpenFailed, "validate-options", path, errutil.Coordinates{},
			fmt.Errorf("page size %d not a power of two in [%d,%d]", opts.PageSize, MinPageSize, MaxPageSize))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, wrapErr(ErrOpenFailed, "open-file", path, errutil.Coordinates{}, err)
	}
	flk, err := lockFile(f)
	if err != nil {
		f.Close()
		return nil, wrapErr(ErrLocked, "lock-file", path, errutil.Coordinates{}, err)
	}

	p := &Pager{
		path:      path,
		f:         f,
		flk:       flk,
		lg:        lg,
		opts:      opts,
		free:      make(map[bucketKey]*roaring.Bitmap),
		snapshots: make(map[*Snapshot]struct{}),
	}

	st, err := f.Stat()
	if err != nil {
		p.releaseFile()
		return nil, wrapErr(ErrOpenFailed, "stat", path, errutil.Coordinates{}, err)
	}
	if st.Size() == 0 {
		if err := p.initialize(); err != nil {
			p.releaseFile()
			return nil, err
		}
	} else if err := p.readHeader(reqPageSize); err != nil {
		p.releaseFile()
		return nil, err
	}

	w, err := wal.Open(walPath(path), p.hdr.StoreID, lg)
	if err != nil {
		p.releaseFile()
		return nil, err
	}
	p.wal = w

	if err := p.recover(); err != nil {
		p.wal.Close()
		p.releaseFile()
		return nil, err
	}
	if err := p.scanSegments(); err != nil {
		p.wal.Close()
		p.releaseFile()
		return nil, err
	}

	lg.Info("store opened", "path", path, "pageSize", p.hdr.PageSize,
		"segments", p.hdr.SegmentCount, "lastLSN", p.hdr.LastLSN)
	return p, nil
}

// walPath returns the WAL sidecar path for a store file.
func walPath(path string) string { return path + "-wal" }

func (p *Pager) initialize() error {
	p.hdr = Header{
		Version:    FormatVersion,
		PageSize:   uint32(p.opts.PageSize),
		StoreID:    uuid.New(),
		NextTypeID: uint32(SchemaTypeID) + 1,
	}
	page := make([]byte, p.hdr.PageSize)
	EncodeHeader(p.hdr, page)
	if _, err := p.f.WriteAt(page, 0); err != nil {
		return wrapErr(ErrOpenFailed, "init-header", p.path, errutil.Coordinates{}, err)
	}
	if err := p.f.Sync(); err != nil {
		return wrapErr(ErrOpenFailed, "init-sync", p.path, errutil.Coordinates{}, err)
	}
	p.lg.Info("store initialized", "path", p.path, "id", p.hdr.StoreID.String())
	return nil
}

// readHeader loads and validates page 0. reqPageSize is the page size the
// caller asked for, 0 when unspecified; an explicit conflicting value fails.
func (p *Pager) readHeader(reqPageSize int) error {
	buf := make([]byte, MinPageSize)
	if _, err := io.ReadFull(io.NewSectionReader(p.f, 0, int64(len(buf))), buf); err != nil {
		return wrapErr(ErrBadHeader, "read-header", p.path, errutil.Coordinates{}, err)
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	if reqPageSize != 0 && uint32(reqPageSize) != hdr.PageSize {
		return wrapErr(ErrBadHeader, "page-size-mismatch", p.path, errutil.Coordinates{},
			fmt.Errorf("store uses %d, options want %d", hdr.PageSize, reqPageSize))
	}
	p.hdr = hdr
	p.opts.PageSize = int(hdr.PageSize)
	return nil
}

// scanSegments walks every segment page, rebuilding per-bucket free-slot
// bitmaps and validating the free-segment chain.
func (p *Pager) scanSegments() error {
	p.segs = make([]*segMeta, p.hdr.SegmentCount+1)
	page := make([]byte, p.hdr.PageSize)
	freeFlagged := 0
	for seg := uint32(1); seg <= p.hdr.SegmentCount; seg++ {
		if err := p.readPageInto(seg, page); err != nil {
			return err
		}
		sh, err := DecodeSegmentHeader(page, p.hdr.PageSize, seg)
		if err != nil {
			return err
		}
		if sh.Free() {
			p.segs[seg] = &segMeta{free: true}
			freeFlagged++
			continue
		}
		m := &segMeta{typeID: sh.TypeID, slotSize: sh.SlotSize, slotCount: sh.SlotCount}
		key := bucketKey{sh.TypeID, sh.SlotSize}
		bm := p.free[key]
		for i := model.SlotID(0); i < model.SlotID(sh.SlotCount); i++ {
			if liveGet(page, i) {
				m.live++
				continue
			}
			if bm == nil {
				bm = roaring.New()
				p.free[key] = bm
			}
			bm.Add(slotCoord(seg, i))
		}
		p.segs[seg] = m
	}

	chained, err := p.walkFreeChain()
	if err != nil {
		return err
	}
	if chained != freeFlagged {
		return wrapErr(ErrCorrupt, "free-chain", p.path, errutil.Coordinates{},
			fmt.Errorf("chain has %d segments, flags mark %d", chained, freeFlagged))
	}
	return nil
}

func (p *Pager) walkFreeChain() (int, error) {
	seen := make(map[uint32]bool)
	page := make([]byte, p.hdr.PageSize)
	n := 0
	for seg := p.hdr.FreeHead; seg != 0; {
		if seg > p.hdr.SegmentCount || seen[seg] {
			return 0, wrapErr(ErrCorrupt, "free-chain", p.path,
				errutil.Coordinates{Segment: errutil.U32(seg)}, errors.New("free chain broken"))
		}
		seen[seg] = true
		if err := p.readPageInto(seg, page); err != nil {
			return 0, err
		}
		sh, err := DecodeSegmentHeader(page, p.hdr.PageSize, seg)
		if err != nil {
			return 0, err
		}
		if !sh.Free() {
			return 0, wrapErr(ErrCorrupt, "free-chain", p.path,
				errutil.Coordinates{Segment: errutil.U32(seg)}, errors.New("chained segment not marked free"))
		}
		n++
		seg = sh.NextFree
	}
	return n, nil
}

func slotCoord(seg uint32, slot model.SlotID) uint32 {
	return seg<<8 | uint32(slot)
}

func coordSeg(c uint32) uint32 { return c >> 8 }

func coordSlot(c uint32) model.SlotID { return model.SlotID(c & 0xff) }

func (p *Pager) readPageInto(pageID uint32, buf []byte) error {
	off := int64(pageID) * int64(p.hdr.PageSize)
	if _, err := p.f.ReadAt(buf[:p.hdr.PageSize], off); err != nil {
		return wrapErr(ErrIO, "read-page", p.path,
			errutil.Coordinates{Page: errutil.U32(pageID)}, err)
	}
	return nil
}

// readPage returns a fresh copy of the given page.
func (p *Pager) readPage(pageID uint32) ([]byte, error) {
	buf := make([]byte, p.hdr.PageSize)
	if err := p.readPageInto(pageID, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Pager) guard() error {
	if p.closed {
		return ErrClosed
	}
	if p.recovery {
		return ErrRecoveryRequired
	}
	return nil
}

// ReadSlot returns a copy of the committed payload at rid.
func (p *Pager) ReadSlot(rid model.Rid) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.guard(); err != nil {
		return nil, err
	}
	m, err := p.segFor(rid)
	if err != nil {
		return nil, err
	}
	page, err := p.readPage(rid.Segment)
	if err != nil {
		return nil, err
	}
	return payloadFromPage(page, m.slotSize, rid, p.path)
}

// segFor validates rid against the committed directory.
func (p *Pager) segFor(rid model.Rid) (*segMeta, error) {
	if rid.Segment == 0 || rid.Segment >= uint32(len(p.segs)) {
		return nil, wrapErr(ErrInvalidRid, "resolve", p.path, ridCoords(rid), nil)
	}
	m := p.segs[rid.Segment]
	if m.free {
		return nil, wrapErr(ErrNotFound, "resolve", p.path, ridCoords(rid), nil)
	}
	if m.typeID != rid.Type {
		return nil, wrapErr(ErrInvalidRid, "resolve-type", p.path, ridCoords(rid), nil)
	}
	if uint16(rid.Slot) >= m.slotCount {
		return nil, wrapErr(ErrInvalidRid, "resolve-slot", p.path, ridCoords(rid), nil)
	}
	return m, nil
}

func ridCoords(rid model.Rid) errutil.Coordinates {
	return errutil.Coordinates{Segment: errutil.U32(rid.Segment), Slot: errutil.U16(uint16(rid.Slot))}
}

// payloadFromPage extracts and copies a live slot payload out of page bytes.
func payloadFromPage(page []byte, slotSize uint32, rid model.Rid, path string) ([]byte, error) {
	if !liveGet(page, rid.Slot) {
		return nil, wrapErr(ErrNotFound, "read-slot", path, ridCoords(rid), nil)
	}
	off := slotOffset(slotSize, rid.Slot)
	n := slotPayloadLen(page, off)
	if n > slotSize-SlotHeaderSize {
		return nil, wrapErr(ErrCorrupt, "read-slot", path, ridCoords(rid),
			fmt.Errorf("payload length %d exceeds slot capacity %d", n, slotSize-SlotHeaderSize))
	}
	out := make([]byte, n)
	copy(out, page[off+SlotHeaderSize:off+SlotHeaderSize+int(n)])
	return out, nil
}

// SegmentsOf returns the segment ids currently assigned to a type, in
// ascending order. Used for full scans and registry bootstrap.
func (p *Pager) SegmentsOf(typeID model.TypeID) []uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []uint32
	for seg := uint32(1); seg < uint32(len(p.segs)); seg++ {
		if m := p.segs[seg]; !m.free && m.typeID == typeID {
			out = append(out, seg)
		}
	}
	return out
}

// ScanType walks every live committed record of a type in rid order. fn
// runs under the read lock and must not call back into the pager.
func (p *Pager) ScanType(typeID model.TypeID, fn func(rid model.Rid, payload []byte) error) error {
	p.mu.RLock()
	segCount := p.hdr.SegmentCount
	p.mu.RUnlock()
	for seg := uint32(1); seg <= segCount; seg++ {
		if err := p.scanSegment(typeID, seg, fn); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pager) scanSegment(typeID model.TypeID, seg uint32, fn func(rid model.Rid, payload []byte) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.guard(); err != nil {
		return err
	}
	if seg >= uint32(len(p.segs)) {
		return nil
	}
	m := p.segs[seg]
	if m.free || m.typeID != typeID {
		return nil
	}
	page, err := p.readPage(seg)
	if err != nil {
		return err
	}
	for i := model.SlotID(0); i < model.SlotID(m.slotCount); i++ {
		if !liveGet(page, i) {
			continue
		}
		rid := model.Rid{Type: typeID, Segment: seg, Slot: i}
		payload, err := payloadFromPage(page, m.slotSize, rid, p.path)
		if err != nil {
			return err
		}
		if err := fn(rid, payload); err != nil {
			return err
		}
	}
	return nil
}

// NextTypeID reports the next type id the header would hand out.
func (p *Pager) NextTypeID() model.TypeID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return model.TypeID(p.hdr.NextTypeID)
}

// StoreID returns the persistent store identity.
func (p *Pager) StoreID() uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hdr.StoreID
}

// PageSize returns the store page size in bytes.
func (p *Pager) PageSize() uint32 {
	return p.hdr.PageSize
}

// TypeStats summarizes one type's physical footprint.
type TypeStats struct {
	Segments uint32
	Live     uint64
}

// Stats is a point-in-time physical summary of the store.
type Stats struct {
	PageSize     uint32
	Segments     uint32
	FreeSegments uint32
	LiveSlots    uint64
	FreeSlots    uint64
	FileSize     int64
	WALSize      int64
	LastLSN      uint64
	NextTypeID   model.TypeID
	Types        map[model.TypeID]TypeStats
}

// Stats gathers physical counters from the in-memory directory.
func (p *Pager) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Stats{
		PageSize:   p.hdr.PageSize,
		Segments:   p.hdr.SegmentCount,
		LastLSN:    p.hdr.LastLSN,
		NextTypeID: model.TypeID(p.hdr.NextTypeID),
		Types:      make(map[model.TypeID]TypeStats),
	}
	for seg := uint32(1); seg < uint32(len(p.segs)); seg++ {
		m := p.segs[seg]
		if m.free {
			s.FreeSegments++
			continue
		}
		s.LiveSlots += uint64(m.live)
		s.FreeSlots += uint64(m.slotCount) - uint64(m.live)
		ts := s.Types[m.typeID]
		ts.Segments++
		ts.Live += uint64(m.live)
		s.Types[m.typeID] = ts
	}
	if st, err := p.f.Stat(); err == nil {
		s.FileSize = st.Size()
	}
	s.WALSize = p.wal.Size()
	return s
}

// checkpointLocked makes applied pages durable and empties the WAL. Callers
// hold the write lock. A sync failure is fatal for the checkpoint; a
// truncate failure only delays it.
func (p *Pager) checkpointLocked() error {
	if err := p.f.Sync(); err != nil {
		return wrapErr(ErrIO, "checkpoint-sync", p.path, errutil.Coordinates{}, err)
	}
	if err := p.wal.TruncateToHeader(); err != nil {
		p.lg.Warn("wal truncate failed, kept for next checkpoint", "error", err.Error())
	}
	return nil
}

// Close releases the pager. A final checkpoint is attempted so a clean
// shutdown leaves an empty WAL.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	if !p.recovery {
		if err := p.checkpointLocked(); err != nil {
			firstErr = err
		}
	}
	if err := p.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.releaseFile(); err != nil && firstErr == nil {
		firstErr = err
	}
	p.lg.Info("store closed", "path", p.path)
	return firstErr
}

func (p *Pager) releaseFile() error {
	var firstErr error
	if p.flk != nil {
		if err := p.flk.Unlock(); err != nil {
			firstErr = err
		}
		p.flk = nil
	}
	if p.f != nil {
		if err := p.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.f = nil
	}
	return firstErr
}
