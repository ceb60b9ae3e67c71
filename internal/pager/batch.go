package pager

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/julianstephens/structdb/internal/errutil"
	"github.com/julianstephens/structdb/model"
)

// Batch is a write batch against the pager. Ops mutate private page copies;
// nothing touches the main file until Commit, which pushes the after-images
// through the WAL first. At most one batch exists at a time.
type Batch struct {
	p     *Pager
	hdr   Header
	pages map[uint32][]byte
	dirty map[uint32]bool
	free  map[bucketKey]*roaring.Bitmap
	mut   bool
	done  bool
}

// Begin starts a write batch. The caller must finish it with exactly one of
// Commit or Abort.
func (p *Pager) Begin() (*Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return nil, err
	}
	if p.batchActive {
		return nil, ErrBatchActive
	}
	p.batchActive = true
	return &Batch{
		p:     p,
		hdr:   p.hdr,
		pages: make(map[uint32][]byte),
		dirty: make(map[uint32]bool),
		free:  make(map[bucketKey]*roaring.Bitmap),
	}, nil
}

// loadPage returns the batch's working copy of a page, reading it from the
// file on first touch.
func (b *Batch) loadPage(pageID uint32) ([]byte, error) {
	if pg, ok := b.pages[pageID]; ok {
		return pg, nil
	}
	pg, err := b.p.readPage(pageID)
	if err != nil {
		return nil, err
	}
	b.pages[pageID] = pg
	return pg, nil
}

func (b *Batch) markDirty(pageID uint32) {
	b.dirty[pageID] = true
	b.mut = true
}

// bucketFree returns the batch's working free-slot bitmap for a bucket,
// cloned from the committed one on first touch.
func (b *Batch) bucketFree(key bucketKey) *roaring.Bitmap {
	if bm, ok := b.free[key]; ok {
		return bm
	}
	var bm *roaring.Bitmap
	if committed, ok := b.p.free[key]; ok {
		bm = committed.Clone()
	} else {
		bm = roaring.New()
	}
	b.free[key] = bm
	return bm
}

// slotPage loads the segment page for rid and validates the rid against its
// header. When needLive is set, a cleared live bit is ErrNotFound.
func (b *Batch) slotPage(rid model.Rid, needLive bool) ([]byte, SegmentHeader, error) {
	var sh SegmentHeader
	if rid.Segment == 0 || rid.Segment > b.hdr.SegmentCount {
		return nil, sh, wrapErr(ErrInvalidRid, "batch-resolve", b.p.path, ridCoords(rid), nil)
	}
	page, err := b.loadPage(rid.Segment)
	if err != nil {
		return nil, sh, err
	}
	sh, err = DecodeSegmentHeader(page, b.hdr.PageSize, rid.Segment)
	if err != nil {
		return nil, sh, err
	}
	if sh.Free() {
		return nil, sh, wrapErr(ErrNotFound, "batch-resolve", b.p.path, ridCoords(rid), nil)
	}
	if sh.TypeID != rid.Type {
		return nil, sh, wrapErr(ErrInvalidRid, "batch-resolve-type", b.p.path, ridCoords(rid), nil)
	}
	if uint16(rid.Slot) >= sh.SlotCount {
		return nil, sh, wrapErr(ErrInvalidRid, "batch-resolve-slot", b.p.path, ridCoords(rid), nil)
	}
	if needLive && !liveGet(page, rid.Slot) {
		return nil, sh, wrapErr(ErrNotFound, "batch-resolve-live", b.p.path, ridCoords(rid), nil)
	}
	return page, sh, nil
}

// AllocateSlot reserves a slot able to hold size payload bytes for the given
// type and returns its rid. The slot is live but empty until WriteSlot.
func (b *Batch) AllocateSlot(typeID model.TypeID, size int) (model.Rid, error) {
	if b.done {
		return model.Rid{}, ErrBatchDone
	}
	if uint32(typeID) >= b.hdr.NextTypeID {
		return model.Rid{}, wrapErr(ErrInvalidRid, "allocate-type", b.p.path, errutil.Coordinates{}, nil)
	}
	slotSize := SlotSizeFor(size, b.hdr.PageSize)
	if slotSize == 0 {
		return model.Rid{}, wrapErr(ErrTooLarge, "allocate", b.p.path, errutil.Coordinates{},
			fmt.Errorf("payload of %d bytes exceeds maximum %d", size, MaxPayload(b.hdr.PageSize)))
	}
	key := bucketKey{typeID, slotSize}
	bm := b.bucketFree(key)
	if bm.IsEmpty() {
		if err := b.growBucket(key, bm); err != nil {
			return model.Rid{}, err
		}
	}
	coord := bm.Minimum()
	bm.Remove(coord)
	rid := model.Rid{Type: typeID, Segment: coordSeg(coord), Slot: coordSlot(coord)}

	page, err := b.loadPage(rid.Segment)
	if err != nil {
		return model.Rid{}, err
	}
	liveSet(page, rid.Slot)
	setSlotPayloadLen(page, slotOffset(slotSize, rid.Slot), 0)
	b.markDirty(rid.Segment)
	return rid, nil
}

// growBucket adds a whole segment's worth of slots to the bucket, claiming
// the free-chain head when available and extending the file otherwise.
func (b *Batch) growBucket(key bucketKey, bm *roaring.Bitmap) error {
	var seg uint32
	var page []byte
	if b.hdr.FreeHead != 0 {
		seg = b.hdr.FreeHead
		var err error
		page, err = b.loadPage(seg)
		if err != nil {
			return err
		}
		sh, err := DecodeSegmentHeader(page, b.hdr.PageSize, seg)
		if err != nil {
			return err
		}
		if !sh.Free() {
			return wrapErr(ErrCorrupt, "claim-free-segment", b.p.path,
				errutil.Coordinates{Segment: errutil.U32(seg)}, nil)
		}
		b.hdr.FreeHead = sh.NextFree
		clear(page)
	} else {
		if b.hdr.SegmentCount >= maxSegments {
			return wrapErr(ErrStoreFull, "grow", b.p.path, errutil.Coordinates{}, nil)
		}
		seg = b.hdr.SegmentCount + 1
		b.hdr.SegmentCount = seg
		page = make([]byte, b.hdr.PageSize)
		b.pages[seg] = page
	}
	sh := SegmentHeader{
		TypeID:    key.typeID,
		SlotSize:  key.slotSize,
		SlotCount: SlotsPerSegment(b.hdr.PageSize, key.slotSize),
	}
	EncodeSegmentHeader(sh, page)
	for i := model.SlotID(0); i < model.SlotID(sh.SlotCount); i++ {
		bm.Add(slotCoord(seg, i))
	}
	if key.typeID == SchemaTypeID && b.hdr.SchemaSegment == 0 {
		b.hdr.SchemaSegment = seg
	}
	b.markDirty(seg)
	return nil
}

// WriteSlot stores payload into a live slot.
func (b *Batch) WriteSlot(rid model.Rid, payload []byte) error {
	if b.done {
		return ErrBatchDone
	}
	page, sh, err := b.slotPage(rid, true)
	if err != nil {
		return err
	}
	if len(payload) > int(sh.SlotSize-SlotHeaderSize) {
		return wrapErr(ErrTooLarge, "write-slot", b.p.path, ridCoords(rid),
			fmt.Errorf("payload of %d bytes exceeds slot capacity %d", len(payload), sh.SlotSize-SlotHeaderSize))
	}
	off := slotOffset(sh.SlotSize, rid.Slot)
	setSlotPayloadLen(page, off, uint32(len(payload)))
	copy(page[off+SlotHeaderSize:], payload)
	b.markDirty(rid.Segment)
	return nil
}

// FreeSlot releases a live slot, bumping its generation. A segment whose
// last live slot goes away is recycled onto the free chain.
func (b *Batch) FreeSlot(rid model.Rid) error {
	if b.done {
		return ErrBatchDone
	}
	page, sh, err := b.slotPage(rid, true)
	if err != nil {
		return err
	}
	off := slotOffset(sh.SlotSize, rid.Slot)
	setSlotGeneration(page, off, slotGeneration(page, off)+1)
	setSlotPayloadLen(page, off, 0)
	liveClear(page, rid.Slot)
	bm := b.bucketFree(bucketKey{sh.TypeID, sh.SlotSize})
	bm.Add(slotCoord(rid.Segment, rid.Slot))
	b.markDirty(rid.Segment)

	if liveCount(page) == 0 {
		b.reclaimSegment(rid.Segment, sh, page, bm)
	}
	return nil
}

func (b *Batch) reclaimSegment(seg uint32, sh SegmentHeader, page []byte, bm *roaring.Bitmap) {
	for i := model.SlotID(0); i < model.SlotID(sh.SlotCount); i++ {
		bm.Remove(slotCoord(seg, i))
	}
	EncodeSegmentHeader(SegmentHeader{Flags: segFlagFree, NextFree: b.hdr.FreeHead}, page)
	b.hdr.FreeHead = seg
	if b.hdr.SchemaSegment == seg {
		b.hdr.SchemaSegment = 0
	}
}

// ReadSlot returns the batch's view of a slot: its own writes when the page
// was touched, the committed bytes otherwise.
func (b *Batch) ReadSlot(rid model.Rid) ([]byte, error) {
	if b.done {
		return nil, ErrBatchDone
	}
	page, sh, err := b.slotPage(rid, false)
	if err != nil {
		return nil, err
	}
	return payloadFromPage(page, sh.SlotSize, rid, b.p.path)
}

// AllocTypeID hands out the next type id. The bump is part of the batch and
// only durable once it commits.
func (b *Batch) AllocTypeID() (model.TypeID, error) {
	if b.done {
		return 0, ErrBatchDone
	}
	tid := model.TypeID(b.hdr.NextTypeID)
	b.hdr.NextTypeID++
	b.mut = true
	return tid, nil
}

// Commit runs the two-phase commit: WAL first, then the main file. An empty
// batch commits as a no-op without touching either.
func (b *Batch) Commit() error {
	if b.done {
		return ErrBatchDone
	}
	b.done = true
	p := b.p
	if !b.mut {
		b.release()
		return nil
	}

	b.hdr.LastLSN++
	lsn := b.hdr.LastLSN
	hdrPage := make([]byte, p.hdr.PageSize)
	EncodeHeader(b.hdr, hdrPage)
	b.pages[0] = hdrPage
	b.dirty[0] = true

	pids := make([]uint32, 0, len(b.dirty))
	for pid := range b.dirty {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	walStart := p.wal.Size()
	var xor uint32
	for _, pid := range pids {
		crc, err := p.wal.AppendPage(lsn, pid, b.pages[pid])
		if err != nil {
			return b.failWAL(walStart, err)
		}
		xor ^= crc
	}
	if err := p.wal.AppendCommit(lsn, uint32(len(pids)), xor); err != nil {
		return b.failWAL(walStart, err)
	}
	if p.opts.FsyncOnCommit {
		if err := p.wal.FSync(); err != nil {
			return b.failWAL(walStart, err)
		}
	} else if err := p.wal.Flush(); err != nil {
		return b.failWAL(walStart, err)
	}

	return p.applyBatch(b, pids)
}

// failWAL unwinds a failed WAL phase. The main file is untouched, so the
// store stays healthy as long as the orphan frames can be truncated away.
func (b *Batch) failWAL(walStart int64, cause error) error {
	p := b.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchActive = false
	if terr := p.wal.TruncateTo(walStart); terr != nil {
		p.recovery = true
		p.lg.Error("wal unwind failed, store needs reopen", terr)
	}
	return wrapErr(ErrIO, "commit-wal", p.path, errutil.Coordinates{}, cause)
}

// Abort discards the batch. Nothing was logged or written, so this is pure
// bookkeeping.
func (b *Batch) Abort() {
	if b.done {
		return
	}
	b.done = true
	b.release()
}

func (b *Batch) release() {
	b.p.mu.Lock()
	b.p.batchActive = false
	b.p.mu.Unlock()
}

// applyBatch writes logged pages into the main file and publishes the new
// in-memory state. Failures here poison the pager: the WAL holds the batch,
// so a reopen replays it.
func (p *Pager) applyBatch(b *Batch, pids []uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batchActive = false

	oldSegCount := p.hdr.SegmentCount
	if len(p.snapshots) > 0 {
		for _, pid := range pids {
			if pid == 0 || pid > oldSegCount {
				continue
			}
			var img []byte
			for s := range p.snapshots {
				if _, ok := s.overlay[pid]; ok {
					continue
				}
				if img == nil {
					var err error
					img, err = p.readPage(pid)
					if err != nil {
						p.recovery = true
						return err
					}
				}
				s.overlay[pid] = img
			}
		}
	}

	for _, pid := range pids {
		off := int64(pid) * int64(p.hdr.PageSize)
		if _, err := p.f.WriteAt(b.pages[pid], off); err != nil {
			p.recovery = true
			return wrapErr(ErrIO, "apply-write", p.path,
				errutil.Coordinates{Page: errutil.U32(pid), LSN: errutil.U64(b.hdr.LastLSN)}, err)
		}
	}
	if p.opts.FsyncOnCommit {
		if err := p.f.Sync(); err != nil {
			p.recovery = true
			return wrapErr(ErrIO, "apply-sync", p.path,
				errutil.Coordinates{LSN: errutil.U64(b.hdr.LastLSN)}, err)
		}
	}

	p.hdr = b.hdr
	for uint32(len(p.segs)) < p.hdr.SegmentCount+1 {
		p.segs = append(p.segs, nil)
	}
	for _, pid := range pids {
		if pid == 0 {
			continue
		}
		page := b.pages[pid]
		sh, err := DecodeSegmentHeader(page, p.hdr.PageSize, pid)
		if err != nil {
			p.recovery = true
			return err
		}
		if sh.Free() {
			p.segs[pid] = &segMeta{free: true}
			continue
		}
		p.segs[pid] = &segMeta{typeID: sh.TypeID, slotSize: sh.SlotSize, slotCount: sh.SlotCount, live: liveCount(page)}
	}
	for key, bm := range b.free {
		p.free[key] = bm
	}

	if p.opts.FsyncOnCommit {
		if err := p.wal.TruncateToHeader(); err != nil {
			p.lg.Warn("wal truncate failed, kept for next checkpoint", "error", err.Error())
		}
	} else if p.wal.Size() > p.opts.CheckpointBytes {
		if err := p.checkpointLocked(); err != nil {
			p.recovery = true
			return err
		}
	}
	return nil
}
