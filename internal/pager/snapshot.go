package pager

import (
	"io"

	"github.com/julianstephens/structdb/internal/errutil"
	"github.com/julianstephens/structdb/model"
)

// Snapshot pins the committed state at its creation point. Commit apply
// copies the before-image of every page it overwrites into each live
// snapshot, so snapshot reads keep seeing the old bytes no matter how many
// commits land afterwards.
type Snapshot struct {
	p        *Pager
	hdr      Header
	overlay  map[uint32][]byte
	released bool
}

// Snapshot pins the current committed state for reading.
func (p *Pager) Snapshot() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.guard(); err != nil {
		return nil, err
	}
	s := &Snapshot{p: p, hdr: p.hdr, overlay: make(map[uint32][]byte)}
	p.snapshots[s] = struct{}{}
	return s, nil
}

// Release detaches the snapshot so commits stop copying before-images into
// it. Safe to call more than once.
func (s *Snapshot) Release() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	delete(s.p.snapshots, s)
}

// LastLSN reports the commit horizon the snapshot sees.
func (s *Snapshot) LastLSN() uint64 { return s.hdr.LastLSN }

// page returns the snapshot's view of a page: the preserved before-image
// when one was captured, the current file bytes otherwise. Caller holds at
// least the read lock.
func (s *Snapshot) page(pageID uint32) ([]byte, error) {
	if img, ok := s.overlay[pageID]; ok {
		return img, nil
	}
	return s.p.readPage(pageID)
}

// ReadSlot returns the payload at rid as of the snapshot. The directory
// checks run against the frozen page image, so a segment recycled after the
// snapshot still resolves to its old contents.
func (s *Snapshot) ReadSlot(rid model.Rid) ([]byte, error) {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	return s.readSlotLocked(rid)
}

func (s *Snapshot) readSlotLocked(rid model.Rid) ([]byte, error) {
	if s.released {
		return nil, wrapErr(ErrClosed, "snapshot-read", s.p.path, ridCoords(rid), nil)
	}
	if err := s.p.guard(); err != nil {
		return nil, err
	}
	if rid.Segment == 0 || rid.Segment > s.hdr.SegmentCount {
		return nil, wrapErr(ErrInvalidRid, "snapshot-resolve", s.p.path, ridCoords(rid), nil)
	}
	page, err := s.page(rid.Segment)
	if err != nil {
		return nil, err
	}
	sh, err := DecodeSegmentHeader(page, s.hdr.PageSize, rid.Segment)
	if err != nil {
		return nil, err
	}
	if sh.Free() {
		return nil, wrapErr(ErrNotFound, "snapshot-resolve", s.p.path, ridCoords(rid), nil)
	}
	if sh.TypeID != rid.Type {
		return nil, wrapErr(ErrInvalidRid, "snapshot-resolve-type", s.p.path, ridCoords(rid), nil)
	}
	if uint16(rid.Slot) >= sh.SlotCount {
		return nil, wrapErr(ErrInvalidRid, "snapshot-resolve-slot", s.p.path, ridCoords(rid), nil)
	}
	return payloadFromPage(page, sh.SlotSize, rid, s.p.path)
}

// ScanType walks every live record of a type as of the snapshot, in rid
// order. The lock is dropped between segments; interleaved commits cannot
// disturb the walk because their before-images land in the overlay first.
// fn runs under the read lock and must not call back into the pager.
func (s *Snapshot) ScanType(typeID model.TypeID, fn func(rid model.Rid, payload []byte) error) error {
	segCount := s.hdr.SegmentCount
	for seg := uint32(1); seg <= segCount; seg++ {
		if err := s.scanSegment(typeID, seg, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) scanSegment(typeID model.TypeID, seg uint32, fn func(rid model.Rid, payload []byte) error) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if s.released {
		return wrapErr(ErrClosed, "snapshot-scan", s.p.path,
			errutil.Coordinates{Segment: errutil.U32(seg)}, nil)
	}
	if err := s.p.guard(); err != nil {
		return err
	}
	page, err := s.page(seg)
	if err != nil {
		return err
	}
	sh, err := DecodeSegmentHeader(page, s.hdr.PageSize, seg)
	if err != nil {
		return err
	}
	if sh.Free() || sh.TypeID != typeID {
		return nil
	}
	for i := model.SlotID(0); i < model.SlotID(sh.SlotCount); i++ {
		if !liveGet(page, i) {
			continue
		}
		rid := model.Rid{Type: typeID, Segment: seg, Slot: i}
		payload, err := payloadFromPage(page, sh.SlotSize, rid, s.p.path)
		if err != nil {
			return err
		}
		if err := fn(rid, payload); err != nil {
			return err
		}
	}
	return nil
}

// WriteTo streams the store as of the snapshot: the frozen header page
// followed by every segment page. Commits landing mid-stream stay invisible;
// their before-images enter the overlay before the live pages change. The
// header page is rebuilt from the frozen header, which apply never preserves.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	page := make([]byte, s.hdr.PageSize)
	EncodeHeader(s.hdr, page)
	var written int64
	n, err := w.Write(page)
	written += int64(n)
	if err != nil {
		return written, wrapErr(ErrIO, "snapshot-stream", s.p.path, errutil.Coordinates{}, err)
	}
	for seg := uint32(1); seg <= s.hdr.SegmentCount; seg++ {
		if err := s.copyPage(seg, page); err != nil {
			return written, err
		}
		n, err := w.Write(page)
		written += int64(n)
		if err != nil {
			return written, wrapErr(ErrIO, "snapshot-stream", s.p.path,
				errutil.Coordinates{Page: errutil.U32(seg)}, err)
		}
	}
	return written, nil
}

func (s *Snapshot) copyPage(pid uint32, dst []byte) error {
	s.p.mu.RLock()
	defer s.p.mu.RUnlock()
	if s.released {
		return wrapErr(ErrClosed, "snapshot-stream", s.p.path,
			errutil.Coordinates{Page: errutil.U32(pid)}, nil)
	}
	if err := s.p.guard(); err != nil {
		return err
	}
	page, err := s.page(pid)
	if err != nil {
		return err
	}
	copy(dst, page)
	return nil
}
