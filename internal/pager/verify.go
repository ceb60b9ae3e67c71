package pager

import (
	"context"
	"fmt"

	"github.com/julianstephens/structdb/internal/errutil"
	"github.com/julianstephens/structdb/model"
	"golang.org/x/sync/errgroup"
)

const verifyConcurrency = 16

// Verify walks the whole file checking format invariants: header integrity,
// file size, segment headers, slot bounds, live-bitmap agreement with the
// in-memory directory, and the free chain. Segments are checked in parallel.
// Writers are blocked for the duration.
func (p *Pager) Verify(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.guard(); err != nil {
		return err
	}

	st, err := p.f.Stat()
	if err != nil {
		return wrapErr(ErrIO, "verify-stat", p.path, errutil.Coordinates{}, err)
	}
	want := int64(p.hdr.SegmentCount+1) * int64(p.hdr.PageSize)
	if st.Size() != want {
		return wrapErr(ErrCorrupt, "verify-size", p.path, errutil.Coordinates{},
			fmt.Errorf("file is %d bytes, directory implies %d", st.Size(), want))
	}

	buf := make([]byte, MinPageSize)
	if _, err := p.f.ReadAt(buf, 0); err != nil {
		return wrapErr(ErrIO, "verify-header", p.path, errutil.Coordinates{}, err)
	}
	dh, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	if dh != p.hdr {
		return wrapErr(ErrCorrupt, "verify-header", p.path, errutil.Coordinates{},
			fmt.Errorf("on-disk header drifted from committed state"))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for seg := uint32(1); seg <= p.hdr.SegmentCount; seg++ {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return p.verifySegment(seg)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	freeFlagged := 0
	for seg := uint32(1); seg < uint32(len(p.segs)); seg++ {
		if p.segs[seg].free {
			freeFlagged++
		}
	}
	chained, err := p.walkFreeChain()
	if err != nil {
		return err
	}
	if chained != freeFlagged {
		return wrapErr(ErrCorrupt, "verify-free-chain", p.path, errutil.Coordinates{},
			fmt.Errorf("chain has %d segments, flags mark %d", chained, freeFlagged))
	}
	return nil
}

func (p *Pager) verifySegment(seg uint32) error {
	page, err := p.readPage(seg)
	if err != nil {
		return err
	}
	sh, err := DecodeSegmentHeader(page, p.hdr.PageSize, seg)
	if err != nil {
		return err
	}
	coords := errutil.Coordinates{Segment: errutil.U32(seg)}
	m := p.segs[seg]
	if sh.Free() {
		if !m.free {
			return wrapErr(ErrCorrupt, "verify-segment", p.path, coords,
				fmt.Errorf("on-disk free flag disagrees with directory"))
		}
		if liveCount(page) != 0 {
			return wrapErr(ErrCorrupt, "verify-segment", p.path, coords,
				fmt.Errorf("free segment has live slots"))
		}
		return nil
	}
	if m.free || m.typeID != sh.TypeID || m.slotSize != sh.SlotSize {
		return wrapErr(ErrCorrupt, "verify-segment", p.path, coords,
			fmt.Errorf("on-disk segment header disagrees with directory"))
	}
	if uint32(sh.TypeID) >= p.hdr.NextTypeID {
		return wrapErr(ErrCorrupt, "verify-segment", p.path, coords,
			fmt.Errorf("segment carries unallocated type id %d", sh.TypeID))
	}
	if got := liveCount(page); got != m.live {
		return wrapErr(ErrCorrupt, "verify-segment", p.path, coords,
			fmt.Errorf("live bitmap counts %d, directory counts %d", got, m.live))
	}
	for i := model.SlotID(0); i < model.SlotID(sh.SlotCount); i++ {
		if !liveGet(page, i) {
			continue
		}
		off := slotOffset(sh.SlotSize, i)
		if n := slotPayloadLen(page, off); n > sh.SlotSize-SlotHeaderSize {
			return wrapErr(ErrCorrupt, "verify-slot", p.path,
				errutil.Coordinates{Segment: errutil.U32(seg), Slot: errutil.U16(uint16(i))},
				fmt.Errorf("payload length %d exceeds slot capacity %d", n, sh.SlotSize-SlotHeaderSize))
		}
	}
	return nil
}
