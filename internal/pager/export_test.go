package pager

import "github.com/julianstephens/structdb/model"

// Test hooks. Kept out of the public surface.

// ForceRecovery flips the sticky recovery-required state.
func ForceRecovery(p *Pager) {
	p.mu.Lock()
	p.recovery = true
	p.mu.Unlock()
}

// SlotGen reads the generation counter of a slot straight off disk.
func SlotGen(p *Pager, rid model.Rid) (uint32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	page, err := p.readPage(rid.Segment)
	if err != nil {
		return 0, err
	}
	sh, err := DecodeSegmentHeader(page, p.hdr.PageSize, rid.Segment)
	if err != nil {
		return 0, err
	}
	return slotGeneration(page, slotOffset(sh.SlotSize, rid.Slot)), nil
}

// HeaderCopy returns the committed header.
func HeaderCopy(p *Pager) Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hdr
}
