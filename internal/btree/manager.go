package btree

import (
	"sync"

	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// Key identifies an index: the owning type plus the declared index name.
type Key struct {
	Type model.TypeID
	Name string
}

// DeltaOp says what a Delta does.
type DeltaOp uint8

const (
	// DeltaAdd posts a key→rid pair.
	DeltaAdd DeltaOp = iota
	// DeltaRemove retracts a key→rid pair.
	DeltaRemove
)

// Delta is one buffered index mutation. Transactions collect deltas while
// active and publish them in order at commit.
type Delta struct {
	Key   Key
	Bytes []byte
	Rid   model.Rid
	Op    DeltaOp
}

// Manager owns every index of the store. Reads take the shared lock and see
// fully committed trees; Publish swaps mutations in under the exclusive
// lock, so a reader never observes a half-applied transaction.
type Manager struct {
	mu  sync.RWMutex
	idx map[Key]*Index
}

// NewManager returns an empty index set.
func NewManager() *Manager {
	return &Manager{idx: make(map[Key]*Index)}
}

// Create registers an empty index. Creating an existing index is a no-op
// when the mode matches; the registry guarantees it always does.
func (m *Manager) Create(key Key, mode schema.IndexMode) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ix, ok := m.idx[key]; ok {
		return ix
	}
	ix := NewIndex(key.Name, mode)
	m.idx[key] = ix
	return ix
}

// Lookup returns the committed rids for an exact key.
func (m *Manager) Lookup(key Key, kb []byte) ([]model.Rid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix, ok := m.idx[key]
	if !ok {
		return nil, wrapIdxErr(ErrUnknownIndex, "lookup", key.Name)
	}
	return ix.Get(kb), nil
}

// Clone returns a lazy copy of one index for snapshot reads.
func (m *Manager) Clone(key Key) (*Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix, ok := m.idx[key]
	if !ok {
		return nil, wrapIdxErr(ErrUnknownIndex, "clone", key.Name)
	}
	return ix.clone(), nil
}

// CloneAll captures a lazy copy of every index. O(index count), not O(keys).
func (m *Manager) CloneAll() map[Key]*Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Key]*Index, len(m.idx))
	for k, ix := range m.idx {
		out[k] = ix.clone()
	}
	return out
}

// Publish applies a transaction's deltas in order. The transaction layer
// has already validated exclusive constraints against its own view, so a
// violation here means index and journal state diverged.
func (m *Manager) Publish(deltas []Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range deltas {
		ix, ok := m.idx[d.Key]
		if !ok {
			return wrapIdxErr(ErrUnknownIndex, "publish", d.Key.Name)
		}
		var err error
		switch d.Op {
		case DeltaAdd:
			err = ix.Put(d.Bytes, d.Rid)
		case DeltaRemove:
			err = ix.Remove(d.Bytes, d.Rid)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of registered indexes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idx)
}
