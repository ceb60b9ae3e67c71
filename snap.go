package structdb

import (
	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/planner"
	"github.com/julianstephens/structdb/internal/recstore"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
)

// Snap is a long-lived read view. Reads and queries through it see the
// commit horizon of the moment it was taken, no matter what commits land
// afterwards. Release it when done; a live Snap makes every later commit
// copy the pages it overwrites.
type Snap struct {
	s     *Store
	snap  *pager.Snapshot
	trees map[btree.Key]*btree.Index

	// Bindings as of the capture. A struct defined after the snapshot is
	// not resolvable through it, records and indexes both.
	byName map[string]*registry.Binding
	byID   map[model.TypeID]*registry.Binding
}

// Snapshot captures a long-lived read view of the committed state.
func (s *Store) Snapshot() (*Snap, error) {
	if err := s.guard("snapshot"); err != nil {
		return nil, err
	}

	// Bindings copy first: a define landing between the copy and the
	// capture stays invisible through this Snap instead of half-visible.
	s.mu.RLock()
	byName := make(map[string]*registry.Binding, len(s.byName))
	for k, v := range s.byName {
		byName[k] = v
	}
	byID := make(map[model.TypeID]*registry.Binding, len(s.byID))
	for k, v := range s.byID {
		byID[k] = v
	}
	s.mu.RUnlock()

	snap, trees, err := s.txm.Capture()
	if err != nil {
		return nil, translate("snapshot", s.path, err)
	}
	return &Snap{s: s, snap: snap, trees: trees, byName: byName, byID: byID}, nil
}

// Read decodes the record at rid as of the snapshot.
func (sn *Snap) Read(rid model.Rid) (any, error) {
	bind, ok := sn.byID[rid.Type]
	if !ok {
		return nil, wrapStoreErr("read", ErrStructNotDefined, sn.s.path, nil)
	}
	v, err := recstore.ReadAt(sn.snap, bind, rid)
	if err != nil {
		return nil, translate("read", sn.s.path, err)
	}
	return v, nil
}

// Query starts a query that runs against the snapshot instead of the
// current committed state. Cursors it produces stay valid until Release.
func (sn *Snap) Query(name string) *Query {
	return &Query{s: sn.s, snap: sn, name: name, limit: -1}
}

// LastLSN reports the commit horizon the snapshot sees.
func (sn *Snap) LastLSN() uint64 { return sn.snap.LastLSN() }

// Release detaches the snapshot. Safe to call more than once; reads through
// a released Snap fail with ErrClosed.
func (sn *Snap) Release() { sn.snap.Release() }

func (sn *Snap) view() planner.View {
	return planner.View{Snap: sn.snap, Trees: sn.trees}
}

func (sn *Snap) binding(op, name string) (*registry.Binding, error) {
	b, ok := sn.byName[name]
	if !ok {
		return nil, wrapStoreErr(op, ErrStructNotDefined, sn.s.path, nil)
	}
	return b, nil
}
