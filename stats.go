package structdb

import (
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// SchemaInfo describes one schema catalog entry.
type SchemaInfo struct {
	ID   model.TypeID
	Name string
	// Hash is the structural hash a redefinition must match.
	Hash uint64
	// Desc is the persisted descriptor. Shared, not a copy; callers must
	// not modify it.
	Desc *schema.Descriptor
	// Bound reports whether the type was defined in this process.
	Bound bool
}

// Schemas lists every type the store knows, defined in this process or
// persisted by an earlier one, ordered by id.
func (s *Store) Schemas() ([]SchemaInfo, error) {
	if err := s.guard("schemas"); err != nil {
		return nil, err
	}
	cat := s.reg.Catalog()
	out := make([]SchemaInfo, 0, len(cat))
	for _, in := range cat {
		out = append(out, SchemaInfo{ID: in.ID, Name: in.Name, Hash: in.Hash, Desc: in.Desc, Bound: in.Bound})
	}
	return out, nil
}

// TypeStats summarizes one defined struct type.
type TypeStats struct {
	Name     string
	ID       model.TypeID
	Segments uint32
	Live     uint64
	Indexes  int
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Path         string
	StoreID      string
	PageSize     uint32
	Segments     uint32
	FreeSegments uint32
	LiveRecords  uint64
	FreeSlots    uint64
	FileSize     int64
	WALSize      int64
	LastLSN      uint64
	Indexes      int
	Types        []TypeStats
}

// Stats gathers physical and schema counters. Types are reported for every
// catalog entry, bound in this process or not; unbound entries carry no
// index count because their indexes only exist once defined.
func (s *Store) Stats() (Stats, error) {
	if err := s.guard("stats"); err != nil {
		return Stats{}, err
	}

	ps := s.pg.Stats()
	st := Stats{
		Path:         s.path,
		StoreID:      s.pg.StoreID().String(),
		PageSize:     ps.PageSize,
		Segments:     ps.Segments,
		FreeSegments: ps.FreeSegments,
		LiveRecords:  ps.LiveSlots,
		FreeSlots:    ps.FreeSlots,
		FileSize:     ps.FileSize,
		WALSize:      ps.WALSize,
		LastLSN:      ps.LastLSN,
		Indexes:      s.idx.Len(),
	}

	catalog := s.reg.Catalog()
	s.mu.RLock()
	for _, info := range catalog {
		ts := TypeStats{Name: info.Name, ID: info.ID}
		if phys, ok := ps.Types[info.ID]; ok {
			ts.Segments = phys.Segments
			ts.Live = phys.Live
		}
		if b, live := s.byID[info.ID]; live {
			ts.Indexes = len(b.Desc.Indexes())
		}
		st.Types = append(st.Types, ts)
	}
	s.mu.RUnlock()

	// Schema catalog records live in reserved segments and are not records
	// of any user type.
	if sys, ok := ps.Types[pager.SchemaTypeID]; ok {
		st.LiveRecords -= sys.Live
	}
	return st, nil
}
