package recstore

import (
	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
)

// ReadCommitted decodes the committed record at rid, outside any
// transaction.
func ReadCommitted(p *pager.Pager, bind *registry.Binding, rid model.Rid) (any, error) {
	return decodeFrom(p.ReadSlot, bind, rid)
}

// ReadAt decodes the record at rid as frozen in snap.
func ReadAt(snap *pager.Snapshot, bind *registry.Binding, rid model.Rid) (any, error) {
	return decodeFrom(snap.ReadSlot, bind, rid)
}

func decodeFrom(read func(model.Rid) ([]byte, error), bind *registry.Binding, rid model.Rid) (any, error) {
	if rid.Type != bind.ID {
		return nil, wrapRecErr(pager.ErrInvalidRid, "read", bind.Desc.Name, rid)
	}
	payload, err := read(rid)
	if err != nil {
		return nil, wrapRecErr(err, "read", bind.Desc.Name, rid)
	}
	v, err := bind.Type.Decode(payload)
	if err != nil {
		return nil, wrapRecErr(err, "read", bind.Desc.Name, rid)
	}
	return v, nil
}

// Backfill registers bind's declared indexes and rebuilds them from the live
// records of the type. Indexes are derived state; the data file is the
// source of truth, so this runs at open and after a define that rebinds a
// persisted type.
func Backfill(p *pager.Pager, idx *btree.Manager, bind *registry.Binding) error {
	idxs := bind.Desc.Indexes()
	for _, ix := range idxs {
		idx.Create(btree.Key{Type: bind.ID, Name: ix.Field.Index.Name}, ix.Field.Index.Mode)
	}
	if len(idxs) == 0 {
		return nil
	}
	return p.ScanType(bind.ID, func(rid model.Rid, payload []byte) error {
		v, err := bind.Type.Decode(payload)
		if err != nil {
			return wrapRecErr(err, "backfill", bind.Desc.Name, rid)
		}
		keys, err := indexKeys(bind, v)
		if err != nil {
			return wrapRecErr(err, "backfill", bind.Desc.Name, rid)
		}
		deltas := make([]btree.Delta, 0, len(keys))
		for _, k := range keys {
			deltas = append(deltas, btree.Delta{Key: k.key, Bytes: k.kb, Rid: rid, Op: btree.DeltaAdd})
		}
		if err := idx.Publish(deltas); err != nil {
			return wrapRecErr(err, "backfill", bind.Desc.Name, rid)
		}
		return nil
	})
}
