package recstore

import (
	"fmt"
	"slices"

	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
)

// VerifyIndexes checks that the trees captured for bind agree exactly with
// the records frozen in snap: every record's keys are posted under its rid,
// exclusive keys hold a single rid, and the trees hold no extra postings.
func VerifyIndexes(snap *pager.Snapshot, trees map[btree.Key]*btree.Index, bind *registry.Binding) error {
	idxs := bind.Desc.Indexes()
	if len(idxs) == 0 {
		return nil
	}

	want := make(map[btree.Key]uint64, len(idxs))
	for _, ix := range idxs {
		key := btree.Key{Type: bind.ID, Name: ix.Field.Index.Name}
		if _, ok := trees[key]; !ok {
			return wrapRecErr(fmt.Errorf("%w: index %q not captured", btree.ErrDiverged, key.Name),
				"verify", bind.Desc.Name, model.Rid{})
		}
		want[key] = 0
	}

	err := snap.ScanType(bind.ID, func(rid model.Rid, payload []byte) error {
		v, err := bind.Type.Decode(payload)
		if err != nil {
			return wrapRecErr(err, "verify", bind.Desc.Name, rid)
		}
		keys, err := indexKeys(bind, v)
		if err != nil {
			return wrapRecErr(err, "verify", bind.Desc.Name, rid)
		}
		for _, k := range keys {
			want[k.key]++
			rids := trees[k.key].Get(k.kb)
			if _, found := slices.BinarySearchFunc(rids, rid, model.Rid.Compare); !found {
				return wrapRecErr(fmt.Errorf("%w: record missing from index %q", btree.ErrDiverged, k.key.Name),
					"verify", bind.Desc.Name, rid)
			}
			if k.exclusive && len(rids) != 1 {
				return wrapRecErr(fmt.Errorf("%w: exclusive index %q holds %d rids for one key",
					btree.ErrDiverged, k.key.Name, len(rids)), "verify", bind.Desc.Name, rid)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for key, n := range want {
		var got uint64
		trees[key].Ascend(nil, nil, false, false, func(_ []byte, rids []model.Rid) bool {
			got += uint64(len(rids))
			return true
		})
		if got != n {
			return wrapRecErr(fmt.Errorf("%w: index %q posts %d pairs, records imply %d",
				btree.ErrDiverged, key.Name, got, n), "verify", bind.Desc.Name, model.Rid{})
		}
	}
	return nil
}
