// Package btree keeps one in-memory ordered index per declared indexed
// field. Keys are the order-preserving byte encodings produced by the schema
// package, so bytes.Compare gives the field's total order. Trees are rebuilt
// from live records at open; they are never persisted.
package btree

import (
	"bytes"
	"slices"

	gbtree "github.com/google/btree"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

const degree = 32

// entry is one key's posting. rids stays sorted by rid order and is treated
// as immutable once stored: mutations build a fresh slice so lazy tree
// clones never observe in-place edits.
type entry struct {
	key  []byte
	rids []model.Rid
}

func entryLess(a, b *entry) bool { return bytes.Compare(a.key, b.key) < 0 }

// Index is one ordered index over a single field.
type Index struct {
	name string
	mode schema.IndexMode
	tree *gbtree.BTreeG[*entry]
}

// NewIndex creates an empty index.
func NewIndex(name string, mode schema.IndexMode) *Index {
	return &Index{name: name, mode: mode, tree: gbtree.NewG(degree, entryLess)}
}

// Name returns the declared index name.
func (ix *Index) Name() string { return ix.name }

// Mode returns cluster or exclusive.
func (ix *Index) Mode() schema.IndexMode { return ix.mode }

// Len returns the number of distinct keys.
func (ix *Index) Len() int { return ix.tree.Len() }

// clone returns a lazy copy sharing nodes with the original.
func (ix *Index) clone() *Index {
	return &Index{name: ix.name, mode: ix.mode, tree: ix.tree.Clone()}
}

// Put adds a key→rid posting. On an exclusive index a second rid for the
// same key fails with ErrDuplicateKey; re-adding the same pair is a no-op.
func (ix *Index) Put(key []byte, rid model.Rid) error {
	cur, ok := ix.tree.Get(&entry{key: key})
	if !ok {
		ix.tree.ReplaceOrInsert(&entry{key: key, rids: []model.Rid{rid}})
		return nil
	}
	if ix.mode == schema.IndexExclusive {
		if cur.rids[0] == rid {
			return nil
		}
		return wrapIdxErr(ErrDuplicateKey, "put", ix.name)
	}
	pos, found := slices.BinarySearchFunc(cur.rids, rid, model.Rid.Compare)
	if found {
		return nil
	}
	rids := make([]model.Rid, 0, len(cur.rids)+1)
	rids = append(rids, cur.rids[:pos]...)
	rids = append(rids, rid)
	rids = append(rids, cur.rids[pos:]...)
	ix.tree.ReplaceOrInsert(&entry{key: cur.key, rids: rids})
	return nil
}

// Remove drops a key→rid posting. A pair the index does not hold is
// ErrEntryMissing.
func (ix *Index) Remove(key []byte, rid model.Rid) error {
	cur, ok := ix.tree.Get(&entry{key: key})
	if !ok {
		return wrapIdxErr(ErrEntryMissing, "remove", ix.name)
	}
	pos, found := slices.BinarySearchFunc(cur.rids, rid, model.Rid.Compare)
	if !found {
		return wrapIdxErr(ErrEntryMissing, "remove", ix.name)
	}
	if len(cur.rids) == 1 {
		ix.tree.Delete(cur)
		return nil
	}
	rids := make([]model.Rid, 0, len(cur.rids)-1)
	rids = append(rids, cur.rids[:pos]...)
	rids = append(rids, cur.rids[pos+1:]...)
	ix.tree.ReplaceOrInsert(&entry{key: cur.key, rids: rids})
	return nil
}

// Get returns the rids posted under key, in rid order.
func (ix *Index) Get(key []byte) []model.Rid {
	cur, ok := ix.tree.Get(&entry{key: key})
	if !ok {
		return nil
	}
	return slices.Clone(cur.rids)
}

// Has reports whether any rid is posted under key.
func (ix *Index) Has(key []byte) bool {
	_, ok := ix.tree.Get(&entry{key: key})
	return ok
}

// Ascend walks keys in order within [lo, hi] honoring the inclusive flags.
// A nil bound is unbounded on that side. fn returning false stops the walk.
func (ix *Index) Ascend(lo, hi []byte, loInc, hiInc bool, fn func(key []byte, rids []model.Rid) bool) {
	iter := func(it *entry) bool {
		if lo != nil && !loInc && bytes.Equal(it.key, lo) {
			return true
		}
		if hi != nil {
			c := bytes.Compare(it.key, hi)
			if c > 0 || (c == 0 && !hiInc) {
				return false
			}
		}
		return fn(it.key, it.rids)
	}
	if lo == nil {
		ix.tree.Ascend(iter)
		return
	}
	ix.tree.AscendGreaterOrEqual(&entry{key: lo}, iter)
}

// Descend walks keys in reverse order within [lo, hi] honoring the
// inclusive flags. fn returning false stops the walk.
func (ix *Index) Descend(lo, hi []byte, loInc, hiInc bool, fn func(key []byte, rids []model.Rid) bool) {
	iter := func(it *entry) bool {
		if hi != nil && !hiInc && bytes.Equal(it.key, hi) {
			return true
		}
		if lo != nil {
			c := bytes.Compare(it.key, lo)
			if c < 0 || (c == 0 && !loInc) {
				return false
			}
		}
		return fn(it.key, it.rids)
	}
	if hi == nil {
		ix.tree.Descend(iter)
		return
	}
	ix.tree.DescendLessOrEqual(&entry{key: hi}, iter)
}
