package btree_test

import (
	"errors"
	"fmt"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

func rid(seg uint32, slot uint16) model.Rid {
	return model.Rid{Type: 1, Segment: seg, Slot: model.SlotID(slot)}
}

func collectAsc(ix *btree.Index, lo, hi []byte, loInc, hiInc bool) []string {
	var keys []string
	ix.Ascend(lo, hi, loInc, hiInc, func(key []byte, rids []model.Rid) bool {
		keys = append(keys, string(key))
		return true
	})
	return keys
}

func TestClusterIndexMultiValue(t *testing.T) {
	ix := btree.NewIndex("by_name", schema.IndexCluster)

	tst.RequireNoError(t, ix.Put([]byte("bob"), rid(1, 2)))
	tst.RequireNoError(t, ix.Put([]byte("bob"), rid(1, 0)))
	tst.RequireNoError(t, ix.Put([]byte("bob"), rid(1, 1)))
	tst.RequireNoError(t, ix.Put([]byte("alice"), rid(1, 3)))

	// Same pair twice stays a single posting.
	tst.RequireNoError(t, ix.Put([]byte("bob"), rid(1, 1)))

	tst.RequireDeepEqual(t, ix.Get([]byte("bob")), []model.Rid{rid(1, 0), rid(1, 1), rid(1, 2)})
	tst.RequireDeepEqual(t, ix.Get([]byte("alice")), []model.Rid{rid(1, 3)})
	tst.RequireDeepEqual(t, ix.Len(), 2)
}

func TestExclusiveIndexRejectsSecondRid(t *testing.T) {
	ix := btree.NewIndex("by_email", schema.IndexExclusive)

	tst.RequireNoError(t, ix.Put([]byte("a@x"), rid(1, 0)))
	tst.RequireNoError(t, ix.Put([]byte("a@x"), rid(1, 0)))

	err := ix.Put([]byte("a@x"), rid(1, 1))
	tst.AssertTrue(t, errors.Is(err, btree.ErrDuplicateKey), "expected ErrDuplicateKey, got %v", err)

	var ie *btree.IndexError
	tst.AssertTrue(t, errors.As(err, &ie), "expected IndexError")
	tst.RequireDeepEqual(t, ie.Index, "by_email")
}

func TestRemoveDropsEmptyKeys(t *testing.T) {
	ix := btree.NewIndex("by_name", schema.IndexCluster)
	tst.RequireNoError(t, ix.Put([]byte("k"), rid(1, 0)))
	tst.RequireNoError(t, ix.Put([]byte("k"), rid(1, 1)))

	tst.RequireNoError(t, ix.Remove([]byte("k"), rid(1, 0)))
	tst.RequireDeepEqual(t, ix.Get([]byte("k")), []model.Rid{rid(1, 1)})

	tst.RequireNoError(t, ix.Remove([]byte("k"), rid(1, 1)))
	tst.AssertTrue(t, !ix.Has([]byte("k")), "key should be gone")
	tst.RequireDeepEqual(t, ix.Len(), 0)

	err := ix.Remove([]byte("k"), rid(1, 1))
	tst.AssertTrue(t, errors.Is(err, btree.ErrEntryMissing), "expected ErrEntryMissing, got %v", err)
}

func TestAscendBounds(t *testing.T) {
	ix := btree.NewIndex("by_name", schema.IndexCluster)
	for i, k := range []string{"a", "b", "c", "d", "e"} {
		tst.RequireNoError(t, ix.Put([]byte(k), rid(1, uint16(i))))
	}

	tst.RequireDeepEqual(t, collectAsc(ix, nil, nil, true, true), []string{"a", "b", "c", "d", "e"})
	tst.RequireDeepEqual(t, collectAsc(ix, []byte("b"), []byte("d"), true, true), []string{"b", "c", "d"})
	tst.RequireDeepEqual(t, collectAsc(ix, []byte("b"), []byte("d"), false, true), []string{"c", "d"})
	tst.RequireDeepEqual(t, collectAsc(ix, []byte("b"), []byte("d"), true, false), []string{"b", "c"})
	tst.RequireDeepEqual(t, collectAsc(ix, []byte("b"), []byte("d"), false, false), []string{"c"})
	tst.RequireDeepEqual(t, collectAsc(ix, nil, []byte("c"), true, true), []string{"a", "b", "c"})
	tst.RequireDeepEqual(t, collectAsc(ix, []byte("c"), nil, true, true), []string{"c", "d", "e"})
	tst.RequireDeepEqual(t, collectAsc(ix, []byte("x"), nil, true, true), []string(nil))
}

func TestAscendStopsWhenFnReturnsFalse(t *testing.T) {
	ix := btree.NewIndex("by_name", schema.IndexCluster)
	for i, k := range []string{"a", "b", "c"} {
		tst.RequireNoError(t, ix.Put([]byte(k), rid(1, uint16(i))))
	}
	var seen []string
	ix.Ascend(nil, nil, true, true, func(key []byte, _ []model.Rid) bool {
		seen = append(seen, string(key))
		return len(seen) < 2
	})
	tst.RequireDeepEqual(t, seen, []string{"a", "b"})
}

func TestDescendBounds(t *testing.T) {
	ix := btree.NewIndex("by_name", schema.IndexCluster)
	for i, k := range []string{"a", "b", "c", "d"} {
		tst.RequireNoError(t, ix.Put([]byte(k), rid(1, uint16(i))))
	}

	var keys []string
	ix.Descend(nil, nil, true, true, func(key []byte, _ []model.Rid) bool {
		keys = append(keys, string(key))
		return true
	})
	tst.RequireDeepEqual(t, keys, []string{"d", "c", "b", "a"})

	keys = nil
	ix.Descend([]byte("b"), []byte("d"), true, false, func(key []byte, _ []model.Rid) bool {
		keys = append(keys, string(key))
		return true
	})
	tst.RequireDeepEqual(t, keys, []string{"c", "b"})

	keys = nil
	ix.Descend([]byte("b"), nil, false, true, func(key []byte, _ []model.Rid) bool {
		keys = append(keys, string(key))
		return true
	})
	tst.RequireDeepEqual(t, keys, []string{"d", "c"})
}

func TestManagerPublishAppliesDeltasInOrder(t *testing.T) {
	m := btree.NewManager()
	key := btree.Key{Type: 1, Name: "by_email"}
	m.Create(key, schema.IndexExclusive)

	// A record moves: the remove must land before the add for the same key.
	tst.RequireNoError(t, m.Publish([]btree.Delta{
		{Key: key, Bytes: []byte("a@x"), Rid: rid(1, 0), Op: btree.DeltaAdd},
	}))
	tst.RequireNoError(t, m.Publish([]btree.Delta{
		{Key: key, Bytes: []byte("a@x"), Rid: rid(1, 0), Op: btree.DeltaRemove},
		{Key: key, Bytes: []byte("a@x"), Rid: rid(2, 0), Op: btree.DeltaAdd},
	}))

	rids, err := m.Lookup(key, []byte("a@x"))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, rids, []model.Rid{rid(2, 0)})
}

func TestManagerUnknownIndex(t *testing.T) {
	m := btree.NewManager()
	_, err := m.Lookup(btree.Key{Type: 9, Name: "nope"}, []byte("k"))
	tst.AssertTrue(t, errors.Is(err, btree.ErrUnknownIndex), "expected ErrUnknownIndex, got %v", err)

	err = m.Publish([]btree.Delta{{Key: btree.Key{Type: 9, Name: "nope"}, Bytes: []byte("k"), Rid: rid(1, 0), Op: btree.DeltaAdd}})
	tst.AssertTrue(t, errors.Is(err, btree.ErrUnknownIndex), "expected ErrUnknownIndex, got %v", err)
}

func TestCloneIsolatesFromLaterPublishes(t *testing.T) {
	m := btree.NewManager()
	key := btree.Key{Type: 1, Name: "by_name"}
	m.Create(key, schema.IndexCluster)

	var deltas []btree.Delta
	for i := 0; i < 64; i++ {
		deltas = append(deltas, btree.Delta{
			Key: key, Bytes: fmt.Appendf(nil, "k%03d", i), Rid: rid(1, uint16(i)), Op: btree.DeltaAdd,
		})
	}
	tst.RequireNoError(t, m.Publish(deltas))

	snap, err := m.Clone(key)
	tst.RequireNoError(t, err)
	before := snap.Len()

	tst.RequireNoError(t, m.Publish([]btree.Delta{
		{Key: key, Bytes: []byte("k000"), Rid: rid(1, 0), Op: btree.DeltaRemove},
		{Key: key, Bytes: []byte("zzz"), Rid: rid(3, 0), Op: btree.DeltaAdd},
	}))

	tst.RequireDeepEqual(t, snap.Len(), before)
	tst.RequireDeepEqual(t, snap.Get([]byte("k000")), []model.Rid{rid(1, 0)})
	tst.AssertTrue(t, !snap.Has([]byte("zzz")), "snapshot should not see later adds")

	live, err := m.Clone(key)
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, !live.Has([]byte("k000")), "live view should see the removal")
	tst.AssertTrue(t, live.Has([]byte("zzz")), "live view should see the add")
}

func TestClusterPostingsAreCloneSafe(t *testing.T) {
	m := btree.NewManager()
	key := btree.Key{Type: 1, Name: "by_name"}
	m.Create(key, schema.IndexCluster)

	tst.RequireNoError(t, m.Publish([]btree.Delta{
		{Key: key, Bytes: []byte("k"), Rid: rid(1, 0), Op: btree.DeltaAdd},
		{Key: key, Bytes: []byte("k"), Rid: rid(1, 1), Op: btree.DeltaAdd},
	}))

	snap, err := m.Clone(key)
	tst.RequireNoError(t, err)

	// Growing and shrinking the posting after the clone must not leak in.
	tst.RequireNoError(t, m.Publish([]btree.Delta{
		{Key: key, Bytes: []byte("k"), Rid: rid(1, 2), Op: btree.DeltaAdd},
		{Key: key, Bytes: []byte("k"), Rid: rid(1, 0), Op: btree.DeltaRemove},
	}))

	tst.RequireDeepEqual(t, snap.Get([]byte("k")), []model.Rid{rid(1, 0), rid(1, 1)})
}
