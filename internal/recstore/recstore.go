// Package recstore is the record layer of a transaction. It encodes struct
// values through their schema bindings, places the payloads in pager slots,
// and keeps the declared indexes coherent by buffering ordered index deltas
// for commit to publish.
//
// A Writer belongs to exactly one transaction. Exclusive-index constraints
// are validated at operation time against a private overlay: the committed
// trees, cloned lazily, with this transaction's own deltas applied. A
// violating operation therefore fails before it mutates anything and the
// transaction stays usable. The store's single-writer lock guarantees the
// committed trees cannot move underneath an active writer.
package recstore

import (
	"bytes"
	"errors"

	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// Writer executes record operations for one transaction.
type Writer struct {
	b      *pager.Batch
	idx    *btree.Manager
	views  map[btree.Key]*btree.Index
	deltas []btree.Delta
}

// NewWriter binds a writer to a transaction's batch and the store's indexes.
func NewWriter(b *pager.Batch, idx *btree.Manager) *Writer {
	return &Writer{b: b, idx: idx, views: make(map[btree.Key]*btree.Index)}
}

// fieldKey is one extracted index entry: the index it belongs to, whether
// that index is exclusive, and the encoded key bytes.
type fieldKey struct {
	key       btree.Key
	exclusive bool
	kb        []byte
}

// indexKeys extracts the key bytes for every declared index of bind from v.
// The slice is ordered by field declaration, matching bind.Desc.Indexes().
func indexKeys(bind *registry.Binding, v any) ([]fieldKey, error) {
	idxs := bind.Desc.Indexes()
	if len(idxs) == 0 {
		return nil, nil
	}
	out := make([]fieldKey, 0, len(idxs))
	for _, ix := range idxs {
		f := ix.Field
		fv, err := schema.FieldOf(v, f.Name)
		if err != nil {
			return nil, err
		}
		kb, err := schema.KeyFor(&f.Type, fv)
		if err != nil {
			return nil, err
		}
		out = append(out, fieldKey{
			key:       btree.Key{Type: bind.ID, Name: f.Index.Name},
			exclusive: f.Index.Mode == schema.IndexExclusive,
			kb:        kb,
		})
	}
	return out, nil
}

// View returns this transaction's overlay of one index: the committed tree
// plus every delta buffered so far. Index lookups through it see the
// transaction's own writes.
func (w *Writer) View(key btree.Key) (*btree.Index, error) {
	if v, ok := w.views[key]; ok {
		return v, nil
	}
	v, err := w.idx.Clone(key)
	if err != nil {
		return nil, err
	}
	w.views[key] = v
	return v, nil
}

// Deltas returns the buffered index mutations in application order.
func (w *Writer) Deltas() []btree.Delta { return w.deltas }

// apply mirrors one delta into the private overlay and buffers it.
func (w *Writer) apply(d btree.Delta) error {
	v, err := w.View(d.Key)
	if err != nil {
		return err
	}
	switch d.Op {
	case btree.DeltaAdd:
		err = v.Put(d.Bytes, d.Rid)
	case btree.DeltaRemove:
		err = v.Remove(d.Bytes, d.Rid)
	}
	if err != nil {
		return err
	}
	w.deltas = append(w.deltas, d)
	return nil
}

// checkExclusive fails when any exclusive key in keys is already held by a
// record other than self. Pass the zero rid for inserts.
func (w *Writer) checkExclusive(op string, keys []fieldKey, self model.Rid) error {
	for _, k := range keys {
		if !k.exclusive {
			continue
		}
		v, err := w.View(k.key)
		if err != nil {
			return err
		}
		if holders := v.Get(k.kb); len(holders) > 0 && holders[0] != self {
			return &btree.IndexError{Err: btree.ErrDuplicateKey, Index: k.key.Name, Op: op}
		}
	}
	return nil
}

// Insert encodes v, places it in a fresh slot of its type, and posts one
// index entry per declared index. When an exclusive constraint would be
// violated nothing is mutated.
func (w *Writer) Insert(bind *registry.Binding, v any) (model.Rid, error) {
	payload, err := bind.Type.Encode(v)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "insert", bind.Desc.Name, model.Rid{})
	}
	keys, err := indexKeys(bind, v)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "insert", bind.Desc.Name, model.Rid{})
	}
	if err := w.checkExclusive("insert", keys, model.Rid{}); err != nil {
		return model.Rid{}, wrapRecErr(err, "insert", bind.Desc.Name, model.Rid{})
	}
	rid, err := w.b.AllocateSlot(bind.ID, len(payload))
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "insert", bind.Desc.Name, model.Rid{})
	}
	if err := w.b.WriteSlot(rid, payload); err != nil {
		return model.Rid{}, wrapRecErr(err, "insert", bind.Desc.Name, rid)
	}
	for _, k := range keys {
		d := btree.Delta{Key: k.key, Bytes: k.kb, Rid: rid, Op: btree.DeltaAdd}
		if err := w.apply(d); err != nil {
			return model.Rid{}, wrapRecErr(err, "insert", bind.Desc.Name, rid)
		}
	}
	return rid, nil
}

// Update re-encodes v over the record at rid. The rid is preserved when the
// new payload still fits the slot's size bucket; otherwise the record moves
// to a slot in the right bucket, the old slot is freed, and the returned rid
// is the record's new identity. Index entries follow the record either way.
func (w *Writer) Update(bind *registry.Binding, rid model.Rid, v any) (model.Rid, error) {
	if rid.Type != bind.ID {
		return model.Rid{}, wrapRecErr(pager.ErrInvalidRid, "update", bind.Desc.Name, rid)
	}
	oldPayload, err := w.b.ReadSlot(rid)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}
	oldVal, err := bind.Type.Decode(oldPayload)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}
	oldKeys, err := indexKeys(bind, oldVal)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}
	payload, err := bind.Type.Encode(v)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}
	newKeys, err := indexKeys(bind, v)
	if err != nil {
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}
	// Keys this record already holds pass the self check, so only genuine
	// conflicts with other records fail here.
	if err := w.checkExclusive("update", newKeys, rid); err != nil {
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}

	newRid := rid
	switch err := w.b.WriteSlot(rid, payload); {
	case err == nil:
	case errors.Is(err, pager.ErrTooLarge):
		moved, err := w.b.AllocateSlot(bind.ID, len(payload))
		if err != nil {
			return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
		}
		if err := w.b.WriteSlot(moved, payload); err != nil {
			return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, moved)
		}
		if err := w.b.FreeSlot(rid); err != nil {
			return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
		}
		newRid = moved
	default:
		return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
	}

	// Removes before adds: on an exclusive index whose key survives a move,
	// the add must not see the old posting.
	for i := range oldKeys {
		if newRid == rid && bytes.Equal(oldKeys[i].kb, newKeys[i].kb) {
			continue
		}
		d := btree.Delta{Key: oldKeys[i].key, Bytes: oldKeys[i].kb, Rid: rid, Op: btree.DeltaRemove}
		if err := w.apply(d); err != nil {
			return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, rid)
		}
	}
	for i := range newKeys {
		if newRid == rid && bytes.Equal(oldKeys[i].kb, newKeys[i].kb) {
			continue
		}
		d := btree.Delta{Key: newKeys[i].key, Bytes: newKeys[i].kb, Rid: newRid, Op: btree.DeltaAdd}
		if err := w.apply(d); err != nil {
			return model.Rid{}, wrapRecErr(err, "update", bind.Desc.Name, newRid)
		}
	}
	return newRid, nil
}

// Delete retracts the record's index entries and frees its slot. The slot's
// generation is bumped so the freed rid stays distinguishable in audits.
func (w *Writer) Delete(bind *registry.Binding, rid model.Rid) error {
	if rid.Type != bind.ID {
		return wrapRecErr(pager.ErrInvalidRid, "delete", bind.Desc.Name, rid)
	}
	payload, err := w.b.ReadSlot(rid)
	if err != nil {
		return wrapRecErr(err, "delete", bind.Desc.Name, rid)
	}
	v, err := bind.Type.Decode(payload)
	if err != nil {
		return wrapRecErr(err, "delete", bind.Desc.Name, rid)
	}
	keys, err := indexKeys(bind, v)
	if err != nil {
		return wrapRecErr(err, "delete", bind.Desc.Name, rid)
	}
	if err := w.b.FreeSlot(rid); err != nil {
		return wrapRecErr(err, "delete", bind.Desc.Name, rid)
	}
	for _, k := range keys {
		d := btree.Delta{Key: k.key, Bytes: k.kb, Rid: rid, Op: btree.DeltaRemove}
		if err := w.apply(d); err != nil {
			return wrapRecErr(err, "delete", bind.Desc.Name, rid)
		}
	}
	return nil
}

// Read decodes the record at rid through the transaction's batch, so the
// transaction's own writes are visible.
func (w *Writer) Read(bind *registry.Binding, rid model.Rid) (any, error) {
	if rid.Type != bind.ID {
		return nil, wrapRecErr(pager.ErrInvalidRid, "read", bind.Desc.Name, rid)
	}
	payload, err := w.b.ReadSlot(rid)
	if err != nil {
		return nil, wrapRecErr(err, "read", bind.Desc.Name, rid)
	}
	v, err := bind.Type.Decode(payload)
	if err != nil {
		return nil, wrapRecErr(err, "read", bind.Desc.Name, rid)
	}
	return v, nil
}
