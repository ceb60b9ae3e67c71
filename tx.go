package structdb

import (
	"github.com/julianstephens/structdb/internal/txn"
	"github.com/julianstephens/structdb/model"
)

// Tx is a write transaction. Operations buffer inside it and become visible
// to readers only when Commit returns nil; a failed operation reports its
// error and leaves the transaction usable. Tx is not safe for concurrent
// use.
type Tx struct {
	s     *Store
	inner *txn.Tx
}

// Insert stores a new record, resolving the binding from the value's struct
// name. Returns the record's Rid.
func (t *Tx) Insert(v any) (model.Rid, error) {
	bind, err := t.s.bindingOf("insert", v)
	if err != nil {
		return model.Rid{}, err
	}
	rid, err := t.inner.Insert(bind, v)
	if err != nil {
		return model.Rid{}, translate("insert", t.s.path, err)
	}
	return rid, nil
}

// Update replaces the record at rid with v. When the new payload needs a
// different slot size the record moves; the returned Rid is the live one
// either way.
func (t *Tx) Update(rid model.Rid, v any) (model.Rid, error) {
	bind, err := t.s.bindingByID("update", rid.Type)
	if err != nil {
		return model.Rid{}, err
	}
	nrid, err := t.inner.Update(bind, rid, v)
	if err != nil {
		return model.Rid{}, translate("update", t.s.path, err)
	}
	return nrid, nil
}

// Delete removes the record at rid and retracts its index entries.
func (t *Tx) Delete(rid model.Rid) error {
	bind, err := t.s.bindingByID("delete", rid.Type)
	if err != nil {
		return err
	}
	if err := t.inner.Delete(bind, rid); err != nil {
		return translate("delete", t.s.path, err)
	}
	return nil
}

// Read decodes the record at rid as this transaction sees it, its own
// buffered writes included.
func (t *Tx) Read(rid model.Rid) (any, error) {
	bind, err := t.s.bindingByID("read", rid.Type)
	if err != nil {
		return nil, err
	}
	v, err := t.inner.Read(bind, rid)
	if err != nil {
		return nil, translate("read", t.s.path, err)
	}
	return v, nil
}

// Commit makes the transaction's operations durable and visible, atomically.
// On error nothing of the transaction survives.
func (t *Tx) Commit() error {
	if err := t.inner.Commit(); err != nil {
		return translate("commit", t.s.path, err)
	}
	return nil
}

// Rollback discards the transaction.
func (t *Tx) Rollback() error {
	if err := t.inner.Rollback(); err != nil {
		return translate("rollback", t.s.path, err)
	}
	return nil
}

// Close rolls the transaction back if it is still active. Safe to defer
// alongside an explicit Commit.
func (t *Tx) Close() error {
	if err := t.inner.Close(); err != nil {
		return translate("close", t.s.path, err)
	}
	return nil
}
