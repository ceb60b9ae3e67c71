// Package txn coordinates transactions over the pager and the index
// manager. The store runs a single writer at a time: Begin blocks until
// the previous transaction finishes. Readers never block; they capture a
// page snapshot plus index clones through the same manager so that both
// halves of a commit become visible together.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/recstore"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
)

// Manager owns the writer lock and the commit visibility boundary.
type Manager struct {
	p   *pager.Pager
	idx *btree.Manager
	lg  logger.Logger

	// writerMu is held from Begin until the transaction closes.
	writerMu sync.Mutex

	// visMu makes page apply and index publish one visibility event.
	// Commit holds the write side across both; Capture holds the read
	// side across snapshot plus clone. A capture therefore sees either
	// all of a commit or none of it.
	visMu sync.RWMutex

	poisoned atomic.Bool
}

func NewManager(p *pager.Pager, idx *btree.Manager, lg logger.Logger) *Manager {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	return &Manager{p: p, idx: idx, lg: lg}
}

// Begin starts the next write transaction, blocking until the current one
// finishes. The returned transaction must be ended with Commit, Rollback,
// or Close.
func (m *Manager) Begin() (*Tx, error) {
	if m.poisoned.Load() {
		return nil, ErrPoisoned
	}
	m.writerMu.Lock()
	if m.poisoned.Load() {
		m.writerMu.Unlock()
		return nil, ErrPoisoned
	}
	b, err := m.p.Begin()
	if err != nil {
		m.writerMu.Unlock()
		return nil, err
	}
	return &Tx{m: m, b: b, w: recstore.NewWriter(b, m.idx)}, nil
}

// Capture returns a point-in-time read view: a page snapshot and clones of
// every published index, taken at the same commit boundary. The caller owns
// the snapshot and must Release it.
func (m *Manager) Capture() (*pager.Snapshot, map[btree.Key]*btree.Index, error) {
	m.visMu.RLock()
	defer m.visMu.RUnlock()
	// Checked under visMu: a commit that poisons does so before releasing
	// the write side, so a capture can never pair poisoned pages with the
	// stale trees.
	if m.poisoned.Load() {
		return nil, nil, ErrPoisoned
	}
	snap, err := m.p.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	return snap, m.idx.CloneAll(), nil
}

// Exclusive runs fn while no transaction is active and no capture is in
// flight. Schema definition uses it: backfill mutates shared trees in place,
// so fn holds the visibility write side for its whole run and a capture sees
// either no trace of a define or all of it.
func (m *Manager) Exclusive(fn func() error) error {
	if m.poisoned.Load() {
		return ErrPoisoned
	}
	m.writerMu.Lock()
	defer m.writerMu.Unlock()
	if m.poisoned.Load() {
		return ErrPoisoned
	}
	m.visMu.Lock()
	defer m.visMu.Unlock()
	return fn()
}

// Poisoned reports whether a failed commit left records and indexes out of
// sync. A poisoned store only accepts reads of already captured views.
func (m *Manager) Poisoned() bool { return m.poisoned.Load() }

func (m *Manager) poison(op string, cause error) {
	if m.poisoned.CompareAndSwap(false, true) {
		m.lg.Error("store poisoned, reopen required", cause, "op", op)
	}
}

// State tracks a transaction through its lifecycle.
type State uint8

const (
	Active State = iota
	Committing
	RollingBack
	Closed
)

// Tx is a single write transaction. It is not safe for concurrent use.
type Tx struct {
	m     *Manager
	b     *pager.Batch
	w     *recstore.Writer
	state State
}

// Insert stores a new record and returns its id.
func (t *Tx) Insert(bind *registry.Binding, v any) (model.Rid, error) {
	if t.state != Active {
		return model.Rid{}, ErrTxDone
	}
	return t.w.Insert(bind, v)
}

// Update rewrites the record at rid. The returned id is rid unless the new
// payload forced a move to a different slot size.
func (t *Tx) Update(bind *registry.Binding, rid model.Rid, v any) (model.Rid, error) {
	if t.state != Active {
		return model.Rid{}, ErrTxDone
	}
	return t.w.Update(bind, rid, v)
}

// Delete removes the record at rid and retracts its index entries.
func (t *Tx) Delete(bind *registry.Binding, rid model.Rid) error {
	if t.state != Active {
		return ErrTxDone
	}
	return t.w.Delete(bind, rid)
}

// Read decodes the record at rid, seeing the transaction's own writes.
func (t *Tx) Read(bind *registry.Binding, rid model.Rid) (any, error) {
	if t.state != Active {
		return nil, ErrTxDone
	}
	return t.w.Read(bind, rid)
}

// View returns the transaction-private copy of an index, with the
// transaction's buffered changes applied.
func (t *Tx) View(key btree.Key) (*btree.Index, error) {
	if t.state != Active {
		return nil, ErrTxDone
	}
	return t.w.View(key)
}

// Commit makes the transaction durable and publishes its index deltas. On
// error before the pages are applied the store stays healthy and the
// transaction is simply gone. If the pages apply but the publish fails, the
// store is poisoned and must be reopened.
func (t *Tx) Commit() error {
	if t.state != Active {
		return ErrTxDone
	}
	t.state = Committing
	defer t.close()

	t.m.visMu.Lock()
	defer t.m.visMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			t.m.poison("commit", fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err := t.b.Commit(); err != nil {
		return err
	}
	deltas := t.w.Deltas()
	if err := t.m.idx.Publish(deltas); err != nil {
		t.m.poison("publish", err)
		return wrapTxErr(ErrPoisoned, "publish", err)
	}
	t.m.lg.Debug("transaction committed", "deltas", len(deltas))
	return nil
}

// Rollback discards the transaction.
func (t *Tx) Rollback() error {
	if t.state != Active {
		return ErrTxDone
	}
	t.state = RollingBack
	defer t.close()
	t.b.Abort()
	return nil
}

// Close rolls the transaction back if it is still active. Safe to defer
// alongside an explicit Commit.
func (t *Tx) Close() error {
	if t.state != Active {
		return nil
	}
	return t.Rollback()
}

// close releases the writer lock exactly once. Deferred first in Commit so
// that it runs after the recover handler and the visMu unlock.
func (t *Tx) close() {
	if t.state == Closed {
		return
	}
	t.state = Closed
	t.m.writerMu.Unlock()
}
