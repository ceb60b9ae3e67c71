package structdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/julianstephens/go-utils/helpers"

	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/internal/manifest"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/planner"
	"github.com/julianstephens/structdb/internal/recstore"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/internal/txn"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// Store is an open structdb instance: one data file, its WAL sidecar, and
// the in-memory indexes rebuilt from it. A Store is safe for concurrent use;
// writes serialize on a single writer, reads never block.
type Store struct {
	path  string
	opts  OpenOptions
	lg    logger.Logger
	ownLg bool

	pg  *pager.Pager
	reg *registry.Registry
	idx *btree.Manager
	txm *txn.Manager

	// mu guards closed and the binding maps. Bindings appear only after
	// their indexes are fully rebuilt, so a resolvable name is always
	// queryable.
	mu     sync.RWMutex
	byName map[string]*registry.Binding
	byID   map[model.TypeID]*registry.Binding
	closed bool
}

// Open opens or creates a store at the given path with no logging.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, OpenOptions{}, logger.NoOpLogger{})
}

// OpenWithOptions opens or creates a store with the given options and
// logger. The caller is responsible for the logger lifecycle; if lg is nil
// and opts.LogDir is set, the store builds a rotating file logger and closes
// it with the store, otherwise a nil lg disables logging.
func OpenWithOptions(path string, opts OpenOptions, lg logger.Logger) (*Store, error) {
	if path == "" {
		return nil, wrapStoreErr("open", ErrInvalidPath, path, nil)
	}

	ownLg := false
	if lg == nil {
		if opts.LogDir != "" {
			maxSize := opts.LogMaxSize
			if maxSize <= 0 {
				maxSize = DefaultLogMaxSize
			}
			maxBak := opts.LogMaxBak
			if maxBak <= 0 {
				maxBak = DefaultLogMaxBackups
			}
			fl, err := logger.NewFileLogger(opts.LogDir, DefaultLogFileName, maxSize, maxBak)
			if err != nil {
				return nil, wrapStoreErr("open", ErrOpenFailed, path, err)
			}
			lg = fl
			ownLg = true
		} else {
			lg = logger.NoOpLogger{}
		}
	}

	lg.Info("opening store", "path", path, "fsync_on_commit", opts.FsyncOnCommit)

	s := &Store{
		path:   path,
		opts:   opts,
		lg:     lg,
		ownLg:  ownLg,
		byName: make(map[string]*registry.Binding),
		byID:   make(map[model.TypeID]*registry.Binding),
	}

	if err := s.initialize(); err != nil {
		lg.Error("failed to open store", err, "path", path)
		s.closeOwnedLogger()
		return nil, err
	}

	lg.Info("store opened", "path", path, "page_size", s.pg.PageSize(), "types", len(s.reg.Catalog()))
	return s, nil
}

func (s *Store) initialize() error {
	existed := helpers.Exists(s.path)

	var m *manifest.Manifest
	if existed {
		loaded, err := manifest.Load(s.path)
		switch {
		case err == nil:
			m = loaded
		case errors.Is(err, manifest.ErrManifestNotFound):
			// Rebuilt below from the store header.
		default:
			return wrapStoreErr("open", ErrManifestInvalid, s.path, err)
		}
	}
	if m != nil {
		if s.opts.PageSize != 0 && s.opts.PageSize != m.PageSize {
			return wrapStoreErr("open", ErrOptionsMismatch, s.path,
				fmt.Errorf("store uses page size %d, options want %d", m.PageSize, s.opts.PageSize))
		}
		if s.opts.SortCap == 0 {
			s.opts.SortCap = m.SortCap
		}
	}
	if s.opts.SortCap == 0 {
		s.opts.SortCap = planner.DefaultSortCap
	}

	pg, err := pager.Open(s.path, pager.Options{
		PageSize:      s.opts.PageSize,
		FsyncOnCommit: s.opts.FsyncOnCommit,
	}, s.lg)
	if err != nil {
		return translate("open", s.path, err)
	}
	s.pg = pg

	if m != nil {
		if m.StoreID != pg.StoreID().String() || m.PageSize != int(pg.PageSize()) {
			pg.Close()
			return wrapStoreErr("open", ErrManifestInvalid, s.path,
				fmt.Errorf("manifest describes store %s page size %d, file has %s page size %d",
					m.StoreID, m.PageSize, pg.StoreID(), pg.PageSize()))
		}
	} else {
		m = &manifest.Manifest{
			Version:       manifest.Version,
			StoreID:       pg.StoreID().String(),
			PageSize:      int(pg.PageSize()),
			FsyncOnCommit: s.opts.FsyncOnCommit,
			SortCap:       s.opts.SortCap,
		}
		if err := m.Save(s.path); err != nil {
			pg.Close()
			return wrapStoreErr("open", ErrOpenFailed, s.path, err)
		}
		if existed {
			s.lg.Warn("manifest missing, rewritten from store header", "path", manifest.PathFor(s.path))
		}
	}

	reg, err := registry.Open(pg, s.lg)
	if err != nil {
		pg.Close()
		return translate("open", s.path, err)
	}
	s.reg = reg
	s.idx = btree.NewManager()
	s.txm = txn.NewManager(pg, s.idx, s.lg)
	return nil
}

// Path returns the store's data file path.
func (s *Store) Path() string { return s.path }

// IsClosed reports whether Close has run.
func (s *Store) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close checkpoints and closes the store. Outstanding transactions,
// snapshots, and cursors fail with ErrClosed afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wrapStoreErr("close", ErrClosed, s.path, nil)
	}
	s.closed = true
	s.mu.Unlock()

	s.lg.Info("closing store", "path", s.path)
	err := s.pg.Close()
	if err != nil {
		s.lg.Error("failed to close store", err, "path", s.path)
	}
	s.closeOwnedLogger()
	if err != nil {
		return translate("close", s.path, err)
	}
	return nil
}

func (s *Store) closeOwnedLogger() {
	if !s.ownLg {
		return
	}
	if c, ok := s.lg.(logger.Closeable); ok {
		_ = c.Close()
	}
}

// Define binds a generated struct type, creating it in the schema catalog on
// first sight and rebuilding its declared indexes from the stored records.
// Idempotent for a structurally identical definition. Runs exclusively: it
// waits for the active transaction and blocks new ones until the indexes
// are complete.
func (s *Store) Define(t schema.Type) (model.TypeID, error) {
	if err := s.guard("define"); err != nil {
		return 0, err
	}

	var bind *registry.Binding
	err := s.txm.Exclusive(func() error {
		b, err := s.reg.Define(t)
		if err != nil {
			return err
		}
		bind = b

		s.mu.RLock()
		_, live := s.byName[b.Desc.Name]
		s.mu.RUnlock()
		if live {
			return nil
		}

		if err := recstore.Backfill(s.pg, s.idx, b); err != nil {
			return err
		}
		s.mu.Lock()
		s.byName[b.Desc.Name] = b
		s.byID[b.ID] = b
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return 0, translate("define", s.path, err)
	}

	s.lg.Info("struct defined", "name", bind.Desc.Name, "type_id", bind.ID, "indexes", len(bind.Desc.Indexes()))
	return bind.ID, nil
}

// Begin starts a write transaction. Only one transaction is active at a
// time; Begin blocks until the current one finishes.
func (s *Store) Begin() (*Tx, error) {
	if err := s.guard("begin"); err != nil {
		return nil, err
	}
	inner, err := s.txm.Begin()
	if err != nil {
		return nil, translate("begin", s.path, err)
	}
	return &Tx{s: s, inner: inner}, nil
}

// Read decodes the committed record at rid.
func (s *Store) Read(rid model.Rid) (any, error) {
	if err := s.guard("read"); err != nil {
		return nil, err
	}
	bind, err := s.bindingByID("read", rid.Type)
	if err != nil {
		return nil, err
	}
	v, err := recstore.ReadCommitted(s.pg, bind, rid)
	if err != nil {
		return nil, translate("read", s.path, err)
	}
	return v, nil
}

func (s *Store) guard(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wrapStoreErr(op, ErrClosed, s.path, nil)
	}
	return nil
}

func (s *Store) binding(op, name string) (*registry.Binding, error) {
	s.mu.RLock()
	b, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return nil, wrapStoreErr(op, ErrStructNotDefined, s.path, fmt.Errorf("struct %q", name))
	}
	return b, nil
}

func (s *Store) bindingByID(op string, id model.TypeID) (*registry.Binding, error) {
	s.mu.RLock()
	b, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, wrapStoreErr(op, ErrStructNotDefined, s.path, fmt.Errorf("type id %d has no live binding", id))
	}
	return b, nil
}

func (s *Store) bindingOf(op string, v any) (*registry.Binding, error) {
	n, ok := v.(schema.Named)
	if !ok {
		return nil, wrapStoreErr(op, ErrStructNotDefined, s.path, fmt.Errorf("%T does not name its struct", v))
	}
	return s.binding(op, n.StructName())
}
