// Package registry is the schema catalog: it binds struct names to type ids
// and persisted descriptors. Define-once semantics, no migration: a name
// resolves to exactly one shape for the life of the store.
package registry

import (
	"sort"
	"sync"

	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// Binding is a name bound to a live schema.Type in this process.
type Binding struct {
	ID   model.TypeID
	Type schema.Type
	Desc *schema.Descriptor
	Hash uint64
}

// persistedType is a catalog entry loaded at bootstrap that no schema.Type
// has claimed yet.
type persistedType struct {
	id   model.TypeID
	hash uint64
	desc *schema.Descriptor
}

// Registry maps struct names to type ids. Reads are concurrent; Define
// relies on the store's writer to serialize callers, the same way every
// other mutation does.
type Registry struct {
	mu        sync.RWMutex
	pg        *pager.Pager
	lg        logger.Logger
	byName    map[string]*Binding
	byID      map[model.TypeID]*Binding
	persisted map[string]persistedType
}

// Open loads the schema catalog from the store's reserved segments.
func Open(pg *pager.Pager, lg logger.Logger) (*Registry, error) {
	if lg == nil {
		lg = logger.NoOpLogger{}
	}
	r := &Registry{
		pg:        pg,
		lg:        lg,
		byName:    make(map[string]*Binding),
		byID:      make(map[model.TypeID]*Binding),
		persisted: make(map[string]persistedType),
	}
	next := pg.NextTypeID()
	err := pg.ScanType(pager.SchemaTypeID, func(rid model.Rid, payload []byte) error {
		cr, err := decodeCatalogRecord(payload)
		if err != nil {
			return wrapRegErr(ErrCatalogCorrupt, "bootstrap", "", err)
		}
		if cr.id >= next || cr.id == pager.SchemaTypeID {
			return wrapRegErr(ErrCatalogCorrupt, "bootstrap", cr.name, nil)
		}
		if prev, dup := r.persisted[cr.name]; dup && prev.id != cr.id {
			return wrapRegErr(ErrCatalogCorrupt, "bootstrap", cr.name, nil)
		}
		r.persisted[cr.name] = persistedType{id: cr.id, hash: cr.hash, desc: cr.desc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n := len(r.persisted); n > 0 {
		lg.Info("schema catalog loaded", "types", n)
	}
	return r, nil
}

// Define binds t's name to a type id. Idempotent for a structurally
// identical definition; a different shape under a bound name is
// ErrStructAlreadyDefined, and a different shape under a persisted name is
// ErrMigrationNotSupported. New names allocate a fresh id and persist the
// descriptor in the same commit.
func (r *Registry) Define(t schema.Type) (*Binding, error) {
	desc := t.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	hash := schema.StructuralHash(desc)

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.byName[desc.Name]; ok {
		if b.Hash != hash {
			return nil, wrapRegErr(ErrStructAlreadyDefined, "define", desc.Name, nil)
		}
		return b, nil
	}
	if p, ok := r.persisted[desc.Name]; ok {
		if p.hash != hash {
			return nil, wrapRegErr(ErrMigrationNotSupported, "define", desc.Name, nil)
		}
		b := &Binding{ID: p.id, Type: t, Desc: desc, Hash: hash}
		r.bind(b)
		return b, nil
	}

	b, err := r.persist(t, desc, hash)
	if err != nil {
		return nil, err
	}
	r.bind(b)
	r.lg.Info("struct defined", "name", desc.Name, "typeID", uint32(b.ID))
	return b, nil
}

// persist allocates a type id and writes the catalog record in one commit.
func (r *Registry) persist(t schema.Type, desc *schema.Descriptor, hash uint64) (*Binding, error) {
	batch, err := r.pg.Begin()
	if err != nil {
		return nil, err
	}
	id, err := batch.AllocTypeID()
	if err != nil {
		batch.Abort()
		return nil, err
	}
	payload := encodeCatalogRecord(id, hash, desc)
	rid, err := batch.AllocateSlot(pager.SchemaTypeID, len(payload))
	if err != nil {
		batch.Abort()
		return nil, err
	}
	if err := batch.WriteSlot(rid, payload); err != nil {
		batch.Abort()
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return &Binding{ID: id, Type: t, Desc: desc, Hash: hash}, nil
}

func (r *Registry) bind(b *Binding) {
	r.byName[b.Desc.Name] = b
	r.byID[b.ID] = b
	delete(r.persisted, b.Desc.Name)
}

// Resolve returns the binding for a struct name.
func (r *Registry) Resolve(name string) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	if !ok {
		return nil, wrapRegErr(ErrStructNotDefined, "resolve", name, nil)
	}
	return b, nil
}

// ResolveID returns the binding for a type id.
func (r *Registry) ResolveID(id model.TypeID) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, wrapRegErr(ErrStructNotDefined, "resolve-id", "", nil)
	}
	return b, nil
}

// Bindings returns every bound type, ordered by id.
func (r *Registry) Bindings() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Binding, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Info describes a catalog entry, bound or not. Used by tooling.
type Info struct {
	ID    model.TypeID
	Name  string
	Hash  uint64
	Desc  *schema.Descriptor
	Bound bool
}

// Catalog lists every known type, bound and persisted-only, ordered by id.
func (r *Registry) Catalog() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.byID)+len(r.persisted))
	for _, b := range r.byID {
		out = append(out, Info{ID: b.ID, Name: b.Desc.Name, Hash: b.Hash, Desc: b.Desc, Bound: true})
	}
	for name, p := range r.persisted {
		out = append(out, Info{ID: p.id, Name: name, Hash: p.hash, Desc: p.desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
