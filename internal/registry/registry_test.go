package registry_test

import (
	"errors"
	"path/filepath"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// stubType carries a descriptor and nothing else; the registry never touches
// the codec side of a binding.
type stubType struct {
	desc *schema.Descriptor
}

func (s stubType) Descriptor() *schema.Descriptor { return s.desc }
func (s stubType) New() any                       { return nil }
func (s stubType) Encode(any) ([]byte, error)     { return nil, nil }
func (s stubType) Decode([]byte) (any, error)     { return nil, nil }

func userType() stubType {
	return stubType{desc: &schema.Descriptor{
		Name: "User",
		Fields: []schema.FieldDescriptor{
			{Name: "name", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "by_name"}},
			{Name: "email", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexExclusive, Name: "by_email"}},
			{Name: "age", Type: schema.I64()},
		},
	}}
}

func alteredUserType() stubType {
	t := userType()
	t.desc.Fields = append(t.desc.Fields, schema.FieldDescriptor{Name: "extra", Type: schema.Blob()})
	return t
}

func eventType() stubType {
	return stubType{desc: &schema.Descriptor{
		Name: "Event",
		Fields: []schema.FieldDescriptor{
			{Name: "at", Type: schema.I64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "by_at"}},
			{Name: "kind", Type: schema.Str()},
		},
	}}
}

func openTestStore(t *testing.T, path string) *pager.Pager {
	t.Helper()
	p, err := pager.Open(path, pager.Options{PageSize: 4096, FsyncOnCommit: true}, nil)
	tst.RequireNoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestDefineAllocatesSequentialIDs(t *testing.T) {
	p := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)

	u, err := r.Define(userType())
	tst.RequireNoError(t, err)
	e, err := r.Define(eventType())
	tst.RequireNoError(t, err)

	tst.RequireDeepEqual(t, u.ID, model.TypeID(1))
	tst.RequireDeepEqual(t, e.ID, model.TypeID(2))
	tst.RequireDeepEqual(t, u.Desc.Name, "User")
}

func TestDefineIsIdempotentForSameShape(t *testing.T) {
	p := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)

	first, err := r.Define(userType())
	tst.RequireNoError(t, err)
	// A separate instance with the same structure binds to the same id.
	second, err := r.Define(userType())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, second.ID, first.ID)

	s := p.Stats()
	tst.RequireDeepEqual(t, s.Types[pager.SchemaTypeID].Live, uint64(1))
}

func TestDefineRejectsConflictingShapeInProcess(t *testing.T) {
	p := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)

	_, err = r.Define(userType())
	tst.RequireNoError(t, err)
	_, err = r.Define(alteredUserType())
	tst.AssertTrue(t, errors.Is(err, registry.ErrStructAlreadyDefined), "expected ErrStructAlreadyDefined, got %v", err)
}

func TestDefineRejectsInvalidDescriptor(t *testing.T) {
	p := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)

	bad := stubType{desc: &schema.Descriptor{Name: "", Fields: nil}}
	_, err = r.Define(bad)
	tst.AssertTrue(t, errors.Is(err, schema.ErrInvalidDescriptor), "expected descriptor validation error, got %v", err)
}

func TestBootstrapRebindsPersistedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	p, err := pager.Open(path, pager.Options{PageSize: 4096, FsyncOnCommit: true}, nil)
	tst.RequireNoError(t, err)
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)
	u, err := r.Define(userType())
	tst.RequireNoError(t, err)
	e, err := r.Define(eventType())
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, p.Close())

	p2 := openTestStore(t, path)
	r2, err := registry.Open(p2, nil)
	tst.RequireNoError(t, err)

	// Catalog knows both before any binding happens.
	cat := r2.Catalog()
	tst.RequireDeepEqual(t, len(cat), 2)
	tst.AssertTrue(t, !cat[0].Bound && !cat[1].Bound, "nothing should be bound yet")
	tst.RequireDeepEqual(t, cat[0].Name, "User")
	tst.RequireDeepEqual(t, cat[1].Name, "Event")

	// Unbound types do not resolve.
	_, err = r2.Resolve("User")
	tst.AssertTrue(t, errors.Is(err, registry.ErrStructNotDefined), "expected ErrStructNotDefined, got %v", err)

	// Rebinding keeps the persisted ids.
	u2, err := r2.Define(userType())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, u2.ID, u.ID)
	e2, err := r2.Define(eventType())
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, e2.ID, e.ID)

	got, err := r2.Resolve("User")
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, got.ID, u.ID)
	byID, err := r2.ResolveID(e.ID)
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, byID.Desc.Name, "Event")
}

func TestBootstrapRejectsIncompatibleRedefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	p, err := pager.Open(path, pager.Options{PageSize: 4096, FsyncOnCommit: true}, nil)
	tst.RequireNoError(t, err)
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)
	_, err = r.Define(userType())
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, p.Close())

	p2 := openTestStore(t, path)
	r2, err := registry.Open(p2, nil)
	tst.RequireNoError(t, err)

	_, err = r2.Define(alteredUserType())
	tst.AssertTrue(t, errors.Is(err, registry.ErrMigrationNotSupported), "expected ErrMigrationNotSupported, got %v", err)

	// The original shape still binds fine afterwards.
	_, err = r2.Define(userType())
	tst.RequireNoError(t, err)
}

func TestNewTypeIDsSkipPersistedOnes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	p, err := pager.Open(path, pager.Options{PageSize: 4096, FsyncOnCommit: true}, nil)
	tst.RequireNoError(t, err)
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)
	u, err := r.Define(userType())
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, p.Close())

	p2 := openTestStore(t, path)
	r2, err := registry.Open(p2, nil)
	tst.RequireNoError(t, err)
	e, err := r2.Define(eventType())
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, e.ID > u.ID, "fresh id %d should come after persisted %d", e.ID, u.ID)
}

func TestResolveUnknown(t *testing.T) {
	p := openTestStore(t, filepath.Join(t.TempDir(), "store.db"))
	r, err := registry.Open(p, nil)
	tst.RequireNoError(t, err)

	_, err = r.Resolve("Ghost")
	tst.AssertTrue(t, errors.Is(err, registry.ErrStructNotDefined), "expected ErrStructNotDefined, got %v", err)
	_, err = r.ResolveID(model.TypeID(41))
	tst.AssertTrue(t, errors.Is(err, registry.ErrStructNotDefined), "expected ErrStructNotDefined, got %v", err)
}
