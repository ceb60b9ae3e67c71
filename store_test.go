package structdb_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	structdb "github.com/julianstephens/structdb"
	"github.com/julianstephens/structdb/internal/testutil"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

func newStore(t *testing.T) *structdb.Store {
	t.Helper()
	s, err := structdb.Open(filepath.Join(t.TempDir(), "people.sdb"))
	tst.RequireNoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func definePerson(t *testing.T, s *structdb.Store) {
	t.Helper()
	_, err := s.Define(testutil.PersonType{})
	tst.RequireNoError(t, err)
}

func insertPerson(t *testing.T, s *structdb.Store, p *testutil.Person) model.Rid {
	t.Helper()
	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	rid, err := tx.Insert(p)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Commit())
	return rid
}

func seedPeople(t *testing.T, s *structdb.Store) map[string]model.Rid {
	t.Helper()
	rids := make(map[string]model.Rid)
	for _, p := range []*testutil.Person{
		{Name: "Ada", Email: "ada@example.com", Age: 36, Address: "1 Analytical Row"},
		{Name: "Grace", Email: "grace@example.com", Age: 45, Address: "2 Harbor St"},
		{Name: "Edsger", Email: "edsger@example.com", Age: 72, Address: "3 Shortest Path"},
	} {
		rids[p.Name] = insertPerson(t, s, p)
	}
	return rids
}

// personAltType declares a Person with a different shape, for exercising the
// schema change gates.
type personAltType struct{}

func (personAltType) Descriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Name: "Person",
		Fields: []schema.FieldDescriptor{
			{Name: "name", Type: schema.Str()},
			{Name: "age", Type: schema.I64()},
		},
	}
}

func (personAltType) New() any { return &testutil.Person{} }

func (personAltType) Encode(v any) ([]byte, error) { return nil, errors.New("personAltType: not used") }

func (personAltType) Decode(data []byte) (any, error) {
	return nil, errors.New("personAltType: not used")
}

func TestOpenCreatesStoreAndManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, s.IsClosed(), "expected store open")
	tst.AssertEqual(t, s.Path(), path, "expected store path")

	_, err = os.Stat(path)
	tst.RequireNoError(t, err)
	_, err = os.Stat(path + ".manifest.json")
	tst.RequireNoError(t, err)

	tst.RequireNoError(t, s.Close())
	tst.AssertTrue(t, s.IsClosed(), "expected store closed")
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := structdb.Open("")
	tst.AssertNotNil(t, err, "expected error for empty path")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrInvalidPath), "expected ErrInvalidPath")
}

func TestOpenSecondHandleLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	_, err = structdb.Open(path)
	tst.AssertNotNil(t, err, "expected second open to fail")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrLocked), "expected ErrLocked")

	// The lock is released with the store.
	tst.RequireNoError(t, s.Close())
	s2, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, s2.Close())
}

func TestCloseTwice(t *testing.T) {
	s := newStore(t)
	tst.RequireNoError(t, s.Close())

	err := s.Close()
	tst.AssertNotNil(t, err, "expected error on double close")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrClosed), "expected ErrClosed")
}

func TestOperationsAfterClose(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)
	tst.RequireNoError(t, s.Close())

	_, err := s.Begin()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrClosed), "expected ErrClosed from Begin")

	_, err = s.Define(testutil.PersonType{})
	tst.AssertTrue(t, errors.Is(err, structdb.ErrClosed), "expected ErrClosed from Define")

	_, err = s.Query("Person").Count()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrClosed), "expected ErrClosed from Count")

	_, err = s.Snapshot()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrClosed), "expected ErrClosed from Snapshot")

	_, err = s.Stats()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrClosed), "expected ErrClosed from Stats")
}

func TestDefineIdempotent(t *testing.T) {
	s := newStore(t)

	id1, err := s.Define(testutil.PersonType{})
	tst.RequireNoError(t, err)
	id2, err := s.Define(testutil.PersonType{})
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, id2, id1, "expected same type id on redefine")
}

func TestDefineConflictingShapeWhileBound(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)

	_, err := s.Define(personAltType{})
	tst.AssertNotNil(t, err, "expected error for conflicting shape")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrStructAlreadyDefined), "expected ErrStructAlreadyDefined")
}

func TestDefineChangedShapeAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	definePerson(t, s)
	tst.RequireNoError(t, s.Close())

	s2, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	defer func() {
		_ = s2.Close()
	}()

	_, err = s2.Define(personAltType{})
	tst.AssertNotNil(t, err, "expected error for changed shape")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrMigrationNotSupported), "expected ErrMigrationNotSupported")
}

func TestReopenRebindsAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	id1, err := s.Define(testutil.PersonType{})
	tst.RequireNoError(t, err)
	seedPeople(t, s)
	tst.RequireNoError(t, s.Close())

	s2, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	defer func() {
		_ = s2.Close()
	}()

	// Persisted types are not queryable until their binding is defined.
	_, err = s2.Query("Person").Count()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrStructNotDefined), "expected ErrStructNotDefined before define")

	id2, err := s2.Define(testutil.PersonType{})
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, id2, id1, "expected stable type id across reopen")

	n, err := s2.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 3, "expected seeded records after reopen")

	cur, err := s2.FindBy("Person", "email", "grace@example.com")
	tst.RequireNoError(t, err)
	tst.AssertTrue(t, cur.Next(), "expected indexed lookup to hit after backfill")
	p := cur.Value().(*testutil.Person)
	tst.AssertEqual(t, p.Name, "Grace", "expected Grace")
	tst.RequireNoError(t, cur.Err())
	_ = cur.Close()
}

func TestInsertCommitRead(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)

	want := &testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36, Address: "1 Analytical Row"}
	rid := insertPerson(t, s, want)
	tst.AssertFalse(t, rid.IsZero(), "expected non-zero rid")

	v, err := s.Read(rid)
	tst.RequireNoError(t, err)
	got := v.(*testutil.Person)
	tst.AssertDeepEqual(t, got, want, "expected read-back to match insert")
}

func TestInsertValueWithoutBinding(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	defer func() {
		_ = tx.Close()
	}()

	_, err = tx.Insert(struct{ X int }{X: 1})
	tst.AssertNotNil(t, err, "expected error for unbindable value")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrStructNotDefined), "expected ErrStructNotDefined")
}

func TestReadYourWrites(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	defer func() {
		_ = tx.Close()
	}()

	rid, err := tx.Insert(&testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36})
	tst.RequireNoError(t, err)

	v, err := tx.Read(rid)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, v.(*testutil.Person).Name, "Ada", "expected pending insert visible inside tx")

	// Committed reads do not see the pending insert.
	_, err = s.Read(rid)
	tst.AssertNotNil(t, err, "expected pending insert invisible outside tx")
}

func TestRollbackDiscards(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)
	insertPerson(t, s, &testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36})

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	rid, err := tx.Insert(&testutil.Person{Name: "Grace", Email: "grace@example.com", Age: 45})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Rollback())

	_, err = s.Read(rid)
	tst.AssertNotNil(t, err, "expected rolled-back record gone")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected ErrNotFound")

	n, err := s.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 1, "expected only the committed record")
}

func TestUpdateRewritesRecord(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)
	rid := insertPerson(t, s, &testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36, Address: "1 Analytical Row"})

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	nrid, err := tx.Update(rid, &testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 37, Address: "9 Difference Engine Way"})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Commit())

	v, err := s.Read(nrid)
	tst.RequireNoError(t, err)
	got := v.(*testutil.Person)
	tst.AssertEqual(t, got.Age, int64(37), "expected updated age")
	tst.AssertEqual(t, got.Address, "9 Difference Engine Way", "expected updated address")

	// The index follows the rewrite.
	n, err := s.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 1, "expected a single record after update")
}

func TestDeleteRemovesRecordAndIndexEntries(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)
	rids := seedPeople(t, s)

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Delete(rids["Grace"]))
	tst.RequireNoError(t, tx.Commit())

	_, err = s.Read(rids["Grace"])
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected ErrNotFound after delete")

	cur, err := s.FindBy("Person", "email", "grace@example.com")
	tst.RequireNoError(t, err)
	tst.AssertFalse(t, cur.Next(), "expected no index hit after delete")
	tst.RequireNoError(t, cur.Err())
	_ = cur.Close()

	n, err := s.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 2, "expected two records left")
}

func TestExclusiveIndexRejectsDuplicate(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)
	insertPerson(t, s, &testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36})

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	defer func() {
		_ = tx.Close()
	}()

	_, err = tx.Insert(&testutil.Person{Name: "Imposter", Email: "ada@example.com", Age: 99})
	tst.AssertNotNil(t, err, "expected duplicate email rejected")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrDuplicateKey), "expected ErrDuplicateKey")

	// The transaction stays usable after an operation error.
	_, err = tx.Insert(&testutil.Person{Name: "Grace", Email: "grace@example.com", Age: 45})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Commit())

	n, err := s.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 2, "expected both distinct records")
}

func TestTransactionDoneAfterCommit(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)

	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	_, err = tx.Insert(&testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx.Commit())

	_, err = tx.Insert(&testutil.Person{Name: "Grace", Email: "grace@example.com", Age: 45})
	tst.AssertTrue(t, errors.Is(err, structdb.ErrTxDone), "expected ErrTxDone from Insert")

	err = tx.Commit()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrTxDone), "expected ErrTxDone from second Commit")

	err = tx.Rollback()
	tst.AssertTrue(t, errors.Is(err, structdb.ErrTxDone), "expected ErrTxDone from Rollback")

	// Close after commit is a no-op.
	tst.RequireNoError(t, tx.Close())
}

func TestSingleWriterSerializes(t *testing.T) {
	s := newStore(t)
	definePerson(t, s)

	tx1, err := s.Begin()
	tst.RequireNoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		tx2, err := s.Begin()
		if err != nil {
			done <- err
			return
		}
		_, err = tx2.Insert(&testutil.Person{Name: "Grace", Email: "grace@example.com", Age: 45})
		if err != nil {
			done <- err
			return
		}
		done <- tx2.Commit()
	}()

	<-started
	_, err = tx1.Insert(&testutil.Person{Name: "Ada", Email: "ada@example.com", Age: 36})
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, tx1.Commit())

	tst.RequireNoError(t, <-done)

	n, err := s.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 2, "expected both writers to land")
}

func TestOpenPageSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, s.Close())

	_, err = structdb.OpenWithOptions(path, structdb.OpenOptions{PageSize: 4096}, nil)
	tst.AssertNotNil(t, err, "expected error for page size mismatch")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrOptionsMismatch), "expected ErrOptionsMismatch")
}

func TestOpenRewritesMissingManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	definePerson(t, s)
	seedPeople(t, s)
	tst.RequireNoError(t, s.Close())

	tst.RequireNoError(t, os.Remove(path+".manifest.json"))

	s2, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	defer func() {
		_ = s2.Close()
	}()

	_, err = os.Stat(path + ".manifest.json")
	tst.RequireNoError(t, err)

	definePerson(t, s2)
	n, err := s2.Query("Person").Count()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, n, 3, "expected data intact after manifest rewrite")
}

func TestOpenRejectsCorruptManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")

	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, s.Close())

	tst.RequireNoError(t, os.WriteFile(path+".manifest.json", []byte("{not json"), 0o644))

	_, err = structdb.Open(path)
	tst.AssertNotNil(t, err, "expected error for corrupt manifest")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrManifestInvalid), "expected ErrManifestInvalid")
}

func TestOpenRejectsForeignManifest(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.sdb")
	pathB := filepath.Join(dir, "b.sdb")

	for _, p := range []string{pathA, pathB} {
		s, err := structdb.Open(p)
		tst.RequireNoError(t, err)
		tst.RequireNoError(t, s.Close())
	}

	// Swap in the manifest of a different store.
	m, err := os.ReadFile(pathB + ".manifest.json")
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, os.WriteFile(pathA+".manifest.json", m, 0o644))

	_, err = structdb.Open(pathA)
	tst.AssertNotNil(t, err, "expected error for foreign manifest")
	tst.AssertTrue(t, errors.Is(err, structdb.ErrManifestInvalid), "expected ErrManifestInvalid")
}

func TestStoreErrorReportsOpAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.sdb")
	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	tst.RequireNoError(t, s.Close())

	_, err = s.Begin()
	var serr *structdb.StoreError
	tst.AssertTrue(t, errors.As(err, &serr), "expected a StoreError")
	tst.AssertEqual(t, serr.Op, "begin", "expected op recorded")
	tst.AssertEqual(t, serr.Path, path, "expected path recorded")
}
