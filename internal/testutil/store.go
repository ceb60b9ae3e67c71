package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	structdb "github.com/julianstephens/structdb"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// OpenStore opens the store at path and registers a cleanup close. Tests
// that reopen the same path close their handle themselves first; the
// cleanup close is then a no-op.
func OpenStore(t *testing.T, path string) *structdb.Store {
	t.Helper()
	s, err := structdb.Open(path)
	tst.RequireNoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// NewStore opens a store on a fresh temp path.
func NewStore(t *testing.T) *structdb.Store {
	t.Helper()
	return OpenStore(t, filepath.Join(t.TempDir(), "store.sdb"))
}

// Define registers a binding, failing the test on error.
func Define(t *testing.T, s *structdb.Store, bind schema.Type) model.TypeID {
	t.Helper()
	id, err := s.Define(bind)
	tst.RequireNoError(t, err)
	return id
}

// Commit runs fn inside a write transaction and commits it.
func Commit(t *testing.T, s *structdb.Store, fn func(tx *structdb.Tx)) {
	t.Helper()
	tx, err := s.Begin()
	tst.RequireNoError(t, err)
	fn(tx)
	tst.RequireNoError(t, tx.Commit())
}

// InsertOne inserts v in its own transaction and returns its rid.
func InsertOne(t *testing.T, s *structdb.Store, v any) model.Rid {
	t.Helper()
	var rid model.Rid
	Commit(t, s, func(tx *structdb.Tx) {
		r, err := tx.Insert(v)
		tst.RequireNoError(t, err)
		rid = r
	})
	return rid
}

// MakePerson builds a deterministic person for index i. Names and emails
// are unique per i; ages repeat every 60.
func MakePerson(i int) *Person {
	return &Person{
		Name:    fmt.Sprintf("person-%04d", i),
		Email:   fmt.Sprintf("person-%04d@example.com", i),
		Age:     int64(20 + i%60),
		Address: fmt.Sprintf("%d Main St", i),
	}
}

// InsertPeople inserts n generated people in one transaction and returns
// their rids in insertion order.
func InsertPeople(t *testing.T, s *structdb.Store, n int) []model.Rid {
	t.Helper()
	rids := make([]model.Rid, 0, n)
	Commit(t, s, func(tx *structdb.Tx) {
		for i := 0; i < n; i++ {
			rid, err := tx.Insert(MakePerson(i))
			tst.RequireNoError(t, err)
			rids = append(rids, rid)
		}
	})
	return rids
}

// CountType counts the live records of one type, failing the test on error.
func CountType(t *testing.T, s *structdb.Store, name string) int {
	t.Helper()
	n, err := s.Query(name).Count()
	tst.RequireNoError(t, err)
	return n
}
