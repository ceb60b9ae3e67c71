package e2e_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"

	structdb "github.com/julianstephens/structdb"
	"github.com/julianstephens/structdb/internal/testutil"
	"github.com/julianstephens/structdb/model"
)

// Commits are applied to the data file as they happen, so a straight copy
// of an open store is already rolled forward. The tests below stage a lag
// on purpose: copy the data file early, keep committing, then copy the WAL.
// The copy then looks like a machine that lost its page cache mid-run, and
// recovery has to close the gap from the log.

// skewedCopy seeds a source store with early+1 people, copying the data
// file after the first early commits and the WAL only after the last one.
// It returns the rids of the early records and of the record whose batch
// exists only in the copied WAL.
func skewedCopy(t *testing.T, srcPath, dstPath string, early int) (earlyRids []model.Rid, lateRid model.Rid) {
	t.Helper()
	src := testutil.OpenStore(t, srcPath)
	testutil.Define(t, src, testutil.PersonType{})
	for i := 0; i < early; i++ {
		earlyRids = append(earlyRids, testutil.InsertOne(t, src, testutil.MakePerson(i)))
	}

	testutil.CopyFile(t, srcPath, dstPath)
	testutil.CopyFile(t, srcPath+".manifest.json", dstPath+".manifest.json")

	lateRid = testutil.InsertOne(t, src, testutil.MakePerson(early))

	testutil.CopyFile(t, testutil.WALPath(srcPath), testutil.WALPath(dstPath))
	return earlyRids, lateRid
}

func TestRecoverAfterCrash(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "crash.sdb")

	src := testutil.OpenStore(t, srcPath)
	testutil.Define(t, src, testutil.PersonType{})
	rids := testutil.InsertPeople(t, src, 3)
	srcStats, err := src.Stats()
	tst.RequireNoError(t, err)

	// The source is never closed; the copy is what a power loss leaves.
	testutil.CrashCopy(t, srcPath, dstPath)

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 3, "expected every acknowledged commit")
	for i, rid := range rids {
		v, err := dst.Read(rid)
		tst.RequireNoError(t, err)
		tst.AssertDeepEqual(t, v.(*testutil.Person), testutil.MakePerson(i), "expected record intact")
	}
	dstStats, err := dst.Stats()
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, dstStats.LastLSN, srcStats.LastLSN, "expected the LSN carried over")
	tst.RequireNoError(t, dst.Verify())
}

func TestReplayRollsForwardLaggingFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "lagged.sdb")

	earlyRids, lateRid := skewedCopy(t, srcPath, dstPath, 1)

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 2, "expected replay to roll the file forward")

	v, err := dst.Read(earlyRids[0])
	tst.RequireNoError(t, err)
	tst.AssertDeepEqual(t, v.(*testutil.Person), testutil.MakePerson(0), "expected the early record")

	v, err = dst.Read(lateRid)
	tst.RequireNoError(t, err)
	tst.AssertDeepEqual(t, v.(*testutil.Person), testutil.MakePerson(1), "expected the lagging record replayed")
	tst.RequireNoError(t, dst.Verify())
}

func TestLaggingFileWithoutWALStaysBehind(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "lagged.sdb")

	_, lateRid := skewedCopy(t, srcPath, dstPath, 1)

	// Control: without the WAL there is nothing to roll forward from.
	tst.RequireNoError(t, os.Remove(testutil.WALPath(dstPath)))

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 1, "expected only the copied state")
	_, err := dst.Read(lateRid)
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected the late record missing")
}

func TestTornTailDiscardsIncompleteBatch(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "torn.sdb")

	earlyRids, lateRid := skewedCopy(t, srcPath, dstPath, 1)
	testutil.TruncateTail(t, testutil.WALPath(dstPath), 1)

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 1, "expected the torn batch discarded")

	v, err := dst.Read(earlyRids[0])
	tst.RequireNoError(t, err)
	tst.AssertDeepEqual(t, v.(*testutil.Person), testutil.MakePerson(0), "expected the complete batch kept")
	_, err = dst.Read(lateRid)
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected no trace of the torn batch")
	tst.RequireNoError(t, dst.Verify())

	// The heal is durable: a second open finds a clean log.
	tst.RequireNoError(t, dst.Close())
	dst2 := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst2, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst2, "Person"), 1, "expected the same state on reopen")
}

func TestCorruptTailDiscardsFromBadFrame(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "corrupt.sdb")

	earlyRids, lateRid := skewedCopy(t, srcPath, dstPath, 1)
	// The last four bytes of the log are the final frame's CRC.
	testutil.CorruptTail(t, testutil.WALPath(dstPath), 2)

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 1, "expected the corrupt batch discarded")

	_, err := dst.Read(earlyRids[0])
	tst.RequireNoError(t, err)
	_, err = dst.Read(lateRid)
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected no trace of the corrupt batch")
	tst.RequireNoError(t, dst.Verify())
}

func TestMultiOpBatchAtomicUnderCrash(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	tornPath := filepath.Join(dir, "torn.sdb")
	fullPath := filepath.Join(dir, "full.sdb")

	src := testutil.OpenStore(t, srcPath)
	testutil.Define(t, src, testutil.PersonType{})
	rids := testutil.InsertPeople(t, src, 3)

	testutil.CopyFile(t, srcPath, tornPath)
	testutil.CopyFile(t, srcPath+".manifest.json", tornPath+".manifest.json")
	testutil.CopyFile(t, srcPath, fullPath)
	testutil.CopyFile(t, srcPath+".manifest.json", fullPath+".manifest.json")

	updated := &testutil.Person{
		Name: "person-0001", Email: "person-0001@example.com", Age: 99, Address: "moved",
	}
	var insertedRid, updatedRid model.Rid
	testutil.Commit(t, src, func(tx *structdb.Tx) {
		var err error
		insertedRid, err = tx.Insert(testutil.MakePerson(7))
		tst.RequireNoError(t, err)
		updatedRid, err = tx.Update(rids[1], updated)
		tst.RequireNoError(t, err)
		tst.RequireNoError(t, tx.Delete(rids[2]))
	})

	testutil.CopyFile(t, testutil.WALPath(srcPath), testutil.WALPath(tornPath))
	testutil.CopyFile(t, testutil.WALPath(srcPath), testutil.WALPath(fullPath))
	testutil.TruncateTail(t, testutil.WALPath(tornPath), 1)

	// Torn: none of the batch's three operations happened.
	torn := testutil.OpenStore(t, tornPath)
	testutil.Define(t, torn, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, torn, "Person"), 3, "expected the pre-batch count")
	v, err := torn.Read(rids[1])
	tst.RequireNoError(t, err)
	tst.AssertDeepEqual(t, v.(*testutil.Person), testutil.MakePerson(1), "expected the update rolled back with its batch")
	_, err = torn.Read(rids[2])
	tst.RequireNoError(t, err)
	_, err = torn.Read(insertedRid)
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected the insert rolled back with its batch")

	// Complete: all three operations happened.
	full := testutil.OpenStore(t, fullPath)
	testutil.Define(t, full, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, full, "Person"), 3, "expected the post-batch count")
	v, err = full.Read(updatedRid)
	tst.RequireNoError(t, err)
	tst.AssertDeepEqual(t, v.(*testutil.Person), updated, "expected the update applied")
	_, err = full.Read(rids[2])
	tst.AssertTrue(t, errors.Is(err, structdb.ErrNotFound), "expected the delete applied")
	_, err = full.Read(insertedRid)
	tst.RequireNoError(t, err)
}

func TestReplayBuildsFreshFile(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "fresh.sdb")

	src := testutil.OpenStore(t, srcPath)

	// Copy before anything is defined: the data file is a bare header.
	testutil.CopyFile(t, srcPath, dstPath)
	testutil.CopyFile(t, srcPath+".manifest.json", dstPath+".manifest.json")

	testutil.Define(t, src, testutil.PersonType{})
	rids := testutil.InsertPeople(t, src, 4)
	testutil.CopyFile(t, testutil.WALPath(srcPath), testutil.WALPath(dstPath))

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 4, "expected replay to build every segment")
	for i, rid := range rids {
		v, err := dst.Read(rid)
		tst.RequireNoError(t, err)
		tst.AssertDeepEqual(t, v.(*testutil.Person), testutil.MakePerson(i), "expected record replayed")
	}
	tst.RequireNoError(t, dst.Verify())
}

func TestRepairReportsTornTail(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "torn.sdb")

	skewedCopy(t, srcPath, dstPath, 1)
	testutil.TruncateTail(t, testutil.WALPath(dstPath), 1)

	rep, err := structdb.Repair(dstPath, nil)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, rep.TailStatus, "truncated", "expected the torn tail classified")
	tst.AssertGreaterThan(t, rep.BatchesApplied, 0, "expected the complete prefix applied")
	tst.AssertGreaterThan(t, rep.LastLSN, uint64(0), "expected the applied LSN reported")
	tst.AssertGreaterThan(t, rep.DiscardedBytes, int64(0), "expected the discarded tail measured")

	// Once repaired, the store is clean.
	rep, err = structdb.Repair(dstPath, nil)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, rep.TailStatus, "valid", "expected a clean log after repair")
	tst.AssertEqual(t, rep.BatchesApplied, 0, "expected nothing left to apply")
	tst.AssertEqual(t, rep.DiscardedBytes, int64(0), "expected nothing left to discard")

	dst := testutil.OpenStore(t, dstPath)
	testutil.Define(t, dst, testutil.PersonType{})
	tst.AssertEqual(t, testutil.CountType(t, dst, "Person"), 1, "expected the surviving prefix")
}

func TestRepairFlagsCorruptTail(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.sdb")
	dstPath := filepath.Join(dir, "corrupt.sdb")

	skewedCopy(t, srcPath, dstPath, 1)
	testutil.CorruptTail(t, testutil.WALPath(dstPath), 2)

	rep, err := structdb.Repair(dstPath, nil)
	tst.RequireNoError(t, err)
	tst.AssertEqual(t, rep.TailStatus, "corrupt", "expected the bad frame classified")
	tst.AssertGreaterThan(t, rep.DiscardedBytes, int64(0), "expected the discarded tail measured")
}
