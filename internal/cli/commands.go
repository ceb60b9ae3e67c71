// Package cli implements the structdb maintenance commands.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/julianstephens/go-utils/cliutil"
	"github.com/julianstephens/go-utils/helpers"
	"github.com/julianstephens/go-utils/jsonutil"

	structdb "github.com/julianstephens/structdb"
	"github.com/julianstephens/structdb/logger"
	"github.com/julianstephens/structdb/model"
)

// ErrCheckFailed marks a verification that found problems, so main can exit
// with a distinct code from operational failures.
var ErrCheckFailed = errors.New("check failed")

var lg logger.Logger = logger.NoOpLogger{}

// SetLogger wires the process logger built from the parsed log flags.
// Commands pass it to every store they open.
func SetLogger(l logger.Logger) {
	if l != nil {
		lg = l
	}
}

func openStore(path string) (*structdb.Store, error) {
	return structdb.OpenWithOptions(path, structdb.OpenOptions{}, lg)
}

// InitCmd creates a new empty store file with its manifest.
type InitCmd struct {
	Path     string `arg:"" help:"Path for the new store file"`
	PageSize int    `help:"Page size in bytes, a power of two in [512, 65536]" default:"0"`
	Fsync    bool   `help:"Fsync the WAL on every commit"`
	SortCap  int    `help:"Rows an unindexed sort may buffer before failing" default:"0"`
}

func (c *InitCmd) Run() error {
	if helpers.Exists(c.Path) {
		return fmt.Errorf("%s already exists", c.Path)
	}
	s, err := structdb.OpenWithOptions(c.Path, structdb.OpenOptions{
		PageSize:      c.PageSize,
		FsyncOnCommit: c.Fsync,
		SortCap:       c.SortCap,
	}, lg)
	if err != nil {
		return err
	}
	st, err := s.Stats()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("created %s\n", c.Path)
	fmt.Printf("  store id:  %s\n", st.StoreID)
	fmt.Printf("  page size: %d\n", st.PageSize)
	return nil
}

// InfoCmd prints store statistics.
type InfoCmd struct {
	Path string `arg:"" help:"Path to the store file"`
}

func (c *InfoCmd) Run() error {
	s, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	st, err := s.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("path:          %s\n", st.Path)
	fmt.Printf("store id:      %s\n", st.StoreID)
	fmt.Printf("page size:     %d\n", st.PageSize)
	fmt.Printf("segments:      %d (%d free)\n", st.Segments, st.FreeSegments)
	fmt.Printf("live records:  %d\n", st.LiveRecords)
	fmt.Printf("free slots:    %d\n", st.FreeSlots)
	fmt.Printf("file size:     %d\n", st.FileSize)
	fmt.Printf("wal size:      %d\n", st.WALSize)
	fmt.Printf("last lsn:      %d\n", st.LastLSN)
	if len(st.Types) > 0 {
		fmt.Println("types:")
		for _, ts := range st.Types {
			fmt.Printf("  %-4d %-24s segments=%-4d live=%-8d indexes=%d\n",
				ts.ID, ts.Name, ts.Segments, ts.Live, ts.Indexes)
		}
	}
	return nil
}

// SchemasCmd lists the schema catalog: every type the store knows with its
// fields and index declarations.
type SchemasCmd struct {
	Path string `arg:"" help:"Path to the store file"`
}

func (c *SchemasCmd) Run() error {
	s, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	schemas, err := s.Schemas()
	if err != nil {
		return err
	}
	if len(schemas) == 0 {
		fmt.Println("no types defined")
		return nil
	}
	for _, si := range schemas {
		fmt.Printf("%-4d %s  hash=%016x\n", si.ID, si.Name, si.Hash)
		for _, f := range si.Desc.Fields {
			if f.Index != nil {
				fmt.Printf("  %-20s %-16s %s(%s)\n", f.Name, f.Type.String(), f.Index.Mode, f.Index.Name)
			} else {
				fmt.Printf("  %-20s %s\n", f.Name, f.Type.String())
			}
		}
	}
	return nil
}

// VerifyCmd checks the physical file: header integrity, segment headers,
// slot bounds, live bitmaps, and the free chain. Index checks run in the
// process that defines the bindings; indexes are derived state and do not
// exist outside it.
type VerifyCmd struct {
	Path string `arg:"" help:"Path to the store file"`
}

func (c *VerifyCmd) Run() error {
	s, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	if err := s.Verify(); err != nil {
		cliutil.PrintError(err.Error())
		return ErrCheckFailed
	}
	st, err := s.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d segments, %d live records\n", st.Segments, st.LiveRecords)
	return nil
}

// DumpCmd streams the records of one type as JSON lines.
type DumpCmd struct {
	Path  string `arg:"" help:"Path to the store file"`
	Type  string `help:"Struct name to dump" required:""`
	Limit int    `help:"Stop after this many records (0 = all)" default:"0"`
}

var errDumpDone = errors.New("dump done")

func (c *DumpCmd) Run() error {
	s, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	n := 0
	err = s.ScanGeneric(c.Type, func(rid model.Rid, fields map[string]any) error {
		line, merr := jsonutil.Marshal(map[string]any{"rid": rid.String(), "fields": fields})
		if merr != nil {
			return merr
		}
		fmt.Println(string(line))
		n++
		if c.Limit > 0 && n >= c.Limit {
			return errDumpDone
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDumpDone) {
		return err
	}
	return nil
}

// RepairCmd recovers a store after an unclean shutdown: replays complete
// WAL batches, discards a torn or corrupt tail, and verifies the file.
type RepairCmd struct {
	Path string `arg:"" help:"Path to the store file"`
}

func (c *RepairCmd) Run() error {
	rep, err := structdb.Repair(c.Path, lg)
	if rep.TailStatus != "" {
		fmt.Printf("tail status:     %s\n", rep.TailStatus)
		fmt.Printf("batches applied: %d\n", rep.BatchesApplied)
		if rep.LastLSN > 0 {
			fmt.Printf("last lsn:        %d\n", rep.LastLSN)
		}
		if rep.DiscardedBytes > 0 {
			fmt.Printf("discarded:       %d bytes\n", rep.DiscardedBytes)
		}
	}
	if err != nil {
		cliutil.PrintError(err.Error())
		return ErrCheckFailed
	}
	fmt.Println("ok: store is clean")
	return nil
}

// BackupCmd writes a consistent compressed backup of the store.
type BackupCmd struct {
	Path string `arg:"" help:"Path to the store file"`
	Out  string `arg:"" help:"Path for the backup file"`
}

func (c *BackupCmd) Run() error {
	if helpers.Exists(c.Out) {
		return fmt.Errorf("%s already exists", c.Out)
	}
	s, err := openStore(c.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	f, err := os.OpenFile(c.Out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	err = s.Backup(f)
	if serr := f.Sync(); err == nil {
		err = serr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(c.Out)
		return err
	}
	fi, err := os.Stat(c.Out)
	if err != nil {
		return err
	}
	fmt.Printf("backup written to %s (%d bytes)\n", c.Out, fi.Size())
	return nil
}

// RestoreCmd rebuilds a store file from a backup stream.
type RestoreCmd struct {
	In   string `arg:"" help:"Path to the backup file"`
	Path string `arg:"" help:"Path for the restored store file"`
}

func (c *RestoreCmd) Run() error {
	f, err := os.Open(c.In)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := structdb.Restore(f, c.Path); err != nil {
		return err
	}
	fmt.Printf("restored %s from %s\n", c.Path, c.In)
	return nil
}
