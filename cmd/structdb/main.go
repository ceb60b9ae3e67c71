package main

import (
	"errors"
	"os"
	"path"

	"github.com/alecthomas/kong"

	structdb "github.com/julianstephens/structdb"
	"github.com/julianstephens/structdb/internal/cli"
	"github.com/julianstephens/structdb/logger"
)

var version = "structdb v0.1.0"

type LogOpts struct {
	Level  string `help:"Logging level (debug, info, warn, error)" default:"info" envvar:"STRUCTDB_LOG_LEVEL"`
	Debug  bool   `help:"Enable debug logging (overrides --level)"                envvar:"STRUCTDB_DEBUG"`
	Stream bool   `help:"Log to stdout/stderr in addition to file"                envvar:"STRUCTDB_LOG_STREAM"`
}

type CLI struct {
	Init    cli.InitCmd    `cmd:"" help:"Initialize a new store"`
	Info    cli.InfoCmd    `cmd:"" help:"Display store statistics"`
	Schemas cli.SchemasCmd `cmd:"" help:"List the persisted schema catalog"`
	Verify  cli.VerifyCmd  `cmd:"" help:"Check store file integrity"`
	Dump    cli.DumpCmd    `cmd:"" help:"Dump records of a type as JSON lines"`
	Repair  cli.RepairCmd  `cmd:"" help:"Recover a store after an unclean shutdown"`
	Backup  cli.BackupCmd  `cmd:"" help:"Write a consistent backup of a store"`
	Restore cli.RestoreCmd `cmd:"" help:"Rebuild a store from a backup"`

	LogOpts LogOpts          `embed:"" prefix:"log-" help:"Logging options"`
	Version kong.VersionFlag `                       help:"Show version information" short:"V"`
}

// buildLogger assembles the process logger from the flags: console only
// with --log-stream, otherwise console plus a rotating file under the
// user's application directory.
func buildLogger(opts LogOpts) (logger.Logger, error) {
	level := opts.Level
	if opts.Debug {
		level = "debug"
	}
	console := logger.NewConsoleLogger(level)
	if opts.Stream {
		return console, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	file, err := logger.NewFileLogger(
		path.Join(home, structdb.DefaultAppDir, structdb.DefaultLogDir),
		structdb.DefaultLogFileName,
		structdb.DefaultLogMaxSize,
		structdb.DefaultLogMaxBackups,
	)
	if err != nil {
		return nil, err
	}
	return logger.NewMultiLogger(file, console), nil
}

func main() {
	app := &CLI{}
	ctx := kong.Parse(app,
		kong.Name("structdb"),
		kong.Description("An embedded transactional object store"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{"version": version},
	)

	lg, err := buildLogger(app.LogOpts)
	ctx.FatalIfErrorf(err)
	cli.SetLogger(lg)
	defer func() {
		if c, ok := lg.(logger.Closeable); ok {
			_ = c.Close()
		}
	}()

	if err := ctx.Run(); err != nil {
		if errors.Is(err, cli.ErrCheckFailed) {
			os.Exit(2)
		}
		ctx.FatalIfErrorf(err)
	}
}
