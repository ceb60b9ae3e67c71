package structdb

import "github.com/julianstephens/structdb/internal/pager"

// DefaultPageSize is the page size for stores created with
// OpenOptions.PageSize left zero.
const DefaultPageSize = pager.DefaultPageSize

// Log file defaults, used by the CLI when file logging is enabled.
const (
	DefaultAppDir        = ".structdb"
	DefaultLogDir        = "logs"
	DefaultLogFileName   = "structdb.log"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 3
	DefaultLogLevel      = "info"
)
