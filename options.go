package structdb

// OpenOptions configures a store at open time.
//
// PageSize and FsyncOnCommit are recorded in the manifest sidecar when the
// store is created. On reopen, a zero PageSize adopts the store's own page
// size and a zero SortCap adopts the manifest's; a non-zero PageSize that
// disagrees with the data file fails the open. Logging options are
// per-process and never persisted.
type OpenOptions struct {
	// FsyncOnCommit makes every commit durable before it is acknowledged.
	// When off, commits are acknowledged after the WAL write and made
	// durable by the periodic checkpoint and by Close.
	FsyncOnCommit bool

	// PageSize is the segment page size in bytes, a power of two. Only
	// consulted when the store is created; afterwards the data file knows.
	PageSize int

	// SortCap bounds how many rows an unindexed order-by may buffer before
	// the query fails with ErrSortLimit. Zero means the default (65536).
	SortCap int

	// File-based logging configuration for OpenWithOptions callers that
	// pass a nil logger but still want rotating file logs.
	LogDir     string // directory for rotating log files (e.g. "./logs")
	LogMaxSize int    // max size per log file in MB (default: 100)
	LogMaxBak  int    // max number of backup log files (default: 3)
}
