package query

import (
	"github.com/julianstephens/structdb/model"
)

// Cursor streams the rows of one query. It is forward-only and single
// use: Next advances, Rid and Value report the current row, Err reports
// what stopped iteration early, and Close releases the underlying
// snapshot. Not safe for concurrent use.
type Cursor struct {
	step    func() (model.Rid, any, bool, error)
	release func()

	rid  model.Rid
	val  any
	err  error
	done bool
}

// NewCursor builds a cursor from a step function and a release hook. step
// returns the next row, or ok=false at the end of the stream. release runs
// exactly once, when the stream ends or the cursor is closed.
func NewCursor(step func() (model.Rid, any, bool, error), release func()) *Cursor {
	return &Cursor{step: step, release: release}
}

// Next advances to the next row. It returns false at the end of the stream
// or on error; check Err after the loop.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	rid, val, ok, err := c.step()
	if err != nil {
		c.err = err
		c.finish()
		return false
	}
	if !ok {
		c.finish()
		return false
	}
	c.rid, c.val = rid, val
	return true
}

// Rid returns the id of the current row.
func (c *Cursor) Rid() model.Rid { return c.rid }

// Value returns the decoded current row. Under a projection it is the
// projected value.
func (c *Cursor) Value() any { return c.val }

// Err returns the error that ended iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Close ends iteration and releases the snapshot. Idempotent.
func (c *Cursor) Close() error {
	c.finish()
	return nil
}

func (c *Cursor) finish() {
	if c.done {
		return
	}
	c.done = true
	c.step = nil
	if c.release != nil {
		c.release()
		c.release = nil
	}
}
