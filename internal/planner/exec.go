package planner

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/query"
	"github.com/julianstephens/structdb/schema"
)

// Iter compiles req and opens a cursor over v. Candidate rids are gathered
// eagerly (the view is frozen, so nothing can change under the cursor);
// records decode lazily per Next. release, when non-nil, runs once when the
// cursor finishes; on an error before the cursor exists it runs before
// returning.
func Iter(v View, req Request, release func()) (*query.Cursor, error) {
	fail := func(err error) (*query.Cursor, error) {
		if release != nil {
			release()
		}
		return nil, err
	}
	pl, err := compile(&req)
	if err != nil {
		return fail(err)
	}
	rids, err := pl.rids(v)
	if err != nil {
		return fail(err)
	}
	prefiltered := false
	if !pl.ordered {
		rids, err = pl.sortRids(v, rids)
		if err != nil {
			return fail(err)
		}
		prefiltered = true
	}
	return query.NewCursor(pl.step(v, rids, prefiltered), release), nil
}

// Count reports how many rows the query matches. Ordering never changes the
// count, so no sort runs and the sort cap does not apply; without residual
// conditions the access path's rids are counted without decoding anything.
func Count(v View, req Request) (int, error) {
	pl, err := compile(&req)
	if err != nil {
		return 0, err
	}
	rids, err := pl.rids(v)
	if err != nil {
		return 0, err
	}
	limit := pl.req.Limit
	if len(pl.residual) == 0 {
		n := len(rids)
		if limit >= 0 && n > limit {
			n = limit
		}
		return n, nil
	}
	n := 0
	for _, rid := range rids {
		if limit >= 0 && n >= limit {
			break
		}
		val, err := pl.decodeAt(v, rid)
		if err != nil {
			return 0, err
		}
		ok, err := evalAll(pl.residual, val)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// First returns the first row of the query, reporting ok=false when it
// matches nothing.
func First(v View, req Request) (model.Rid, any, bool, error) {
	if req.Limit < 0 || req.Limit > 1 {
		req.Limit = 1
	}
	c, err := Iter(v, req, nil)
	if err != nil {
		return model.Rid{}, nil, false, err
	}
	defer c.Close()
	if !c.Next() {
		return model.Rid{}, nil, false, c.Err()
	}
	return c.Rid(), c.Value(), true, nil
}

// rids enumerates the access path. For ordered point and range plans the
// walk direction follows the request; keys stream in order and rids within
// one key stay in rid order.
func (pl *plan) rids(v View) ([]model.Rid, error) {
	if pl.mode == accessScan {
		var out []model.Rid
		err := v.Snap.ScanType(pl.req.Bind.ID, func(rid model.Rid, _ []byte) error {
			out = append(out, rid)
			return nil
		})
		return out, err
	}
	tree, ok := v.Trees[pl.ixKey]
	if !ok {
		return nil, nil
	}
	down := pl.req.Desc && pl.ordered
	var out []model.Rid
	switch pl.mode {
	case accessPoint:
		if down {
			for i := len(pl.points) - 1; i >= 0; i-- {
				out = append(out, tree.Get(pl.points[i])...)
			}
		} else {
			for _, kb := range pl.points {
				out = append(out, tree.Get(kb)...)
			}
		}
	case accessRange, accessOrder:
		collect := func(_ []byte, rids []model.Rid) bool {
			out = append(out, rids...)
			return true
		}
		if down {
			tree.Descend(pl.lo, pl.hi, pl.loInc, pl.hiInc, collect)
		} else {
			tree.Ascend(pl.lo, pl.hi, pl.loInc, pl.hiInc, collect)
		}
	}
	return out, nil
}

// sortRids runs the unordered plan eagerly: decode, filter, pull the order
// key, sort, and apply the limit. The cap bounds rows entering the sort.
func (pl *plan) sortRids(v View, rids []model.Rid) ([]model.Rid, error) {
	f, _, _ := pl.req.Bind.Desc.Field(pl.req.Order)
	type row struct {
		kb  []byte
		rid model.Rid
	}
	var rows []row
	for _, rid := range rids {
		val, err := pl.decodeAt(v, rid)
		if err != nil {
			return nil, err
		}
		if len(pl.residual) > 0 {
			ok, err := evalAll(pl.residual, val)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		fv, err := schema.FieldOf(val, pl.req.Order)
		if err != nil {
			return nil, err
		}
		kb, err := schema.KeyFor(&f.Type, fv)
		if err != nil {
			return nil, err
		}
		if len(rows) >= pl.req.SortCap {
			return nil, &query.Error{
				Err:    query.ErrSortLimit,
				Struct: pl.req.Bind.Desc.Name,
				Field:  pl.req.Order,
				Reason: fmt.Sprintf("more than %d rows to sort", pl.req.SortCap),
			}
		}
		rows = append(rows, row{kb: kb, rid: rid})
	}
	slices.SortFunc(rows, func(a, b row) int {
		c := bytes.Compare(a.kb, b.kb)
		if pl.req.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return a.rid.Compare(b.rid)
	})
	if pl.req.Limit >= 0 && len(rows) > pl.req.Limit {
		rows = rows[:pl.req.Limit]
	}
	out := make([]model.Rid, len(rows))
	for i := range rows {
		out[i] = rows[i].rid
	}
	return out, nil
}

// step yields rows lazily: read the frozen payload, decode, evaluate
// residuals unless the sort pass already did, and shape the output.
func (pl *plan) step(v View, rids []model.Rid, prefiltered bool) func() (model.Rid, any, bool, error) {
	i, yielded := 0, 0
	return func() (model.Rid, any, bool, error) {
		for {
			if pl.req.Limit >= 0 && yielded >= pl.req.Limit {
				return model.Rid{}, nil, false, nil
			}
			if i >= len(rids) {
				return model.Rid{}, nil, false, nil
			}
			rid := rids[i]
			i++
			payload, err := v.Snap.ReadSlot(rid)
			if err != nil {
				return model.Rid{}, nil, false, err
			}
			var full any
			if !prefiltered && len(pl.residual) > 0 {
				full, err = pl.req.Bind.Type.Decode(payload)
				if err != nil {
					return model.Rid{}, nil, false, err
				}
				ok, err := evalAll(pl.residual, full)
				if err != nil {
					return model.Rid{}, nil, false, err
				}
				if !ok {
					continue
				}
			}
			val, err := pl.output(payload, full)
			if err != nil {
				return model.Rid{}, nil, false, err
			}
			yielded++
			return rid, val, true, nil
		}
	}
}

// output shapes one row: the projected value under a projection, the full
// decode otherwise.
func (pl *plan) output(payload []byte, full any) (any, error) {
	if pl.req.Project != nil {
		return pl.req.Project.DecodeProjected(pl.req.Bind.Desc, payload)
	}
	if full != nil {
		return full, nil
	}
	return pl.req.Bind.Type.Decode(payload)
}

func (pl *plan) decodeAt(v View, rid model.Rid) (any, error) {
	payload, err := v.Snap.ReadSlot(rid)
	if err != nil {
		return nil, err
	}
	return pl.req.Bind.Type.Decode(payload)
}
