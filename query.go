package structdb

import (
	"github.com/julianstephens/structdb/internal/planner"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/query"
	"github.com/julianstephens/structdb/schema"
)

// Query is a fluent query over one struct type. Conditions conjoin; the
// planner picks a declared index to serve them and scans as a last resort.
// Finish with Iter, Count, or First.
type Query struct {
	s     *Store
	snap  *Snap // nil: capture a fresh view per execution
	name  string
	conds []query.Cond
	order string
	desc  bool
	limit int
	proj  schema.Projection
}

// Query starts a query against the current committed state.
func (s *Store) Query(name string) *Query {
	return &Query{s: s, name: name, limit: -1}
}

// Where adds conditions; all of them must hold.
func (q *Query) Where(conds ...query.Cond) *Query {
	q.conds = append(q.conds, conds...)
	return q
}

// OrderBy sorts results ascending by field. Served by an index on the field
// when one exists, otherwise by a capped in-memory sort.
func (q *Query) OrderBy(field string) *Query {
	q.order = field
	q.desc = false
	return q
}

// OrderByDesc sorts results descending by field.
func (q *Query) OrderByDesc(field string) *Query {
	q.order = field
	q.desc = true
	return q
}

// Limit caps the number of results. Negative means unlimited, the default.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Project decodes only the projected fields of each result.
func (q *Query) Project(p schema.Projection) *Query {
	q.proj = p
	return q
}

// Iter runs the query and returns a cursor over (rid, value) results. Close
// the cursor when done; for one-shot queries it pins the read view until
// then.
func (q *Query) Iter() (*query.Cursor, error) {
	if err := q.s.guard("query"); err != nil {
		return nil, err
	}
	bind, err := q.binding()
	if err != nil {
		return nil, err
	}
	if q.snap != nil {
		cur, err := planner.Iter(q.snap.view(), q.request(bind), nil)
		if err != nil {
			return nil, translate("query", q.s.path, err)
		}
		return cur, nil
	}
	snap, trees, err := q.s.txm.Capture()
	if err != nil {
		return nil, translate("query", q.s.path, err)
	}
	cur, err := planner.Iter(planner.View{Snap: snap, Trees: trees}, q.request(bind), snap.Release)
	if err != nil {
		return nil, translate("query", q.s.path, err)
	}
	return cur, nil
}

// Count reports how many records match. Cheaper than Iter: it never sorts,
// never decodes unless residual conditions require it, and honors Limit as
// a cap.
func (q *Query) Count() (int, error) {
	if err := q.s.guard("query"); err != nil {
		return 0, err
	}
	bind, err := q.binding()
	if err != nil {
		return 0, err
	}

	view := planner.View{}
	if q.snap != nil {
		view = q.snap.view()
	} else {
		snap, trees, err := q.s.txm.Capture()
		if err != nil {
			return 0, translate("query", q.s.path, err)
		}
		defer snap.Release()
		view = planner.View{Snap: snap, Trees: trees}
	}

	n, err := planner.Count(view, q.request(bind))
	if err != nil {
		return 0, translate("query", q.s.path, err)
	}
	return n, nil
}

// First returns the first match. ErrNotFound when nothing matches.
func (q *Query) First() (model.Rid, any, error) {
	if err := q.s.guard("query"); err != nil {
		return model.Rid{}, nil, err
	}
	bind, err := q.binding()
	if err != nil {
		return model.Rid{}, nil, err
	}

	view := planner.View{}
	if q.snap != nil {
		view = q.snap.view()
	} else {
		snap, trees, err := q.s.txm.Capture()
		if err != nil {
			return model.Rid{}, nil, translate("query", q.s.path, err)
		}
		defer snap.Release()
		view = planner.View{Snap: snap, Trees: trees}
	}

	rid, v, ok, err := planner.First(view, q.request(bind))
	if err != nil {
		return model.Rid{}, nil, translate("query", q.s.path, err)
	}
	if !ok {
		return model.Rid{}, nil, wrapStoreErr("query", ErrNotFound, q.s.path, nil)
	}
	return rid, v, nil
}

func (q *Query) binding() (*registry.Binding, error) {
	if q.snap != nil {
		return q.snap.binding("query", q.name)
	}
	return q.s.binding("query", q.name)
}

func (q *Query) request(bind *registry.Binding) planner.Request {
	return planner.Request{
		Bind:    bind,
		Conds:   q.conds,
		Order:   q.order,
		Desc:    q.desc,
		Limit:   q.limit,
		Project: q.proj,
		SortCap: q.s.opts.SortCap,
	}
}

// FindBy looks up records by an indexed field, the generated find_by_<field>
// surface in library form. The field must carry a declared index.
func (s *Store) FindBy(name, field string, value any) (*query.Cursor, error) {
	if err := s.guard("find"); err != nil {
		return nil, err
	}
	bind, err := s.binding("find", name)
	if err != nil {
		return nil, err
	}
	f, _, ok := bind.Desc.Field(field)
	if !ok {
		return nil, &query.Error{Err: query.ErrInvalidQuery, Struct: name, Field: field, Reason: "unknown field"}
	}
	if f.Index == nil {
		return nil, &query.Error{Err: query.ErrFieldNotIndexed, Struct: name, Field: field}
	}
	return s.Query(name).Where(query.Eq(field, value)).Iter()
}
