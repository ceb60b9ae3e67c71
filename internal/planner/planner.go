// Package planner compiles a query against a struct descriptor and runs it
// over a frozen view: a page snapshot plus the index clones captured at the
// same commit boundary. Plan choice is deterministic. Point scans beat
// range scans, exclusive indexes beat cluster indexes, ties go to the field
// declared first, and a query no index can serve falls back to a full
// segment scan. Whatever the chosen access path does not guarantee is
// evaluated as a residual filter on decoded records.
package planner

import (
	"bytes"

	"github.com/julianstephens/go-utils/generic"
	"github.com/julianstephens/structdb/internal/btree"
	"github.com/julianstephens/structdb/internal/pager"
	"github.com/julianstephens/structdb/internal/registry"
	"github.com/julianstephens/structdb/query"
	"github.com/julianstephens/structdb/schema"
)

// View is the frozen read context a query runs against. Trees holds the
// index clones captured with the snapshot; a missing tree means the type
// had no records when the view was captured.
type View struct {
	Snap  *pager.Snapshot
	Trees map[btree.Key]*btree.Index
}

// Request describes one query: the type to scan, the conjunction of
// conditions, and the output shaping.
type Request struct {
	Bind    *registry.Binding
	Conds   []query.Cond
	Order   string // field name; empty means unordered
	Desc    bool
	Limit   int // negative means unlimited
	Project schema.Projection
	SortCap int // rows admitted to an in-memory sort
}

// DefaultSortCap bounds in-memory sorts when the request does not carry a
// cap of its own.
const DefaultSortCap = 65536

type access uint8

const (
	accessScan  access = iota // full segment scan of the type
	accessPoint               // exact keys on one index
	accessRange               // one contiguous key range on an index
	accessOrder               // full index walk chosen for ordering only
)

type plan struct {
	req  *Request
	mode access

	ixField string    // field the chosen index is declared on
	ixKey   btree.Key // index serving accessPoint/accessRange/accessOrder
	points  [][]byte  // accessPoint: sorted distinct keys
	lo, hi  []byte    // accessRange bounds, nil leaves a side open
	loInc   bool
	hiInc   bool

	residual []pred
	ordered  bool // the access path yields rows in the requested order
}

// compile validates every condition, picks the access path, and splits the
// conditions into served and residual.
func compile(req *Request) (*plan, error) {
	if req.SortCap <= 0 {
		req.SortCap = DefaultSortCap
	}
	desc := req.Bind.Desc
	preds := make([]pred, len(req.Conds))
	for i := range req.Conds {
		p, err := compilePred(desc, &req.Conds[i])
		if err != nil {
			return nil, err
		}
		preds[i] = p
	}
	if req.Order != "" {
		f, _, ok := desc.Field(req.Order)
		if !ok {
			return nil, &query.Error{Err: query.ErrInvalidQuery, Struct: desc.Name, Field: req.Order, Reason: "unknown order field"}
		}
		if !f.Type.Kind.Indexable() {
			return nil, &query.Error{Err: query.ErrInvalidQuery, Struct: desc.Name, Field: req.Order, Reason: "cannot order by a " + f.Type.Kind.String() + " field"}
		}
	}

	pl := &plan{req: req, mode: accessScan}

	// Selectivity classes: exclusive point, cluster point, exclusive range,
	// cluster range. Ties go to the field declared first; on the same field
	// an Eq beats an In.
	best, bestClass, bestPos := -1, 0, 0
	for i := range req.Conds {
		c := &req.Conds[i]
		f, pos, _ := desc.Field(c.Field)
		if f.Index == nil {
			continue
		}
		var class int
		switch c.Op {
		case query.OpEq, query.OpIn:
			class = generic.If(f.Index.Mode == schema.IndexExclusive, 0, 1)
		case query.OpGt, query.OpGe, query.OpLt, query.OpLe, query.OpRange:
			class = generic.If(f.Index.Mode == schema.IndexExclusive, 2, 3)
		default:
			continue
		}
		better := best < 0 || class < bestClass ||
			(class == bestClass && pos < bestPos) ||
			(class == bestClass && pos == bestPos && c.Op == query.OpEq && req.Conds[best].Op != query.OpEq)
		if better {
			best, bestClass, bestPos = i, class, pos
		}
	}

	consumed := make(map[int]bool)
	if best >= 0 {
		c := &req.Conds[best]
		f, _, _ := desc.Field(c.Field)
		pl.ixField = c.Field
		pl.ixKey = btree.Key{Type: req.Bind.ID, Name: f.Index.Name}
		switch c.Op {
		case query.OpEq, query.OpIn:
			pl.mode = accessPoint
			pl.points = preds[best].pointKeys()
			consumed[best] = true
		default:
			pl.mode = accessRange
			// Conjunctive bounds on the chosen field collapse into one
			// range.
			for i := range req.Conds {
				rc := &req.Conds[i]
				if rc.Field != c.Field {
					continue
				}
				switch rc.Op {
				case query.OpGt, query.OpGe, query.OpLt, query.OpLe, query.OpRange:
					pl.mergeBounds(&preds[i])
					consumed[i] = true
				}
			}
		}
	}
	for i := range preds {
		if !consumed[i] {
			pl.residual = append(pl.residual, preds[i])
		}
	}

	switch {
	case req.Order == "":
		pl.ordered = true
	case pl.mode != accessScan && pl.ixField == req.Order:
		pl.ordered = true
	case pl.mode == accessScan:
		// No condition picked an index; an index on the order field still
		// serves the ordering, and it covers every record of the type.
		if f, _, _ := desc.Field(req.Order); f.Index != nil {
			pl.mode = accessOrder
			pl.ixField = req.Order
			pl.ixKey = btree.Key{Type: req.Bind.ID, Name: f.Index.Name}
			pl.ordered = true
		}
	}
	return pl, nil
}

// mergeBounds tightens the plan's range with one condition's bounds.
func (pl *plan) mergeBounds(p *pred) {
	if p.blo != nil {
		switch {
		case pl.lo == nil || bytes.Compare(p.blo, pl.lo) > 0:
			pl.lo, pl.loInc = p.blo, p.bloInc
		case bytes.Equal(p.blo, pl.lo) && !p.bloInc:
			pl.loInc = false
		}
	}
	if p.bhi != nil {
		switch {
		case pl.hi == nil || bytes.Compare(p.bhi, pl.hi) < 0:
			pl.hi, pl.hiInc = p.bhi, p.bhiInc
		case bytes.Equal(p.bhi, pl.hi) && !p.bhiInc:
			pl.hiInc = false
		}
	}
}
