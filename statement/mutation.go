package statement

import (
	"time"

	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/row"
)

// Apply writes the effect of the statement into update at write timestamp ts.
// snapshot is the partition state the statement was evaluated against; it
// resolves list positions and the rows covered by range deletions. update
// may already hold the effects of earlier statements of the same batch.
func (p *Prepared) Apply(update, snapshot *row.Partition, ts int64, now time.Time) error {
	view := row.NewView(snapshot, now)

	if p.Kind == Delete && len(p.ops) == 0 {
		p.applyDeletion(update, view, ts)
		return nil
	}

	if p.Kind == Insert && !p.StaticOnly {
		for _, key := range p.rows {
			update.Writable(key).Marker = row.NewLiveness(ts, p.ttl, now)
		}
	}

	for _, o := range p.ops {
		if o.column.IsStatic() {
			if err := p.applyOp(update.WritableStatic(), view.Static(), o, view, ts, now); err != nil {
				return err
			}
			continue
		}
		for _, key := range p.rows {
			if err := p.applyOp(update.Writable(key), view.Row(key), o, view, ts, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Prepared) applyDeletion(update *row.Partition, view row.View, ts int64) {
	switch {
	case len(p.restricted) == 0:
		if ts > update.Deletion {
			update.Deletion = ts
		}
	case p.rows != nil:
		for _, key := range p.rows {
			deleteRow(update.Writable(key), ts)
		}
	default:
		snapshot := view.Partition()
		if snapshot == nil {
			return
		}
		for _, r := range snapshot.Rows {
			if p.covers(r.Clustering) {
				deleteRow(update.Writable(r.Clustering), ts)
			}
		}
	}
}

func deleteRow(r *row.Row, ts int64) {
	if ts > r.Deletion {
		r.Deletion = ts
	}
}

// covers reports whether a clustering key satisfies the WHERE restrictions
func (p *Prepared) covers(clustering []*cql.Value) bool {
	for i, rs := range p.restricted {
		if i >= len(clustering) {
			return false
		}
		v := clustering[i]
		if rs.values != nil {
			found := false
			for _, want := range rs.values {
				if cql.Equal(v, want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if rs.lower != nil {
			c := cql.Compare(v, rs.lower.value)
			if c < 0 || (c == 0 && !rs.lower.inclusive) {
				return false
			}
		}
		if rs.upper != nil {
			c := cql.Compare(v, rs.upper.value)
			if c > 0 || (c == 0 && !rs.upper.inclusive) {
				return false
			}
		}
	}
	return true
}

func (p *Prepared) applyOp(w, current *row.Row, o boundOp, view row.View, ts int64, now time.Time) error {
	name := o.column.Name
	typ := o.column.Type

	switch o.kind {
	case OpSet:
		if !typ.IsMultiCell() {
			w.SetCell(name, row.NewCell(o.value, ts, p.ttl, now))
			return nil
		}
		if o.value == nil {
			w.DeleteComplex(name, ts)
			return nil
		}
		// the previous content is shadowed just below the new elements
		w.DeleteComplex(name, ts-1)
		switch typ.Kind {
		case cql.KindList:
			for i, e := range o.value.Elems {
				w.SetElement(name, cql.IntValue(int64(i)), row.NewCell(e, ts, p.ttl, now))
			}
		case cql.KindSet:
			for _, e := range o.value.Elems {
				w.SetElement(name, e, row.NewCell(&cql.Value{}, ts, p.ttl, now))
			}
		case cql.KindMap:
			for i, k := range o.value.Keys {
				w.SetElement(name, k, row.NewCell(o.value.Elems[i], ts, p.ttl, now))
			}
		case cql.KindUDT:
			for i, f := range o.value.Fields {
				if f != nil {
					w.SetElement(name, cql.IntValue(int64(i)), row.NewCell(f, ts, p.ttl, now))
				}
			}
		}

	case OpSetElement, OpDeleteElement:
		path := o.key
		if typ.Kind == cql.KindList {
			var err error
			if path, err = listPath(view, current, o); err != nil {
				return err
			}
		}
		cell := row.Tombstone(ts)
		if o.kind == OpSetElement {
			cell = row.NewCell(o.value, ts, p.ttl, now)
		}
		w.SetElement(name, path, cell)

	case OpSetField:
		w.SetElement(name, cql.IntValue(int64(o.field)), row.NewCell(o.value, ts, p.ttl, now))

	case OpDeleteField:
		w.SetElement(name, cql.IntValue(int64(o.field)), row.Tombstone(ts))

	case OpDelete:
		if typ.IsMultiCell() {
			w.DeleteComplex(name, ts)
		} else {
			w.SetCell(name, row.Tombstone(ts))
		}
	}
	return nil
}

// listPath maps a list index to the storage path of the element currently
// at that position
func listPath(view row.View, current *row.Row, o boundOp) (*cql.Value, error) {
	paths := view.ListPaths(current, o.column)
	idx := int(o.key.Int)
	if len(paths) == 0 {
		if o.kind == OpDeleteElement {
			return nil, cql.Invalidf("Attempted to delete an element from a list which is null")
		}
		return nil, cql.Invalidf("Attempted to set an element on a list which is null")
	}
	if idx >= len(paths) {
		return nil, cql.Invalidf("List index %d out of bound, list has size %d", idx, len(paths))
	}
	return paths[idx], nil
}
