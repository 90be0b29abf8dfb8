package row

import (
	"time"

	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/schema"
)

// View reads the live contents of a partition at a fixed instant
type View struct {
	p   *Partition
	now time.Time
}

// NewView returns a view of p at now. p may be nil.
func NewView(p *Partition, now time.Time) View {
	return View{p: p, now: now}
}

// Partition returns the viewed partition
func (v View) Partition() *Partition {
	return v.p
}

// Static returns the static row, or nil
func (v View) Static() *Row {
	if v.p == nil {
		return nil
	}
	return v.p.Static
}

// Row returns the clustering row, or nil
func (v View) Row(clustering []*cql.Value) *Row {
	return v.p.Find(clustering)
}

func (v View) shadow(r *Row) int64 {
	s := r.Deletion
	if v.p != nil && v.p.Deletion > s {
		s = v.p.Deletion
	}
	return s
}

// Value returns the live value of col in r, or nil when unset
func (v View) Value(r *Row, col *schema.Column) *cql.Value {
	if r == nil {
		return nil
	}
	shadow := v.shadow(r)
	if !col.Type.IsMultiCell() {
		c := r.Cells[col.Name]
		if c == nil || c.Timestamp <= shadow || !c.IsLive(v.now) {
			return nil
		}
		return c.Value
	}

	cc := r.Complex[col.Name]
	if cc == nil {
		return nil
	}
	if cc.Deletion > shadow {
		shadow = cc.Deletion
	}
	var live []*ElementCell
	for _, e := range cc.Elements {
		if e.Cell.Timestamp > shadow && e.Cell.IsLive(v.now) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil
	}

	out := &cql.Value{}
	switch col.Type.Kind {
	case cql.KindList:
		for _, e := range live {
			out.Elems = append(out.Elems, e.Cell.Value)
		}
	case cql.KindSet:
		for _, e := range live {
			out.Elems = append(out.Elems, e.Path)
		}
	case cql.KindMap:
		for _, e := range live {
			out.Keys = append(out.Keys, e.Path)
			out.Elems = append(out.Elems, e.Cell.Value)
		}
	case cql.KindUDT:
		out.Fields = make([]*cql.Value, len(col.Type.Fields))
		for _, e := range live {
			if idx := int(e.Path.Int); idx >= 0 && idx < len(out.Fields) {
				out.Fields[idx] = e.Cell.Value
			}
		}
	}
	return out
}

// ListPaths returns the storage paths of the live elements of a list column
// in positional order
func (v View) ListPaths(r *Row, col *schema.Column) []*cql.Value {
	if r == nil {
		return nil
	}
	cc := r.Complex[col.Name]
	if cc == nil {
		return nil
	}
	shadow := v.shadow(r)
	if cc.Deletion > shadow {
		shadow = cc.Deletion
	}
	var paths []*cql.Value
	for _, e := range cc.Elements {
		if e.Cell.Timestamp > shadow && e.Cell.IsLive(v.now) {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

// MarkerLive reports whether r carries a live primary key liveness marker
func (v View) MarkerLive(r *Row) bool {
	return r != nil && r.Marker.isLive(v.shadow(r), v.now)
}

// Exists reports whether r has a live marker or any live cell among cols
func (v View) Exists(r *Row, cols []*schema.Column) bool {
	if r == nil {
		return false
	}
	if v.MarkerLive(r) {
		return true
	}
	return v.HasLive(r, cols)
}

// HasLive reports whether any of cols has a live value in r
func (v View) HasLive(r *Row, cols []*schema.Column) bool {
	if r == nil {
		return false
	}
	for _, col := range cols {
		if v.Value(r, col) != nil {
			return true
		}
	}
	return false
}
