package condition

import (
	"time"

	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/schema"
)

// Observed is the value of one referenced column at evaluation time
type Observed struct {
	Column *schema.Column
	Value  *cql.Value
}

// Evaluation is the outcome of checking a set against one snapshot
type Evaluation struct {
	Applies bool
	// Exists reports whether the scoped row is present in the snapshot as
	// read for this set: a live marker or a live value among the fetched
	// columns. For IF [NOT] EXISTS every column of the scope is fetched.
	Exists   bool
	Observed []Observed
}

// Evaluate checks the set against a partition snapshot at now. Evaluation is
// pure; the snapshot is never modified.
func (s *Set) Evaluate(snapshot *row.Partition, now time.Time) Evaluation {
	view := row.NewView(snapshot, now)
	r := s.scopedRow(view)

	if s.ifExists || s.ifNotExists {
		exists := s.rowExists(view, r)
		return Evaluation{Applies: exists == s.ifExists, Exists: exists}
	}

	ev := Evaluation{Applies: true}
	if len(s.columns) == 0 {
		return ev
	}
	ev.Observed = make([]Observed, len(s.columns))
	for i, col := range s.columns {
		ev.Observed[i] = Observed{Column: col, Value: view.Value(s.rowFor(view, r, col), col)}
	}
	for i := range s.conds {
		b := &s.conds[i]
		if !b.holds(b.actual(view, s.rowFor(view, r, b.column))) {
			ev.Applies = false
			break
		}
	}
	ev.Exists = s.fetchedExists(view, r)
	return ev
}

func (s *Set) scopedRow(view row.View) *row.Row {
	if s.scope.Static {
		return view.Static()
	}
	return view.Row(s.scope.Clustering)
}

// rowFor returns the row holding col: static columns always live in the
// static row, whatever the scope.
func (s *Set) rowFor(view row.View, scoped *row.Row, col *schema.Column) *row.Row {
	if col.IsStatic() {
		return view.Static()
	}
	return scoped
}

func (s *Set) rowExists(view row.View, r *row.Row) bool {
	if s.scope.Static {
		return view.HasLive(r, s.table.StaticColumns())
	}
	return view.Exists(r, s.table.RegularColumns())
}

func (s *Set) fetchedExists(view row.View, r *row.Row) bool {
	var regular, static []*schema.Column
	for _, col := range s.columns {
		if col.IsStatic() {
			static = append(static, col)
		} else {
			regular = append(regular, col)
		}
	}
	if view.HasLive(view.Static(), static) {
		return true
	}
	return !s.scope.Static && view.Exists(r, regular)
}

func (b *bound) actual(view row.View, r *row.Row) *cql.Value {
	v := view.Value(r, b.column)
	switch b.kind {
	case TargetElement:
		if b.column.Type.Kind == cql.KindList {
			return v.Index(int(b.key.Int))
		}
		return v.MapGet(b.key)
	case TargetField:
		return v.Field(b.field)
	}
	return v
}

// holds applies the operator. Unset reads as null: it equals a null operand,
// differs from any value, and fails every ordering comparison.
func (b *bound) holds(actual *cql.Value) bool {
	switch b.op {
	case EQ:
		return cql.Equal(actual, b.value)
	case NEQ:
		return !cql.Equal(actual, b.value)
	case IN:
		for _, v := range b.values {
			if cql.Equal(actual, v) {
				return true
			}
		}
		return false
	}
	if actual == nil {
		return false
	}
	c := cql.Compare(actual, b.value)
	switch b.op {
	case LT:
		return c < 0
	case LTE:
		return c <= 0
	case GT:
		return c > 0
	case GTE:
		return c >= 0
	}
	return false
}
