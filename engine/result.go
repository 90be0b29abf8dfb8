package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/schema"
)

// Result answers a conditional statement or batch. Every row starts with the
// [applied] flag followed by one value per entry of Columns; a nil value is
// null.
//
// An applied write returns the single row [true]. A rejected one returns a
// row per existing row its conditions read, holding the values the
// conditions saw, or the single row [false] when none of those rows exist.
type Result struct {
	Outcome coordinator.Outcome
	Columns []*schema.Column
	Rows    [][]*cql.Value
}

func applied() *Result {
	return &Result{Outcome: coordinator.Applied, Rows: [][]*cql.Value{{cql.BoolValue(true)}}}
}

// Applied reports whether the write took effect
func (r *Result) Applied() bool {
	return r != nil && r.Outcome == coordinator.Applied
}

// Strings renders each row as a comma separated list of CQL literals, e.g.
// "false, 0, null, 2"
func (r *Result) Strings() []string {
	out := make([]string, len(r.Rows))
	for i, values := range r.Rows {
		parts := make([]string, len(values))
		for j, v := range values {
			t := cql.Boolean
			if j > 0 {
				t = r.Columns[j-1].Type
			}
			parts[j] = cql.Format(t, v)
		}
		out[i] = strings.Join(parts, ", ")
	}
	return out
}

// rejection builds the rows of a rejected batch from the snapshot its
// conditions were evaluated against.
//
// With any IF [NOT] EXISTS every column is reported in table order.
// Otherwise the referenced columns are reported in first-reference order,
// prefixed by the primary key for batches. Static values are folded into
// each reported clustering row; the static row is reported on its own, with
// null clustering, only when no clustering row is.
func (b *batch) rejection(snapshot *row.Partition, now time.Time) ([]*schema.Column, [][]*cql.Value) {
	cols := b.resultColumns()
	view := row.NewView(snapshot, now)

	var regular, static []*schema.Column
	for _, col := range cols {
		switch col.Kind {
		case schema.Regular:
			regular = append(regular, col)
		case schema.Static:
			static = append(static, col)
		}
	}

	var scopes [][]*cql.Value
	for _, set := range b.sets {
		s := set.Scope()
		if s.Static || containsClustering(scopes, s.Clustering) {
			continue
		}
		scopes = append(scopes, s.Clustering)
	}
	sort.SliceStable(scopes, func(i, j int) bool {
		return row.CompareClustering(scopes[i], scopes[j]) < 0
	})

	rows := make([][]*cql.Value, 0, len(scopes))
	for _, clustering := range scopes {
		r := view.Row(clustering)
		if !view.Exists(r, regular) {
			continue
		}
		rows = append(rows, b.resultRow(view, cols, clustering, r))
	}
	if len(rows) == 0 && view.HasLive(view.Static(), static) {
		rows = append(rows, b.resultRow(view, cols, nil, nil))
	}
	if len(rows) == 0 {
		return nil, [][]*cql.Value{{cql.BoolValue(false)}}
	}
	return cols, rows
}

func (b *batch) resultColumns() []*schema.Column {
	for _, set := range b.sets {
		if set.IfExists() || set.IfNotExists() {
			return b.table.Columns()
		}
	}

	var cols []*schema.Column
	if b.isBatch {
		cols = append(cols, b.table.PartitionKey()...)
		cols = append(cols, b.table.ClusteringColumns()...)
	}
	seen := make(map[string]bool)
	for _, set := range b.sets {
		for _, col := range set.Columns() {
			if !seen[col.Name] {
				seen[col.Name] = true
				cols = append(cols, col)
			}
		}
	}
	return cols
}

// resultRow reads one reported row. A nil clustering key reports the static
// row.
func (b *batch) resultRow(view row.View, cols []*schema.Column, clustering []*cql.Value, r *row.Row) []*cql.Value {
	return append([]*cql.Value{cql.BoolValue(false)}, rowValues(view, cols, b.key, clustering, r)...)
}

// rowValues reads cols of one CQL row: partition key, clustering key, the
// static row and the clustering row r
func rowValues(view row.View, cols []*schema.Column, key, clustering []*cql.Value, r *row.Row) []*cql.Value {
	values := make([]*cql.Value, 0, len(cols))
	for _, col := range cols {
		var v *cql.Value
		switch col.Kind {
		case schema.PartitionKey:
			v = key[col.Position]
		case schema.Clustering:
			if clustering != nil {
				v = clustering[col.Position]
			}
		case schema.Static:
			v = view.Value(view.Static(), col)
		default:
			v = view.Value(r, col)
		}
		values = append(values, v)
	}
	return values
}

func containsClustering(keys [][]*cql.Value, k []*cql.Value) bool {
	for _, key := range keys {
		if row.CompareClustering(key, k) == 0 {
			return true
		}
	}
	return false
}
