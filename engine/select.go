package engine

import (
	"context"
	"strings"
	"time"

	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/schema"
)

// Rows is the content of one partition, every column in table order
type Rows struct {
	Columns []*schema.Column
	Values  [][]*cql.Value
}

// Strings renders each row as a comma separated list of CQL literals
func (r *Rows) Strings() []string {
	out := make([]string, len(r.Values))
	for i, values := range r.Values {
		parts := make([]string, len(values))
		for j, v := range values {
			parts[j] = cql.Format(r.Columns[j].Type, v)
		}
		out[i] = strings.Join(parts, ", ")
	}
	return out
}

// SelectSerial reads a partition through a consensus round, so the read
// observes every write committed or in progress before it. The round
// commits no data.
func (e *Engine) SelectSerial(ctx context.Context, table *schema.Table, key ...*cql.Value) (*Rows, error) {
	if len(key) != len(table.PartitionKey()) {
		return nil, cql.Invalidf("Partition key of %s has %d columns, got %d values", table, len(table.PartitionKey()), len(key))
	}

	var (
		snapshot *row.Partition
		readAt   time.Time
	)
	outcome, err := e.coordinator.Attempt(ctx, paxos.Key{Table: table.String(), Partition: key}, func(s *row.Partition, _ int64) (*row.Partition, bool, error) {
		snapshot, readAt = s, e.now()
		return nil, false, nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != coordinator.Rejected {
		return nil, cql.Invalidf("serial read unexpectedly %s", outcome)
	}
	return partitionRows(table, key, snapshot, readAt), nil
}

// partitionRows lists the live rows of a partition. A partition with live
// static data and no live rows yields one row with null clustering.
func partitionRows(table *schema.Table, key []*cql.Value, p *row.Partition, now time.Time) *Rows {
	view := row.NewView(p, now)
	out := &Rows{Columns: table.Columns()}

	if p != nil {
		for _, r := range p.Rows {
			if view.Exists(r, table.RegularColumns()) {
				out.Values = append(out.Values, rowValues(view, out.Columns, key, r.Clustering, r))
			}
		}
	}
	if len(out.Values) == 0 && view.HasLive(view.Static(), table.StaticColumns()) {
		out.Values = append(out.Values, rowValues(view, out.Columns, key, nil, nil))
	}
	return out
}
