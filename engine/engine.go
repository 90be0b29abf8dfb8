package engine

import (
	"context"
	"time"

	"github.com/maxpert/lwt/condition"
	"github.com/maxpert/lwt/coordinator"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/paxos"
	"github.com/maxpert/lwt/row"
	"github.com/maxpert/lwt/schema"
	"github.com/maxpert/lwt/statement"
	"github.com/rs/zerolog/log"
)

// Engine executes conditional statements and batches. Every call prepares
// its statements and then runs exactly one coordinator round on the
// partition they target; wrap calls in Retry to ride out contention.
type Engine struct {
	coordinator *coordinator.CASCoordinator
	conditions  *condition.Cache
	now         func() time.Time
}

// NewEngine returns an engine submitting rounds to c. Parsed IF clauses are
// cached, up to cacheSize distinct clause texts.
func NewEngine(c *coordinator.CASCoordinator, cacheSize int) (*Engine, error) {
	cache, err := condition.NewCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{coordinator: c, conditions: cache, now: time.Now}, nil
}

// Coordinator returns the coordinator rounds are submitted to
func (e *Engine) Coordinator() *coordinator.CASCoordinator {
	return e.coordinator
}

// Execute runs a single statement. Validation errors are returned with a nil
// result. A failed consensus round returns a result with the Indeterminate
// outcome together with the cause; coordinator.IsPrepareContention tells
// whether it is safe to retry.
func (e *Engine) Execute(ctx context.Context, stmt *statement.Statement) (*Result, error) {
	b, err := e.prepare([]*statement.Statement{stmt}, false)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, b)
}

// ExecuteBatch runs statements as one atomic unit: every condition is checked
// against the same snapshot and either all updates apply or none does. All
// statements must target the same partition of the same table.
func (e *Engine) ExecuteBatch(ctx context.Context, stmts ...*statement.Statement) (*Result, error) {
	b, err := e.prepare(stmts, true)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, b)
}

// batch is a validated unit of work on one partition
type batch struct {
	table   *schema.Table
	key     []*cql.Value
	members []*statement.Prepared
	sets    []*condition.Set // conditions of the conditional members, in order
	isBatch bool
}

func (b *batch) partition() paxos.Key {
	return paxos.Key{Table: b.table.String(), Partition: b.key}
}

func (e *Engine) prepare(stmts []*statement.Statement, isBatch bool) (*batch, error) {
	if len(stmts) == 0 {
		return nil, cql.Invalidf("Batch must contain at least one statement")
	}
	b := &batch{isBatch: isBatch}
	var kinds []scopeKind
	for _, stmt := range stmts {
		p, err := stmt.PrepareWith(e.conditions.Parse)
		if err != nil {
			return nil, err
		}
		if b.table == nil {
			b.table, b.key = p.Table, p.Key
		} else {
			if p.Table != b.table {
				return nil, cql.Invalidf("Batch with conditions cannot span multiple tables")
			}
			if !sameKey(p.Key, b.key) {
				return nil, cql.Invalidf("Batch with conditions cannot span multiple partitions")
			}
		}
		b.members = append(b.members, p)

		if !p.Conditional() {
			continue
		}
		set := p.Conditions
		kind := scopeKind{scope: set.Scope(), exists: set.IfExists(), notExists: set.IfNotExists(), columns: !set.IfExists() && !set.IfNotExists()}
		if kinds, err = mergeScope(kinds, kind); err != nil {
			return nil, err
		}
		b.sets = append(b.sets, set)
	}
	return b, nil
}

// scopeKind accumulates the kinds of conditions placed on one row
type scopeKind struct {
	scope     condition.Scope
	exists    bool
	notExists bool
	columns   bool
}

func mergeScope(kinds []scopeKind, k scopeKind) ([]scopeKind, error) {
	for i := range kinds {
		cur := &kinds[i]
		if !sameScope(cur.scope, k.scope) {
			continue
		}
		switch {
		case (cur.notExists && k.exists) || (cur.exists && k.notExists):
			return nil, cql.Invalidf("Cannot mix IF EXISTS and IF NOT EXISTS conditions for the same row")
		case (cur.notExists && k.columns) || (cur.columns && k.notExists):
			return nil, cql.Invalidf("Cannot mix IF conditions and IF NOT EXISTS for the same row")
		}
		cur.exists = cur.exists || k.exists
		cur.notExists = cur.notExists || k.notExists
		cur.columns = cur.columns || k.columns
		return kinds, nil
	}
	return append(kinds, k), nil
}

func sameKey(a, b []*cql.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !cql.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameScope(a, b condition.Scope) bool {
	if a.Static || b.Static {
		return a.Static == b.Static
	}
	return row.CompareClustering(a.Clustering, b.Clustering) == 0
}

func (e *Engine) run(ctx context.Context, b *batch) (*Result, error) {
	key := b.partition()

	var (
		snapshot *row.Partition
		readAt   time.Time
	)
	decide := func(s *row.Partition, ts int64) (*row.Partition, bool, error) {
		now := e.now()
		snapshot, readAt = s, now
		for _, set := range b.sets {
			if !set.Evaluate(s, now).Applies {
				return nil, false, nil
			}
		}
		update := row.NewPartition(b.key)
		for _, p := range b.members {
			if err := p.Apply(update, s, ts, now); err != nil {
				return nil, false, err
			}
		}
		return update, true, nil
	}

	outcome, err := e.coordinator.Attempt(ctx, key, decide)
	switch {
	case err != nil && (cql.IsInvalidRequest(err) || cql.IsSyntaxError(err)):
		return nil, err
	case err != nil:
		log.Warn().
			Err(err).
			Stringer("partition", key).
			Int("statements", len(b.members)).
			Msg("Conditional write outcome unknown")
		return &Result{Outcome: outcome}, err
	case outcome == coordinator.Applied:
		return applied(), nil
	}

	cols, rows := b.rejection(snapshot, readAt)
	log.Debug().
		Stringer("partition", key).
		Int("statements", len(b.members)).
		Int("rows", len(rows)).
		Msg("Conditional write rejected")
	return &Result{Outcome: outcome, Columns: cols, Rows: rows}, nil
}
