package statement

import (
	"strings"
	"time"

	"github.com/maxpert/lwt/condition"
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/schema"
)

const (
	maxCartesianProduct = 100
	maxTTL              = 20 * 365 * 24 * time.Hour
)

type bound struct {
	value     *cql.Value
	inclusive bool
}

// restriction is the combined WHERE restriction of one clustering column
type restriction struct {
	column *schema.Column
	values []*cql.Value // EQ (one value) or IN
	in     bool
	lower  *bound
	upper  *bound
}

func (r *restriction) isSlice() bool {
	return r.lower != nil || r.upper != nil
}

type boundOp struct {
	kind   OpKind
	column *schema.Column
	key    *cql.Value
	field  int
	value  *cql.Value
}

// Prepared is a validated statement with every literal bound to its column
// type. It is immutable and may be applied in any number of rounds.
type Prepared struct {
	Kind  Kind
	Table *schema.Table
	// Key is the partition key, one value per partition key column
	Key []*cql.Value
	// Conditions is the IF clause scoped to the row the statement reads.
	// It is an empty set for unconditional statements.
	Conditions *condition.Set
	// StaticOnly is set when the statement reads and writes only static
	// columns of the partition.
	StaticOnly bool

	source      *Statement
	restricted  []*restriction // clustering prefix, in clustering order
	rows        [][]*cql.Value // full clustering keys; nil unless every clustering column is EQ/IN restricted
	ops         []boundOp
	ttl         time.Duration
	conditional bool
}

// Prepare validates the statement and binds its literals
func (s *Statement) Prepare() (*Prepared, error) {
	return s.PrepareWith(condition.Parse)
}

// PrepareWith is Prepare with a custom IF clause parser, typically a
// condition.Cache
func (s *Statement) PrepareWith(parse func(string) (*condition.Clause, error)) (*Prepared, error) {
	if len(s.errs) > 0 {
		return nil, s.errs[0]
	}
	clause, err := s.clause(parse)
	if err != nil {
		return nil, err
	}
	if err := s.checkColumns(); err != nil {
		return nil, err
	}

	p := &Prepared{Kind: s.Kind, Table: s.Table, source: s, conditional: clause != nil}
	pk, restrictions, err := s.bindRelations()
	if err != nil {
		return nil, err
	}
	if p.Conditions, err = condition.Prepare(s.Table, clause); err != nil {
		return nil, err
	}
	if s.hasTTL {
		if s.Kind == Delete {
			return nil, cql.Syntaxf("DELETE statements do not support USING TTL")
		}
		if s.ttl < 0 {
			return nil, cql.Invalidf("A TTL must be greater or equal to 0, but was %d", int64(s.ttl/time.Second))
		}
		if s.ttl > maxTTL {
			return nil, cql.Invalidf("ttl is too large. requested (%d) maximum (%d)", int64(s.ttl/time.Second), int64(maxTTL/time.Second))
		}
		p.ttl = s.ttl
	}

	// Partition key
	var missing []string
	for _, col := range s.Table.PartitionKey() {
		if pk[col.Position] == nil {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return nil, cql.Invalidf("Some partition key parts are missing: %s", strings.Join(missing, ", "))
	}
	p.Key = pk

	if err := p.checkShape(restrictions); err != nil {
		return nil, err
	}
	if p.ops, err = s.bindOps(); err != nil {
		return nil, err
	}
	if p.rows, err = expand(p.restricted, len(s.Table.ClusteringColumns())); err != nil {
		return nil, err
	}

	scope := condition.Scope{Static: p.StaticOnly}
	if !p.StaticOnly && len(p.rows) == 1 {
		scope.Clustering = p.rows[0]
	}
	p.Conditions = p.Conditions.In(scope)
	return p, nil
}

func (s *Statement) clause(parse func(string) (*condition.Clause, error)) (*condition.Clause, error) {
	src := strings.TrimSpace(s.condition)
	var clause *condition.Clause
	switch {
	case s.ifExists && s.ifNotExists:
		return nil, cql.Syntaxf("conflicting IF EXISTS and IF NOT EXISTS")
	case (s.ifExists || s.ifNotExists) && src != "":
		return nil, cql.Syntaxf("IF [NOT] EXISTS cannot be combined with conditions")
	case s.ifExists:
		clause = &condition.Clause{IfExists: true}
	case s.ifNotExists:
		clause = &condition.Clause{IfNotExists: true}
	case src != "":
		var err error
		if clause, err = parse(src); err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	switch {
	case s.Kind == Insert && !clause.IfNotExists:
		return nil, cql.Syntaxf("INSERT statements only support IF NOT EXISTS")
	case s.Kind != Insert && clause.IfNotExists:
		return nil, cql.Syntaxf("%s statements do not support IF NOT EXISTS", s.Kind)
	}
	return clause, nil
}

func (s *Statement) checkColumns() error {
	for _, r := range s.where {
		col := s.Table.Column(r.Column)
		if col == nil {
			return cql.Invalidf("Undefined column name %s", r.Column)
		}
		if !col.IsPrimaryKey() {
			return cql.Invalidf("Non PRIMARY KEY columns found in where clause: %s", col.Name)
		}
	}
	for _, o := range s.ops {
		col := s.Table.Column(o.Column)
		if col == nil {
			return cql.Invalidf("Undefined column name %s", o.Column)
		}
		if col.IsPrimaryKey() {
			if s.Kind == Delete {
				return cql.Invalidf("Invalid identifier %s for deletion (should not be a PRIMARY KEY part)", col.Name)
			}
			return cql.Invalidf("PRIMARY KEY part %s found in SET part", col.Name)
		}
	}
	return nil
}

// bindRelations binds WHERE values and folds them into one value per
// partition key column and one restriction per clustering column
func (s *Statement) bindRelations() ([]*cql.Value, []*restriction, error) {
	pk := make([]*cql.Value, len(s.Table.PartitionKey()))
	cks := make([]*restriction, len(s.Table.ClusteringColumns()))

	for _, r := range s.where {
		col := s.Table.Column(r.Column)
		values := make([]*cql.Value, 0, len(r.Values))
		for _, t := range r.Values {
			if t.IsNull() {
				return nil, nil, cql.Invalidf("Invalid null value in condition for column %s", col.Name)
			}
			v, err := t.Bind(col.Type, col.Name)
			if err != nil {
				return nil, nil, err
			}
			values = append(values, v)
		}

		if col.Kind == schema.PartitionKey {
			switch {
			case r.Op == RelIN:
				return nil, nil, cql.Invalidf("IN on the partition key is not supported, a statement targets a single partition")
			case r.Op != RelEQ:
				return nil, nil, cql.Invalidf("Only EQ and IN relation are supported on the partition key (unless you use the token() function)")
			case pk[col.Position] != nil:
				return nil, nil, cql.Invalidf("%s cannot be restricted by more than one relation if it includes an Equal", col.Name)
			}
			pk[col.Position] = values[0]
			continue
		}

		rs := cks[col.Position]
		if rs == nil {
			rs = &restriction{column: col}
			cks[col.Position] = rs
		}
		switch r.Op {
		case RelEQ, RelIN:
			if rs.values != nil || rs.isSlice() {
				return nil, nil, cql.Invalidf("%s cannot be restricted by more than one relation if it includes an Equal", col.Name)
			}
			rs.in = r.Op == RelIN
			rs.values = cql.SetValue(values...).Elems
			if rs.values == nil {
				rs.values = []*cql.Value{}
			}
		default:
			if rs.values != nil {
				return nil, nil, cql.Invalidf("%s cannot be restricted by more than one relation if it includes an Equal", col.Name)
			}
			b := &bound{value: values[0], inclusive: r.Op == RelLTE || r.Op == RelGTE}
			if r.Op == RelGT || r.Op == RelGTE {
				if rs.lower != nil {
					return nil, nil, cql.Invalidf("More than one restriction was found for the start bound on %s", col.Name)
				}
				rs.lower = b
			} else {
				if rs.upper != nil {
					return nil, nil, cql.Invalidf("More than one restriction was found for the end bound on %s", col.Name)
				}
				rs.upper = b
			}
		}
	}
	return pk, cks, nil
}

func (p *Prepared) checkShape(cks []*restriction) error {
	s := p.source
	var opsRegular, opsStatic bool
	for _, o := range s.ops {
		if s.Table.Column(o.Column).IsStatic() {
			opsStatic = true
		} else {
			opsRegular = true
		}
	}
	if s.Kind == Delete && len(s.ops) == 0 {
		opsRegular = true
	}
	condRegular := p.Conditions.TouchesRegular()
	condStatic := p.Conditions.TouchesStatic()

	var anyRestricted, hasIN, hasSlice bool
	fullyRestricted := true
	var missing []string
	for _, rs := range cks {
		switch {
		case rs == nil:
			fullyRestricted = false
		case rs.isSlice():
			fullyRestricted = false
			anyRestricted, hasSlice = true, true
		default:
			anyRestricted = true
			hasIN = hasIN || rs.in
		}
	}
	for i, col := range s.Table.ClusteringColumns() {
		if cks[i] == nil {
			missing = append(missing, col.Name)
		}
	}

	p.StaticOnly = !opsRegular && !condRegular && (opsStatic || condStatic)
	if s.Kind == Insert && anyRestricted {
		p.StaticOnly = false
	}

	updates := "updates"
	if s.Kind == Delete {
		updates = "deletions"
	}
	if p.conditional && hasIN {
		return cql.Invalidf("IN on the clustering key columns is not supported with conditional %s", updates)
	}
	if p.StaticOnly && anyRestricted {
		return cql.Invalidf("Invalid restrictions on clustering columns since the %s statement modifies only static columns", s.Kind)
	}
	if s.Kind == Delete && p.conditional && !fullyRestricted {
		if opsRegular {
			return cql.Invalidf("DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to delete non static columns")
		}
		if condRegular {
			return cql.Invalidf("DELETE statements must restrict all PRIMARY KEY columns with equality relations in order to use IF condition on non static columns")
		}
	}
	if s.Kind != Delete && !p.StaticOnly {
		if hasSlice {
			return cql.Invalidf("Slice restrictions are not supported on the clustering columns in %s statements", s.Kind)
		}
		if !fullyRestricted {
			return cql.Invalidf("Some clustering keys are missing: %s", strings.Join(missing, ", "))
		}
	}
	if s.Kind == Delete && !fullyRestricted && !p.StaticOnly && len(s.ops) > 0 {
		return cql.Invalidf("Range deletions are not supported for specific columns")
	}

	// the restricted columns must form a prefix, only the last may be a slice
	for i, rs := range cks {
		if rs == nil {
			for _, later := range cks[i+1:] {
				if later != nil {
					return cql.Invalidf("PRIMARY KEY column \"%s\" cannot be restricted as preceding column \"%s\" is not restricted", later.column.Name, s.Table.ClusteringColumns()[i].Name)
				}
			}
			break
		}
		if rs.isSlice() && i+1 < len(cks) && cks[i+1] != nil {
			return cql.Invalidf("Clustering column \"%s\" cannot be restricted (preceding column \"%s\" is restricted by a non-EQ relation)", cks[i+1].column.Name, rs.column.Name)
		}
		p.restricted = append(p.restricted, rs)
	}
	return nil
}

func (s *Statement) bindOps() ([]boundOp, error) {
	ops := make([]boundOp, 0, len(s.ops))
	for _, o := range s.ops {
		col := s.Table.Column(o.Column)
		b := boundOp{kind: o.Kind, column: col}
		typ := col.Type
		var err error

		switch o.Kind {
		case OpSet:
			b.value, err = o.Value.Bind(typ, col.Name)

		case OpSetElement, OpDeleteElement:
			if typ.Kind != cql.KindList && typ.Kind != cql.KindMap {
				return nil, cql.Invalidf("Invalid operation (%s) for non list/map column %s", o, col.Name)
			}
			if typ.Frozen {
				return nil, cql.Invalidf("Invalid operation (%s) for frozen collection column %s", o, col.Name)
			}
			if o.Key.IsNull() {
				return nil, cql.Invalidf("Invalid null value for %s element of %s", typ.Kind, col.Name)
			}
			if typ.Kind == cql.KindList {
				b.key, err = o.Key.Bind(cql.Int, "idx("+col.Name+")")
				if err == nil && b.key.Int < 0 {
					err = cql.Invalidf("Invalid negative list index %d", b.key.Int)
				}
			} else {
				b.key, err = o.Key.Bind(typ.Key, "key("+col.Name+")")
			}
			if err == nil && o.Kind == OpSetElement {
				b.value, err = o.Value.Bind(typ.Elem, "value("+col.Name+")")
			}

		case OpSetField, OpDeleteField:
			if typ.Kind != cql.KindUDT {
				return nil, cql.Invalidf("Invalid operation (%s) for non-UDT column %s", o, col.Name)
			}
			if typ.Frozen {
				return nil, cql.Invalidf("Invalid operation (%s) for frozen UDT column %s", o, col.Name)
			}
			b.field = typ.FieldIndex(o.Field)
			if b.field < 0 {
				return nil, cql.Invalidf("UDT column %s does not have a field named %s", col.Name, o.Field)
			}
			if o.Kind == OpSetField {
				b.value, err = o.Value.Bind(typ.Fields[b.field].Type, col.Name+"."+o.Field)
			}
		}
		if err != nil {
			return nil, err
		}
		ops = append(ops, b)
	}
	return ops, nil
}

// expand builds every full clustering key selected by EQ/IN restrictions.
// It returns nil when the clustering key is not fully restricted that way.
func expand(restricted []*restriction, width int) ([][]*cql.Value, error) {
	if len(restricted) < width {
		return nil, nil
	}
	rows := [][]*cql.Value{{}}
	for _, rs := range restricted {
		if rs.isSlice() {
			return nil, nil
		}
		next := make([][]*cql.Value, 0, len(rows)*len(rs.values))
		for _, prefix := range rows {
			for _, v := range rs.values {
				key := make([]*cql.Value, len(prefix), len(prefix)+1)
				copy(key, prefix)
				next = append(next, append(key, v))
			}
		}
		if len(next) > maxCartesianProduct {
			return nil, cql.Invalidf("Cartesian product of IN relations is too large (%d > %d)", len(next), maxCartesianProduct)
		}
		rows = next
	}
	return rows, nil
}

// Statement returns the statement p was prepared from
func (p *Prepared) Statement() *Statement { return p.source }

// Conditional reports whether the statement carries an IF clause
func (p *Prepared) Conditional() bool { return p.conditional }

// Clustering returns the single clustering row the statement reads, or nil
// for static-only and multi-row statements
func (p *Prepared) Clustering() []*cql.Value {
	return p.Conditions.Scope().Clustering
}

// Rows returns the full clustering keys the statement writes
func (p *Prepared) Rows() [][]*cql.Value { return p.rows }

func (p *Prepared) String() string { return p.source.String() }
