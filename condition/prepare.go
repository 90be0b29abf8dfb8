package condition

import (
	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/schema"
)

// Scope selects the row a condition set is evaluated against: the static row
// of the partition or a single clustering row.
type Scope struct {
	Static     bool
	Clustering []*cql.Value
}

type bound struct {
	column *schema.Column
	kind   TargetKind
	key    *cql.Value // map key, or list index as Int
	field  int
	typ    *cql.Type // type of the value being compared
	op     Operator
	value  *cql.Value
	values []*cql.Value
	src    Condition
}

// Set is a prepared, immutable condition set. All literals are bound to the
// type of the value they are compared against.
type Set struct {
	table       *schema.Table
	scope       Scope
	ifExists    bool
	ifNotExists bool
	conds       []bound
	columns     []*schema.Column
}

// Prepare binds a parsed clause to a table
func Prepare(table *schema.Table, clause *Clause) (*Set, error) {
	s := &Set{table: table}
	if clause == nil {
		return s, nil
	}
	s.ifExists = clause.IfExists
	s.ifNotExists = clause.IfNotExists
	seen := make(map[string]bool)
	for _, c := range clause.Conditions {
		b, err := bind(table, c)
		if err != nil {
			return nil, err
		}
		s.conds = append(s.conds, b)
		if !seen[b.column.Name] {
			seen[b.column.Name] = true
			s.columns = append(s.columns, b.column)
		}
	}
	return s, nil
}

func bind(table *schema.Table, c Condition) (bound, error) {
	b := bound{kind: c.Target.Kind, op: c.Op, src: c}
	col := table.Column(c.Target.Column)
	if col == nil {
		return b, cql.Invalidf("Undefined column name %s", c.Target.Column)
	}
	if col.IsPrimaryKey() {
		return b, cql.Invalidf("PRIMARY KEY column '%s' cannot have IF conditions", col.Name)
	}
	b.column = col
	receiver := c.Target.String()

	switch c.Target.Kind {
	case TargetColumn:
		b.typ = col.Type

	case TargetElement:
		switch col.Type.Kind {
		case cql.KindList:
			if c.Target.Key.IsNull() {
				return b, cql.Invalidf("Invalid null value for list index of %s", col.Name)
			}
			idx, err := c.Target.Key.Bind(cql.Int, "index("+col.Name+")")
			if err != nil {
				return b, err
			}
			if idx.Int < 0 {
				return b, cql.Invalidf("Invalid negative list index %d", idx.Int)
			}
			b.key = idx
		case cql.KindMap:
			if c.Target.Key.IsNull() {
				return b, cql.Invalidf("Invalid null value for map key of %s", col.Name)
			}
			k, err := c.Target.Key.Bind(col.Type.Key, "key("+col.Name+")")
			if err != nil {
				return b, err
			}
			b.key = k
		case cql.KindSet:
			return b, cql.Invalidf("Invalid element access syntax for set column %s", col.Name)
		default:
			return b, cql.Invalidf("Invalid element access syntax for non-collection column %s", col.Name)
		}
		b.typ = col.Type.Elem

	case TargetField:
		if col.Type.Kind != cql.KindUDT {
			return b, cql.Invalidf("Invalid field selection: %s of type %s is not a user type", col.Name, col.Type)
		}
		idx := col.Type.FieldIndex(c.Target.Field)
		if idx < 0 {
			return b, cql.Invalidf("%s has no field %s", col.Type.Describe(), c.Target.Field)
		}
		b.field = idx
		b.typ = col.Type.Fields[idx].Type
	}

	if c.Op == IN {
		for _, t := range c.Values {
			v, err := t.Bind(b.typ, receiver)
			if err != nil {
				return b, err
			}
			b.values = append(b.values, emptyAsNull(b, v))
		}
		return b, nil
	}

	if c.Value.IsNull() && c.Op != EQ && c.Op != NEQ {
		return b, cql.Invalidf("Invalid comparison with null for operator \"%s\"", c.Op)
	}
	v, err := c.Value.Bind(b.typ, receiver)
	if err != nil {
		return b, err
	}
	b.value = emptyAsNull(b, v)
	return b, nil
}

// emptyAsNull maps an empty literal for a whole multi-cell collection to null:
// such a column has no cells left once emptied, so it reads back as unset.
func emptyAsNull(b bound, v *cql.Value) *cql.Value {
	if v == nil || b.kind != TargetColumn || !b.typ.IsMultiCell() || !b.typ.IsCollection() {
		return v
	}
	if len(v.Elems) == 0 && len(v.Keys) == 0 {
		return nil
	}
	return v
}

// In returns a copy of the set scoped to one row
func (s *Set) In(scope Scope) *Set {
	c := *s
	c.scope = scope
	return &c
}

// Scope returns the row the set reads
func (s *Set) Scope() Scope { return s.scope }

// Table returns the table the set was prepared for
func (s *Set) Table() *schema.Table { return s.table }

// IfExists reports an IF EXISTS clause
func (s *Set) IfExists() bool { return s.ifExists }

// IfNotExists reports an IF NOT EXISTS clause
func (s *Set) IfNotExists() bool { return s.ifNotExists }

// Conditional reports whether the statement carries any IF clause
func (s *Set) Conditional() bool {
	return s != nil && (s.ifExists || s.ifNotExists || len(s.conds) > 0)
}

// Columns returns the referenced columns in first-reference order
func (s *Set) Columns() []*schema.Column { return s.columns }

// TouchesStatic reports whether any condition reads a static column
func (s *Set) TouchesStatic() bool {
	for _, c := range s.columns {
		if c.IsStatic() {
			return true
		}
	}
	return false
}

// TouchesRegular reports whether any condition reads a regular column
func (s *Set) TouchesRegular() bool {
	for _, c := range s.columns {
		if c.Kind == schema.Regular {
			return true
		}
	}
	return false
}

func (s *Set) String() string {
	switch {
	case s.ifExists:
		return "IF EXISTS"
	case s.ifNotExists:
		return "IF NOT EXISTS"
	}
	clause := &Clause{}
	for _, b := range s.conds {
		clause.Conditions = append(clause.Conditions, b.src)
	}
	return clause.String()
}
