package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/lwt/cql"
	"github.com/maxpert/lwt/schema"
)

// Kind is the statement verb
type Kind uint8

const (
	Insert Kind = iota
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	default:
		return "DELETE"
	}
}

// RelationOp is the operator of a WHERE relation
type RelationOp uint8

const (
	RelEQ RelationOp = iota
	RelIN
	RelLT
	RelLTE
	RelGT
	RelGTE
)

var relationText = [...]string{"=", "IN", "<", "<=", ">", ">="}

func (o RelationOp) String() string { return relationText[o] }

// Relation restricts one primary key column
type Relation struct {
	Column string
	Op     RelationOp
	Values []*cql.Term
}

// OpKind is the kind of a column operation
type OpKind uint8

const (
	OpSet OpKind = iota
	OpSetElement
	OpSetField
	OpDelete
	OpDeleteElement
	OpDeleteField
)

// Operation is one SET assignment or DELETE selector
type Operation struct {
	Kind   OpKind
	Column string
	Key    *cql.Term // element key or list index
	Field  string
	Value  *cql.Term
}

func (o Operation) String() string {
	switch o.Kind {
	case OpSet:
		return o.Column + " = " + o.Value.String()
	case OpSetElement:
		return o.Column + "[" + o.Key.String() + "] = " + o.Value.String()
	case OpSetField:
		return o.Column + "." + o.Field + " = " + o.Value.String()
	case OpDeleteElement:
		return o.Column + "[" + o.Key.String() + "]"
	case OpDeleteField:
		return o.Column + "." + o.Field
	}
	return o.Column
}

// Statement is a single INSERT, UPDATE or DELETE with an optional IF clause,
// assembled with the builder methods below. Literal arguments are CQL literal
// text ("0", "'foo'", "{'a': 1}"); malformed literals are reported by Prepare.
type Statement struct {
	Kind  Kind
	Table *schema.Table

	where       []Relation
	ops         []Operation
	condition   string
	ifExists    bool
	ifNotExists bool
	ttl         time.Duration
	hasTTL      bool
	errs        []error
}

// NewInsert starts an INSERT into table
func NewInsert(table *schema.Table) *Statement {
	return &Statement{Kind: Insert, Table: table}
}

// NewUpdate starts an UPDATE of table
func NewUpdate(table *schema.Table) *Statement {
	return &Statement{Kind: Update, Table: table}
}

// NewDelete starts a DELETE from table
func NewDelete(table *schema.Table) *Statement {
	return &Statement{Kind: Delete, Table: table}
}

func (s *Statement) term(src string) *cql.Term {
	t, err := cql.ParseTerm(src)
	if err != nil {
		s.errs = append(s.errs, err)
		return cql.Null
	}
	return t
}

// Value assigns a column of an INSERT. Primary key columns become the row key.
func (s *Statement) Value(column, literal string) *Statement {
	if col := s.Table.Column(column); col != nil && col.IsPrimaryKey() {
		return s.Where(column, literal)
	}
	return s.Set(column, literal)
}

// Where adds an equality relation
func (s *Statement) Where(column, literal string) *Statement {
	s.where = append(s.where, Relation{Column: column, Op: RelEQ, Values: []*cql.Term{s.term(literal)}})
	return s
}

// WhereIn adds an IN relation
func (s *Statement) WhereIn(column string, literals ...string) *Statement {
	r := Relation{Column: column, Op: RelIN}
	for _, l := range literals {
		r.Values = append(r.Values, s.term(l))
	}
	s.where = append(s.where, r)
	return s
}

// WhereRange adds a slice relation; op is one of <, <=, >, >=
func (s *Statement) WhereRange(column, op, literal string) *Statement {
	var rel RelationOp
	switch op {
	case "<":
		rel = RelLT
	case "<=":
		rel = RelLTE
	case ">":
		rel = RelGT
	case ">=":
		rel = RelGTE
	default:
		s.errs = append(s.errs, cql.Syntaxf("no viable alternative at input '%s'", op))
		return s
	}
	s.where = append(s.where, Relation{Column: column, Op: rel, Values: []*cql.Term{s.term(literal)}})
	return s
}

// Set assigns a whole column
func (s *Statement) Set(column, literal string) *Statement {
	s.ops = append(s.ops, Operation{Kind: OpSet, Column: column, Value: s.term(literal)})
	return s
}

// SetElement assigns column[key] of a list or map
func (s *Statement) SetElement(column, key, literal string) *Statement {
	s.ops = append(s.ops, Operation{Kind: OpSetElement, Column: column, Key: s.term(key), Value: s.term(literal)})
	return s
}

// SetField assigns column.field of a UDT
func (s *Statement) SetField(column, field, literal string) *Statement {
	s.ops = append(s.ops, Operation{Kind: OpSetField, Column: column, Field: field, Value: s.term(literal)})
	return s
}

// DeleteColumns selects whole columns to delete. A DELETE without selectors
// removes the whole row (or partition).
func (s *Statement) DeleteColumns(columns ...string) *Statement {
	for _, c := range columns {
		s.ops = append(s.ops, Operation{Kind: OpDelete, Column: c})
	}
	return s
}

// DeleteElement selects column[key] of a list or map
func (s *Statement) DeleteElement(column, key string) *Statement {
	s.ops = append(s.ops, Operation{Kind: OpDeleteElement, Column: column, Key: s.term(key)})
	return s
}

// DeleteField selects column.field of a UDT
func (s *Statement) DeleteField(column, field string) *Statement {
	s.ops = append(s.ops, Operation{Kind: OpDeleteField, Column: column, Field: field})
	return s
}

// If sets the condition clause, e.g. "v1 = 2 AND m['k'] != null"
func (s *Statement) If(clause string) *Statement {
	s.condition = clause
	return s
}

func (s *Statement) IfExists() *Statement {
	s.ifExists = true
	return s
}

func (s *Statement) IfNotExists() *Statement {
	s.ifNotExists = true
	return s
}

// UsingTTL expires written cells (and the INSERT row marker) after ttl
func (s *Statement) UsingTTL(ttl time.Duration) *Statement {
	s.ttl = ttl
	s.hasTTL = true
	return s
}

// Conditional reports whether the statement carries an IF clause
func (s *Statement) Conditional() bool {
	return s.ifExists || s.ifNotExists || strings.TrimSpace(s.condition) != ""
}

func (s *Statement) String() string {
	var sb strings.Builder
	switch s.Kind {
	case Insert:
		fmt.Fprintf(&sb, "INSERT INTO %s", s.Table)
		var cols, vals []string
		for _, r := range s.where {
			cols = append(cols, r.Column)
			vals = append(vals, r.Values[0].String())
		}
		for _, o := range s.ops {
			cols = append(cols, o.Column)
			vals = append(vals, o.Value.String())
		}
		fmt.Fprintf(&sb, " (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(vals, ", "))
	case Update:
		fmt.Fprintf(&sb, "UPDATE %s", s.Table)
	case Delete:
		sb.WriteString("DELETE")
		if len(s.ops) > 0 {
			sb.WriteString(" " + joinOps(s.ops))
		}
		fmt.Fprintf(&sb, " FROM %s", s.Table)
	}
	if s.hasTTL {
		fmt.Fprintf(&sb, " USING TTL %d", int64(s.ttl/time.Second))
	}
	if s.Kind == Update {
		sb.WriteString(" SET " + joinOps(s.ops))
	}
	if s.Kind != Insert && len(s.where) > 0 {
		parts := make([]string, len(s.where))
		for i, r := range s.where {
			parts[i] = r.String()
		}
		sb.WriteString(" WHERE " + strings.Join(parts, " AND "))
	}
	switch {
	case s.ifExists:
		sb.WriteString(" IF EXISTS")
	case s.ifNotExists:
		sb.WriteString(" IF NOT EXISTS")
	case s.condition != "":
		c := strings.TrimSpace(s.condition)
		if !strings.HasPrefix(strings.ToUpper(c), "IF ") {
			c = "IF " + c
		}
		sb.WriteString(" " + c)
	}
	return sb.String()
}

func (r Relation) String() string {
	if r.Op == RelIN {
		parts := make([]string, len(r.Values))
		for i, v := range r.Values {
			parts[i] = v.String()
		}
		return r.Column + " IN (" + strings.Join(parts, ", ") + ")"
	}
	return r.Column + " " + r.Op.String() + " " + r.Values[0].String()
}

func joinOps(ops []Operation) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}
