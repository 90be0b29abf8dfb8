package condition

import (
	"strings"

	"github.com/maxpert/lwt/cql"
)

// TargetKind distinguishes what a condition reads
type TargetKind uint8

const (
	TargetColumn TargetKind = iota
	TargetElement
	TargetField
)

// Target is the left-hand side of a condition: a column, an element of a
// collection column (col[key]) or a field of a UDT column (col.field).
type Target struct {
	Kind   TargetKind
	Column string
	Key    *cql.Term
	Field  string
}

// Column targets a whole column
func Column(name string) Target {
	return Target{Kind: TargetColumn, Column: name}
}

// ElementOf targets col[key]
func ElementOf(name string, key *cql.Term) Target {
	return Target{Kind: TargetElement, Column: name, Key: key}
}

// FieldOf targets col.field
func FieldOf(name, field string) Target {
	return Target{Kind: TargetField, Column: name, Field: field}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetElement:
		return t.Column + "[" + t.Key.String() + "]"
	case TargetField:
		return t.Column + "." + t.Field
	}
	return t.Column
}

// Operator is a comparison operator
type Operator uint8

const (
	EQ Operator = iota
	NEQ
	LT
	LTE
	GT
	GTE
	IN
)

var operatorText = [...]string{"=", "!=", "<", "<=", ">", ">=", "IN"}

func (o Operator) String() string {
	if int(o) < len(operatorText) {
		return operatorText[o]
	}
	return "?"
}

// Condition is one raw, unbound predicate
type Condition struct {
	Target Target
	Op     Operator
	Value  *cql.Term   // for every operator but IN
	Values []*cql.Term // IN list
}

func (c Condition) String() string {
	if c.Op == IN {
		parts := make([]string, len(c.Values))
		for i, v := range c.Values {
			parts[i] = v.String()
		}
		return c.Target.String() + " IN (" + strings.Join(parts, ", ") + ")"
	}
	return c.Target.String() + " " + c.Op.String() + " " + c.Value.String()
}

// Clause is a parsed IF clause: IF EXISTS, IF NOT EXISTS or a conjunction of
// conditions. A Clause is immutable once built.
type Clause struct {
	IfExists    bool
	IfNotExists bool
	Conditions  []Condition
}

func (c *Clause) String() string {
	switch {
	case c == nil:
		return ""
	case c.IfExists:
		return "IF EXISTS"
	case c.IfNotExists:
		return "IF NOT EXISTS"
	}
	parts := make([]string, len(c.Conditions))
	for i, cond := range c.Conditions {
		parts[i] = cond.String()
	}
	return "IF " + strings.Join(parts, " AND ")
}
