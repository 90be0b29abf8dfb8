package condition

import (
	"github.com/maxpert/lwt/cql"
)

var comparisonOps = map[string]Operator{
	"=":  EQ,
	"!=": NEQ,
	"<":  LT,
	"<=": LTE,
	">":  GT,
	">=": GTE,
}

// Parse parses an IF clause such as "IF v1 = 2 AND m['k'] IN ('a', null)".
// The leading IF keyword is optional.
func Parse(src string) (*Clause, error) {
	p, err := cql.NewParser(src)
	if err != nil {
		return nil, err
	}
	p.Keyword("if")

	clause := &Clause{}
	switch {
	case p.Keyword("exists"):
		clause.IfExists = true
	case p.IsKeyword("not") && p.PeekAt(1).Kind == cql.TokIdent && p.PeekAt(1).Text == "exists":
		p.Next()
		p.Next()
		clause.IfNotExists = true
	default:
		for {
			c, err := parseCondition(p)
			if err != nil {
				return nil, err
			}
			clause.Conditions = append(clause.Conditions, c)
			if !p.Keyword("and") {
				break
			}
		}
	}
	if !p.AtEOF() {
		return nil, p.Unexpected()
	}
	return clause, nil
}

func parseCondition(p *cql.Parser) (Condition, error) {
	var c Condition
	name, err := p.Ident()
	if err != nil {
		return c, err
	}
	c.Target = Column(name)
	switch {
	case p.Symbol("["):
		key, err := p.ParseTerm()
		if err != nil {
			return c, err
		}
		if err := p.ExpectSymbol("]"); err != nil {
			return c, err
		}
		c.Target = ElementOf(name, key)
	case p.Symbol("."):
		field, err := p.Ident()
		if err != nil {
			return c, err
		}
		c.Target = FieldOf(name, field)
	}

	if p.IsKeyword("contains") {
		t := p.Peek()
		return c, cql.Syntaxf("line 1:%d no viable alternative at input 'contains': CONTAINS is not supported in conditions", t.Pos)
	}

	if p.Keyword("in") {
		c.Op = IN
		if !p.Symbol("(") {
			t := p.Peek()
			return c, cql.Syntaxf("line 1:%d mismatched input '%s' expecting '('", t.Pos, describe(t))
		}
		if p.Symbol(")") {
			return c, nil
		}
		for {
			v, err := p.ParseTerm()
			if err != nil {
				return c, err
			}
			c.Values = append(c.Values, v)
			if p.Symbol(")") {
				return c, nil
			}
			if err := p.ExpectSymbol(","); err != nil {
				return c, err
			}
		}
	}

	t := p.Peek()
	op, ok := comparisonOps[t.Text]
	if t.Kind != cql.TokSymbol || !ok {
		return c, cql.Syntaxf("line 1:%d no viable alternative at input '%s'", t.Pos, describe(t))
	}
	p.Next()
	c.Op = op
	if c.Value, err = p.ParseTerm(); err != nil {
		return c, err
	}
	return c, nil
}

func describe(t cql.Token) string {
	if t.Kind == cql.TokEOF {
		return "<EOF>"
	}
	return t.Text
}
