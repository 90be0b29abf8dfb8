package cql

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TermKind classifies raw literals before they are bound to a type
type TermKind uint8

const (
	TermNull TermKind = iota
	TermInt
	TermFloat
	TermString
	TermBool
	TermBlob
	TermUUID
	TermList
	TermSet
	TermMap
	TermUDT
)

// Term is an untyped literal as written in a statement. Braces are ambiguous
// between sets, maps and UDT values until bound: {} may become any of them.
type Term struct {
	Kind  TermKind
	Text  string
	Elems []*Term
	Keys  []*Term  // map keys, parallel to Elems
	Names []string // UDT field names, parallel to Elems
}

// Null is the literal null
var Null = &Term{Kind: TermNull}

// IsNull reports whether the term is the null literal
func (t *Term) IsNull() bool {
	return t == nil || t.Kind == TermNull
}

func (t *Term) String() string {
	switch t.Kind {
	case TermNull:
		return "null"
	case TermString:
		return "'" + strings.ReplaceAll(t.Text, "'", "''") + "'"
	case TermBlob:
		return "0x" + t.Text
	case TermList:
		return "[" + joinTerms(t.Elems) + "]"
	case TermSet:
		return "{" + joinTerms(t.Elems) + "}"
	case TermMap:
		parts := make([]string, len(t.Elems))
		for i := range t.Elems {
			parts[i] = t.Keys[i].String() + ": " + t.Elems[i].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TermUDT:
		parts := make([]string, len(t.Elems))
		for i := range t.Elems {
			parts[i] = t.Names[i] + ": " + t.Elems[i].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return t.Text
}

func joinTerms(terms []*Term) string {
	parts := make([]string, len(terms))
	for i, e := range terms {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// ParseTerm parses a single literal such as 42, 'foo', [1, 2] or {a: 1}
func ParseTerm(src string) (*Term, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	t, err := p.ParseTerm()
	if err != nil {
		return nil, err
	}
	if !p.AtEOF() {
		return nil, p.Unexpected()
	}
	return t, nil
}

// Parser is a recursive-descent parser over condition clause tokens
type Parser struct {
	toks []Token
	pos  int
}

// NewParser tokenizes src
func NewParser(src string) (*Parser, error) {
	toks, err := Tokenize(src)
	if err != nil {
		return nil, err
	}
	return &Parser{toks: toks}, nil
}

// Peek returns the next token without consuming it
func (p *Parser) Peek() Token {
	return p.toks[p.pos]
}

// PeekAt returns the token n positions ahead
func (p *Parser) PeekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

// Next consumes a token
func (p *Parser) Next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

// AtEOF reports whether all input was consumed
func (p *Parser) AtEOF() bool {
	return p.Peek().Kind == TokEOF
}

// Keyword consumes the next token if it is the unquoted keyword kw
func (p *Parser) Keyword(kw string) bool {
	t := p.Peek()
	if t.Kind == TokIdent && t.Text == kw {
		p.pos++
		return true
	}
	return false
}

// IsKeyword reports whether the next token is the unquoted keyword kw
func (p *Parser) IsKeyword(kw string) bool {
	t := p.Peek()
	return t.Kind == TokIdent && t.Text == kw
}

// Symbol consumes the next token if it is the symbol s
func (p *Parser) Symbol(s string) bool {
	t := p.Peek()
	if t.Kind == TokSymbol && t.Text == s {
		p.pos++
		return true
	}
	return false
}

// ExpectSymbol consumes the symbol s or fails
func (p *Parser) ExpectSymbol(s string) error {
	if !p.Symbol(s) {
		return Syntaxf("line 1:%d mismatched input '%s' expecting '%s'", p.Peek().Pos, p.describe(p.Peek()), s)
	}
	return nil
}

// Ident consumes an identifier
func (p *Parser) Ident() (string, error) {
	t := p.Peek()
	if t.Kind != TokIdent && t.Kind != TokQuotedIdent {
		return "", Syntaxf("line 1:%d no viable alternative at input '%s'", t.Pos, p.describe(t))
	}
	p.pos++
	return t.Text, nil
}

// Unexpected returns a syntax error positioned at the next token
func (p *Parser) Unexpected() error {
	t := p.Peek()
	return Syntaxf("line 1:%d extraneous input '%s'", t.Pos, p.describe(t))
}

func (p *Parser) describe(t Token) string {
	if t.Kind == TokEOF {
		return "<EOF>"
	}
	return t.Text
}

// ParseTerm parses one literal
func (p *Parser) ParseTerm() (*Term, error) {
	t := p.Peek()
	switch t.Kind {
	case TokInt:
		p.pos++
		return &Term{Kind: TermInt, Text: t.Text}, nil
	case TokFloat:
		p.pos++
		return &Term{Kind: TermFloat, Text: t.Text}, nil
	case TokString:
		p.pos++
		return &Term{Kind: TermString, Text: t.Text}, nil
	case TokBlob:
		p.pos++
		return &Term{Kind: TermBlob, Text: t.Text}, nil
	case TokUUID:
		p.pos++
		return &Term{Kind: TermUUID, Text: t.Text}, nil
	case TokIdent:
		switch t.Text {
		case "null":
			p.pos++
			return Null, nil
		case "true", "false":
			p.pos++
			return &Term{Kind: TermBool, Text: t.Text}, nil
		case "nan", "infinity":
			p.pos++
			return &Term{Kind: TermFloat, Text: t.Text}, nil
		}
	case TokSymbol:
		switch t.Text {
		case "[":
			p.pos++
			elems, err := p.termList("]")
			if err != nil {
				return nil, err
			}
			return &Term{Kind: TermList, Elems: elems}, nil
		case "{":
			p.pos++
			return p.braces()
		case "-":
			if n := p.PeekAt(1); n.Kind == TokIdent && (n.Text == "nan" || n.Text == "infinity") {
				p.pos += 2
				return &Term{Kind: TermFloat, Text: "-" + n.Text}, nil
			}
		}
	}
	return nil, Syntaxf("line 1:%d no viable alternative at input '%s'", t.Pos, p.describe(t))
}

func (p *Parser) termList(closing string) ([]*Term, error) {
	var out []*Term
	if p.Symbol(closing) {
		return out, nil
	}
	for {
		e, err := p.ParseTerm()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.Symbol(closing) {
			return out, nil
		}
		if err := p.ExpectSymbol(","); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) braces() (*Term, error) {
	if p.Symbol("}") {
		return &Term{Kind: TermSet}, nil
	}
	first := p.Peek()
	isName := first.Kind == TokQuotedIdent ||
		(first.Kind == TokIdent && first.Text != "null" && first.Text != "true" && first.Text != "false" &&
			first.Text != "nan" && first.Text != "infinity")
	if isName && p.PeekAt(1).Kind == TokSymbol && p.PeekAt(1).Text == ":" {
		udt := &Term{Kind: TermUDT}
		for {
			name, err := p.Ident()
			if err != nil {
				return nil, err
			}
			if err := p.ExpectSymbol(":"); err != nil {
				return nil, err
			}
			v, err := p.ParseTerm()
			if err != nil {
				return nil, err
			}
			udt.Names = append(udt.Names, name)
			udt.Elems = append(udt.Elems, v)
			if p.Symbol("}") {
				return udt, nil
			}
			if err := p.ExpectSymbol(","); err != nil {
				return nil, err
			}
		}
	}

	k, err := p.ParseTerm()
	if err != nil {
		return nil, err
	}
	if !p.Symbol(":") {
		set := &Term{Kind: TermSet, Elems: []*Term{k}}
		if p.Symbol("}") {
			return set, nil
		}
		if err := p.ExpectSymbol(","); err != nil {
			return nil, err
		}
		rest, err := p.termList("}")
		if err != nil {
			return nil, err
		}
		set.Elems = append(set.Elems, rest...)
		return set, nil
	}

	m := &Term{Kind: TermMap}
	for {
		v, err := p.ParseTerm()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, k)
		m.Elems = append(m.Elems, v)
		if p.Symbol("}") {
			return m, nil
		}
		if err := p.ExpectSymbol(","); err != nil {
			return nil, err
		}
		if k, err = p.ParseTerm(); err != nil {
			return nil, err
		}
		if err := p.ExpectSymbol(":"); err != nil {
			return nil, err
		}
	}
}

var termConstantNames = map[TermKind]string{
	TermInt:    "INTEGER",
	TermFloat:  "FLOAT",
	TermString: "STRING",
	TermBool:   "BOOLEAN",
	TermBlob:   "HEX",
	TermUUID:   "UUID",
}

var termLiteralNames = map[TermKind]string{
	TermList: "list",
	TermSet:  "set",
	TermMap:  "map",
	TermUDT:  "user type",
}

func (t *Term) mismatch(typ *Type, receiver string) error {
	if name, ok := termConstantNames[t.Kind]; ok {
		return Invalidf("Invalid %s constant (%s) for \"%s\" of type %s", name, t.Text, receiver, typ)
	}
	return Invalidf("Invalid %s literal for %s of type %s", termLiteralNames[t.Kind], receiver, typ)
}

// Bind type-checks the term against typ and decodes it. receiver names the
// column, element or field being assigned or compared, for error messages.
// The null literal binds to a nil Value.
func (t *Term) Bind(typ *Type, receiver string) (*Value, error) {
	if t.IsNull() {
		return nil, nil
	}
	switch typ.Kind {
	case KindInt, KindBigInt, KindTimestamp:
		if t.Kind != TermInt {
			return nil, t.mismatch(typ, receiver)
		}
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil || (typ.Kind == KindInt && (n < math.MinInt32 || n > math.MaxInt32)) {
			return nil, Invalidf("Invalid INTEGER constant (%s) for \"%s\" of type %s: out of range", t.Text, receiver, typ)
		}
		return IntValue(n), nil

	case KindDouble:
		if t.Kind != TermInt && t.Kind != TermFloat {
			return nil, t.mismatch(typ, receiver)
		}
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, Invalidf("Invalid FLOAT constant (%s) for \"%s\" of type %s", t.Text, receiver, typ)
		}
		return DoubleValue(f), nil

	case KindBoolean:
		if t.Kind != TermBool {
			return nil, t.mismatch(typ, receiver)
		}
		return BoolValue(t.Text == "true"), nil

	case KindText:
		if t.Kind != TermString {
			return nil, t.mismatch(typ, receiver)
		}
		return TextValue(t.Text), nil

	case KindBlob:
		if t.Kind != TermBlob {
			return nil, t.mismatch(typ, receiver)
		}
		b, err := hex.DecodeString(t.Text)
		if err != nil {
			return nil, Invalidf("Invalid HEX constant (0x%s) for \"%s\" of type %s", t.Text, receiver, typ)
		}
		return BlobValue(b), nil

	case KindUUID:
		if t.Kind != TermUUID && t.Kind != TermString {
			return nil, t.mismatch(typ, receiver)
		}
		u, err := uuid.Parse(t.Text)
		if err != nil {
			return nil, Invalidf("Invalid UUID constant (%s) for \"%s\" of type %s", t.Text, receiver, typ)
		}
		return UUIDValue(u), nil

	case KindList:
		if t.Kind != TermList {
			return nil, t.mismatch(typ, receiver)
		}
		elems, err := bindElems(t.Elems, typ.Elem, receiver)
		if err != nil {
			return nil, err
		}
		return ListValue(elems...), nil

	case KindSet:
		if t.Kind != TermSet {
			return nil, t.mismatch(typ, receiver)
		}
		elems, err := bindElems(t.Elems, typ.Elem, receiver)
		if err != nil {
			return nil, err
		}
		return SetValue(elems...), nil

	case KindMap:
		if t.Kind != TermMap && !(t.Kind == TermSet && len(t.Elems) == 0) {
			return nil, t.mismatch(typ, receiver)
		}
		keys, err := bindElems(t.Keys, typ.Key, "key("+receiver+")")
		if err != nil {
			return nil, err
		}
		vals, err := bindElems(t.Elems, typ.Elem, "value("+receiver+")")
		if err != nil {
			return nil, err
		}
		return MapValue(keys, vals), nil

	case KindUDT:
		if t.Kind != TermUDT && !(t.Kind == TermSet && len(t.Elems) == 0) {
			return nil, t.mismatch(typ, receiver)
		}
		fields := make([]*Value, len(typ.Fields))
		for i, name := range t.Names {
			idx := typ.FieldIndex(name)
			if idx < 0 {
				return nil, Invalidf("Unknown field '%s' in value of user defined type %s", name, typ.Name)
			}
			v, err := t.Elems[i].Bind(typ.Fields[idx].Type, receiver+"."+name)
			if err != nil {
				return nil, err
			}
			fields[idx] = v
		}
		return UDTValue(fields...), nil
	}
	return nil, t.mismatch(typ, receiver)
}

func bindElems(terms []*Term, typ *Type, receiver string) ([]*Value, error) {
	out := make([]*Value, 0, len(terms))
	for _, e := range terms {
		if e.IsNull() {
			return nil, Invalidf("null is not supported inside collections")
		}
		v, err := e.Bind(typ, receiver)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
