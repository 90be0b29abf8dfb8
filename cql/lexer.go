package cql

import (
	"strings"
)

// TokenKind classifies lexer tokens
type TokenKind uint8

const (
	TokEOF TokenKind = iota
	TokIdent
	TokQuotedIdent
	TokInt
	TokFloat
	TokString
	TokBlob
	TokUUID
	TokSymbol
)

// Token is a lexed unit of a condition clause. Unquoted identifiers are lower-cased.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

var twoCharSymbols = []string{"!=", "<=", ">="}

const singleCharSymbols = "=<>()[]{},:.;+-?"

// Tokenize splits src into tokens, ending with a TokEOF token
func Tokenize(src string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			s, n, err := scanQuoted(src, i, '\'')
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokString, Text: s, Pos: i})
			i += n
		case c == '"':
			s, n, err := scanQuoted(src, i, '"')
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: TokQuotedIdent, Text: s, Pos: i})
			i += n
		case isUUIDAt(src, i):
			toks = append(toks, Token{Kind: TokUUID, Text: strings.ToLower(src[i : i+36]), Pos: i})
			i += 36
		case c == '0' && i+1 < len(src) && (src[i+1] == 'x' || src[i+1] == 'X'):
			j := i + 2
			for j < len(src) && isHex(src[j]) {
				j++
			}
			toks = append(toks, Token{Kind: TokBlob, Text: src[i+2 : j], Pos: i})
			i = j
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1]) && !followsOperand(toks)):
			kind, n := scanNumber(src, i)
			toks = append(toks, Token{Kind: kind, Text: src[i : i+n], Pos: i})
			i += n
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, Token{Kind: TokIdent, Text: strings.ToLower(src[i:j]), Pos: i})
			i = j
		default:
			matched := false
			for _, sym := range twoCharSymbols {
				if strings.HasPrefix(src[i:], sym) {
					toks = append(toks, Token{Kind: TokSymbol, Text: sym, Pos: i})
					i += len(sym)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.IndexByte(singleCharSymbols, c) < 0 {
				return nil, Syntaxf("line 1:%d no viable alternative at character '%c'", i, c)
			}
			toks = append(toks, Token{Kind: TokSymbol, Text: string(c), Pos: i})
			i++
		}
	}
	return append(toks, Token{Kind: TokEOF, Pos: len(src)}), nil
}

// followsOperand reports whether a '-' at this point is a binary minus rather
// than the sign of a number literal.
func followsOperand(toks []Token) bool {
	if len(toks) == 0 {
		return false
	}
	last := toks[len(toks)-1]
	switch last.Kind {
	case TokInt, TokFloat, TokString, TokBlob, TokUUID, TokQuotedIdent:
		return true
	case TokSymbol:
		return last.Text == ")" || last.Text == "]" || last.Text == "}"
	}
	return false
}

func scanQuoted(src string, start int, quote byte) (string, int, error) {
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		if src[i] == quote {
			if i+1 < len(src) && src[i+1] == quote {
				sb.WriteByte(quote)
				i += 2
				continue
			}
			return sb.String(), i + 1 - start, nil
		}
		sb.WriteByte(src[i])
		i++
	}
	return "", 0, Syntaxf("line 1:%d unterminated literal starting with %c", start, quote)
}

func scanNumber(src string, start int) (TokenKind, int) {
	i := start
	if src[i] == '-' {
		i++
	}
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	kind := TokInt
	if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
		kind = TokFloat
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			kind = TokFloat
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			i = j
		}
	}
	return kind, i - start
}

func isUUIDAt(src string, i int) bool {
	if len(src)-i < 36 {
		return false
	}
	for j := 0; j < 36; j++ {
		c := src[i+j]
		switch j {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(c) {
				return false
			}
		}
	}
	return len(src) == i+36 || !isIdentPart(src[i+36])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
