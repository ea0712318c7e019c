package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// tokenKind — тип лексемы выражения.
type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokDot
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
	tokNot
	tokQuestion
	tokColon
	tokOr
	tokAnd
	tokNullish
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lexer разбивает выражение на лексемы.
type lexer struct {
	src string
	pos int
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src}
	var tokens []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			return tokens, nil
		}
	}
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && isSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: lx.pos}, nil
	}

	start := lx.pos
	c := lx.src[lx.pos]
	rest := lx.src[lx.pos:]

	// Операторы из нескольких символов проверяются первыми.
	for _, op := range []struct {
		text string
		kind tokenKind
	}{
		{"===", tokEq}, {"!==", tokNeq},
		{"==", tokEq}, {"!=", tokNeq}, {"<=", tokLte}, {">=", tokGte},
		{"||", tokOr}, {"&&", tokAnd}, {"??", tokNullish},
	} {
		if strings.HasPrefix(rest, op.text) {
			lx.pos += len(op.text)
			return token{kind: op.kind, text: op.text, pos: start}, nil
		}
	}

	switch c {
	case '.':
		lx.pos++
		return token{kind: tokDot, text: ".", pos: start}, nil
	case '[':
		lx.pos++
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case ']':
		lx.pos++
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case '(':
		lx.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		lx.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '!':
		lx.pos++
		return token{kind: tokNot, text: "!", pos: start}, nil
	case '?':
		lx.pos++
		return token{kind: tokQuestion, text: "?", pos: start}, nil
	case ':':
		lx.pos++
		return token{kind: tokColon, text: ":", pos: start}, nil
	case '<':
		lx.pos++
		return token{kind: tokLt, text: "<", pos: start}, nil
	case '>':
		lx.pos++
		return token{kind: tokGt, text: ">", pos: start}, nil
	case '"', '\'':
		return lx.lexString(c)
	}

	if isDigit(c) || (c == '-' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])) {
		return lx.lexNumber()
	}
	if isIdentStart(c) {
		for lx.pos < len(lx.src) && isIdentPart(lx.src[lx.pos]) {
			lx.pos++
		}
		return token{kind: tokIdent, text: lx.src[start:lx.pos], pos: start}, nil
	}

	return token{}, fmt.Errorf("unexpected character %q at %d", c, start)
}

func (lx *lexer) lexString(quote byte) (token, error) {
	start := lx.pos
	lx.pos++
	var sb strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == quote:
			lx.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case c == '\\' && lx.pos+1 < len(lx.src):
			lx.pos++
			switch esc := lx.src[lx.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(esc)
			}
			lx.pos++
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}
	return token{}, fmt.Errorf("unterminated string at %d", start)
}

func (lx *lexer) lexNumber() (token, error) {
	start := lx.pos
	if lx.src[lx.pos] == '-' {
		lx.pos++
	}
	for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos+1 < len(lx.src) && lx.src[lx.pos] == '.' && isDigit(lx.src[lx.pos+1]) {
		lx.pos++
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.pos++
		}
	}
	text := lx.src[start:lx.pos]
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, fmt.Errorf("invalid number %q at %d", text, start)
	}
	return token{kind: tokNumber, text: text, num: n, pos: start}, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isIdentPart допускает '-' внутри имени: id шагов вида "fetch-user".
// Арифметики в языке нет, поэтому неоднозначности не возникает.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '-'
}
