package engine

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Scope — источник значений для корневых имён выражения.
type Scope interface {
	// Lookup возвращает значение имени верхнего уровня.
	Lookup(name string) (any, bool)
}

// ScopeMap — Scope поверх обычной map.
type ScopeMap map[string]any

// Lookup реализует Scope.
func (m ScopeMap) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Expression — разобранное выражение.
type Expression struct {
	src  string
	root node
}

// node — узел AST.
type node interface {
	eval(s Scope) any
}

type (
	literalNode struct{ value any }
	identNode   struct{ name string }
	memberNode  struct {
		object node
		name   string
	}
	indexNode struct {
		object node
		index  node
	}
	notNode     struct{ operand node }
	logicalNode struct {
		op          tokenKind // tokOr, tokAnd, tokNullish
		left, right node
	}
	compareNode struct {
		op          tokenKind
		left, right node
	}
	ternaryNode struct {
		cond, then, otherwise node
	}
)

func (n literalNode) eval(Scope) any { return n.value }

func (n identNode) eval(s Scope) any {
	if s == nil {
		return Undefined
	}
	if v, ok := s.Lookup(n.name); ok {
		return v
	}
	return Undefined
}

func (n memberNode) eval(s Scope) any {
	return member(n.object.eval(s), n.name)
}

func (n indexNode) eval(s Scope) any {
	obj := n.object.eval(s)
	key := n.index.eval(s)
	if k, ok := key.(string); ok {
		return member(obj, k)
	}
	f, ok := toFloat(key)
	if !ok || f != float64(int(f)) {
		return Undefined
	}
	return index(obj, int(f))
}

func (n notNode) eval(s Scope) any {
	return !Truthy(n.operand.eval(s))
}

func (n logicalNode) eval(s Scope) any {
	left := n.left.eval(s)
	switch n.op {
	case tokOr:
		if Truthy(left) {
			return left
		}
	case tokAnd:
		if !Truthy(left) {
			return left
		}
	case tokNullish:
		if !IsNullish(left) {
			return left
		}
	}
	return n.right.eval(s)
}

func (n compareNode) eval(s Scope) any {
	left, right := n.left.eval(s), n.right.eval(s)
	switch n.op {
	case tokEq:
		return looseEqual(left, right)
	case tokNeq:
		return !looseEqual(left, right)
	}
	c, ok := compare(left, right)
	if !ok {
		return false
	}
	switch n.op {
	case tokLt:
		return c < 0
	case tokLte:
		return c <= 0
	case tokGt:
		return c > 0
	default:
		return c >= 0
	}
}

func (n ternaryNode) eval(s Scope) any {
	if Truthy(n.cond.eval(s)) {
		return n.then.eval(s)
	}
	return n.otherwise.eval(s)
}

// exprCache — кэш разобранных выражений.
var exprCache, _ = lru.New[string, *Expression](2048)

// Compile разбирает выражение (без разделителей {{ }}).
// Результат кэшируется.
func Compile(src string) (*Expression, error) {
	if expr, ok := exprCache.Get(src); ok {
		return expr, nil
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpressionSyntax, src, err)
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrExpressionSyntax)
	}
	root, err := p.parseTernary()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrExpressionSyntax, src, err)
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: %q: unexpected %q at %d", ErrExpressionSyntax, src, tok.text, tok.pos)
	}

	expr := &Expression{src: src, root: root}
	exprCache.Add(src, expr)
	return expr, nil
}

// Eval вычисляет выражение. Отсутствующие пути дают Undefined, а не ошибку.
func (e *Expression) Eval(s Scope) any {
	return e.root.eval(s)
}

// String возвращает исходный текст выражения.
func (e *Expression) String() string {
	return e.src
}

// Roots возвращает имена верхнего уровня, на которые ссылается выражение.
func (e *Expression) Roots() []string {
	var out []string
	walk(e.root, func(n node) {
		if id, ok := n.(identNode); ok {
			out = append(out, id.name)
		}
	})
	return out
}

// StepRefs возвращает id шагов, на которые может ссылаться выражение:
// имена верхнего уровня и ключи steps.X / state.X.
func (e *Expression) StepRefs() []string {
	var out []string
	walk(e.root, func(n node) {
		switch x := n.(type) {
		case identNode:
			if x.name != "steps" && x.name != "state" {
				out = append(out, x.name)
			}
		case memberNode:
			if id, ok := x.object.(identNode); ok && (id.name == "steps" || id.name == "state") {
				out = append(out, x.name)
			}
		case indexNode:
			if id, ok := x.object.(identNode); ok && (id.name == "steps" || id.name == "state") {
				if lit, ok := x.index.(literalNode); ok {
					if name, ok := lit.value.(string); ok {
						out = append(out, name)
					}
				}
			}
		}
	})
	return out
}

func walk(n node, fn func(node)) {
	fn(n)
	switch x := n.(type) {
	case memberNode:
		walk(x.object, fn)
	case indexNode:
		walk(x.object, fn)
		walk(x.index, fn)
	case notNode:
		walk(x.operand, fn)
	case logicalNode:
		walk(x.left, fn)
		walk(x.right, fn)
	case compareNode:
		walk(x.left, fn)
		walk(x.right, fn)
	case ternaryNode:
		walk(x.cond, fn)
		walk(x.then, fn)
		walk(x.otherwise, fn)
	}
}

// parser — рекурсивный спуск по приоритетам, от низшего к высшему:
//
//	ternary < ?? < || < && < == != < < <= > >= < ! < .name [i] < primary
type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) error {
	tok := p.advance()
	if tok.kind != kind {
		if tok.kind == tokEOF {
			return fmt.Errorf("expected %s at end of expression", what)
		}
		return fmt.Errorf("expected %s, got %q at %d", what, tok.text, tok.pos)
	}
	return nil
}

func (p *parser) parseTernary() (node, error) {
	cond, err := p.parseNullish()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokQuestion {
		return cond, nil
	}
	p.advance()

	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokColon, "':'"); err != nil {
		return nil, err
	}
	otherwise, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return ternaryNode{cond: cond, then: then, otherwise: otherwise}, nil
}

func (p *parser) parseNullish() (node, error) {
	return p.parseLogical(tokNullish, p.parseOr)
}

func (p *parser) parseOr() (node, error) {
	return p.parseLogical(tokOr, p.parseAnd)
}

func (p *parser) parseAnd() (node, error) {
	return p.parseLogical(tokAnd, p.parseEquality)
}

func (p *parser) parseLogical(op tokenKind, next func() (node, error)) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == op {
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (node, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tokEq || k == tokNeq; k = p.peek().kind {
		p.advance()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = compareNode{op: k, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tokLt || k == tokLte || k == tokGt || k == tokGte; k = p.peek().kind {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = compareNode{op: k, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokDot:
			p.advance()
			tok := p.advance()
			if tok.kind != tokIdent {
				return nil, fmt.Errorf("expected name after '.', got %q at %d", tok.text, tok.pos)
			}
			n = memberNode{object: n, name: tok.text}
		case tokLBracket:
			p.advance()
			idx, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			n = indexNode{object: n, index: idx}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		return literalNode{value: tok.num}, nil
	case tokString:
		return literalNode{value: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return literalNode{value: true}, nil
		case "false":
			return literalNode{value: false}, nil
		case "null":
			return literalNode{value: nil}, nil
		case "undefined":
			return literalNode{value: Undefined}, nil
		}
		return identNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q at %d", tok.text, tok.pos)
	}
}
