package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// The expression policy kind evaluates a boolean expression over a
// whitelisted variable set. The grammar is deliberately small: literals,
// identifiers, comparison and boolean operators, parentheses. No loops,
// no function calls, no host access. Evaluation is bounded by a hard step
// budget and fails closed on any error.

const (
	// maxExprLen caps the expression source length.
	maxExprLen = 4096
	// maxEvalSteps caps the number of node evaluations.
	maxEvalSteps = 1024
)

var (
	errStepBudget   = errors.New("evaluation step budget exceeded")
	errNotBoolean   = errors.New("expression did not evaluate to a boolean")
	errSourceTooBig = errors.New("expression source too large")
)

// EvalExpression parses and evaluates source against the context.
func EvalExpression(source string, ctx *Context) (bool, error) {
	if len(source) > maxExprLen {
		return false, errSourceTooBig
	}
	node, err := parseExpr(source)
	if err != nil {
		return false, err
	}
	ev := &evaluator{ctx: ctx, budget: maxEvalSteps}
	v, err := ev.eval(node)
	if err != nil {
		return false, err
	}
	b, ok := v.(boolVal)
	if !ok {
		return false, errNotBoolean
	}
	return bool(b), nil
}

// --- values ---

type value interface{ typeName() string }

type boolVal bool
type intVal int64
type strVal string

func (boolVal) typeName() string { return "bool" }
func (intVal) typeName() string  { return "int" }
func (strVal) typeName() string  { return "string" }

// --- AST ---

type node interface{}

type litNode struct{ val value }
type identNode struct{ name string }
type notNode struct{ operand node }
type binaryNode struct {
	op          string
	left, right node
}

// --- lexer ---

type token struct {
	kind string // ident, int, str, op, eof
	text string
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: "eof"}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '(' || c == ')':
		l.pos++
		return token{kind: "op", text: string(c)}, nil
	case c == '!':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: "op", text: "!="}, nil
		}
		l.pos++
		return token{kind: "op", text: "!"}, nil
	case c == '=':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: "op", text: "=="}, nil
		}
		return token{}, fmt.Errorf("unexpected %q at %d", c, l.pos)
	case c == '<' || c == '>':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			op := string(c) + "="
			l.pos += 2
			return token{kind: "op", text: op}, nil
		}
		l.pos++
		return token{kind: "op", text: string(c)}, nil
	case c == '&':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '&' {
			l.pos += 2
			return token{kind: "op", text: "&&"}, nil
		}
		return token{}, fmt.Errorf("unexpected %q at %d", c, l.pos)
	case c == '|':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '|' {
			l.pos += 2
			return token{kind: "op", text: "||"}, nil
		}
		return token{}, fmt.Errorf("unexpected %q at %d", c, l.pos)
	case c == '\'' || c == '"':
		quote := c
		start := l.pos + 1
		end := start
		for end < len(l.src) && l.src[end] != quote {
			end++
		}
		if end >= len(l.src) {
			return token{}, errors.New("unterminated string literal")
		}
		l.pos = end + 1
		return token{kind: "str", text: l.src[start:end]}, nil
	case c >= '0' && c <= '9' || c == '-':
		start := l.pos
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
		}
		return token{kind: "int", text: l.src[start:l.pos]}, nil
	case isIdentByte(c):
		start := l.pos
		for l.pos < len(l.src) && (isIdentByte(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: "ident", text: l.src[start:l.pos]}, nil
	default:
		return token{}, fmt.Errorf("unexpected %q at %d", c, l.pos)
	}
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// --- parser ---

type parser struct {
	lex *lexer
	tok token
}

func parseExpr(source string) (node, error) {
	p := &parser{lex: &lexer{src: source}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != "eof" {
		return nil, fmt.Errorf("unexpected trailing token %q", p.tok.text)
	}
	return n, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == "op" && p.tok.text == "||" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == "op" && p.tok.text == "&&" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == "op" && comparisonOps[p.tok.text] {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == "op" && p.tok.text == "!" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	switch {
	case p.tok.kind == "op" && p.tok.text == "(":
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != "op" || p.tok.text != ")" {
			return nil, errors.New("missing closing parenthesis")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case p.tok.kind == "int":
		i, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer literal %q", p.tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{val: intVal(i)}, nil
	case p.tok.kind == "str":
		s := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{val: strVal(s)}, nil
	case p.tok.kind == "ident":
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return &litNode{val: boolVal(true)}, nil
		case "false":
			return &litNode{val: boolVal(false)}, nil
		}
		return &identNode{name: name}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", p.tok.text)
	}
}

// --- evaluator ---

type evaluator struct {
	ctx    *Context
	budget int
}

func (e *evaluator) step() error {
	e.budget--
	if e.budget < 0 {
		return errStepBudget
	}
	return nil
}

func (e *evaluator) eval(n node) (value, error) {
	if err := e.step(); err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *litNode:
		return n.val, nil
	case *identNode:
		v, ok := e.resolve(n.name)
		if !ok {
			return nil, fmt.Errorf("unknown variable %q", n.name)
		}
		return v, nil
	case *notNode:
		v, err := e.eval(n.operand)
		if err != nil {
			return nil, err
		}
		b, ok := v.(boolVal)
		if !ok {
			return nil, fmt.Errorf("operator ! requires bool, got %s", v.typeName())
		}
		return boolVal(!b), nil
	case *binaryNode:
		return e.evalBinary(n)
	default:
		return nil, errors.New("unknown expression node")
	}
}

func (e *evaluator) evalBinary(n *binaryNode) (value, error) {
	// Boolean operators short-circuit.
	if n.op == "&&" || n.op == "||" {
		lv, err := e.eval(n.left)
		if err != nil {
			return nil, err
		}
		lb, ok := lv.(boolVal)
		if !ok {
			return nil, fmt.Errorf("operator %s requires bool, got %s", n.op, lv.typeName())
		}
		if n.op == "&&" && !bool(lb) {
			return boolVal(false), nil
		}
		if n.op == "||" && bool(lb) {
			return boolVal(true), nil
		}
		rv, err := e.eval(n.right)
		if err != nil {
			return nil, err
		}
		rb, ok := rv.(boolVal)
		if !ok {
			return nil, fmt.Errorf("operator %s requires bool, got %s", n.op, rv.typeName())
		}
		return rb, nil
	}

	lv, err := e.eval(n.left)
	if err != nil {
		return nil, err
	}
	rv, err := e.eval(n.right)
	if err != nil {
		return nil, err
	}
	if lv.typeName() != rv.typeName() {
		return nil, fmt.Errorf("cannot compare %s with %s", lv.typeName(), rv.typeName())
	}
	switch n.op {
	case "==":
		return boolVal(lv == rv), nil
	case "!=":
		return boolVal(lv != rv), nil
	}
	// Ordering applies to ints and strings only.
	switch l := lv.(type) {
	case intVal:
		r := rv.(intVal)
		return orderResult(n.op, int64(l) < int64(r), l == r)
	case strVal:
		r := rv.(strVal)
		return orderResult(n.op, string(l) < string(r), l == r)
	default:
		return nil, fmt.Errorf("operator %s not defined for %s", n.op, lv.typeName())
	}
}

func orderResult(op string, less, equal bool) (value, error) {
	switch op {
	case "<":
		return boolVal(less), nil
	case "<=":
		return boolVal(less || equal), nil
	case ">":
		return boolVal(!less && !equal), nil
	case ">=":
		return boolVal(!less), nil
	default:
		return nil, fmt.Errorf("unknown operator %s", op)
	}
}

// resolve maps a whitelisted variable name to its value. Collected prompt
// answers are exposed under field.<name>.
func (e *evaluator) resolve(name string) (value, bool) {
	switch name {
	case "pending":
		return boolVal(e.ctx.Pending), true
	case "authenticated":
		return boolVal(e.ctx.Authenticated), true
	case "flow.slug":
		return strVal(e.ctx.FlowSlug), true
	case "flow.designation":
		return strVal(e.ctx.Designation), true
	case "user.name":
		if e.ctx.User == nil {
			return strVal(""), true
		}
		return strVal(e.ctx.User.Name), true
	case "user.email":
		if e.ctx.User == nil {
			return strVal(""), true
		}
		return strVal(e.ctx.User.Email), true
	case "user.is_admin":
		return boolVal(e.ctx.User != nil && e.ctx.User.IsAdmin), true
	}
	if field, ok := strings.CutPrefix(name, "field."); ok {
		v, present := e.ctx.Fields[field]
		if !present {
			return strVal(""), true
		}
		return strVal(v), true
	}
	return nil, false
}
