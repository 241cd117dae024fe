package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Evaluate computes the numeric result of a formula template against a
// record. Field references are substituted with the record's values first,
// then the substituted string is tokenized against a closed whitelist
// (digits, + - * /, parentheses, commas, and the builtin function names)
// and evaluated. The whitelist runs on the substituted string, not the
// template, so untrusted field values cannot smuggle in anything outside
// the grammar.
//
// Missing or non-numeric fields substitute as 0. Division by zero and
// non-finite results fail rather than corrupting totals.
func Evaluate(formula string, rec Record) (float64, error) {
	expr := substituteFields(formula, rec)

	root, err := parseExpression(expr)
	if err != nil {
		return 0, err
	}

	v, err := root.value()
	if err != nil {
		var ee *EvaluationError
		if errors.As(err, &ee) && ee.Expr == "" {
			ee.Expr = expr
		}
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvaluationError{Expr: expr, Reason: "result is not a finite number"}
	}
	return v, nil
}

// substituteFields replaces every bracketed reference with the record's
// value as a plain decimal literal.
func substituteFields(formula string, rec Record) string {
	return fieldRefPattern.ReplaceAllStringFunc(formula, func(ref string) string {
		name := ref[1 : len(ref)-1]
		v, _ := numericValue(rec[name])
		return formatNumber(v)
	})
}

// numericValue coerces a stored value to a float. Missing, nil and
// non-coercible values come back as 0 with ok=false.
func numericValue(v any) (f float64, ok bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// formatNumber renders a float without exponent notation so the result
// stays inside the evaluator's character set.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatValue renders a stored value as the string used for account
// substitution and group keys.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatNumber(x)
	case float32:
		return formatNumber(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ---------------------------------------------------------------------------
// Tokenizer
// ---------------------------------------------------------------------------

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOperator // one of + - * /
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	num  float64
	text string
}

// tokenize scans the fully substituted expression. Any character outside
// the whitelist fails here, before anything is evaluated.
func tokenize(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			num, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, &EvaluationError{Expr: expr, Reason: fmt.Sprintf("malformed number %q", expr[i:j])}
			}
			toks = append(toks, token{kind: tokNumber, num: num})
			i = j
		case isLetter(c):
			j := i
			for j < len(expr) && (isLetter(expr[j]) || expr[j] >= '0' && expr[j] <= '9') {
				j++
			}
			name := strings.ToUpper(expr[i:j])
			if _, known := builtins[name]; !known {
				return nil, &EvaluationError{Expr: expr, Reason: fmt.Sprintf("unknown function %q", expr[i:j])}
			}
			toks = append(toks, token{kind: tokIdent, text: name})
			i = j
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOperator, text: string(c)})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma})
			i++
		default:
			return nil, &EvaluationError{Expr: expr, Reason: fmt.Sprintf("disallowed character %q", c)}
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

type builtin struct {
	minArgs int
	maxArgs int // -1 for variadic
	apply   func(args []float64) (float64, error)
}

// arity renders the accepted argument count for error messages.
func (b builtin) arity() string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("at least %d", b.minArgs)
	case b.minArgs == b.maxArgs:
		return strconv.Itoa(b.minArgs)
	default:
		return fmt.Sprintf("%d to %d", b.minArgs, b.maxArgs)
	}
}

var builtins = map[string]builtin{
	"ABS":   {1, 1, func(a []float64) (float64, error) { return math.Abs(a[0]), nil }},
	"CEIL":  {1, 1, func(a []float64) (float64, error) { return math.Ceil(a[0]), nil }},
	"FLOOR": {1, 1, func(a []float64) (float64, error) { return math.Floor(a[0]), nil }},
	"SQRT":  {1, 1, func(a []float64) (float64, error) { return math.Sqrt(a[0]), nil }},
	"EXP":   {1, 1, func(a []float64) (float64, error) { return math.Exp(a[0]), nil }},
	"LOG":   {1, 1, func(a []float64) (float64, error) { return math.Log(a[0]), nil }},
	"LOG10": {1, 1, func(a []float64) (float64, error) { return math.Log10(a[0]), nil }},
	"SIN":   {1, 1, func(a []float64) (float64, error) { return math.Sin(a[0]), nil }},
	"COS":   {1, 1, func(a []float64) (float64, error) { return math.Cos(a[0]), nil }},
	"TAN":   {1, 1, func(a []float64) (float64, error) { return math.Tan(a[0]), nil }},
	"POW":   {2, 2, func(a []float64) (float64, error) { return math.Pow(a[0], a[1]), nil }},
	"ROUND": {1, 2, func(a []float64) (float64, error) {
		places := 0.0
		if len(a) == 2 {
			places = a[1]
		}
		p := math.Pow(10, math.Trunc(places))
		return math.Round(a[0]*p) / p, nil
	}},
	"MAX": {1, -1, func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	}},
	"MIN": {1, -1, func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	}},
}

// ---------------------------------------------------------------------------
// Recursive-descent parser
// ---------------------------------------------------------------------------

type exprNode interface {
	value() (float64, error)
}

type numberNode float64

func (n numberNode) value() (float64, error) { return float64(n), nil }

type negateNode struct{ operand exprNode }

func (n negateNode) value() (float64, error) {
	v, err := n.operand.value()
	return -v, err
}

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n binaryNode) value() (float64, error) {
	l, err := n.left.value()
	if err != nil {
		return 0, err
	}
	r, err := n.right.value()
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	default: // "/"
		if r == 0 {
			return 0, &EvaluationError{Reason: "division by zero"}
		}
		return l / r, nil
	}
}

type callNode struct {
	fn   builtin
	args []exprNode
}

func (n callNode) value() (float64, error) {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.value()
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	return n.fn.apply(args)
}

type parser struct {
	expr string
	toks []token
	pos  int
}

// parseExpression tokenizes and parses a substituted formula into an
// evaluable tree. All structural validation happens here; only arithmetic
// domain errors (division by zero) surface at evaluation time.
func parseExpression(expr string) (exprNode, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, toks: toks}
	node, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return node, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &EvaluationError{Expr: p.expr, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) parseSum() (exprNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOperator || t.text != "+" && t.text != "-" {
			return left, nil
		}
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.text, left: left, right: right}
	}
}

func (p *parser) parseProduct() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOperator || t.text != "*" && t.text != "/" {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.text, left: left, right: right}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	t := p.peek()
	if t.kind == tokOperator && (t.text == "-" || t.text == "+") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			return negateNode{operand: operand}, nil
		}
		return operand, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode(t.num), nil
	case tokLParen:
		node, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errorf("missing closing parenthesis")
		}
		return node, nil
	case tokIdent:
		return p.parseCall(t.text)
	case tokEOF:
		return nil, p.errorf("unexpected end of expression")
	default:
		return nil, p.errorf("unexpected token")
	}
}

func (p *parser) parseCall(name string) (exprNode, error) {
	fn := builtins[name]
	if p.next().kind != tokLParen {
		return nil, p.errorf("expected ( after %s", name)
	}
	var args []exprNode
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, p.errorf("missing closing parenthesis in %s call", name)
	}
	if len(args) < fn.minArgs || fn.maxArgs >= 0 && len(args) > fn.maxArgs {
		return nil, p.errorf("%s takes %s argument(s), got %d", name, fn.arity(), len(args))
	}
	return callNode{fn: fn, args: args}, nil
}
