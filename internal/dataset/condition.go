package dataset

import (
	"strconv"
	"strings"
	"unicode"

	apperrors "github.com/Aidin1998/analytics/common/errors"
)

// Condition is a parsed row predicate such as
// "age >= 18 AND (country == 'NL' OR vip == true)".
type Condition interface {
	Eval(row map[string]interface{}) bool
	Columns() []string
}

type comparison struct {
	column string
	op     string
	value  interface{}
}

type logical struct {
	and         bool
	left, right Condition
}

func (c *comparison) Columns() []string { return []string{c.column} }

func (l *logical) Columns() []string {
	return append(l.left.Columns(), l.right.Columns()...)
}

func (l *logical) Eval(row map[string]interface{}) bool {
	if l.and {
		return l.left.Eval(row) && l.right.Eval(row)
	}
	return l.left.Eval(row) || l.right.Eval(row)
}

func (c *comparison) Eval(row map[string]interface{}) bool {
	cell := row[c.column]
	if c.value == nil || cell == nil {
		same := c.value == nil && cell == nil
		switch c.op {
		case "==":
			return same
		case "!=":
			return !same
		default:
			return false
		}
	}
	cmp, ok := compareValues(cell, c.value)
	if !ok {
		return c.op == "!="
	}
	switch c.op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	default:
		return cmp <= 0
	}
}

// compareValues orders two cells; ok is false when they are not comparable
func compareValues(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			if s, isStr := b.(string); isStr {
				if parsed, err := strconv.ParseFloat(s, 64); err == nil {
					bv, ok = parsed, true
				}
			}
		}
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case string:
		if _, isNum := b.(float64); isNum {
			return 0, false
		}
		return strings.Compare(av, FormatValue(b)), true
	}
	return 0, false
}

type token struct {
	kind string // ident, op, value, lparen, rparen, and, or
	text string
	val  interface{}
}

// ParseCondition parses a condition expression. Comparisons are
// `column op literal` with op one of == = != > >= < <=; they combine with
// AND / OR (AND binds tighter) and parentheses. Column names containing
// spaces are written in backticks.
func ParseCondition(expr string) (Condition, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, apperrors.Invalidf("unexpected %q in condition %q", p.toks[p.pos].text, expr)
	}
	return cond, nil
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	rs := []rune(expr)
	expectValue := false
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: "lparen", text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: "rparen", text: ")"})
			i++
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(rs) && rs[j] == '=' {
				j++
			}
			op := string(rs[i:j])
			switch op {
			case "=":
				op = "=="
			case "!":
				return nil, apperrors.Invalidf("invalid operator '!' in condition %q", expr)
			}
			toks = append(toks, token{kind: "op", text: op})
			expectValue = true
			i = j
		case r == '&' || r == '|':
			if i+1 >= len(rs) || rs[i+1] != r {
				return nil, apperrors.Invalidf("invalid operator %q in condition %q", string(r), expr)
			}
			if r == '&' {
				toks = append(toks, token{kind: "and", text: "&&"})
			} else {
				toks = append(toks, token{kind: "or", text: "||"})
			}
			expectValue = false
			i += 2
		case r == '\'' || r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j >= len(rs) {
				return nil, apperrors.Invalidf("unterminated string in condition %q", expr)
			}
			toks = append(toks, token{kind: "value", text: string(rs[i : j+1]), val: string(rs[i+1 : j])})
			expectValue = false
			i = j + 1
		case r == '`':
			j := i + 1
			for j < len(rs) && rs[j] != '`' {
				j++
			}
			if j >= len(rs) {
				return nil, apperrors.Invalidf("unterminated column name in condition %q", expr)
			}
			toks = append(toks, token{kind: "ident", text: string(rs[i+1 : j])})
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !strings.ContainsRune("()=!<>&|'\"`", rs[j]) {
				j++
			}
			word := string(rs[i:j])
			i = j
			switch {
			case expectValue:
				toks = append(toks, token{kind: "value", text: word, val: literal(word)})
				expectValue = false
			case strings.EqualFold(word, "and"):
				toks = append(toks, token{kind: "and", text: word})
			case strings.EqualFold(word, "or"):
				toks = append(toks, token{kind: "or", text: word})
			default:
				toks = append(toks, token{kind: "ident", text: word})
			}
		}
	}
	return toks, nil
}

func literal(word string) interface{} {
	switch strings.ToLower(word) {
	case "null", "none", "nan":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if v, err := strconv.ParseFloat(word, 64); err == nil {
		return v
	}
	return word
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() *token {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *parser) parseOr() (Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t != nil && t.kind == "or"; t = p.peek() {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logical{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Condition, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t != nil && t.kind == "and"; t = p.peek() {
		p.pos++
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &logical{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Condition, error) {
	t := p.peek()
	if t == nil {
		return nil, apperrors.Invalidf("condition ends unexpectedly")
	}
	if t.kind == "lparen" {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.peek(); closing == nil || closing.kind != "rparen" {
			return nil, apperrors.Invalidf("missing closing parenthesis in condition")
		}
		p.pos++
		return inner, nil
	}
	if t.kind != "ident" {
		return nil, apperrors.Invalidf("expected column name, got %q", t.text)
	}
	if p.pos+2 >= len(p.toks) {
		return nil, apperrors.Invalidf("incomplete comparison after %q", t.text)
	}
	op, val := p.toks[p.pos+1], p.toks[p.pos+2]
	if op.kind != "op" || val.kind != "value" {
		return nil, apperrors.Invalidf("expected `%s <op> <value>`", t.text)
	}
	p.pos += 3
	return &comparison{column: t.text, op: op.text, value: val.val}, nil
}

// CheckColumns verifies that every column the condition references exists
// and that numeric literals are only compared with columns free of text.
func CheckColumns(cond Condition, f *Frame) error {
	for _, name := range cond.Columns() {
		if _, err := f.MustColumn(name); err != nil {
			return err
		}
	}
	for _, c := range comparisons(cond) {
		num, isNum := c.value.(float64)
		if !isNum {
			continue
		}
		col, _ := f.MustColumn(c.column)
		for _, v := range col.Values {
			if text, ok := v.(string); ok {
				return apperrors.Invalidf("column %q holds text (%q) and cannot be compared with number %s", c.column, text, FormatValue(num)).
					WithField(c.column, "numeric column required", "numeric")
			}
		}
	}
	return nil
}

func comparisons(cond Condition) []*comparison {
	switch c := cond.(type) {
	case *comparison:
		return []*comparison{c}
	case *logical:
		return append(comparisons(c.left), comparisons(c.right)...)
	}
	return nil
}

// Mask evaluates cond on every row
func Mask(cond Condition, f *Frame) []bool {
	keep := make([]bool, f.Len())
	for i := range keep {
		keep[i] = cond.Eval(f.Row(i))
	}
	return keep
}
