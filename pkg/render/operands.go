package render

import (
	"fmt"
	"sort"
)

// Value kinds as named in operand errors.
const (
	kindNumber  = "number"
	kindString  = "string"
	kindBoolean = "boolean"
	kindNone    = "none"
	kindList    = "list"
	kindMapping = "mapping"
)

var arithmeticOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}

// kindOf names the kind of a normalized context value. Sentinels and
// anything else that cannot be classified yield "".
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return kindNone
	case int64, float64, int:
		return kindNumber
	case string:
		return kindString
	case bool:
		return kindBoolean
	case []any:
		return kindList
	case map[string]any:
		return kindMapping
	}
	return ""
}

// operand is one side of a binary arithmetic operator with the distinct
// kinds it can take, sorted.
type operand struct {
	label string
	kinds []string
}

func newOperand(label string, values []any) operand {
	seen := make(map[string]bool)
	o := operand{label: label}
	for _, v := range values {
		if k := kindOf(v); k != "" && !seen[k] {
			seen[k] = true
			o.kinds = append(o.kinds, k)
		}
	}
	sort.Strings(o.kinds)
	return o
}

func (o operand) only() (string, bool) {
	if len(o.kinds) != 1 {
		return "", false
	}
	return o.kinds[0], true
}

// checkArithmetic rejects binary arithmetic that pongo2 would otherwise
// coerce silently: + takes two numbers or two strings, - * / and % take
// numbers. Operands behind a filter, a call, a subscript or parentheses
// are not inspected. values holds the resolved candidates of each
// reference keyed by its first token.
func (a *analysis) checkArithmetic(e expression, values map[int][]any) error {
	for k, t := range e.toks {
		if t.kind != tokSymbol || !arithmeticOps[t.val] || unary(e.toks, k) {
			continue
		}
		op := t.val
		left, lok := leftOperand(e, k, values)
		right, rok := rightOperand(e, k, values)

		for _, side := range []struct {
			operand
			ok bool
		}{{left, lok}, {right, rok}} {
			if !side.ok {
				continue
			}
			for _, kind := range side.kinds {
				if kind == kindNumber || (op == "+" && kind == kindString) {
					continue
				}
				return a.renderError(e.site, "unsupported operand type for %s: %s is %s", op, side.label, kind)
			}
		}

		if op != "+" || !lok || !rok {
			continue
		}
		if lk, ok := left.only(); ok {
			for _, rk := range right.kinds {
				if rk != lk {
					return a.renderError(e.site, "cannot add %s (%s) and %s (%s)", left.label, lk, right.label, rk)
				}
			}
		}
		if rk, ok := right.only(); ok {
			for _, lk := range left.kinds {
				if lk != rk {
					return a.renderError(e.site, "cannot add %s (%s) and %s (%s)", left.label, lk, right.label, rk)
				}
			}
		}
	}
	return nil
}

func (a *analysis) renderError(s site, format string, args ...any) error {
	return &RenderError{Message: fmt.Sprintf(format, args...), Position: a.position(s.offset)}
}

// unary reports whether the operator at toks[k] is a sign rather than a
// binary operator.
func unary(toks []token, k int) bool {
	if k == 0 {
		return true
	}
	prev := toks[k-1]
	switch prev.kind {
	case tokSymbol:
		return prev.val != ")" && prev.val != "]"
	case tokIdent:
		switch prev.val {
		case "and", "or", "not", "in", "is":
			return true
		}
	}
	return false
}

// precededFreely reports whether an operand whose first token follows
// toks[i] stands alone rather than being a filter argument or an exponent.
func precededFreely(toks []token, i int) bool {
	if i < 0 || toks[i].kind != tokSymbol {
		return true
	}
	switch toks[i].val {
	case "|", ":", ".", "^":
		return false
	}
	return true
}

// followedFreely reports whether an operand ending before toks[i] is used
// as is rather than filtered, called, subscripted or raised to a power.
func followedFreely(toks []token, i int) bool {
	if i >= len(toks) || toks[i].kind != tokSymbol {
		return true
	}
	switch toks[i].val {
	case "|", "(", ".", "^", "[":
		return false
	}
	return true
}

func stringLabel(t token) string {
	return t.val + t.val[:1]
}

func leftOperand(e expression, k int, values map[int][]any) (operand, bool) {
	for _, ref := range e.refs {
		if ref.end != k {
			continue
		}
		v, resolved := values[ref.start]
		if ref.call || !resolved || !precededFreely(e.toks, ref.start-1) {
			return operand{}, false
		}
		return newOperand(ref.String(), v), true
	}

	p := k - 1
	switch t := e.toks[p]; t.kind {
	case tokString:
		if precededFreely(e.toks, p-1) {
			return operand{label: stringLabel(t), kinds: []string{kindString}}, true
		}
	case tokNumber:
		label := t.val
		// 1.5 spans three tokens
		if p >= 2 && e.toks[p-1].is(tokSymbol, ".") && e.toks[p-2].kind == tokNumber {
			label = e.toks[p-2].val + "." + label
			p -= 2
		}
		if precededFreely(e.toks, p-1) {
			return operand{label: label, kinds: []string{kindNumber}}, true
		}
	}
	return operand{}, false
}

func rightOperand(e expression, k int, values map[int][]any) (operand, bool) {
	n := k + 1
	if n >= len(e.toks) {
		return operand{}, false
	}
	for _, ref := range e.refs {
		if ref.start != n {
			continue
		}
		v, resolved := values[ref.start]
		if ref.call || !resolved || !followedFreely(e.toks, ref.end) {
			return operand{}, false
		}
		return newOperand(ref.String(), v), true
	}

	switch t := e.toks[n]; t.kind {
	case tokString:
		if followedFreely(e.toks, n+1) {
			return operand{label: stringLabel(t), kinds: []string{kindString}}, true
		}
	case tokNumber:
		label, end := t.val, n+1
		if end+1 < len(e.toks) && e.toks[end].is(tokSymbol, ".") && e.toks[end+1].kind == tokNumber {
			label += "." + e.toks[end+1].val
			end += 2
		}
		if followedFreely(e.toks, end) {
			return operand{label: label, kinds: []string{kindNumber}}, true
		}
	}
	return operand{}, false
}
