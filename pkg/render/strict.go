package render

import (
	"sort"
	"strconv"
	"strings"
)

// reference is one variable path used by a template, such as p.x or
// vlans.0.id.
type reference struct {
	path []string
	// defaulted paths feed straight into |default and may be absent
	defaulted bool
	call      bool
	// token span of the path within its expression
	start, end int
}

func (r reference) String() string {
	return strings.Join(r.path, ".")
}

var exprKeywords = map[string]bool{
	"in": true, "and": true, "or": true, "not": true, "is": true, "as": true,
	"export": true, "true": true, "false": true, "True": true, "False": true,
	"none": true, "None": true, "nil": true, "reversed": true, "sorted": true,
}

// tags whose arguments are not variable references
var opaqueTags = map[string]bool{
	"autoescape": true, "endautoescape": true, "comment": true, "filter": true,
	"templatetag": true, "now": true, "lorem": true, "include": true, "import": true,
	"extends": true, "ssi": true, "block": true, "endblock": true, "firstof": true,
	"macro": true, "endmacro": true, "spaceless": true, "endspaceless": true,
}

// references extracts the variable paths of an expression token list.
func references(toks []token) []reference {
	var refs []reference
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent || exprKeywords[t.val] {
			continue
		}
		if i > 0 && (toks[i-1].is(tokSymbol, "|") || toks[i-1].is(tokSymbol, ".")) {
			continue
		}

		ref := reference{path: []string{t.val}, start: i}
		j := i + 1
		for j+1 < len(toks) && toks[j].is(tokSymbol, ".") &&
			(toks[j+1].kind == tokIdent || toks[j+1].kind == tokNumber) {
			ref.path = append(ref.path, toks[j+1].val)
			j += 2
		}
		if j < len(toks) {
			switch {
			case toks[j].is(tokSymbol, "("):
				ref.call = true
			case toks[j].is(tokSymbol, "|") && j+1 < len(toks) &&
				(toks[j+1].is(tokIdent, "default") || toks[j+1].is(tokIdent, "default_if_none")):
				ref.defaulted = true
			}
		}
		ref.end = j
		refs = append(refs, ref)
		i = j - 1
	}
	return refs
}

// loopFrame binds the variables of an enclosing for tag to the values they
// take; bindings[i] holds every value of names[i]. Opaque frames iterate
// something that cannot be inspected.
type loopFrame struct {
	names    []string
	bindings [][]any
	opaque   bool
}

// mayBeEmpty reports whether the loop body can run zero times.
func (f loopFrame) mayBeEmpty() bool {
	return f.opaque || len(f.bindings) == 0 || len(f.bindings[0]) == 0
}

// site locates an expression in the template.
type site struct {
	offset int
	// guarded expressions sit in a conditional test or branch, or in a loop
	// that may not run, and are not certain to be evaluated
	guarded bool
}

// expression is the token list of one output block or tag argument list.
type expression struct {
	toks []token
	refs []reference
	site
}

func newExpression(toks []token, s site) expression {
	return expression{toks: toks, refs: references(toks), site: s}
}

var (
	conditionalTags    = map[string]bool{"if": true, "ifequal": true, "ifnotequal": true, "ifchanged": true}
	endConditionalTags = map[string]bool{"endif": true, "endifequal": true, "endifnotequal": true, "endifchanged": true}
)

// analysis walks a template's blocks and checks every variable reference
// against a context.
type analysis struct {
	src    string
	blocks []block
	locals map[string]bool
}

func analyze(src string) *analysis {
	a := &analysis{
		src:    src,
		blocks: scanBlocks(src),
		locals: make(map[string]bool),
	}
	a.collectLocals()
	return a
}

func (a *analysis) tokens(b block) []token {
	return tokenize(a.src[b.start:b.end])
}

// position converts a byte offset of the source into a line and column.
func (a *analysis) position(offset int) Position {
	before := a.src[:offset]
	return Position{
		Line:   1 + strings.Count(before, "\n"),
		Column: offset - strings.LastIndexByte(before, '\n'),
	}
}

// collectLocals records names bound by set, with, cycle, import and macro.
func (a *analysis) collectLocals() {
	for _, b := range a.blocks {
		if !b.tag {
			continue
		}
		toks := a.tokens(b)
		if len(toks) < 2 || toks[0].kind != tokIdent {
			continue
		}
		args := toks[1:]
		switch toks[0].val {
		case "set":
			if args[0].kind == tokIdent {
				a.locals[args[0].val] = true
			}
		case "macro", "import":
			for _, t := range args {
				if t.kind == tokIdent && !exprKeywords[t.val] {
					a.locals[t.val] = true
				}
			}
		case "with", "cycle":
			for i, t := range args {
				if t.kind != tokIdent {
					continue
				}
				if i+1 < len(args) && args[i+1].is(tokSymbol, "=") {
					a.locals[t.val] = true
				}
				if i > 0 && args[i-1].is(tokIdent, "as") {
					a.locals[t.val] = true
				}
			}
		}
	}
}

// Variables returns the distinct top-level context names the template reads.
func (a *analysis) Variables() []string {
	seen := make(map[string]bool)
	var frames []loopFrame
	a.walk(func(e expression) {
		for _, ref := range e.refs {
			if root := ref.path[0]; !a.bound(root, frames) {
				seen[root] = true
			}
		}
	}, func(f loopFrame) { frames = append(frames, f) }, func() {
		if len(frames) > 0 {
			frames = frames[:len(frames)-1]
		}
	}, nil)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *analysis) bound(root string, frames []loopFrame) bool {
	if globalNames[root] || a.locals[root] {
		return true
	}
	for _, f := range frames {
		for _, n := range f.names {
			if n == root {
				return true
			}
		}
	}
	return false
}

// binder resolves the iterable of a loop with the given number of loop
// variables to the values each variable takes.
type binder func(ref reference, s site, names int) ([][]any, bool)

// walk visits expressions in template order. enter and leave bracket for
// loops; bind, when set, makes loop variables inspectable.
func (a *analysis) walk(visit func(expression), enter func(loopFrame), leave func(), bind binder) {
	inComment := false
	conditionals := 0
	// one entry per open loop, true when its body may not run
	var loops []bool
	emptyLoops := 0

	for _, b := range a.blocks {
		toks := a.tokens(b)
		s := site{offset: b.start, guarded: conditionals > 0 || emptyLoops > 0}
		if !b.tag {
			if !inComment {
				visit(newExpression(toks, s))
			}
			continue
		}
		if len(toks) == 0 || toks[0].kind != tokIdent {
			continue
		}

		name, args := toks[0].val, toks[1:]
		if inComment {
			if name == "endcomment" {
				inComment = false
			}
			continue
		}

		switch {
		case name == "comment":
			inComment = true
		case opaqueTags[name]:
		case name == "for":
			frame := a.enterLoop(args, s, visit, bind)
			empty := frame.mayBeEmpty()
			loops = append(loops, empty)
			if empty {
				emptyLoops++
			}
			enter(frame)
		case name == "endfor":
			if n := len(loops); n > 0 {
				if loops[n-1] {
					emptyLoops--
				}
				loops = loops[:n-1]
			}
			leave()
		case conditionalTags[name]:
			// and/or short-circuit, so tests are guarded too
			s.guarded = true
			visit(newExpression(args, s))
			conditionals++
		case name == "elif":
			s.guarded = true
			visit(newExpression(args, s))
		case endConditionalTags[name]:
			if conditionals > 0 {
				conditionals--
			}
		case name == "set":
			if len(args) > 2 {
				visit(newExpression(args[2:], s))
			}
		case name == "with" || name == "cycle":
			e := newExpression(args, s)
			refs := make([]reference, 0, len(e.refs))
			for _, ref := range e.refs {
				if a.locals[ref.path[0]] && len(ref.path) == 1 {
					continue
				}
				refs = append(refs, ref)
			}
			e.refs = refs
			visit(e)
		default:
			visit(newExpression(args, s))
		}
	}
}

func (a *analysis) enterLoop(args []token, s site, visit func(expression), bind binder) loopFrame {
	var names []string
	var expr []token
	switch {
	case len(args) >= 3 && args[0].kind == tokIdent && args[1].is(tokIdent, "in"):
		names, expr = []string{args[0].val}, args[2:]
	case len(args) >= 5 && args[0].kind == tokIdent && args[1].is(tokSymbol, ",") &&
		args[2].kind == tokIdent && args[3].is(tokIdent, "in"):
		names, expr = []string{args[0].val, args[2].val}, args[4:]
	default:
		// malformed loops fail to compile before they are analysed
		return loopFrame{opaque: true}
	}

	for len(expr) > 0 && (expr[len(expr)-1].is(tokIdent, "reversed") || expr[len(expr)-1].is(tokIdent, "sorted")) {
		expr = expr[:len(expr)-1]
	}

	e := newExpression(expr, s)
	visit(e)

	frame := loopFrame{names: names, opaque: true}
	if len(e.refs) == 1 && !e.refs[0].call && bind != nil && pathTokenCount(e.refs[0]) == len(expr) {
		if bindings, ok := bind(e.refs[0], s, len(names)); ok {
			frame.bindings, frame.opaque = bindings, false
		}
	}
	return frame
}

// pathTokenCount is the number of tokens a reference spans.
func pathTokenCount(ref reference) int {
	return len(ref.path)*2 - 1
}

// errUndefined is returned by injected sentinels.
type errUndefined string

func (e errUndefined) Error() string {
	return undefinedMessage(string(e))
}

func sentinel(path string) func() (any, error) {
	return func() (any, error) {
		return nil, errUndefined(path)
	}
}

func (a *analysis) undefined(path string, s site) error {
	return &UndefinedError{Name: path, Message: undefinedMessage(path), Position: a.position(s.offset)}
}

// enforce prepares data for execution and returns the first error that
// execution is certain to hit but pongo2 would render as blank text.
//
// In strict mode every absent key the template reads gets a sentinel
// function that fails when evaluated. An index past the end of a list and
// an attribute of a null value cannot carry a sentinel, so they are
// reported directly unless the expression is guarded. Arithmetic operands
// are checked in both modes. data must be a private copy; it is modified
// in place.
func (a *analysis) enforce(data map[string]any, strict bool) error {
	var frames []loopFrame
	var first error
	fail := func(err error) {
		if first == nil {
			first = err
		}
	}

	resolve := func(ref reference, s site) ([]any, bool) {
		root := ref.path[0]
		var current []any

		found := false
		for i := len(frames) - 1; i >= 0 && !found; i-- {
			for n, name := range frames[i].names {
				if name != root {
					continue
				}
				if frames[i].opaque {
					return nil, false
				}
				current = append(current, frames[i].bindings[n]...)
				found = true
				break
			}
		}
		if !found {
			if globalNames[root] || a.locals[root] {
				return nil, false
			}
			value, ok := data[root]
			if !ok {
				if strict && !ref.defaulted {
					data[root] = sentinel(root)
				}
				return nil, true
			}
			current = []any{value}
		}

		checked := strict && !ref.defaulted
		for depth, segment := range ref.path[1:] {
			path := strings.Join(ref.path[:depth+2], ".")
			next := make([]any, 0, len(current))
			for _, v := range current {
				switch container := v.(type) {
				case nil:
					if checked && !s.guarded {
						fail(a.undefined(path, s))
					}
				case map[string]any:
					if isNumber(segment) {
						continue
					}
					child, ok := container[segment]
					if !ok {
						if checked {
							container[segment] = sentinel(path)
						}
						continue
					}
					next = append(next, child)
				case []any:
					idx, err := strconv.Atoi(segment)
					if err != nil {
						continue
					}
					if idx >= 0 && idx < len(container) {
						next = append(next, container[idx])
					} else if checked && !s.guarded {
						fail(a.undefined(path, s))
					}
				}
			}
			current = next
		}
		return current, true
	}

	bind := func(ref reference, s site, names int) ([][]any, bool) {
		values, ok := resolve(ref, s)
		if !ok {
			return nil, false
		}
		bindings := make([][]any, names)
		for _, v := range values {
			switch iterable := v.(type) {
			case []any:
				// pongo2 leaves the second variable unset for lists
				if names != 1 {
					return nil, false
				}
				bindings[0] = append(bindings[0], iterable...)
			case map[string]any:
				keys := make([]string, 0, len(iterable))
				for key := range iterable {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					bindings[0] = append(bindings[0], key)
					if names == 2 {
						bindings[1] = append(bindings[1], iterable[key])
					}
				}
			default:
				// strings iterate characters
				return nil, false
			}
		}
		return bindings, true
	}

	a.walk(func(e expression) {
		values := make(map[int][]any, len(e.refs))
		for _, ref := range e.refs {
			if ref.call {
				continue
			}
			if v, ok := resolve(ref, e.site); ok {
				values[ref.start] = v
			}
		}
		if !e.guarded {
			if err := a.checkArithmetic(e, values); err != nil {
				fail(err)
			}
		}
	}, func(f loopFrame) { frames = append(frames, f) }, func() {
		if len(frames) > 0 {
			frames = frames[:len(frames)-1]
		}
	}, bind)

	return first
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
