package render

import (
	"regexp"
	"strings"
)

// block is the inner text of one {{ }} or {% %} section.
type block struct {
	tag        bool
	start, end int
}

// scanBlocks locates expression and tag sections in src. Comments are
// skipped. Whitespace control dashes are excluded from the inner range.
func scanBlocks(src string) []block {
	var blocks []block
	i := 0
	for {
		j := strings.IndexByte(src[i:], '{')
		if j < 0 || i+j+1 >= len(src) {
			return blocks
		}
		open := i + j
		var closer string
		switch src[open+1] {
		case '{':
			closer = "}}"
		case '%':
			closer = "%}"
		case '#':
			k := strings.Index(src[open+2:], "#}")
			if k < 0 {
				return blocks
			}
			i = open + 2 + k + 2
			continue
		default:
			i = open + 1
			continue
		}

		start := open + 2
		if start < len(src) && src[start] == '-' {
			start++
		}
		closeAt := findCloser(src, start, closer)
		if closeAt < 0 {
			return blocks
		}
		end := closeAt
		if end > start && src[end-1] == '-' {
			end--
		}
		blocks = append(blocks, block{tag: closer == "%}", start: start, end: end})
		i = closeAt + 2
	}
}

// findCloser returns the offset of closer in src at or after from, ignoring
// occurrences inside string literals.
func findCloser(src string, from int, closer string) int {
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(src[i:], closer):
			return i
		}
	}
	return -1
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokSymbol
)

type token struct {
	kind tokenKind
	val  string
}

func (t token) is(kind tokenKind, val string) bool {
	return t.kind == kind && t.val == val
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tokenize splits block text into identifiers, numbers, strings and single
// character symbols.
func tokenize(s string) []token {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && (isIdentStart(s[j]) || isDigit(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, val: s[i:j]})
			i = j
		case isDigit(c):
			j := i + 1
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, val: s[i:j]})
			i = j
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(s) && s[j] != c {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j > len(s) {
				j = len(s)
			}
			toks = append(toks, token{kind: tokString, val: s[i:j]})
			i = j + 1
		default:
			toks = append(toks, token{kind: tokSymbol, val: string(c)})
			i++
		}
	}
	return toks
}

var jinjaLoopAttr = regexp.MustCompile(`\bloop\.(index0|index|revindex0|revindex|first|last)\b`)

var jinjaLoopReplacement = map[string]string{
	"index0":    "forloop.Counter0",
	"index":     "forloop.Counter",
	"revindex0": "forloop.Revcounter0",
	"revindex":  "forloop.Revcounter",
	"first":     "forloop.First",
	"last":      "forloop.Last",
}

// rewrite maps Jinja loop attributes onto pongo2's forloop and makes
// two-variable loops iterate maps in sorted key order.
func rewrite(src string) string {
	blocks := scanBlocks(src)
	if len(blocks) == 0 {
		return src
	}

	var b strings.Builder
	b.Grow(len(src))
	prev := 0
	for _, blk := range blocks {
		b.WriteString(src[prev:blk.start])
		inner := jinjaLoopAttr.ReplaceAllStringFunc(src[blk.start:blk.end], func(m string) string {
			return jinjaLoopReplacement[strings.TrimPrefix(m, "loop.")]
		})
		if blk.tag {
			inner = sortPairLoop(inner)
		}
		b.WriteString(inner)
		prev = blk.end
	}
	b.WriteString(src[prev:])
	return b.String()
}

// sortPairLoop appends "sorted" to "for k, v in m" so map iteration order
// does not depend on Go's map ordering.
func sortPairLoop(inner string) string {
	toks := tokenize(inner)
	if len(toks) < 5 || !toks[0].is(tokIdent, "for") || !toks[2].is(tokSymbol, ",") {
		return inner
	}
	for _, t := range toks {
		if t.is(tokIdent, "sorted") {
			return inner
		}
	}
	trimmed := strings.TrimRight(inner, " \t")
	return trimmed + " sorted" + inner[len(trimmed):]
}
