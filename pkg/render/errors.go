package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// Error kinds reported by Kind
const (
	KindSyntax    = "syntax_error"
	KindUndefined = "undefined_error"
	KindRender    = "render_error"
)

// Position is a location in the template source. Zero values mean unknown.
type Position struct {
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

func (p Position) String() string {
	if p.Line <= 0 {
		return ""
	}
	return fmt.Sprintf(" (line %d, column %d)", p.Line, p.Column)
}

// SyntaxError is returned when the template source does not compile.
type SyntaxError struct {
	Message string
	Position
}

func (e *SyntaxError) Error() string {
	return "template syntax error: " + e.Message + e.Position.String()
}

// UndefinedError is returned when strict mode is on and the template
// references a variable path that is absent from the context.
type UndefinedError struct {
	Name    string
	Message string
	Position
}

func (e *UndefinedError) Error() string {
	return "undefined variable: " + e.Message + e.Position.String()
}

// RenderError is any other failure while executing a compiled template.
type RenderError struct {
	Message string
	Position
}

func (e *RenderError) Error() string {
	return "render error: " + e.Message + e.Position.String()
}

// Kind classifies err as one of the render error kinds. It returns an empty
// string for errors that did not come from the engine.
func Kind(err error) string {
	var syntaxErr *SyntaxError
	var undefinedErr *UndefinedError
	var renderErr *RenderError
	switch {
	case errors.As(err, &syntaxErr):
		return KindSyntax
	case errors.As(err, &undefinedErr):
		return KindUndefined
	case errors.As(err, &renderErr):
		return KindRender
	}
	return ""
}

// Message returns the human readable part of an engine error without the
// kind prefix.
func Message(err error) string {
	var syntaxErr *SyntaxError
	var undefinedErr *UndefinedError
	var renderErr *RenderError
	switch {
	case errors.As(err, &syntaxErr):
		return syntaxErr.Message
	case errors.As(err, &undefinedErr):
		return undefinedErr.Message
	case errors.As(err, &renderErr):
		return renderErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// errorPosition returns the source position carried by an engine error.
func errorPosition(err error) Position {
	var syntaxErr *SyntaxError
	var undefinedErr *UndefinedError
	var renderErr *RenderError
	switch {
	case errors.As(err, &syntaxErr):
		return syntaxErr.Position
	case errors.As(err, &undefinedErr):
		return undefinedErr.Position
	case errors.As(err, &renderErr):
		return renderErr.Position
	}
	return Position{}
}

// precedes reports whether err was raised earlier in the source than
// other. Errors without a position never precede.
func precedes(err, other error) bool {
	p, q := errorPosition(err), errorPosition(other)
	if p.Line <= 0 {
		return false
	}
	return p.Line < q.Line || (p.Line == q.Line && p.Column < q.Column)
}

// undefinedMarker is the suffix every strict-mode sentinel error carries.
const undefinedMarker = "' is undefined"

func undefinedMessage(path string) string {
	return "'" + path + undefinedMarker
}

// splitError extracts the original message and position from a pongo2 error.
func splitError(err error, columnOffset int) (string, Position) {
	var perr *pongo2.Error
	if !errors.As(err, &perr) {
		return err.Error(), Position{}
	}

	msg := err.Error()
	if perr.OrigError != nil {
		msg = perr.OrigError.Error()
	}
	pos := Position{Line: perr.Line, Column: perr.Column}
	if pos.Line == 1 {
		pos.Column -= columnOffset
		if pos.Column < 1 {
			pos.Column = 1
		}
	}
	return msg, pos
}

func compileError(err error, columnOffset int) error {
	msg, pos := splitError(err, columnOffset)
	return &SyntaxError{Message: msg, Position: pos}
}

func executionError(err error, columnOffset int) error {
	msg, pos := splitError(err, columnOffset)
	if i := strings.Index(msg, undefinedMarker); i > 0 {
		if start := strings.LastIndex(msg[:i], "'"); start >= 0 {
			return &UndefinedError{
				Name:     msg[start+1 : i],
				Message:  msg[start : i+len(undefinedMarker)],
				Position: pos,
			}
		}
	}
	return &RenderError{Message: msg, Position: pos}
}
