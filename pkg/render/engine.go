// Package render compiles and executes configuration templates.
//
// Templates use pongo2 (Django/Jinja syntax). Common Jinja loop attributes
// (loop.index0, loop.first, ...) are accepted and mapped to pongo2's forloop.
// Output is never HTML-escaped. In strict mode every variable path the
// template reads must exist in the context unless it is piped straight into
// the default filter. Arithmetic operands must be numbers, or strings on
// both sides of +.
package render

import (
	"context"
	"fmt"
	"regexp"

	"github.com/flosch/pongo2/v6"

	"github.com/yourorg/config-generator/pkg/variables"
)

const (
	autoescapeOpen  = "{% autoescape off %}"
	autoescapeClose = "{% endautoescape %}"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Options configures an Engine
type Options struct {
	StrictUndefined bool `mapstructure:"strict_undefined"`
	TrimBlocks      bool `mapstructure:"trim_blocks"`
	LStripBlocks    bool `mapstructure:"lstrip_blocks"`
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{StrictUndefined: true}
}

// Engine renders template sources against variable maps. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine creates a new engine
func NewEngine(opts Options) *Engine {
	registerFilters()
	return &Engine{opts: opts}
}

// Options returns the engine configuration
func (e *Engine) Options() Options {
	return e.opts
}

// Result contains the rendered output and the context names it read.
type Result struct {
	Output    string   `json:"output"`
	Variables []string `json:"variables,omitempty"`
}

// Render compiles source and executes it against vars. vars is not
// modified.
func (e *Engine) Render(ctx context.Context, source string, vars map[string]any) (string, error) {
	res, err := e.RenderResult(ctx, source, vars)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// RenderResult is Render that also reports the variables the template used.
func (e *Engine) RenderResult(ctx context.Context, source string, vars map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := rewrite(source)
	tpl, err := e.compile(src)
	if err != nil {
		return nil, err
	}

	data := prepareContext(vars)
	a := analyze(src)
	early := a.enforce(data, e.opts.StrictUndefined)

	out, err := execute(tpl, data)
	if early != nil && (err == nil || !precedes(err, early)) {
		return nil, early
	}
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Variables: a.Variables()}, nil
}

// Validate reports whether source compiles.
func (e *Engine) Validate(source string) error {
	_, err := e.compile(rewrite(source))
	return err
}

// Variables compiles source and returns the top-level context names it reads.
func (e *Engine) Variables(source string) ([]string, error) {
	src := rewrite(source)
	if _, err := e.compile(src); err != nil {
		return nil, err
	}
	return analyze(src).Variables(), nil
}

func (e *Engine) compile(src string) (*pongo2.Template, error) {
	tpl, err := newSet(e.opts).FromString(autoescapeOpen + src + autoescapeClose)
	if err != nil {
		return nil, compileError(err, len(autoescapeOpen))
	}
	return tpl, nil
}

// execute runs tpl, turning pongo2 panics (integer division by zero and
// similar) into render errors.
func execute(tpl *pongo2.Template, data map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", &RenderError{Message: fmt.Sprint(r)}
		}
	}()

	out, err = tpl.Execute(pongo2.Context(data))
	if err != nil {
		return "", executionError(err, len(autoescapeOpen))
	}
	return out, nil
}

// prepareContext deep copies vars into the closed value set and drops
// top-level keys pongo2 cannot address.
func prepareContext(vars map[string]any) map[string]any {
	data := make(map[string]any, len(vars))
	for k, v := range vars {
		if !validIdentifier.MatchString(k) {
			continue
		}
		data[k] = variables.Normalize(v)
	}
	return data
}
