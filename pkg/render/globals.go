package render

import (
	"errors"
	"fmt"
	"io"

	"github.com/flosch/pongo2/v6"
)

// maxRangeItems bounds the sequence range() may build.
const maxRangeItems = 100000

// errNoLoader is returned for include, import, extends and ssi tags.
// Templates are self-contained.
var errNoLoader = errors.New("templates cannot load other templates")

// noLoader satisfies pongo2.TemplateLoader and refuses every lookup.
type noLoader struct{}

func (noLoader) Abs(base, name string) string { return name }

func (noLoader) Get(path string) (io.Reader, error) {
	return nil, fmt.Errorf("%w: %q", errNoLoader, path)
}

// rangeFunc implements range(stop), range(start, stop) and
// range(start, stop, step) with integer semantics.
func rangeFunc(args ...*pongo2.Value) ([]int, error) {
	var start, stop, step int
	switch len(args) {
	case 1:
		start, stop, step = 0, args[0].Integer(), 1
	case 2:
		start, stop, step = args[0].Integer(), args[1].Integer(), 1
	case 3:
		start, stop, step = args[0].Integer(), args[1].Integer(), args[2].Integer()
	default:
		return nil, fmt.Errorf("range expects 1 to 3 arguments, got %d", len(args))
	}
	if step == 0 {
		return nil, errors.New("range step must not be zero")
	}

	var n int
	if step > 0 && start < stop {
		n = (stop - start + step - 1) / step
	} else if step < 0 && start > stop {
		n = (start - stop - step - 1) / -step
	}
	if n > maxRangeItems {
		return nil, fmt.Errorf("range of %d items exceeds the limit of %d", n, maxRangeItems)
	}

	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out, nil
}

// globalNames are context names the engine provides itself.
var globalNames = map[string]bool{
	"range":   true,
	"forloop": true,
}

func newSet(opts Options) *pongo2.TemplateSet {
	set := pongo2.NewSet("config-generator", noLoader{})
	set.Options.TrimBlocks = opts.TrimBlocks
	set.Options.LStripBlocks = opts.LStripBlocks
	set.Globals["range"] = rangeFunc
	return set
}
