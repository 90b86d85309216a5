package render

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"gopkg.in/yaml.v3"
)

var registerOnce sync.Once

// registerFilters adds the configuration oriented filters to pongo2's
// filter registry. The registry is process wide, so this runs once.
func registerFilters() {
	registerOnce.Do(func() {
		filters := map[string]pongo2.FilterFunction{
			"int":         filterInt,
			"trim":        filterTrim,
			"replace":     filterReplace,
			"quote":       filterQuote,
			"indent":      filterIndent,
			"bool":        filterBool,
			"yaml_encode": filterYAMLEncode,
		}
		for name, fn := range filters {
			if pongo2.FilterExists(name) {
				continue
			}
			_ = pongo2.RegisterFilter(name, fn)
		}
	})
}

// filterInt converts to an integer the way Jinja's int filter does: "7",
// "7.9" and 7.9 all become 7. Unconvertible input yields the parameter or 0.
func filterInt(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	switch {
	case in.IsInteger():
		return pongo2.AsValue(in.Integer()), nil
	case in.IsFloat():
		return pongo2.AsValue(int(in.Float())), nil
	case in.IsBool():
		if in.Bool() {
			return pongo2.AsValue(1), nil
		}
		return pongo2.AsValue(0), nil
	}

	s := strings.TrimSpace(in.String())
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return pongo2.AsValue(int(i)), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return pongo2.AsValue(int(f)), nil
	}
	if !param.IsNil() {
		return pongo2.AsValue(param.Integer()), nil
	}
	return pongo2.AsValue(0), nil
}

// filterTrim strips whitespace, or the characters given as parameter.
func filterTrim(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if param.IsString() && param.String() != "" {
		return pongo2.AsValue(strings.Trim(in.String(), param.String())), nil
	}
	return pongo2.AsValue(strings.TrimSpace(in.String())), nil
}

// filterReplace takes "old,new" and replaces every occurrence of old.
func filterReplace(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	old, replacement, found := strings.Cut(param.String(), ",")
	if !found || old == "" {
		return nil, &pongo2.Error{
			Sender:    "filter:replace",
			OrigError: fmt.Errorf("replace expects \"old,new\", got %q", param.String()),
		}
	}
	return pongo2.AsValue(strings.ReplaceAll(in.String(), old, replacement)), nil
}

func filterQuote(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(strconv.Quote(in.String())), nil
}

// filterIndent indents every non-empty line by the given number of spaces
// (default 4).
func filterIndent(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	spaces := param.Integer()
	if spaces <= 0 {
		spaces = 4
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(in.String(), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return pongo2.AsValue(strings.Join(lines, "\n")), nil
}

// filterBool renders "true" or "false". Strings such as "yes", "on" and "1"
// count as true.
func filterBool(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	truthy := in.IsTrue()
	if in.IsString() {
		switch strings.ToLower(strings.TrimSpace(in.String())) {
		case "true", "yes", "y", "on", "1", "enable", "enabled":
			truthy = true
		default:
			truthy = false
		}
	}
	if truthy {
		return pongo2.AsValue("true"), nil
	}
	return pongo2.AsValue("false"), nil
}

func filterYAMLEncode(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if in.IsNil() {
		return pongo2.AsValue("null"), nil
	}
	out, err := yaml.Marshal(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:yaml_encode", OrigError: err}
	}
	return pongo2.AsValue(strings.TrimSuffix(string(out), "\n")), nil
}
