// Package variables turns free-form variable text into a rendering context.
//
// Input is tried as JSON, then YAML, then as "key = value" lines. The last
// stage never fails, so Parse only returns an error for a JSON document that
// is valid but is not an object.
package variables

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotMapping is returned when the input is valid JSON whose top level is
// not an object.
var ErrNotMapping = errors.New("variables must be a JSON object")

// Format names the stage that produced a parse result
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatKeyValue Format = "key_value"
)

// Parse decodes text into a mapping. See ParseWithFormat.
func Parse(text string) (map[string]any, error) {
	vars, _, err := ParseWithFormat(text)
	return vars, err
}

// ParseWithFormat decodes text and reports which format matched. The result
// is never nil when err is nil.
func ParseWithFormat(text string) (map[string]any, Format, error) {
	if vars, ok, err := parseJSON(text); ok {
		return vars, FormatJSON, err
	}
	if vars, ok := parseYAML(text); ok {
		return vars, FormatYAML, nil
	}
	return parseKeyValue(text), FormatKeyValue, nil
}

// parseJSON reports ok when text is a complete JSON document.
func parseJSON(text string) (map[string]any, bool, error) {
	data := []byte(text)
	if !json.Valid(data) {
		return nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, false, nil
	}

	obj, isObject := raw.(map[string]any)
	if !isObject {
		return nil, true, ErrNotMapping
	}
	return NormalizeMap(obj), true, nil
}

func parseYAML(text string) (map[string]any, bool) {
	var raw any
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}
	if raw == nil {
		return map[string]any{}, true
	}

	switch m := Normalize(raw).(type) {
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func parseKeyValue(text string) map[string]any {
	vars := make(map[string]any)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return vars
}
