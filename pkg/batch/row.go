package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/config-generator/pkg/variables"
)

// Row is one uploaded record: an ordered mapping of column name to value.
// Values are limited to string, int64, float64, bool, nil, map[string]any
// and []any. Column order survives JSON and YAML encoding.
type Row struct {
	keys   []string
	values map[string]any
}

// NewRow builds a row from alternating key, value arguments
func NewRow(kv ...any) Row {
	var r Row
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(cast.ToString(kv[i]), kv[i+1])
	}
	return r
}

// Set stores value under key. A new key is appended; an existing key keeps
// its position.
func (r *Row) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = variables.Normalize(value)
}

// Get returns the value stored under key
func (r Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns the value under key as trimmed text, or "" when absent
func (r Row) String(key string) string {
	v, ok := r.values[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

// Keys returns the column names in order
func (r Row) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of columns
func (r Row) Len() int {
	return len(r.keys)
}

// Map returns the row as a plain map. The map is a copy; nested values are
// shared.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the row as a JSON object in column order
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the input
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object")
	}

	*r = Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected row key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		r.Set(key, value)
	}

	_, err = dec.Token()
	return err
}

// MarshalYAML encodes the row as a YAML mapping in column order
func (r Row) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range r.keys {
		var value yaml.Node
		if err := value.Encode(r.values[k]); err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&value)
	}
	return node, nil
}

// UnmarshalYAML decodes a YAML mapping, keeping the key order of the input
func (r *Row) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("row must be a YAML mapping")
	}
	*r = Row{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("column %q: %w", node.Content[i].Value, err)
		}
		r.Set(node.Content[i].Value, value)
	}
	return nil
}
