package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRow_JSONKeepsColumnOrder(t *testing.T) {
	input := `{"switch_port":"e1/1","template":"Leaf","vlan":10,"mtu":9216.5,"lag":null,"tags":["a","b"],"bgp":{"asn":65001}}`

	var row Row
	require.NoError(t, json.Unmarshal([]byte(input), &row))

	assert.Equal(t, []string{"switch_port", "template", "vlan", "mtu", "lag", "tags", "bgp"}, row.Keys())

	v, ok := row.Get("vlan")
	require.True(t, ok)
	assert.Equal(t, int64(10), v)

	v, _ = row.Get("mtu")
	assert.Equal(t, 9216.5, v)

	v, ok = row.Get("lag")
	assert.True(t, ok)
	assert.Nil(t, v)

	v, _ = row.Get("bgp")
	assert.Equal(t, map[string]any{"asn": int64(65001)}, v)

	out, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, input, string(out))
}

func TestRow_JSONRejectsNonObject(t *testing.T) {
	var row Row
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &row))
}

func TestRow_DecodeRows(t *testing.T) {
	var rows []Row
	require.NoError(t, json.Unmarshal([]byte(`[{"b":1,"a":2},{"z":"x"}]`), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"b", "a"}, rows[0].Keys())
	assert.Equal(t, "x", rows[1].String("z"))
}

func TestRow_YAMLKeepsColumnOrder(t *testing.T) {
	row := NewRow("zeta", "1", "alpha", int64(2), "mid", true)

	out, err := yaml.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, "zeta: \"1\"\nalpha: 2\nmid: true\n", string(out))

	var back Row
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, row.Keys(), back.Keys())
	assert.Equal(t, row.Map(), back.Map())
}

func TestRow_SetKeepsPosition(t *testing.T) {
	row := NewRow("a", 1, "b", 2)
	row.Set("a", "updated")
	row.Set("c", 3)

	assert.Equal(t, []string{"a", "b", "c"}, row.Keys())
	assert.Equal(t, "updated", row.String("a"))
	assert.Equal(t, 3, row.Len())
}

func TestRow_String(t *testing.T) {
	row := NewRow("name", "  leaf-1 ", "port", int64(7), "empty", nil)

	assert.Equal(t, "leaf-1", row.String("name"))
	assert.Equal(t, "7", row.String("port"))
	assert.Equal(t, "", row.String("empty"))
	assert.Equal(t, "", row.String("missing"))
}

func TestRow_MapIsCopy(t *testing.T) {
	row := NewRow("a", "1")
	m := row.Map()
	m["a"] = "changed"
	m["b"] = "new"

	assert.Equal(t, "1", row.String("a"))
	assert.Equal(t, 1, row.Len())
}
