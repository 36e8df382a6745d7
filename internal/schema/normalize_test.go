package schema

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestNormalize_ScenarioF(t *testing.T) {
	in := decode(t, `{"type":"object","properties":{"q":{"type":"string","format":"uri"}}}`)

	got := Normalize(in).(map[string]any)

	assert.Equal(t, false, got["additionalProperties"])
	assert.Equal(t, []any{"q"}, got["required"])

	props := got["properties"].(map[string]any)
	q := props["q"].(map[string]any)
	assert.Equal(t, "string", q["type"])
	_, hasFormat := q["format"]
	assert.False(t, hasFormat)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := decode(t, `{"type":"object","properties":{"a":{"type":"string"}}}`)

	_ = Normalize(in)

	_, hasRequired := in["required"]
	assert.False(t, hasRequired, "original map must not be mutated")
}

func TestNormalize_Idempotent(t *testing.T) {
	in := decode(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"number"}},"required":["a"]}`)

	once := Normalize(in)
	twice := Normalize(once)

	onceJSON := marshalSorted(t, once)
	twiceJSON := marshalSorted(t, twice)
	assert.Equal(t, onceJSON, twiceJSON)
}

func TestNormalize_PreservesFormatNotInDisallowedList(t *testing.T) {
	in := decode(t, `{"type":"string","format":"email"}`)

	got := Normalize(in).(map[string]any)

	assert.Equal(t, "email", got["format"])
}

func TestNormalize_RecursesIntoNestedObjectsAndArrays(t *testing.T) {
	in := decode(t, `{
		"type":"object",
		"properties":{
			"items":{
				"type":"array",
				"items":{"type":"object","properties":{"x":{"type":"string","format":"uri"}}}
			}
		}
	}`)

	got := Normalize(in).(map[string]any)
	props := got["properties"].(map[string]any)
	items := props["items"].(map[string]any)
	itemSchema := items["items"].(map[string]any)

	assert.Equal(t, false, itemSchema["additionalProperties"])
	assert.Equal(t, []any{"x"}, itemSchema["required"])
}

func marshalSorted(t *testing.T, v any) string {
	t.Helper()
	if m, ok := v.(map[string]any); ok {
		if req, ok := m["required"].([]any); ok {
			strs := make([]string, len(req))
			for i, r := range req {
				strs[i] = r.(string)
			}
			sort.Strings(strs)
			sorted := make([]any, len(strs))
			for i, s := range strs {
				sorted[i] = s
			}
			m["required"] = sorted
		}
	}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
