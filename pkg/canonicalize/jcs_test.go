package canonicalize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]any{"zebra": 1, "apple": 2, "mango": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mango":3,"zebra":1}`, string(b))
}

func TestMarshalNestedOrdering(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"b": 2, "a": 1},
		"list":  []any{map[string]any{"y": 0, "x": 0}},
	}
	b, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"list":[{"x":0,"y":0}],"outer":{"a":1,"b":2}}`, string(b))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	b, err := Marshal(map[string]string{"html": "<script>&</script>"})
	require.NoError(t, err)
	assert.Contains(t, string(b), "<script>&</script>")
	assert.NotContains(t, string(b), `\u003c`)
}

func TestMarshalRespectsStructTags(t *testing.T) {
	type finding struct {
		RuleID   string `json:"ruleId"`
		Severity string `json:"severity"`
		Skipped  string `json:"-"`
	}
	b, err := Marshal(finding{RuleID: "MD-001", Severity: "block", Skipped: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"ruleId":"MD-001","severity":"block"}`, string(b))
}

func TestMarshalRejectsNaN(t *testing.T) {
	_, err := Marshal(map[string]float64{"bad": math.NaN()})
	assert.Error(t, err)

	_, err = Marshal(map[string]float64{"bad": math.Inf(1)})
	assert.Error(t, err)
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestPrefix8(t *testing.T) {
	p := Prefix8([]byte("schema-v1"))
	assert.Len(t, p, 8)
	assert.Equal(t, HashBytes([]byte("schema-v1"))[:8], p)
}

func FuzzMarshalDeterminism(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":2}`))
	f.Add([]byte(`{"z":{"y":"foo","x":"bar"},"a":1}`))
	f.Add([]byte(`{"html":"<script>alert('xss')</script> &"}`))
	f.Add([]byte(`{"num":123.456,"bool":true,"null":null}`))
	f.Add([]byte(`{"arr":[3,1,2],"nested":{"deep":{"key":"val"}}}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"":"empty_key","a":""}`))
	f.Add([]byte(`{"unicode":"こんにちは","emoji":"🚀"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Skip("invalid JSON input")
			return
		}

		b1, err := Marshal(v)
		if err != nil {
			return
		}
		b2, err := Marshal(v)
		if err != nil {
			t.Fatal("Marshal returned error on second call but not first")
		}
		if string(b1) != string(b2) {
			t.Errorf("non-deterministic:\n  first:  %s\n  second: %s", b1, b2)
		}

		var check any
		if err := json.Unmarshal(b1, &check); err != nil {
			t.Errorf("output is not valid JSON: %s", string(b1))
		}
	})
}
