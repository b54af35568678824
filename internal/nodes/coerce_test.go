package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		typ  schema.VariableType
		raw  any
		want any
	}{
		{"number from string", schema.VariableNumber, "42.5", 42.5},
		{"number from int", schema.VariableNumber, 7, 7.0},
		{"number passthrough", schema.VariableNumber, 3.0, 3.0},
		{"number unparseable", schema.VariableNumber, "abc", 0.0},
		{"number empty", schema.VariableNumber, "", 0.0},
		{"number nil", schema.VariableNumber, nil, 0.0},
		{"bool native", schema.VariableBoolean, true, true},
		{"bool yes", schema.VariableBoolean, "YES", true},
		{"bool one", schema.VariableBoolean, "1", true},
		{"bool numeric one", schema.VariableBoolean, 1.0, true},
		{"bool other", schema.VariableBoolean, "nope", false},
		{"bool empty", schema.VariableBoolean, "", false},
		{"object passthrough", schema.VariableObject, map[string]any{"a": 1.0}, map[string]any{"a": 1.0}},
		{"object json", schema.VariableObject, `{"a": 1}`, map[string]any{"a": 1.0}},
		{"object repaired", schema.VariableObject, `{"a": 1,}`, map[string]any{"a": 1.0}},
		{"object garbage", schema.VariableObject, "hello", map[string]any{}},
		{"object from array text", schema.VariableObject, `[1]`, map[string]any{}},
		{"object empty", schema.VariableObject, "", map[string]any{}},
		{"list passthrough", schema.VariableList, []any{"a"}, []any{"a"}},
		{"list typed slice", schema.VariableList, []string{"a", "b"}, []any{"a", "b"}},
		{"list json", schema.VariableList, `[1, "b"]`, []any{1.0, "b"}},
		{"list comma split", schema.VariableList, "a, b ,c", []any{"a", "b", "c"}},
		{"list empty", schema.VariableList, "", []any{}},
		{"list non-string", schema.VariableList, 5.0, []any{}},
		{"string passthrough", schema.VariableString, "hi", "hi"},
		{"string from number", schema.VariableString, 10.0, "10"},
		{"string nil", schema.VariableString, nil, ""},
		{"untyped", "", true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.typ, tt.raw))
		})
	}
}

func TestCoerceIsIdempotent(t *testing.T) {
	inputs := []any{nil, "", "12", "true", `{"k":"v"}`, "x,y", 3.5, false, map[string]any{}, []any{1.0}}
	types := []schema.VariableType{
		schema.VariableString, schema.VariableNumber, schema.VariableBoolean,
		schema.VariableObject, schema.VariableList,
	}
	for _, typ := range types {
		for _, in := range inputs {
			once := Coerce(typ, in)
			assert.Equal(t, once, Coerce(typ, once), "type %s input %#v", typ, in)
		}
	}
}
