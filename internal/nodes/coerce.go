package nodes

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Coerce converts a declared variable's raw seed to its declared type. It
// never fails: values that cannot be converted become the type's zero value.
func Coerce(typ schema.VariableType, raw any) any {
	if isEmpty(raw) {
		return zeroValue(typ)
	}
	switch typ {
	case schema.VariableNumber:
		return toNumber(raw)
	case schema.VariableBoolean:
		if b, ok := raw.(bool); ok {
			return b
		}
		switch strings.ToLower(strings.TrimSpace(expressions.Stringify(raw))) {
		case "true", "1", "yes":
			return true
		}
		return false
	case schema.VariableObject:
		return toObject(raw)
	case schema.VariableList:
		return toList(raw)
	default:
		if s, ok := raw.(string); ok {
			return s
		}
		return expressions.Stringify(raw)
	}
}

func isEmpty(raw any) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	return ok && s == ""
}

func zeroValue(typ schema.VariableType) any {
	switch typ {
	case schema.VariableNumber:
		return 0.0
	case schema.VariableBoolean:
		return false
	case schema.VariableObject:
		return map[string]any{}
	case schema.VariableList:
		return []any{}
	default:
		return ""
	}
}

func toNumber(raw any) float64 {
	switch v := raw.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	}
	if n, ok := expressions.Normalize(raw).(float64); ok {
		return n
	}
	return 0
}

func toObject(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	s, ok := raw.(string)
	if !ok {
		return map[string]any{}
	}
	var out map[string]any
	if parseLenient(s, '{', &out) && out != nil {
		return out
	}
	return map[string]any{}
}

func toList(raw any) []any {
	if l, ok := raw.([]any); ok {
		return l
	}
	if rv := reflect.ValueOf(raw); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = expressions.Normalize(rv.Index(i).Interface())
		}
		return out
	}
	s, ok := raw.(string)
	if !ok {
		return []any{}
	}
	var out []any
	if parseLenient(s, '[', &out) && out != nil {
		return out
	}
	parts := strings.Split(s, ",")
	out = make([]any, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLenient decodes s into target. Text that opens with the expected
// delimiter gets a second attempt after repair.
func parseLenient(s string, open byte, target any) bool {
	s = strings.TrimSpace(s)
	if xjson.Unmarshal([]byte(s), target) == nil {
		return true
	}
	if s == "" || s[0] != open {
		return false
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return false
	}
	return xjson.Unmarshal([]byte(repaired), target) == nil
}

// describeType names a value's JSON type for traces.
func describeType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	}
	return fmt.Sprintf("%T", v)
}
