package execution

import "github.com/rendis/nodeflow/internal/xjson"

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps and slices. Other values are returned
// as is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case xjson.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(xjson.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

// Clone returns a deep copy of a variable map. Object-mode transforms
// evaluate against a clone taken at node entry.
func Clone(vars map[string]any) map[string]any {
	return deepCopyMap(vars)
}
