package expressions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/nodeflow/internal/xjson"
)

// templatePattern matches $$, ${name}, $name and a malformed ${...}.
var templatePattern = regexp.MustCompile(`\$(?:(\$)|\{([_a-zA-Z][_a-zA-Z0-9]*)\}|([_a-zA-Z][_a-zA-Z0-9]*)|(\{[^}]*\}))`)

// Render performs safe substitution of ${name} and $name placeholders.
// Placeholders naming an absent variable are left untouched and $$ becomes $.
// Rendering never fails.
func Render(template string, vars map[string]any) string {
	out, _ := RenderResolved(template, vars)
	return out
}

// RenderResolved is Render that also reports whether every placeholder was
// substituted. A malformed ${...} counts as unresolved.
func RenderResolved(template string, vars map[string]any) (string, bool) {
	if !strings.Contains(template, "$") {
		return template, true
	}
	resolved := true
	out := templatePattern.ReplaceAllStringFunc(template, func(m string) string {
		sub := templatePattern.FindStringSubmatch(m)
		switch {
		case sub[1] != "":
			return "$"
		case sub[4] != "":
			resolved = false
			return m
		}
		name := sub[2]
		if name == "" {
			name = sub[3]
		}
		v, ok := vars[name]
		if !ok {
			resolved = false
			return m
		}
		return Stringify(v)
	})
	return out, resolved
}

// Stringify renders a variable value as prompt text. Whole floats print
// without a fractional part; maps and slices print as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case map[string]any, []any:
		b, err := xjson.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
	b, err := xjson.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(b), `"`)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
