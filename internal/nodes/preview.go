package nodes

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rendis/nodeflow/internal/expressions"
)

// previewLimit bounds how many characters of a value a trace shows.
const previewLimit = 80

func preview(v any) string {
	s := expressions.Stringify(v)
	if _, ok := v.(string); ok {
		s = fmt.Sprintf("%q", s)
	}
	r := []rune(s)
	if len(r) > previewLimit {
		return string(r[:previewLimit]) + "..."
	}
	return s
}

// variableLines renders "- name = preview" lines in name order.
func variableLines(vars map[string]any) string {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "\n- %s = %s", n, preview(vars[n]))
	}
	return sb.String()
}

// snakeCase turns a display name into a variable name: "Build Report" ->
// "build_report".
func snakeCase(s string) string {
	var sb strings.Builder
	prevUnderscore := true
	prevLower := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && prevLower && !prevUnderscore {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			prevUnderscore = false
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			if !prevUnderscore {
				sb.WriteByte('_')
				prevUnderscore = true
			}
			prevLower = false
		}
	}
	return strings.TrimRight(sb.String(), "_")
}

func label(name, nodeID string) string {
	if name != "" {
		return name
	}
	return nodeID
}
