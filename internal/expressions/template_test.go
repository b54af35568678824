package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	vars := map[string]any{
		"name":  "Ada",
		"count": 3.0,
		"price": 9.5,
		"ok":    true,
		"tags":  []any{"x", "y"},
		"empty": nil,
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "Hello ${name}!", "Hello Ada!"},
		{"bare", "Hello $name.", "Hello Ada."},
		{"whole float", "n=${count}", "n=3"},
		{"fraction", "p=${price}", "p=9.5"},
		{"bool", "${ok}", "true"},
		{"list as json", "${tags}", `["x","y"]`},
		{"nil is empty", "[${empty}]", "[]"},
		{"missing left untouched", "Say ${missing_var}", "Say ${missing_var}"},
		{"escaped dollar", "costs $$5", "costs $5"},
		{"digit after dollar", "costs $5", "costs $5"},
		{"no placeholders", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.in, vars))
		})
	}
}

func TestRenderResolved(t *testing.T) {
	vars := map[string]any{"name": "Ada"}

	tests := []struct {
		in       string
		want     string
		resolved bool
	}{
		{"hi ${name}", "hi Ada", true},
		{"hi $name", "hi Ada", true},
		{"x ${missing} y", "x ${missing} y", false},
		{"x $missing y", "x $missing y", false},
		{"x ${not valid} y", "x ${not valid} y", false},
		{"price $$name", "price $name", true},
		{"costs $5", "costs $5", true},
		{"done", "done", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			out, ok := RenderResolved(tt.in, vars)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.resolved, ok)
		})
	}
}
