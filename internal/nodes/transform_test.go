package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func assignments(pairs ...string) []any {
	out := make([]any, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, map[string]any{"variable": pairs[i], "expression": pairs[i+1]})
	}
	return out
}

func TestTransform_ExpressionsMode(t *testing.T) {
	rec := newRecorder()
	ec := newContext(map[string]any{"x": 10.0, "y": 20.0})
	n := node("t1", schema.NodeTypeTransform, map[string]any{
		"outputType":  "expressions",
		"assignments": assignments("sum", "x + y", "double", "sum * 2.0"),
	})

	res := NewTransformExecutor(newEvaluator(t), nil).Execute(context.Background(), "t1", decode(t, n), ec, rec)
	require.True(t, res.Success, res.Error)

	assert.Equal(t, map[string]any{"x": 10.0, "y": 20.0, "sum": 30.0, "double": 60.0}, ec.Variables())
	require.Len(t, rec.Named(schema.EventTransparency), 1)
}

func TestTransform_IntegerLiterals(t *testing.T) {
	ec := newContext(map[string]any{"count": 10.0})
	n := node("t1", schema.NodeTypeTransform, map[string]any{
		"assignments": assignments("next", "count + 1", "twice", "count * 2"),
	})

	res := NewTransformExecutor(newEvaluator(t), nil).Execute(context.Background(), "t1", decode(t, n), ec, newRecorder())
	require.True(t, res.Success, res.Error)

	next, _ := ec.GetVariable("next")
	twice, _ := ec.GetVariable("twice")
	assert.Equal(t, 11.0, next)
	assert.Equal(t, 20.0, twice)
}

func TestTransform_ExpressionsModeKeepsEarlierWrites(t *testing.T) {
	rec := newRecorder()
	ec := newContext(map[string]any{"x": 1.0})
	n := node("t1", schema.NodeTypeTransform, map[string]any{
		"assignments": assignments("a", "x + 1.0", "b", "missing + 1.0", "c", "3.0"),
	})

	res := NewTransformExecutor(newEvaluator(t), nil).Execute(context.Background(), "t1", decode(t, n), ec, rec)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "assignment to 'b' failed")

	assert.True(t, ec.HasVariable("a"))
	assert.False(t, ec.HasVariable("b"))
	assert.False(t, ec.HasVariable("c"))
	require.Len(t, rec.Errors(), 1)
	assert.Contains(t, rec.Errors()[0].Content, "Transform node error: ")
}

func TestTransform_ObjectMode(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		target string
	}{
		{"output variable", map[string]any{"outputVariable": "report"}, "report"},
		{"snake-cased name", map[string]any{"name": "Build Report"}, "build_report"},
		{"default", map[string]any{}, defaultTransformOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := newContext(map[string]any{"x": 2.0})
			tt.data["outputType"] = "object"
			tt.data["assignments"] = []any{
				map[string]any{"key": "x", "expression": "x * 10.0"},
				map[string]any{"key": "seen", "expression": "x"},
			}

			res := NewTransformExecutor(newEvaluator(t), nil).Execute(context.Background(), "t1",
				decode(t, node("t1", schema.NodeTypeTransform, tt.data)), ec, newRecorder())
			require.True(t, res.Success, res.Error)

			v, ok := ec.GetVariable(tt.target)
			require.True(t, ok)
			// Every key sees the variables as they were at node entry.
			assert.Equal(t, map[string]any{"x": 20.0, "seen": 2.0}, v)
			x, _ := ec.GetVariable("x")
			assert.Equal(t, 2.0, x)
		})
	}
}

func TestTransform_ObjectModeNoPartialWrite(t *testing.T) {
	ec := newContext(map[string]any{"x": 2.0})
	n := node("t1", schema.NodeTypeTransform, map[string]any{
		"outputType":     "object",
		"outputVariable": "out",
		"assignments": []any{
			map[string]any{"key": "ok", "expression": "x"},
			map[string]any{"key": "bad", "expression": "nope"},
		},
	})

	res := NewTransformExecutor(newEvaluator(t), nil).Execute(context.Background(), "t1", decode(t, n), ec, newRecorder())
	require.False(t, res.Success)
	assert.False(t, ec.HasVariable("out"))
}

func TestTransform_Languages(t *testing.T) {
	tests := []struct {
		lang string
		expr string
	}{
		{"cel", "x + 1.0"},
		{"expr", "x + 1"},
		{"jq", ".x + 1"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			ec := newContext(map[string]any{"x": 1.0})
			n := node("t1", schema.NodeTypeTransform, map[string]any{
				"language":    tt.lang,
				"assignments": assignments("y", tt.expr),
			})
			res := NewTransformExecutor(newEvaluator(t), nil).Execute(context.Background(), "t1", decode(t, n), ec, newRecorder())
			require.True(t, res.Success, res.Error)
			y, _ := ec.GetVariable("y")
			assert.Equal(t, 2.0, y)
		})
	}
}

func TestSetState(t *testing.T) {
	rec := newRecorder()
	ec := newContext(map[string]any{"count": 1.0, "name": "ada"})
	n := node("s1", schema.NodeTypeSetState, map[string]any{
		"assignments": []any{
			map[string]any{"variable": "count", "expression": "count + 1.0"},
			map[string]any{"key": "greeting", "expression": `"hi " + name`},
			map[string]any{"variable": "twice", "expression": "count * 2.0"},
		},
	})

	res := NewSetStateExecutor(newEvaluator(t), nil).Execute(context.Background(), "s1", decode(t, n), ec, rec)
	require.True(t, res.Success, res.Error)

	assert.Equal(t, map[string]any{"count": 2.0, "name": "ada", "greeting": "hi ada", "twice": 4.0}, ec.Variables())
	traces := rec.Named(schema.EventTransparency)
	require.Len(t, traces, 1)
	assert.Contains(t, traces[0].Content, "updated 3 variables")
}

func TestSetState_Failure(t *testing.T) {
	rec := newRecorder()
	n := node("s1", schema.NodeTypeSetState, map[string]any{
		"assignments": assignments("x", "undefined_var"),
	})
	res := NewSetStateExecutor(newEvaluator(t), nil).Execute(context.Background(), "s1", decode(t, n), newContext(nil), rec)

	require.False(t, res.Success)
	require.Len(t, rec.Errors(), 1)
	assert.Contains(t, rec.Errors()[0].Content, "SetState node error: assignment to 'x' failed")
}
