package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

const sumWorkflow = `{
  "id": "sum",
  "name": "Sum",
  "nodes": [
    {"id": "start", "type": "start", "data": {"inputVariables": [
      {"name": "x", "type": "number", "defaultValue": 10},
      {"name": "y", "type": "number", "defaultValue": 20}
    ]}},
    {"id": "calc", "type": "transform", "data": {"outputType": "expressions",
      "assignments": [{"variable": "sum", "expression": "x + y"}]}},
    {"id": "end", "type": "end"}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "calc"},
    {"id": "e2", "source": "calc", "target": "end"}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInputFlags(t *testing.T) {
	in := inputFlags{}
	require.NoError(t, in.Set("count=3"))
	require.NoError(t, in.Set("name=Ada"))
	require.NoError(t, in.Set("flags=[1, 2]"))
	require.NoError(t, in.Set("on=true"))
	require.NoError(t, in.Set("empty="))

	assert.Equal(t, inputFlags{
		"count": 3.0,
		"name":  "Ada",
		"flags": []any{1.0, 2.0},
		"on":    true,
		"empty": "",
	}, in)

	assert.Error(t, in.Set("novalue"))
	assert.Error(t, in.Set("=5"))
}

func TestRunValidate(t *testing.T) {
	var out bytes.Buffer
	code := runValidate([]string{writeFile(t, "ok.json", sumWorkflow)}, &out)
	assert.Equal(t, 0, code)
	assert.Equal(t, "valid: 3 nodes, 2 edges\n", out.String())

	out.Reset()
	code = runValidate([]string{writeFile(t, "bad.json", `{"nodes": [{"id": "a", "type": "end"}]}`)}, &out)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Workflow must have exactly one Start node")

	assert.Equal(t, 1, runValidate([]string{"/nonexistent/workflow.json"}, &out))
}

func TestRunWorkflow(t *testing.T) {
	isolate(t)
	path := writeFile(t, "sum.json", sumWorkflow)

	var out bytes.Buffer
	code := runWorkflow([]string{"--memory", "--env-file", "", "--input", "x=1", path}, &out)
	require.Equal(t, 0, code, out.String())

	text := out.String()
	assert.Contains(t, text, "[WORKFLOW_START::start] Workflow started with 2 variables")
	assert.Contains(t, text, `"sum": 21`)
	assert.Contains(t, text, "status: completed")
}

func TestRunWorkflow_SSE(t *testing.T) {
	isolate(t)
	path := writeFile(t, "sum.json", sumWorkflow)

	var out bytes.Buffer
	code := runWorkflow([]string{"--memory", "--env-file", "", "--sse", path}, &out)
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "event: WORKFLOW_COMPLETE::end\n")
	assert.Contains(t, out.String(), "event: DONE\n")
	assert.NotContains(t, out.String(), "status:")
}

func TestConsolePrinter(t *testing.T) {
	var out bytes.Buffer
	rec := streaming.NewRecorder("wf", "s", newConsolePrinter(&out).deliver)
	ctx := context.Background()

	require.NoError(t, rec.TextBlock(ctx, schema.EventNodeStart, "Agent node 'Writer' starting", "a1"))
	stream := rec.TextStream(ctx, schema.EventAgentResponse, "a1")
	require.NoError(t, stream.Emit(ctx, "Hello"))
	require.NoError(t, stream.Emit(ctx, ", world"))
	require.NoError(t, stream.Complete(ctx))
	require.NoError(t, rec.Error(ctx, "boom", 500, "a1"))

	assert.Equal(t,
		"[NODE_START::a1] Agent node 'Writer' starting\n"+
			"[AGENT_RESPONSE::a1] Hello, world\n"+
			"[ERROR::a1] error 500: boom\n",
		out.String())
}
