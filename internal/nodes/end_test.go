package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestEnd_EmitsFinalContext(t *testing.T) {
	rec := newRecorder()
	ec := newContext(map[string]any{"sum": 30.0})
	ec.RecordExecution("start", true, nil, "")

	res := NewEndExecutor(nil).Execute(context.Background(), "end",
		decode(t, node("end", schema.NodeTypeEnd, map[string]any{"name": "Finish"})), ec, rec)
	require.True(t, res.Success, res.Error)

	complete := rec.Named(schema.EventWorkflowComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, "Workflow execution completed successfully", complete[0].Content)

	final := rec.Named(schema.EventFinalContext)
	require.Len(t, final, 1)
	payload, ok := final[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wf-1", payload["workflowId"])
	assert.Equal(t, map[string]any{"sum": 30.0}, payload["variables"])
	assert.Len(t, payload["executionHistory"], 1)

	traces := rec.Named(schema.EventTransparency)
	require.Len(t, traces, 1)
	assert.Contains(t, traces[0].Content, "- sum = 30")

	assert.Equal(t, map[string]any{"sum": 30.0}, ec.Variables())
}
