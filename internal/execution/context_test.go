package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/xjson"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * 1500 * time.Microsecond)
	}
}

func ptr(f float64) *float64 { return &f }

func TestNew_SeedIsCopied(t *testing.T) {
	seed := map[string]any{"x": 1.0, "obj": map[string]any{"k": "v"}}
	c := New("wf", "sess", seed)

	seed["x"] = 99.0
	seed["obj"].(map[string]any)["k"] = "changed"

	v, ok := c.GetVariable("x")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	obj, _ := c.GetVariable("obj")
	assert.Equal(t, "v", obj.(map[string]any)["k"])
	assert.Equal(t, "wf", c.WorkflowID())
	assert.Equal(t, "sess", c.SessionID())
}

func TestNew_NilSeed(t *testing.T) {
	c := New("wf", "sess", nil)
	c.SetVariable("a", "b")
	assert.Equal(t, map[string]any{"a": "b"}, c.Variables())
}

func TestGetVariable_Absent(t *testing.T) {
	c := New("wf", "sess", nil)
	v, ok := c.GetVariable("nope")
	assert.False(t, ok)
	assert.Nil(t, v)

	v, ok = c.GetVariable("nope", "loop")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestScopes(t *testing.T) {
	c := New("wf", "sess", map[string]any{"name": "global", "only_global": true})

	c.SetVariable("name", "scoped", "loop")
	c.SetVariable("name", "explicit", GlobalScope)

	t.Run("scope first then global", func(t *testing.T) {
		v, ok := c.GetVariable("name", "loop")
		require.True(t, ok)
		assert.Equal(t, "scoped", v)

		v, ok = c.GetVariable("only_global", "loop")
		require.True(t, ok)
		assert.Equal(t, true, v)
	})

	t.Run("global ignores scopes", func(t *testing.T) {
		v, _ := c.GetVariable("name")
		assert.Equal(t, "explicit", v)
		assert.True(t, c.HasVariable("name"))
	})

	t.Run("overlay in sorted scope order", func(t *testing.T) {
		c.SetVariable("k", "from-b", "b")
		c.SetVariable("k", "from-a", "a")
		vars := c.Variables()
		assert.Equal(t, "from-b", vars["k"])
		assert.Equal(t, "scoped", vars["name"])
	})
}

func TestVariables_IsFreshMap(t *testing.T) {
	c := New("wf", "sess", map[string]any{"x": 1.0})
	vars := c.Variables()
	vars["x"] = 2.0
	vars["y"] = 3.0

	v, _ := c.GetVariable("x")
	assert.Equal(t, 1.0, v)
	assert.False(t, c.HasVariable("y"))
}

func TestRecordExecution(t *testing.T) {
	c := New("wf", "sess", nil, WithClock(fixedClock()))

	c.RecordExecution("start", true, ptr(0.001), "")
	c.RecordExecution("transform", false, nil, "boom")

	trace := c.Trace()
	require.Len(t, trace, 2)

	assert.Equal(t, "start", trace[0].NodeID)
	assert.True(t, trace[0].Success)
	assert.Nil(t, trace[0].Error)
	assert.Equal(t, 0.001, *trace[0].Duration)
	assert.Equal(t, "2026-03-01T12:00:00.003Z", trace[0].Timestamp)

	assert.False(t, trace[1].Success)
	require.NotNil(t, trace[1].Error)
	assert.Equal(t, "boom", *trace[1].Error)
	assert.Nil(t, trace[1].Duration)

	trace[0].NodeID = "mutated"
	assert.Equal(t, "start", c.Trace()[0].NodeID)
}

func TestNodeStateAndMetadata(t *testing.T) {
	c := New("wf", "sess", nil)

	_, ok := c.NodeState("agent")
	assert.False(t, ok)

	c.SetNodeState("agent", map[string]any{"tokens": 12.0})
	st, ok := c.NodeState("agent")
	require.True(t, ok)
	assert.Equal(t, 12.0, st.(map[string]any)["tokens"])

	c.SetMetadata("trigger", "api")
	md := c.Metadata()
	md["trigger"] = "changed"
	assert.Equal(t, "api", c.Metadata()["trigger"])
}

func TestSnapshot(t *testing.T) {
	c := New("wf-1", "sess-1", map[string]any{"x": 10.0}, WithClock(fixedClock()))
	c.SetVariable("item", "a", "loop")
	c.SetMetadata("source", "test")
	c.RecordExecution("start", true, ptr(0.5), "")

	s := c.Snapshot()
	assert.Equal(t, "wf-1", s.WorkflowID)
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, map[string]any{"x": 10.0}, s.Variables)
	assert.Equal(t, map[string]map[string]any{"loop": {"item": "a"}}, s.ScopedVariables)
	assert.Equal(t, "2026-03-01T12:00:00.001Z", s.StartedAt)
	require.Len(t, s.ExecutionHistory, 1)

	raw, err := xjson.Marshal(s)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, xjson.Unmarshal(raw, &m))
	for _, key := range []string{"workflowId", "sessionId", "variables", "scopedVariables", "executionHistory", "startedAt", "metadata"} {
		assert.Contains(t, m, key)
	}
	entry := m["executionHistory"].([]any)[0].(map[string]any)
	assert.Equal(t, "start", entry["nodeId"])
	assert.Nil(t, entry["error"])
	assert.Contains(t, entry, "error")
}

func TestSnapshot_EmptyHistoryIsList(t *testing.T) {
	m, err := New("wf", "s", nil).Snapshot().Map()
	require.NoError(t, err)
	assert.Equal(t, []any{}, m["executionHistory"])
}

func TestSnapshot_Isolated(t *testing.T) {
	c := New("wf", "s", map[string]any{"obj": map[string]any{"k": 1.0}})
	s := c.Snapshot()
	s.Variables["obj"].(map[string]any)["k"] = 2.0

	obj, _ := c.GetVariable("obj")
	assert.Equal(t, 1.0, obj.(map[string]any)["k"])
}

func TestFromSnapshot_RoundTrip(t *testing.T) {
	c := New("wf", "s", map[string]any{"x": 1.0}, WithClock(fixedClock()))
	c.SetVariable("y", 2.0, "inner")
	c.SetMetadata("m", "v")
	c.RecordExecution("start", true, ptr(0.2), "")

	s := c.Snapshot()
	raw, err := xjson.Marshal(s)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, xjson.Unmarshal(raw, &decoded))

	back := FromSnapshot(decoded)
	assert.Equal(t, c.Variables(), back.Variables())
	assert.Equal(t, c.Trace(), back.Trace())
	assert.Equal(t, c.StartedAt().UnixMilli(), back.StartedAt().UnixMilli())
	assert.Equal(t, "v", back.Metadata()["m"])

	v, ok := back.GetVariable("y", "inner")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestClone(t *testing.T) {
	src := map[string]any{"list": []any{map[string]any{"a": 1.0}}}
	cp := Clone(src)
	cp["list"].([]any)[0].(map[string]any)["a"] = 2.0
	assert.Equal(t, 1.0, src["list"].([]any)[0].(map[string]any)["a"])
	assert.Nil(t, Clone(nil))
}
