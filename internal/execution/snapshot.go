package execution

import (
	"time"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Snapshot is the serializable form of a Context. Node states are not part
// of it.
type Snapshot struct {
	WorkflowID       string                    `json:"workflowId"`
	SessionID        string                    `json:"sessionId"`
	Variables        map[string]any            `json:"variables"`
	ScopedVariables  map[string]map[string]any `json:"scopedVariables"`
	ExecutionHistory []schema.NodeExecution    `json:"executionHistory"`
	StartedAt        string                    `json:"startedAt"`
	Metadata         map[string]any            `json:"metadata"`
}

// Snapshot returns a deep copy of the context's serializable state.
func (c *Context) Snapshot() Snapshot {
	scoped := make(map[string]map[string]any, len(c.scoped))
	for s, vars := range c.scoped {
		scoped[s] = deepCopyMap(vars)
	}
	history := c.Trace()
	if history == nil {
		history = []schema.NodeExecution{}
	}
	return Snapshot{
		WorkflowID:       c.workflowID,
		SessionID:        c.sessionID,
		Variables:        deepCopyMap(c.variables),
		ScopedVariables:  scoped,
		ExecutionHistory: history,
		StartedAt:        c.startedAt.Format(TimestampLayout),
		Metadata:         deepCopyMap(c.metadata),
	}
}

// Map returns the snapshot as a generic JSON object, the payload shape of
// the FINAL_CONTEXT event.
func (s Snapshot) Map() (map[string]any, error) {
	raw, err := xjson.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := xjson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromSnapshot rebuilds a Context from a snapshot. An unparseable start time
// is replaced by the current time.
func FromSnapshot(s Snapshot, opts ...Option) *Context {
	c := New(s.WorkflowID, s.SessionID, s.Variables, opts...)
	if t, err := time.Parse(TimestampLayout, s.StartedAt); err == nil {
		c.startedAt = t
	} else if t, err := time.Parse(time.RFC3339Nano, s.StartedAt); err == nil {
		c.startedAt = t
	}
	for scope, vars := range s.ScopedVariables {
		c.scoped[scope] = deepCopyMap(vars)
	}
	c.history = append(c.history, s.ExecutionHistory...)
	for k, v := range s.Metadata {
		c.metadata[k] = deepCopyAny(v)
	}
	return c
}
