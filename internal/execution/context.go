// Package execution holds the mutable state of a single workflow run.
package execution

import (
	"maps"
	"slices"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// GlobalScope is the scope name that addresses the global variable map.
const GlobalScope = "global"

// TimestampLayout is ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Context is the state of one run: global and scoped variables, the
// append-only execution trace, per-node state and free-form metadata.
// A Context is owned by one run and is not safe for concurrent mutation.
type Context struct {
	workflowID string
	sessionID  string
	startedAt  time.Time

	variables  map[string]any
	scoped     map[string]map[string]any
	history    []schema.NodeExecution
	nodeStates map[string]any
	metadata   map[string]any

	now func() time.Time
}

// Option customizes a Context.
type Option func(*Context)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// New creates a Context seeded with a copy of seed as global variables.
func New(workflowID, sessionID string, seed map[string]any, opts ...Option) *Context {
	c := &Context{
		workflowID: workflowID,
		sessionID:  sessionID,
		variables:  deepCopyMap(seed),
		scoped:     make(map[string]map[string]any),
		nodeStates: make(map[string]any),
		metadata:   make(map[string]any),
		now:        time.Now,
	}
	if c.variables == nil {
		c.variables = make(map[string]any)
	}
	for _, o := range opts {
		o(c)
	}
	c.startedAt = c.now()
	return c
}

func (c *Context) WorkflowID() string   { return c.workflowID }
func (c *Context) SessionID() string    { return c.sessionID }
func (c *Context) StartedAt() time.Time { return c.startedAt }

// SetVariable writes name in the given scope, global when omitted or "global".
func (c *Context) SetVariable(name string, value any, scope ...string) {
	s := scopeName(scope)
	if s == GlobalScope {
		c.variables[name] = value
		return
	}
	vars, ok := c.scoped[s]
	if !ok {
		vars = make(map[string]any)
		c.scoped[s] = vars
	}
	vars[name] = value
}

// GetVariable looks name up in the given scope first and then in the global
// map. The second result reports whether the name was found.
func (c *Context) GetVariable(name string, scope ...string) (any, bool) {
	if s := scopeName(scope); s != GlobalScope {
		if v, ok := c.scoped[s][name]; ok {
			return v, true
		}
	}
	v, ok := c.variables[name]
	return v, ok
}

// HasVariable reports whether name is set globally.
func (c *Context) HasVariable(name string) bool {
	_, ok := c.variables[name]
	return ok
}

// Variables returns a fresh map of the global variables overlaid by every
// scope, scopes applied in sorted name order so the result is deterministic.
func (c *Context) Variables() map[string]any {
	out := make(map[string]any, len(c.variables))
	maps.Copy(out, c.variables)
	for _, s := range slices.Sorted(maps.Keys(c.scoped)) {
		maps.Copy(out, c.scoped[s])
	}
	return out
}

// RecordExecution appends a trace entry stamped with the current time.
// A nil duration is recorded as null; an empty errMsg as no error.
func (c *Context) RecordExecution(nodeID string, success bool, duration *float64, errMsg string) {
	entry := schema.NodeExecution{
		NodeID:    nodeID,
		Timestamp: c.now().Format(TimestampLayout),
		Success:   success,
		Duration:  duration,
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}
	c.history = append(c.history, entry)
}

// Trace returns a copy of the execution history in insertion order.
func (c *Context) Trace() []schema.NodeExecution {
	return slices.Clone(c.history)
}

// SetNodeState stores opaque per-node state.
func (c *Context) SetNodeState(nodeID string, state any) {
	c.nodeStates[nodeID] = state
}

// NodeState returns the state stored for nodeID.
func (c *Context) NodeState(nodeID string) (any, bool) {
	v, ok := c.nodeStates[nodeID]
	return v, ok
}

// SetMetadata stores a run-level metadata entry.
func (c *Context) SetMetadata(key string, value any) {
	c.metadata[key] = value
}

// Metadata returns a copy of the run-level metadata.
func (c *Context) Metadata() map[string]any {
	return maps.Clone(c.metadata)
}

func scopeName(scope []string) string {
	if len(scope) == 0 || scope[0] == "" {
		return GlobalScope
	}
	return scope[0]
}
