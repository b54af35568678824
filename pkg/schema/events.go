package schema

// Event names emitted through the streaming sink.
const (
	EventWorkflowStart    = "WORKFLOW_START"
	EventWorkflowComplete = "WORKFLOW_COMPLETE"
	EventNodeStart        = "NODE_START"
	EventNodeComplete     = "NODE_COMPLETE"
	EventNodeSkipped      = "NODE_SKIPPED"
	EventAgentThinking    = "AGENT_THINKING"
	EventAgentResponse    = "AGENT_RESPONSE"
	EventTransparency     = "TRANSPARENCY"
	EventFinalContext     = "FINAL_CONTEXT"
	EventValidation       = "VALIDATION"
	EventError            = "ERROR"
	EventDone             = "DONE"
)

// Stream event kinds, mirroring the sink operations.
const (
	KindTextBlock = "text_block"
	KindTextChunk = "text_chunk"
	KindTextEnd   = "text_end"
	KindJSON      = "json"
	KindError     = "error"
	KindDone      = "done"
)

// RunStatus represents the lifecycle state of one run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusRejected  RunStatus = "rejected"
	RunStatusCancelled RunStatus = "cancelled"
)

// NodeExecution is one entry of a run's audit trail. Duration is in seconds.
type NodeExecution struct {
	NodeID    string   `json:"nodeId"`
	Timestamp string   `json:"timestamp"`
	Success   bool     `json:"success"`
	Duration  *float64 `json:"duration"`
	Error     *string  `json:"error"`
}

// ExecutionResult is what one executor invocation returns.
type ExecutionResult struct {
	Success   bool           `json:"success"`
	NextNodes []string       `json:"nextNodes,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  *float64       `json:"duration,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
