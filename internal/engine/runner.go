// Package engine runs workflow graphs: breadth-first traversal over the
// compiled graph, one executor per node, progress streamed to a sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// RunResult summarizes a finished run.
type RunResult struct {
	WorkflowID string                 `json:"workflowId"`
	SessionID  string                 `json:"sessionId"`
	Status     schema.RunStatus       `json:"status"`
	Error      string                 `json:"error,omitempty"`
	FailedNode string                 `json:"failedNode,omitempty"`
	Report     *schema.GraphReport    `json:"report,omitempty"`
	Trace      []schema.NodeExecution `json:"trace"`
	Context    *execution.Snapshot    `json:"context,omitempty"`
	StartedAt  time.Time              `json:"startedAt"`
	Duration   time.Duration          `json:"duration"`
}

// Variables returns the final global variables, or nil if the run never
// started.
func (r *RunResult) Variables() map[string]any {
	if r.Context == nil {
		return nil
	}
	return r.Context.Variables
}

// RunOption customizes one run.
type RunOption func(*runOptions)

type runOptions struct {
	sessionID string
}

// WithSessionID sets the run's session id instead of generating one.
func WithSessionID(id string) RunOption {
	return func(o *runOptions) { o.sessionID = id }
}

// Runner executes workflow definitions.
type Runner struct {
	registry *nodes.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner dispatching through registry.
func NewRunner(registry *nodes.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger, now: time.Now}
}

// Validate checks the graph without executing anything.
func (r *Runner) Validate(def *schema.WorkflowDefinition) *schema.GraphReport {
	return graph.Compile(def).Validate()
}

// Run validates def and executes it breadth-first from the start node.
// inputs seed the context before Start runs. Every outcome ends the sink
// with DONE; the returned error is non-nil when the run did not complete.
// The result is never nil.
func (r *Runner) Run(ctx context.Context, def *schema.WorkflowDefinition, inputs map[string]any, sink streaming.Sink, opts ...RunOption) (result *RunResult, err error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	if sink == nil {
		sink = streaming.Discard()
	}
	if def == nil {
		def = &schema.WorkflowDefinition{}
	}

	ctx = logging.WithRun(ctx, def.ID, o.sessionID)
	log := logging.LogWith(ctx, r.logger)
	fsm := NewRunFSM(r.logger)
	run := &runState{
		runner: r,
		fsm:    fsm,
		sink:   sink,
		log:    log,
		result: &RunResult{
			WorkflowID: def.ID,
			SessionID:  o.sessionID,
			Status:     schema.RunStatusPending,
			Trace:      []schema.NodeExecution{},
			StartedAt:  r.now(),
		},
	}

	defer func() {
		if p := recover(); p != nil {
			log.ErrorContext(ctx, "run panicked", "panic", p)
			err = run.abort(ctx, schema.RunStatusFailed,
				schema.NewErrorf(schema.ErrCodeExecution, "Execution error: %v", p), "")
		}
		run.result.Status = fsm.Status()
		run.result.Duration = r.now().Sub(run.result.StartedAt)
		run.done(ctx)
		result = run.result
		log.InfoContext(ctx, "run finished", "status", result.Status, "nodes", len(result.Trace), "duration", result.Duration)
	}()

	compiled := graph.Compile(def)
	report := compiled.Validate()
	run.result.Report = report
	if !report.Valid {
		return run.result, run.abort(ctx, schema.RunStatusRejected, report.ToError(), "")
	}
	start := compiled.FindStartNode()
	if start == nil {
		return run.result, run.abort(ctx, schema.RunStatusRejected,
			schema.NewError(schema.ErrCodeValidation, "No start node found"), "")
	}

	if err := fsm.Transition(ctx, schema.RunStatusRunning); err != nil {
		return run.result, err
	}
	log.InfoContext(ctx, "run started", "workflow_name", def.Name, "nodes", len(def.Nodes))

	ec := execution.New(def.ID, o.sessionID, inputs)
	ec.SetMetadata("workflowName", def.Name)
	ec.SetMetadata("workflowVersion", def.Version)
	err = run.traverse(ctx, compiled, start.ID, ec)
	snap := ec.Snapshot()
	run.result.Context = &snap
	run.result.Trace = snap.ExecutionHistory
	return run.result, err
}

// runState is the mutable state of one Run call.
type runState struct {
	runner *Runner
	fsm    *RunFSM
	sink   streaming.Sink
	log    *slog.Logger
	result *RunResult
	ended  bool
}

func (s *runState) traverse(ctx context.Context, compiled *graph.Compiler, startID string, ec *execution.Context) error {
	queue := []string{startID}
	visited := make(map[string]bool)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		if err := ctx.Err(); err != nil {
			return s.abort(ctx, schema.RunStatusCancelled,
				schema.NewError(schema.ErrCodeCancelled, "Execution cancelled").WithNode(id).WithCause(err), id)
		}

		node, ok := compiled.Node(id)
		if !ok {
			s.log.WarnContext(ctx, "node not found, skipping", "node_id", id)
			continue
		}

		exec, ok := s.runner.registry.Lookup(node.Type)
		if !ok {
			s.log.WarnContext(ctx, "no executor for node type, skipping", "node_id", id, "type", node.Type)
			s.emit(ctx, schema.EventNodeSkipped, s.sink.TextBlock(ctx, schema.EventNodeSkipped,
				fmt.Sprintf("Node '%s' of type '%s' is not executable and was skipped", id, node.Type), id))
			queue = appendSuccessors(queue, compiled, id)
			continue
		}

		res := nodes.Invoke(ctx, exec, node, ec, s.sink, s.runner.logger)
		ec.RecordExecution(id, res.Success, res.Duration, res.Error)
		if !res.Success {
			s.log.WarnContext(ctx, "node failed, stopping run", "node_id", id, "error", res.Error)
			s.result.Error = res.Error
			s.result.FailedNode = id
			if ctx.Err() != nil {
				if err := s.fsm.Transition(ctx, schema.RunStatusCancelled); err != nil {
					return err
				}
				return schema.NewError(schema.ErrCodeCancelled, res.Error).WithNode(id).WithCause(ctx.Err())
			}
			if err := s.fsm.Transition(ctx, schema.RunStatusFailed); err != nil {
				return err
			}
			return schema.NewError(schema.ErrCodeNodeFailed, res.Error).WithNode(id)
		}
		queue = appendSuccessors(queue, compiled, id)
	}

	return s.fsm.Transition(ctx, schema.RunStatusCompleted)
}

func appendSuccessors(queue []string, compiled *graph.Compiler, id string) []string {
	for _, next := range compiled.NextNodes(id, nil) {
		queue = append(queue, next.ID)
	}
	return queue
}

// abort ends the run before or during traversal with an error event. The
// node that failed emits its own event, so abort is not used for node
// failures.
func (s *runState) abort(ctx context.Context, status schema.RunStatus, cause error, nodeID string) error {
	msg := cause.Error()
	if se, ok := cause.(*schema.Error); ok {
		msg = se.Message
	}
	s.result.Error = msg
	s.emit(ctx, schema.EventError, s.sink.Error(context.WithoutCancel(ctx), msg, schema.StatusOf(cause), nodeID))
	if err := s.fsm.Transition(ctx, status); err != nil {
		s.log.WarnContext(ctx, "run state not updated", "to", status, "error", err)
	}
	return cause
}

func (s *runState) done(ctx context.Context) {
	if s.ended {
		return
	}
	s.ended = true
	s.emit(ctx, schema.EventDone, s.sink.Done(context.WithoutCancel(ctx)))
}

func (s *runState) emit(ctx context.Context, name string, err error) {
	if err != nil {
		s.log.WarnContext(ctx, "sink delivery failed", "event", name, "error", err)
	}
}
