// Package nodes implements the per-type node executors and the registry the
// runner dispatches through.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// errorCode is the numeric code of every node failure event.
const errorCode = 500

// Executor runs one node. It never returns a Go error: every failure is a
// failed result plus exactly one error event on the sink.
type Executor interface {
	Execute(ctx context.Context, nodeID string, cfg schema.NodeConfig, ec *execution.Context, sink streaming.Sink) *schema.ExecutionResult
}

// Registry maps node types to executors.
type Registry struct {
	executors map[schema.NodeType]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[schema.NodeType]Executor)}
}

// Register sets the executor for a node type, replacing any previous one.
func (r *Registry) Register(t schema.NodeType, e Executor) {
	r.executors[t] = e
}

// Lookup returns the executor for a node type.
func (r *Registry) Lookup(t schema.NodeType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []schema.NodeType {
	out := make([]schema.NodeType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deps are the collaborators of the built-in executors.
type Deps struct {
	Evaluator   *expressions.Evaluator
	Credentials secrets.CredentialLookup
	Completer   llm.Completer
	Logger      *slog.Logger
}

// DefaultRegistry registers the start, agent, end, transform and setState
// executors.
func DefaultRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	r.Register(schema.NodeTypeStart, NewStartExecutor(logger))
	r.Register(schema.NodeTypeAgent, NewAgentExecutor(deps.Completer, deps.Credentials, logger))
	r.Register(schema.NodeTypeEnd, NewEndExecutor(logger))
	r.Register(schema.NodeTypeTransform, NewTransformExecutor(deps.Evaluator, logger))
	r.Register(schema.NodeTypeSetState, NewSetStateExecutor(deps.Evaluator, logger))
	return r
}

// Invoke decodes the node's config and runs exec. A config that cannot be
// decoded fails the node the same way an execution error does.
func Invoke(ctx context.Context, exec Executor, node *schema.Node, ec *execution.Context, sink streaming.Sink, logger *slog.Logger) *schema.ExecutionResult {
	cfg, err := schema.DecodeNodeConfig(node)
	if err != nil {
		out := newOutput(sink, logger, node.ID)
		msg := fmt.Sprintf("Invalid %s node config: %s", node.Type, errorMessage(err))
		out.fail(ctx, msg)
		return &schema.ExecutionResult{Success: false, Error: msg, Duration: seconds(0)}
	}
	return exec.Execute(logging.WithNodeID(ctx, node.ID), node.ID, cfg, ec, sink)
}

// run is the common executor envelope: it times fn, converts an error or a
// panic into a failed result and emits the "<kind> node error" event.
func run(ctx context.Context, out *output, kind string, fn func() error) (res *schema.ExecutionResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			out.log.ErrorContext(ctx, "node panicked", "kind", kind, "panic", p)
			res = failed(ctx, out, kind, fmt.Errorf("panic: %v", p), start)
		}
	}()

	if err := fn(); err != nil {
		return failed(ctx, out, kind, err, start)
	}
	return &schema.ExecutionResult{Success: true, Duration: seconds(time.Since(start))}
}

func failed(ctx context.Context, out *output, kind string, err error, start time.Time) *schema.ExecutionResult {
	msg := errorMessage(err)
	out.fail(ctx, fmt.Sprintf("%s node error: %s", kind, msg))
	return &schema.ExecutionResult{Success: false, Error: msg, Duration: seconds(time.Since(start))}
}

func errorMessage(err error) string {
	if se, ok := err.(*schema.Error); ok {
		return se.Message
	}
	return err.Error()
}

func seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

func wrongConfig(want schema.NodeType, got schema.NodeConfig) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "expected %s config, got %T", want, got)
}
