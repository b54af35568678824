package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// StartExecutor seeds the run's input and state variables.
type StartExecutor struct {
	logger *slog.Logger
}

// NewStartExecutor creates a StartExecutor.
func NewStartExecutor(logger *slog.Logger) *StartExecutor {
	return &StartExecutor{logger: logger}
}

// Execute declares every variable not already present in the context.
// Values seeded by the caller win over node defaults.
func (e *StartExecutor) Execute(ctx context.Context, nodeID string, cfg schema.NodeConfig, ec *execution.Context, sink streaming.Sink) *schema.ExecutionResult {
	out := newOutput(sink, e.logger, nodeID)
	return run(ctx, out, "Start", func() error {
		c, ok := cfg.(schema.StartConfig)
		if !ok {
			return wrongConfig(schema.NodeTypeStart, cfg)
		}
		log := logging.LogWith(ctx, out.log)

		var lines strings.Builder
		seed := func(kind string, decls []schema.VariableSpec) {
			for _, decl := range decls {
				if ec.HasVariable(decl.Name) {
					v, _ := ec.GetVariable(decl.Name)
					fmt.Fprintf(&lines, "\n- %s (%s, provided) = %s", decl.Name, kind, preview(v))
					continue
				}
				v := Coerce(decl.Type, decl.Raw())
				ec.SetVariable(decl.Name, v)
				fmt.Fprintf(&lines, "\n- %s (%s, %s) = %s", decl.Name, kind, describeType(v), preview(v))
			}
		}
		seed("input", c.InputVariables)
		seed("state", c.StateVariables)

		count := len(ec.Variables())
		log.DebugContext(ctx, "start node seeded variables", "count", count)
		out.block(ctx, schema.EventWorkflowStart, fmt.Sprintf("Workflow started with %d variables", count))
		out.trace(ctx, fmt.Sprintf("Start node '%s' initialized %d variables%s",
			label(c.Name, nodeID), len(c.InputVariables)+len(c.StateVariables), lines.String()))
		return nil
	})
}
