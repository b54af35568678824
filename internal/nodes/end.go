package nodes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// EndExecutor reports the final state of the run. It does not modify the
// context.
type EndExecutor struct {
	logger *slog.Logger
}

// NewEndExecutor creates an EndExecutor.
func NewEndExecutor(logger *slog.Logger) *EndExecutor {
	return &EndExecutor{logger: logger}
}

func (e *EndExecutor) Execute(ctx context.Context, nodeID string, cfg schema.NodeConfig, ec *execution.Context, sink streaming.Sink) *schema.ExecutionResult {
	out := newOutput(sink, e.logger, nodeID)
	return run(ctx, out, "End", func() error {
		c, ok := cfg.(schema.EndConfig)
		if !ok {
			return wrongConfig(schema.NodeTypeEnd, cfg)
		}
		vars := ec.Variables()
		out.trace(ctx, fmt.Sprintf("End node '%s' reached with %d variables%s",
			label(c.Name, nodeID), len(vars), variableLines(vars)))
		out.block(ctx, schema.EventWorkflowComplete, "Workflow execution completed successfully")

		final, err := ec.Snapshot().Map()
		if err != nil {
			return fmt.Errorf("serialize final context: %w", err)
		}
		out.json(ctx, schema.EventFinalContext, final)
		return nil
	})
}
