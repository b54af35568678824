package nodes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// SetStateExecutor writes expression results directly into variables.
type SetStateExecutor struct {
	ev     *expressions.Evaluator
	logger *slog.Logger
}

// NewSetStateExecutor creates a SetStateExecutor.
func NewSetStateExecutor(ev *expressions.Evaluator, logger *slog.Logger) *SetStateExecutor {
	return &SetStateExecutor{ev: ev, logger: logger}
}

func (e *SetStateExecutor) Execute(ctx context.Context, nodeID string, cfg schema.NodeConfig, ec *execution.Context, sink streaming.Sink) *schema.ExecutionResult {
	out := newOutput(sink, e.logger, nodeID)
	return run(ctx, out, "SetState", func() error {
		c, ok := cfg.(schema.SetStateConfig)
		if !ok {
			return wrongConfig(schema.NodeTypeSetState, cfg)
		}
		if e.ev == nil {
			return schema.NewError(schema.ErrCodeExecution, "no expression evaluator configured")
		}
		written, err := applyAssignments(ctx, e.ev, c.Language, c.Assignments, ec)
		if err != nil {
			return err
		}
		out.trace(ctx, fmt.Sprintf("SetState '%s' updated %d variables%s", label(c.Name, nodeID), len(written), variableLines(written)))
		return nil
	})
}
