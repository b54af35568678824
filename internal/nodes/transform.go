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

// defaultTransformOutput is the object-mode target when the node has
// neither an output variable nor a name.
const defaultTransformOutput = "transform_result"

// TransformExecutor evaluates assignments either one variable at a time or
// into a single object.
type TransformExecutor struct {
	ev     *expressions.Evaluator
	logger *slog.Logger
}

// NewTransformExecutor creates a TransformExecutor.
func NewTransformExecutor(ev *expressions.Evaluator, logger *slog.Logger) *TransformExecutor {
	return &TransformExecutor{ev: ev, logger: logger}
}

func (e *TransformExecutor) Execute(ctx context.Context, nodeID string, cfg schema.NodeConfig, ec *execution.Context, sink streaming.Sink) *schema.ExecutionResult {
	out := newOutput(sink, e.logger, nodeID)
	return run(ctx, out, "Transform", func() error {
		c, ok := cfg.(schema.TransformConfig)
		if !ok {
			return wrongConfig(schema.NodeTypeTransform, cfg)
		}
		if e.ev == nil {
			return schema.NewError(schema.ErrCodeExecution, "no expression evaluator configured")
		}
		name := label(c.Name, nodeID)

		if c.OutputType != schema.TransformModeObject {
			written, err := applyAssignments(ctx, e.ev, c.Language, c.Assignments, ec)
			if err != nil {
				return err
			}
			out.trace(ctx, fmt.Sprintf("Transform '%s' assigned %d variables%s", name, len(written), variableLines(written)))
			return nil
		}

		entry := execution.Clone(ec.Variables())
		result := make(map[string]any, len(c.Assignments))
		for _, a := range c.Assignments {
			v, err := e.ev.Evaluate(ctx, c.Language, a.Expression, entry)
			if err != nil {
				return assignmentError(a, err)
			}
			result[a.Target()] = v
		}
		target := c.OutputVariable
		if target == "" {
			target = snakeCase(c.Name)
		}
		if target == "" {
			target = defaultTransformOutput
		}
		ec.SetVariable(target, result)
		out.trace(ctx, fmt.Sprintf("Transform '%s' built object '%s' with %d keys%s", name, target, len(result), variableLines(result)))
		return nil
	})
}

// applyAssignments evaluates assignments in order, each seeing the writes of
// the ones before it. The first failure stops evaluation; earlier writes
// stay.
func applyAssignments(ctx context.Context, ev *expressions.Evaluator, lang string, assignments []schema.Assignment, ec *execution.Context) (map[string]any, error) {
	written := make(map[string]any, len(assignments))
	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return written, schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(err)
		}
		v, err := ev.Evaluate(ctx, lang, a.Expression, ec.Variables())
		if err != nil {
			return written, assignmentError(a, err)
		}
		ec.SetVariable(a.Target(), v)
		written[a.Target()] = v
	}
	return written, nil
}

func assignmentError(a schema.Assignment, err error) error {
	return schema.NewErrorf(schema.ErrCodeExpression, "assignment to '%s' failed: %s", a.Target(), errorMessage(err)).
		WithCause(err).
		WithDetails(map[string]any{"expression": a.Expression})
}
