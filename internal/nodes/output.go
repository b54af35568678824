package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// output writes a node's events to the sink. Delivery failures are logged
// and never fail the node.
type output struct {
	sink   streaming.Sink
	log    *slog.Logger
	nodeID string
}

func newOutput(sink streaming.Sink, logger *slog.Logger, nodeID string) *output {
	if sink == nil {
		sink = streaming.Discard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &output{sink: sink, log: logger, nodeID: nodeID}
}

func (o *output) block(ctx context.Context, name, content string) {
	o.check(ctx, name, o.sink.TextBlock(ctx, name, content, o.nodeID))
}

func (o *output) trace(ctx context.Context, content string) {
	o.block(ctx, schema.EventTransparency, content)
}

func (o *output) json(ctx context.Context, name string, data any) {
	o.check(ctx, name, o.sink.JSON(ctx, name, data, o.nodeID))
}

func (o *output) fail(ctx context.Context, message string) {
	o.check(ctx, schema.EventError, o.sink.Error(ctx, message, errorCode, o.nodeID))
}

func (o *output) stream(ctx context.Context, name string) *textOut {
	return &textOut{out: o, name: name, stream: o.sink.TextStream(ctx, name, o.nodeID)}
}

func (o *output) check(ctx context.Context, name string, err error) {
	if err != nil {
		o.log.WarnContext(ctx, "sink delivery failed", "event", name, "error", err)
	}
}

type textOut struct {
	out    *output
	name   string
	stream streaming.TextStream
}

func (t *textOut) emit(ctx context.Context, chunk string) {
	t.out.check(ctx, t.name, t.stream.Emit(ctx, chunk))
}

func (t *textOut) complete(ctx context.Context) {
	t.out.check(ctx, t.name, t.stream.Complete(ctx))
}
