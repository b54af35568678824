package nodes

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newEvaluator(t *testing.T) *expressions.Evaluator {
	t.Helper()
	ev, err := expressions.NewEvaluator()
	require.NoError(t, err)
	return ev
}

func newRecorder() *streaming.Recorder {
	return streaming.NewRecorder("wf-1", "sess-1")
}

func newContext(seed map[string]any) *execution.Context {
	return execution.New("wf-1", "sess-1", seed)
}

// fakeCompleter replays fixed chunks and records the last request.
type fakeCompleter struct {
	chunks []llm.Chunk
	err    error
	last   llm.Request
	calls  int
}

func (f *fakeCompleter) Stream(_ context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	f.calls++
	f.last = req
	return func(yield func(llm.Chunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield(llm.Chunk{}, f.err)
		}
	}
}

func answer(text ...string) *fakeCompleter {
	f := &fakeCompleter{}
	for _, t := range text {
		f.chunks = append(f.chunks, llm.Chunk{Kind: llm.ChunkContent, Text: t})
	}
	return f
}

// failingSink rejects every event.
type failingSink struct{}

var errSink = errors.New("sink closed")

func (failingSink) TextBlock(context.Context, string, string, string) error { return errSink }
func (failingSink) TextStream(context.Context, string, string) streaming.TextStream {
	return failingStream{}
}
func (failingSink) JSON(context.Context, string, any, string) error  { return errSink }
func (failingSink) Error(context.Context, string, int, string) error { return errSink }
func (failingSink) Done(context.Context) error                       { return errSink }

type failingStream struct{}

func (failingStream) Emit(context.Context, string) error { return errSink }
func (failingStream) Complete(context.Context) error     { return errSink }

func node(id string, typ schema.NodeType, data map[string]any) *schema.Node {
	return &schema.Node{ID: id, Type: typ, Data: data}
}

func decode(t *testing.T, n *schema.Node) schema.NodeConfig {
	t.Helper()
	cfg, err := schema.DecodeNodeConfig(n)
	require.NoError(t, err)
	return cfg
}
