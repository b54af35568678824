package streaming

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Sink is the per-run output channel executors write progress to.
type Sink interface {
	TextBlock(ctx context.Context, name, content, nodeID string) error
	TextStream(ctx context.Context, name, nodeID string) TextStream
	JSON(ctx context.Context, name string, data any, nodeID string) error
	Error(ctx context.Context, message string, code int, nodeID string) error
	Done(ctx context.Context) error
}

// TextStream is an incremental text channel opened on a Sink. Chunks are
// delivered in Emit order; Complete closes the stream.
type TextStream interface {
	Emit(ctx context.Context, chunk string) error
	Complete(ctx context.Context) error
}

// DeliverFunc hands one fully built event to its destination.
type DeliverFunc func(ctx context.Context, event StreamEvent) error

// EventSink builds StreamEvents with monotonically increasing IDs and hands
// them to one or more destinations. It is safe for concurrent use.
type EventSink struct {
	workflowID string
	sessionID  string
	deliver    []DeliverFunc

	seq     atomic.Uint64
	streams atomic.Uint64
	mu      sync.Mutex
	done    bool
	now     func() time.Time
}

// NewEventSink creates a sink for one run.
func NewEventSink(workflowID, sessionID string, deliver ...DeliverFunc) *EventSink {
	return &EventSink{
		workflowID: workflowID,
		sessionID:  sessionID,
		deliver:    deliver,
		now:        time.Now,
	}
}

// NewHubSink creates a sink that publishes every event to hub.
func NewHubSink(hub EventHub, workflowID, sessionID string) *EventSink {
	return NewEventSink(workflowID, sessionID, hub.Publish)
}

// Tee adds another destination. It must be called before the run starts.
func (s *EventSink) Tee(fn DeliverFunc) *EventSink {
	s.deliver = append(s.deliver, fn)
	return s
}

func (s *EventSink) TextBlock(ctx context.Context, name, content, nodeID string) error {
	return s.emit(ctx, StreamEvent{Kind: schema.KindTextBlock, Name: name, Content: content, NodeID: nodeID})
}

func (s *EventSink) TextStream(ctx context.Context, name, nodeID string) TextStream {
	return &textStream{
		sink:   s,
		name:   name,
		nodeID: nodeID,
		id:     "stream-" + strconv.FormatUint(s.streams.Add(1), 10),
	}
}

func (s *EventSink) JSON(ctx context.Context, name string, data any, nodeID string) error {
	return s.emit(ctx, StreamEvent{Kind: schema.KindJSON, Name: name, Data: data, NodeID: nodeID})
}

func (s *EventSink) Error(ctx context.Context, message string, code int, nodeID string) error {
	return s.emit(ctx, StreamEvent{Kind: schema.KindError, Name: schema.EventError, Content: message, Code: code, NodeID: nodeID})
}

// Done emits the completion marker. Only the first call emits.
func (s *EventSink) Done(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()
	return s.emit(ctx, StreamEvent{Kind: schema.KindDone, Name: schema.EventDone})
}

func (s *EventSink) emit(ctx context.Context, ev StreamEvent) error {
	ev.ID = s.seq.Add(1)
	ev.WorkflowID = s.workflowID
	ev.SessionID = s.sessionID
	ev.Timestamp = s.now()

	var firstErr error
	for _, d := range s.deliver {
		if err := d(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type textStream struct {
	sink   *EventSink
	name   string
	nodeID string
	id     string

	mu     sync.Mutex
	closed bool
}

func (t *textStream) Emit(ctx context.Context, chunk string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return schema.NewErrorf(schema.ErrCodeExecution, "text stream %s already completed", t.name)
	}
	return t.sink.emit(ctx, StreamEvent{
		Kind: schema.KindTextChunk, Name: t.name, NodeID: t.nodeID, StreamID: t.id, Content: chunk,
	})
}

func (t *textStream) Complete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.sink.emit(ctx, StreamEvent{
		Kind: schema.KindTextEnd, Name: t.name, NodeID: t.nodeID, StreamID: t.id,
	})
}

var _ Sink = (*EventSink)(nil)
