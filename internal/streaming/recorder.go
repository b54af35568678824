package streaming

import (
	"context"
	"strings"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Recorder is a Sink that keeps every event in memory. The CLI, the MCP
// server and tests use it to inspect a finished run.
type Recorder struct {
	*EventSink

	mu     sync.Mutex
	events []StreamEvent
}

// NewRecorder creates a Recorder. Extra destinations receive each event too.
func NewRecorder(workflowID, sessionID string, also ...DeliverFunc) *Recorder {
	r := &Recorder{}
	r.EventSink = NewEventSink(workflowID, sessionID, append([]DeliverFunc{r.record}, also...)...)
	return r
}

func (r *Recorder) record(_ context.Context, ev StreamEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StreamEvent(nil), r.events...)
}

// Named returns the events whose name equals name.
func (r *Recorder) Named(name string) []StreamEvent {
	var out []StreamEvent
	for _, ev := range r.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Kinds returns the kind of every recorded event in order.
func (r *Recorder) Kinds() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

// Text concatenates the chunks streamed under name.
func (r *Recorder) Text(name string) string {
	var b strings.Builder
	for _, ev := range r.Events() {
		if ev.Kind == schema.KindTextChunk && ev.Name == name {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

// Errors returns the error events.
func (r *Recorder) Errors() []StreamEvent {
	var out []StreamEvent
	for _, ev := range r.Events() {
		if ev.Kind == schema.KindError {
			out = append(out, ev)
		}
	}
	return out
}

// Discard returns a Sink that drops every event.
func Discard() Sink {
	return NewEventSink("", "")
}
