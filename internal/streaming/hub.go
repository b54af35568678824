// Package streaming carries run progress events from executors to clients.
package streaming

import (
	"context"
	"strings"
	"time"
)

// StreamEvent is one progress event of a run.
type StreamEvent struct {
	ID         uint64    `json:"id"`
	WorkflowID string    `json:"workflowId"`
	SessionID  string    `json:"sessionId"`
	NodeID     string    `json:"nodeId,omitempty"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name,omitempty"`
	StreamID   string    `json:"streamId,omitempty"`
	Content    string    `json:"content,omitempty"`
	Data       any       `json:"data,omitempty"`
	Code       int       `json:"code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TaggedName returns the event name with the node ID appended as
// NAME::nodeId, the form clients use to route events to nodes.
func (e StreamEvent) TaggedName() string {
	name := e.Name
	if name == "" {
		name = strings.ToUpper(e.Kind)
	}
	if e.NodeID == "" {
		return name
	}
	return name + "::" + e.NodeID
}

// SplitTaggedName splits NAME::nodeId into its parts.
func SplitTaggedName(tagged string) (name, nodeID string) {
	name, nodeID, _ = strings.Cut(tagged, "::")
	return name, nodeID
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID string   `json:"workflowId,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	Kinds      []string `json:"kinds,omitempty"`
}

// EventHub provides pub/sub of run events to observers.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
