package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/streaming"
)

// progressMethod is the notification method carrying run events.
const progressMethod = "notifications/message"

// Notifier pushes run events to the MCP client that started the run.
type Notifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewNotifier creates a notifier over the given registry.
func NewNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *Notifier {
	return &Notifier{mcpServer: mcpServer, sessions: sessions}
}

// Deliver is a streaming.DeliverFunc. Best-effort: returns nil if the
// client is gone.
func (n *Notifier) Deliver(_ context.Context, ev streaming.StreamEvent) error {
	clientID, ok := n.sessions.ClientFor(ev.SessionID)
	if !ok {
		return nil
	}
	payload := map[string]any{
		"level":  "info",
		"logger": "nodeflow",
		"data": map[string]any{
			"event":     ev.TaggedName(),
			"kind":      ev.Kind,
			"sessionId": ev.SessionID,
			"nodeId":    ev.NodeID,
			"content":   ev.Content,
		},
	}
	err := n.mcpServer.SendNotificationToSpecificClient(clientID, progressMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.RemoveClient(clientID)
		return nil
	}
	return err
}
