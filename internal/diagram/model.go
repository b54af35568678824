// Package diagram renders workflow graphs as Mermaid text, ASCII boxes or
// PNG images, optionally colored by the outcome of a run.
package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindAgent     NodeKind = "agent"
	NodeKindEnd       NodeKind = "end"
	NodeKindTransform NodeKind = "transform"
	NodeKindSetState  NodeKind = "setState"
	NodeKindReserved  NodeKind = "reserved"
)

// Run statuses a node can be overlaid with.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one workflow node.
type Node struct {
	ID     string
	Label  string
	Detail string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of a node in a run.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge connects two nodes; Label is the source handle, if any.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given id, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
