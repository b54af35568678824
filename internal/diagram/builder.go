package diagram

import (
	"fmt"
	"math"

	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Build constructs a DiagramModel from a definition and, optionally, the
// execution trace of a run. Nodes appear in topological order; a graph with
// cycles keeps declaration order and has no levels.
func Build(def *schema.WorkflowDefinition, trace []schema.NodeExecution) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: nil workflow definition")
	}
	c := graph.Compile(def)

	order, err := c.TopologicalOrder()
	if err != nil {
		order = make([]string, 0, len(def.Nodes))
		for _, n := range def.Nodes {
			order = append(order, n.ID)
		}
	}

	outcomes := make(map[string]schema.NodeExecution, len(trace))
	for _, e := range trace {
		outcomes[e.NodeID] = e
	}

	model := &DiagramModel{Title: titleFromDef(def)}
	for _, id := range order {
		n, ok := c.Node(id)
		if !ok {
			continue
		}
		dn := toNode(n)
		if trace != nil {
			dn.Status = overlay(outcomes, id)
		}
		model.Nodes = append(model.Nodes, dn)
	}

	for _, e := range def.Edges {
		if _, ok := c.Node(e.Source); !ok {
			continue
		}
		if _, ok := c.Node(e.Target); !ok {
			continue
		}
		label := ""
		if e.SourceHandle != nil {
			label = *e.SourceHandle
		}
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: label})
	}

	if err == nil {
		model.Levels = buildLevels(c, order)
	}
	return model, nil
}

func toNode(n *schema.Node) *Node {
	dn := &Node{ID: n.ID, Label: n.ID, Kind: kindOf(n.Type)}
	cfg, err := schema.DecodeNodeConfig(n)
	if err != nil {
		dn.Detail = string(n.Type)
		return dn
	}
	if name := cfg.DisplayName(); name != "" {
		dn.Label = name
	}
	switch c := cfg.(type) {
	case schema.StartConfig:
		dn.Detail = fmt.Sprintf("start: %d vars", len(c.InputVariables)+len(c.StateVariables))
	case schema.AgentConfig:
		dn.Detail = fmt.Sprintf("agent: %s/%s -> %s", c.Provider, c.Model, c.OutputVariable)
	case schema.TransformConfig:
		dn.Detail = fmt.Sprintf("transform: %s, %d assignments", c.OutputType, len(c.Assignments))
	case schema.SetStateConfig:
		dn.Detail = fmt.Sprintf("setState: %d assignments", len(c.Assignments))
	default:
		dn.Detail = string(n.Type)
	}
	return dn
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeStart:
		return NodeKindStart
	case schema.NodeTypeAgent:
		return NodeKindAgent
	case schema.NodeTypeEnd:
		return NodeKindEnd
	case schema.NodeTypeTransform:
		return NodeKindTransform
	case schema.NodeTypeSetState:
		return NodeKindSetState
	default:
		return NodeKindReserved
	}
}

func overlay(outcomes map[string]schema.NodeExecution, id string) *StatusOverlay {
	e, ok := outcomes[id]
	if !ok {
		return &StatusOverlay{Status: StatusPending}
	}
	so := &StatusOverlay{Status: StatusCompleted}
	if !e.Success {
		so.Status = StatusFailed
	}
	if e.Duration != nil {
		so.DurationMs = int64(math.Round(*e.Duration * 1000))
	}
	if e.Error != nil {
		so.Error = *e.Error
	}
	return so
}

// buildLevels groups nodes by longest distance from a root, so every edge
// points to a later level.
func buildLevels(c *graph.Compiler, order []string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		d := 0
		for _, pred := range c.Predecessors(id) {
			if pd, ok := depth[pred]; ok && pd+1 > d {
				d = pd + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(order) == 0 {
		return nil
	}
	levels := make([][]string, maxDepth+1)
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	if def.ID != "" {
		return def.ID
	}
	return "Workflow"
}
