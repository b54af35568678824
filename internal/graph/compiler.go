// Package graph indexes a workflow definition for traversal and validates
// its structure.
package graph

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Compiler is the indexed, read-only form of a WorkflowDefinition.
type Compiler struct {
	def     *schema.WorkflowDefinition
	nodes   map[string]*schema.Node
	order   []string                  // node IDs in declaration order
	forward map[string][]*schema.Edge // node ID → outgoing edges
	reverse map[string][]string       // node ID → source node IDs
}

// Compile builds adjacency and reverse-adjacency indices for def. It never
// fails: structural problems are reported by Validate.
func Compile(def *schema.WorkflowDefinition) *Compiler {
	if def == nil {
		def = &schema.WorkflowDefinition{}
	}

	c := &Compiler{
		def:     def,
		nodes:   make(map[string]*schema.Node, len(def.Nodes)),
		order:   make([]string, 0, len(def.Nodes)),
		forward: make(map[string][]*schema.Edge, len(def.Nodes)),
		reverse: make(map[string][]string, len(def.Nodes)),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if _, dup := c.nodes[n.ID]; dup {
			continue
		}
		c.nodes[n.ID] = n
		c.order = append(c.order, n.ID)
	}

	for i := range def.Edges {
		e := &def.Edges[i]
		c.forward[e.Source] = append(c.forward[e.Source], e)
		c.reverse[e.Target] = append(c.reverse[e.Target], e.Source)
	}

	return c
}

// Definition returns the compiled definition.
func (c *Compiler) Definition() *schema.WorkflowDefinition {
	return c.def
}

// Node looks up a node by ID.
func (c *Compiler) Node(id string) (*schema.Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (c *Compiler) Nodes() []*schema.Node {
	out := make([]*schema.Node, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.nodes[id])
	}
	return out
}

// NextNodes returns the targets of id's outgoing edges in edge declaration
// order. A non-nil handle keeps only edges whose source handle equals it.
// Edges pointing at unknown nodes are ignored.
func (c *Compiler) NextNodes(id string, handle *string) []*schema.Node {
	var out []*schema.Node
	for _, e := range c.forward[id] {
		if handle != nil && (e.SourceHandle == nil || *e.SourceHandle != *handle) {
			continue
		}
		if n, ok := c.nodes[e.Target]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Predecessors returns the source IDs of id's incoming edges.
func (c *Compiler) Predecessors(id string) []string {
	return append([]string(nil), c.reverse[id]...)
}

// FindStartNode returns the first start node in declaration order, or nil.
func (c *Compiler) FindStartNode() *schema.Node {
	for _, id := range c.order {
		if n := c.nodes[id]; n.Type == schema.NodeTypeStart {
			return n
		}
	}
	return nil
}

// Validate checks the structural rules of the graph. Errors accumulate.
func (c *Compiler) Validate() *schema.GraphReport {
	report := &schema.GraphReport{
		Errors:    []string{},
		NodeCount: len(c.def.Nodes),
		EdgeCount: len(c.def.Edges),
	}

	report.Errors = append(report.Errors, c.checkNodeIDs()...)

	starts := 0
	for _, id := range c.order {
		if c.nodes[id].Type == schema.NodeTypeStart {
			starts++
		}
	}
	switch {
	case starts == 0:
		report.Errors = append(report.Errors, "Workflow must have exactly one Start node")
	case starts > 1:
		report.Errors = append(report.Errors,
			fmt.Sprintf("Workflow must have exactly one Start node (found %d)", starts))
	}

	for _, e := range c.def.Edges {
		for _, end := range []string{e.Source, e.Target} {
			if _, ok := c.nodes[end]; !ok {
				report.Errors = append(report.Errors,
					fmt.Sprintf("Edge %s references unknown node %s", edgeLabel(e), end))
			}
		}
	}

	if cycles := c.DetectCycles(); len(cycles) > 0 {
		report.HasCycles = true
		report.Cycles = cycles
		report.Errors = append(report.Errors, fmt.Sprintf("Workflow contains %d cycle(s)", len(cycles)))
	}

	if disconnected := c.Unreachable(); len(disconnected) > 0 {
		report.Disconnected = disconnected
		report.Errors = append(report.Errors, "Disconnected nodes: "+strings.Join(disconnected, ", "))
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func (c *Compiler) checkNodeIDs() []string {
	var errs []string
	seen := make(map[string]bool, len(c.def.Nodes))
	for i, n := range c.def.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Sprintf("Node at index %d has an empty id", i))
			continue
		}
		if seen[n.ID] {
			errs = append(errs, "Duplicate node id: "+n.ID)
		}
		seen[n.ID] = true
	}
	return errs
}

// DetectCycles runs a depth-first search from every unvisited node in
// declaration order. Each cycle is the path from the first occurrence of
// the repeated node to the node that closed it. Self-loops are cycles.
func (c *Compiler) DetectCycles() [][]string {
	visited := make(map[string]bool, len(c.order))
	onStack := make(map[string]bool, len(c.order))
	var cycles [][]string
	var path []string

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, e := range c.forward[id] {
			next := e.Target
			if _, ok := c.nodes[next]; !ok {
				continue
			}
			if !visited[next] {
				dfs(next)
			} else if onStack[next] {
				for i, p := range path {
					if p == next {
						cycles = append(cycles, append([]string(nil), path[i:]...))
						break
					}
				}
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
	}

	for _, id := range c.order {
		if !visited[id] {
			dfs(id)
		}
	}
	return cycles
}

// Reachable returns the IDs reachable from the start node by forward edges,
// in breadth-first order. Without a start node nothing is reachable.
func (c *Compiler) Reachable() []string {
	start := c.FindStartNode()
	if start == nil {
		return nil
	}

	seen := map[string]bool{start.ID: true}
	order := []string{start.ID}
	queue := []string{start.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range c.NextNodes(id, nil) {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			order = append(order, n.ID)
			queue = append(queue, n.ID)
		}
	}
	return order
}

// Unreachable returns, in declaration order, the nodes with no path from
// the start node.
func (c *Compiler) Unreachable() []string {
	reached := make(map[string]bool, len(c.order))
	for _, id := range c.Reachable() {
		reached[id] = true
	}
	var out []string
	for _, id := range c.order {
		if !reached[id] {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalOrder sorts the nodes with Kahn's algorithm, seeding the queue
// in declaration order. A cyclic graph yields a CYCLE_DETECTED error.
func (c *Compiler) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(c.order))
	for _, id := range c.order {
		inDegree[id] = 0
	}
	for _, e := range c.def.Edges {
		if _, ok := c.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := inDegree[e.Target]; ok {
			inDegree[e.Target]++
		}
	}

	queue := make([]string, 0, len(c.order))
	for _, id := range c.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(c.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, e := range c.forward[id] {
			if _, ok := inDegree[e.Target]; !ok {
				continue
			}
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if len(sorted) != len(c.order) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "Workflow contains cycles - cannot execute")
	}
	return sorted, nil
}

func edgeLabel(e schema.Edge) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Source + "->" + e.Target
}
