package schema

import "github.com/rendis/nodeflow/internal/xjson"

// Defaults applied when a definition omits them.
const (
	DefaultWorkflowName    = "Untitled Workflow"
	DefaultWorkflowVersion = "1.0.0"
)

// WorkflowDefinition is the JSON-serializable graph authored in the editor.
// It is read-only once a run starts.
type WorkflowDefinition struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Variables []Variable `json:"variables,omitempty"`
}

// UnmarshalJSON applies the name and version defaults.
func (d *WorkflowDefinition) UnmarshalJSON(data []byte) error {
	type alias WorkflowDefinition
	var a alias
	if err := xjson.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Name == "" {
		a.Name = DefaultWorkflowName
	}
	if a.Version == "" {
		a.Version = DefaultWorkflowVersion
	}
	*d = WorkflowDefinition(a)
	return nil
}

// NodeType enumerates the kinds of nodes a workflow can contain.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeAgent        NodeType = "agent"
	NodeTypeEnd          NodeType = "end"
	NodeTypeTransform    NodeType = "transform"
	NodeTypeSetState     NodeType = "setState"
	NodeTypeIfElse       NodeType = "ifElse"
	NodeTypeWhile        NodeType = "while"
	NodeTypeUserApproval NodeType = "userApproval"
	NodeTypeFileSearch   NodeType = "fileSearch"
	NodeTypeGuardrails   NodeType = "guardrails"
	NodeTypeMCP          NodeType = "mcp"
	NodeTypeNote         NodeType = "note"
)

// NodeTypes lists every known node type, implemented or reserved.
var NodeTypes = []NodeType{
	NodeTypeStart, NodeTypeAgent, NodeTypeEnd, NodeTypeTransform, NodeTypeSetState,
	NodeTypeIfElse, NodeTypeWhile, NodeTypeUserApproval, NodeTypeFileSearch,
	NodeTypeGuardrails, NodeTypeMCP, NodeTypeNote,
}

// Known reports whether t is part of the node type enumeration.
func (t NodeType) Known() bool {
	for _, k := range NodeTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Position is the editor layout position of a node. It has no effect on execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step of a workflow. Data holds the type-specific configuration
// exactly as authored; DecodeNodeConfig turns it into a typed NodeConfig.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
}

// Label returns the display name of the node, or its ID when unnamed.
func (n *Node) Label() string {
	if name, ok := n.Data["name"].(string); ok && name != "" {
		return name
	}
	return n.ID
}

// Edge is a directed connection between two nodes. Handles disambiguate
// multiple outgoing branches of one node.
type Edge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"sourceHandle,omitempty"`
	TargetHandle *string `json:"targetHandle,omitempty"`
}

// VariableType enumerates the declared types of workflow variables.
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableNumber  VariableType = "number"
	VariableBoolean VariableType = "boolean"
	VariableObject  VariableType = "object"
	VariableList    VariableType = "list"
)

// Variable is a variable declaration. The authoritative value lives in the
// execution context; the declaration is metadata only.
type Variable struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         VariableType `json:"type"`
	DefaultValue any          `json:"defaultValue,omitempty"`
}

// ExecutionRequest is the payload accepted by the run trigger.
type ExecutionRequest struct {
	WorkflowID         string             `json:"workflowId"`
	WorkflowDefinition WorkflowDefinition `json:"workflowDefinition"`
	InputVariables     map[string]any     `json:"inputVariables,omitempty"`
	SessionContext     map[string]any     `json:"sessionContext,omitempty"`
}
