package schema

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/internal/xjson"
)

// Agent node defaults.
const (
	DefaultProvider        = "openai"
	DefaultModel           = "gpt-5"
	DefaultReasoningEffort = "medium"
	DefaultAgentOutput     = "agent_response"
)

// Transform output modes.
const (
	TransformModeExpressions = "expressions"
	TransformModeObject      = "object"
)

// Providers lists the LLM providers an agent node or connection may target.
var Providers = []string{"openai", "anthropic", "gemini", "grok"}

// ValidProvider reports whether p is one of Providers.
func ValidProvider(p string) bool {
	for _, ok := range Providers {
		if p == ok {
			return true
		}
	}
	return false
}

// ReasoningEfforts lists the accepted reasoning-effort hints.
var ReasoningEfforts = []string{"minimal", "low", "medium", "high"}

// NodeConfig is the typed configuration of a node. The set of
// implementations is closed: one per node type plus RawConfig for
// reserved types.
type NodeConfig interface {
	NodeType() NodeType
	DisplayName() string
	isNodeConfig()
}

// VariableSpec is a variable declaration inside a Start node. Editors have
// used both "defaultValue" and "value" for the seed.
type VariableSpec struct {
	ID           string       `json:"id,omitempty"`
	Name         string       `json:"name"`
	Type         VariableType `json:"type"`
	DefaultValue any          `json:"defaultValue,omitempty"`
	Value        any          `json:"value,omitempty"`
}

// Raw returns the declared seed value.
func (v VariableSpec) Raw() any {
	if v.DefaultValue != nil {
		return v.DefaultValue
	}
	return v.Value
}

// StartConfig declares the run's input and state variables.
type StartConfig struct {
	Name           string         `json:"name,omitempty"`
	InputVariables []VariableSpec `json:"inputVariables,omitempty"`
	StateVariables []VariableSpec `json:"stateVariables,omitempty"`
	Variables      []VariableSpec `json:"variables,omitempty"`
}

// AgentConfig configures one LLM call.
type AgentConfig struct {
	Name            string `json:"name,omitempty"`
	Provider        string `json:"provider,omitempty"`
	SystemPrompt    string `json:"systemPrompt,omitempty"`
	UserPrompt      string `json:"userPrompt,omitempty"`
	Model           string `json:"model,omitempty"`
	ReasoningEffort string `json:"reasoningEffort,omitempty"`
	OutputVariable  string `json:"outputVariable,omitempty"`
}

// EndConfig has no settings beyond its display name.
type EndConfig struct {
	Name string `json:"name,omitempty"`
}

// Assignment binds the result of an expression to a variable (or to a key
// of the object produced in object mode).
type Assignment struct {
	Key        string `json:"key,omitempty"`
	Variable   string `json:"variable,omitempty"`
	Expression string `json:"expression"`
}

// Target returns the variable or key name the assignment writes.
func (a Assignment) Target() string {
	if a.Key != "" {
		return a.Key
	}
	return a.Variable
}

// TransformConfig evaluates assignments either into separate variables or
// into one object.
type TransformConfig struct {
	Name           string       `json:"name,omitempty"`
	OutputType     string       `json:"outputType,omitempty"`
	Mode           string       `json:"mode,omitempty"`
	OutputVariable string       `json:"outputVariable,omitempty"`
	Language       string       `json:"language,omitempty"`
	Assignments    []Assignment `json:"assignments,omitempty"`
}

// SetStateConfig writes expression results directly into variables.
type SetStateConfig struct {
	Name        string       `json:"name,omitempty"`
	Language    string       `json:"language,omitempty"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// RawConfig carries the untyped data of reserved node types.
type RawConfig struct {
	Type NodeType
	Data map[string]any
}

func (StartConfig) NodeType() NodeType     { return NodeTypeStart }
func (AgentConfig) NodeType() NodeType     { return NodeTypeAgent }
func (EndConfig) NodeType() NodeType       { return NodeTypeEnd }
func (TransformConfig) NodeType() NodeType { return NodeTypeTransform }
func (SetStateConfig) NodeType() NodeType  { return NodeTypeSetState }
func (c RawConfig) NodeType() NodeType     { return c.Type }

func (c StartConfig) DisplayName() string     { return c.Name }
func (c AgentConfig) DisplayName() string     { return c.Name }
func (c EndConfig) DisplayName() string       { return c.Name }
func (c TransformConfig) DisplayName() string { return c.Name }
func (c SetStateConfig) DisplayName() string  { return c.Name }

func (c RawConfig) DisplayName() string {
	name, _ := c.Data["name"].(string)
	return name
}

func (StartConfig) isNodeConfig()     {}
func (AgentConfig) isNodeConfig()     {}
func (EndConfig) isNodeConfig()       {}
func (TransformConfig) isNodeConfig() {}
func (SetStateConfig) isNodeConfig()  {}
func (RawConfig) isNodeConfig()       {}

// DecodeNodeConfig converts the authored data blob of a node into its typed
// configuration, applying defaults and rejecting malformed settings.
func DecodeNodeConfig(node *Node) (NodeConfig, error) {
	if node == nil {
		return nil, NewError(ErrCodeValidation, "node is nil")
	}

	switch node.Type {
	case NodeTypeStart:
		var cfg StartConfig
		if err := decodeData(node, &cfg); err != nil {
			return nil, err
		}
		_, hasInputs := node.Data["inputVariables"]
		_, hasState := node.Data["stateVariables"]
		if !hasInputs && !hasState {
			cfg.InputVariables = cfg.Variables
		}
		cfg.Variables = nil
		for i, v := range append(append([]VariableSpec{}, cfg.InputVariables...), cfg.StateVariables...) {
			if v.Name == "" {
				return nil, NewErrorf(ErrCodeValidation, "start variable at index %d has no name", i).WithNode(node.ID)
			}
		}
		return cfg, nil

	case NodeTypeAgent:
		var cfg AgentConfig
		if err := decodeData(node, &cfg); err != nil {
			return nil, err
		}
		if cfg.Provider == "" {
			cfg.Provider = DefaultProvider
		}
		if cfg.Model == "" {
			cfg.Model = DefaultModel
		}
		cfg.ReasoningEffort = NormalizeReasoningEffort(cfg.ReasoningEffort)
		if cfg.OutputVariable == "" {
			cfg.OutputVariable = DefaultAgentOutput
		}
		return cfg, nil

	case NodeTypeEnd:
		var cfg EndConfig
		if err := decodeData(node, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil

	case NodeTypeTransform:
		var cfg TransformConfig
		if err := decodeData(node, &cfg); err != nil {
			return nil, err
		}
		mode := cfg.OutputType
		if mode == "" {
			mode = cfg.Mode
		}
		if mode == "" {
			mode = TransformModeExpressions
		}
		if mode != TransformModeExpressions && mode != TransformModeObject {
			return nil, NewErrorf(ErrCodeValidation, "transform output type %q is not one of %s, %s",
				mode, TransformModeExpressions, TransformModeObject).WithNode(node.ID)
		}
		cfg.OutputType, cfg.Mode = mode, mode
		if err := checkAssignments(node.ID, cfg.Assignments); err != nil {
			return nil, err
		}
		return cfg, nil

	case NodeTypeSetState:
		var cfg SetStateConfig
		if err := decodeData(node, &cfg); err != nil {
			return nil, err
		}
		if err := checkAssignments(node.ID, cfg.Assignments); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return RawConfig{Type: node.Type, Data: node.Data}, nil
}

// NormalizeReasoningEffort returns effort when it is an accepted value and
// the default otherwise.
func NormalizeReasoningEffort(effort string) string {
	e := strings.ToLower(strings.TrimSpace(effort))
	for _, ok := range ReasoningEfforts {
		if e == ok {
			return e
		}
	}
	return DefaultReasoningEffort
}

func checkAssignments(nodeID string, assignments []Assignment) error {
	for i, a := range assignments {
		if a.Target() == "" {
			return NewErrorf(ErrCodeValidation, "assignment %d has no target variable", i).WithNode(nodeID)
		}
		if strings.TrimSpace(a.Expression) == "" {
			return NewErrorf(ErrCodeValidation, "assignment %d (%s) has an empty expression", i, a.Target()).WithNode(nodeID)
		}
	}
	return nil
}

func decodeData(node *Node, into any) error {
	if len(node.Data) == 0 {
		return nil
	}
	raw, err := xjson.Marshal(node.Data)
	if err != nil {
		return NewErrorf(ErrCodeValidation, "%s node config is not serializable: %v", node.Type, err).WithNode(node.ID).WithCause(err)
	}
	if err := xjson.Unmarshal(raw, into); err != nil {
		return NewError(ErrCodeValidation, fmt.Sprintf("%s node has invalid config: %v", node.Type, err)).WithNode(node.ID).WithCause(err)
	}
	return nil
}
