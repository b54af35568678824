package validation

import (
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const schemaBase = "https://nodeflow.dev/schemas/"

// workflowSchemaJSON describes the editor's workflow document. Node data is
// checked separately per node type.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "version": { "type": "string" },
    "nodes": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    },
    "variables": { "type": ["array", "null"] }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "position": {
          "type": "object",
          "properties": { "x": { "type": "number" }, "y": { "type": "number" } }
        },
        "data": { "type": ["object", "null"] }
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": ["string", "null"] },
        "targetHandle": { "type": ["string", "null"] }
      }
    }
  }
}`

const assignmentsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["expression"],
    "properties": {
      "key": { "type": "string" },
      "variable": { "type": "string" },
      "expression": { "type": "string", "minLength": 1 }
    },
    "anyOf": [
      { "required": ["key"], "properties": { "key": { "minLength": 1 } } },
      { "required": ["variable"], "properties": { "variable": { "minLength": 1 } } }
    ]
  }
}`

const languageSchema = `{ "type": "string", "enum": ["", "cel", "expr", "jq"] }`

const variableListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name"],
    "properties": {
      "name": { "type": "string", "minLength": 1 },
      "type": { "type": "string", "enum": ["", "string", "number", "boolean", "object", "list"] }
    }
  }
}`

// nodeSchemas holds the data schema of each executable node type. Unknown
// keys are allowed; editors store presentation fields alongside config.
var nodeSchemas = map[schema.NodeType]string{
	schema.NodeTypeStart: `{
  "type": "object",
  "properties": {
    "name": { "type": "string" },
    "inputVariables": ` + variableListSchema + `,
    "stateVariables": ` + variableListSchema + `,
    "variables": ` + variableListSchema + `
  }
}`,
	schema.NodeTypeAgent: `{
  "type": "object",
  "properties": {
    "name": { "type": "string" },
    "provider": { "type": "string" },
    "systemPrompt": { "type": "string" },
    "userPrompt": { "type": "string" },
    "model": { "type": "string" },
    "reasoningEffort": { "type": "string" },
    "outputVariable": { "type": "string" }
  }
}`,
	schema.NodeTypeEnd: `{
  "type": "object",
  "properties": { "name": { "type": "string" } }
}`,
	schema.NodeTypeTransform: `{
  "type": "object",
  "properties": {
    "name": { "type": "string" },
    "outputType": { "type": "string", "enum": ["", "expressions", "object"] },
    "mode": { "type": "string", "enum": ["", "expressions", "object"] },
    "outputVariable": { "type": "string" },
    "language": ` + languageSchema + `,
    "assignments": ` + assignmentsSchema + `
  }
}`,
	schema.NodeTypeSetState: `{
  "type": "object",
  "properties": {
    "name": { "type": "string" },
    "language": ` + languageSchema + `,
    "assignments": ` + assignmentsSchema + `
  }
}`,
}

// JSONSchemaValidator checks workflow documents and node data against
// JSON Schema Draft 2020-12. It is safe for concurrent use; all schemas are
// compiled once at construction.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
	nodeSchemas    map[schema.NodeType]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow and node schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	wfSchema, err := compileResource(c, schemaBase+"workflow.json", workflowSchemaJSON)
	if err != nil {
		return nil, err
	}

	v := &JSONSchemaValidator{
		workflowSchema: wfSchema,
		nodeSchemas:    make(map[schema.NodeType]*jsonschema.Schema, len(nodeSchemas)),
	}
	for typ, doc := range nodeSchemas {
		s, err := compileResource(c, schemaBase+"nodes/"+string(typ)+".json", doc)
		if err != nil {
			return nil, err
		}
		v.nodeSchemas[typ] = s
	}
	return v, nil
}

func compileResource(c *jsonschema.Compiler, url, doc string) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return s, nil
}

// ValidateDocument checks a raw workflow JSON document.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) *schema.ConfigReport {
	report := &schema.ConfigReport{}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		report.Add("", "/", "document is not valid JSON: "+err.Error())
		return report
	}
	addViolations(report, "", v.workflowSchema.Validate(doc))
	return report
}

// ValidateDefinition checks an already decoded definition, then the data of
// every node whose type has a schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) *schema.ConfigReport {
	report := &schema.ConfigReport{}
	if def == nil {
		report.Add("", "/", "workflow definition is nil")
		return report
	}
	doc, err := toJSONValue(def)
	if err != nil {
		report.Add("", "/", "failed to serialize workflow definition: "+err.Error())
		return report
	}
	addViolations(report, "", v.workflowSchema.Validate(doc))
	for i := range def.Nodes {
		report.Merge(v.ValidateNode(&def.Nodes[i]))
	}
	return report
}

// ValidateNode checks the data of one node against its type's schema.
// Types without a schema yield an empty report.
func (v *JSONSchemaValidator) ValidateNode(node *schema.Node) *schema.ConfigReport {
	report := &schema.ConfigReport{}
	s, ok := v.nodeSchemas[node.Type]
	if !ok {
		return report
	}
	data := node.Data
	if data == nil {
		data = map[string]any{}
	}
	doc, err := toJSONValue(data)
	if err != nil {
		report.Add(node.ID, "/data", "failed to serialize node data: "+err.Error())
		return report
	}
	addViolations(report, node.ID, s.Validate(doc))
	return report
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := xjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func addViolations(report *schema.ConfigReport, nodeID string, err error) {
	if err == nil {
		return
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		report.Add(nodeID, "/", err.Error())
		return
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		report.Add(nodeID, "/", verr.Error())
		return
	}
	for _, vi := range violations {
		report.Add(nodeID, vi.path, vi.message)
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: leafMessage(verr)}}
	}

	var out []violation
	seen := make(map[violation]bool)
	for _, cause := range verr.Causes {
		for _, vi := range collectViolations(cause) {
			if !seen[vi] {
				seen[vi] = true
				out = append(out, vi)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// leafMessage drops the "at '<location>': " prefix the library renders,
// since the location is reported separately.
func leafMessage(verr *jsonschema.ValidationError) string {
	msg := verr.Error()
	if strings.HasPrefix(msg, "at ") {
		if i := strings.Index(msg, ": "); i >= 0 {
			return msg[i+2:]
		}
	}
	return msg
}
