// Package validation lints workflow definitions before they are saved or
// run: document structure, node configuration, and graph shape.
package validation

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/graph"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Result aggregates the configuration and graph findings for one
// definition. Graph is nil when structural errors stopped the pipeline.
type Result struct {
	Config *schema.ConfigReport `json:"config"`
	Graph  *schema.GraphReport  `json:"graph,omitempty"`
}

// Valid returns true if neither stage found a problem.
func (r *Result) Valid() bool {
	if !r.Config.Valid() {
		return false
	}
	return r.Graph == nil || r.Graph.Valid
}

// Errors returns every finding as a flat list, graph errors first.
func (r *Result) Errors() []string {
	var out []string
	if r.Graph != nil {
		out = append(out, r.Graph.Errors...)
	}
	return append(out, r.Config.Messages()...)
}

// ToError converts an invalid result to a schema.Error.
func (r *Result) ToError() error {
	if r.Valid() {
		return nil
	}
	if r.Graph != nil && !r.Graph.Valid {
		return r.Graph.ToError()
	}
	return r.Config.ToError()
}

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema of the document and node data)
// 2. Semantic (typed node config decoding, languages, providers)
// 3. Graph (single start, cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	languages  map[string]bool
}

// NewWorkflowValidator creates a WorkflowValidator. ev supplies the accepted
// expression languages; nil accepts the built-in set.
func NewWorkflowValidator(ev *expressions.Evaluator) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	langs := []string{expressions.LanguageCEL, expressions.LanguageExpr, expressions.LanguageJQ}
	if ev != nil {
		langs = ev.Languages()
	}
	wv := &WorkflowValidator{jsonSchema: jsv, languages: map[string]bool{"": true}}
	for _, l := range langs {
		wv.languages[l] = true
	}
	return wv, nil
}

// Schema exposes the underlying JSON Schema validator.
func (wv *WorkflowValidator) Schema() *JSONSchemaValidator { return wv.jsonSchema }

// Validate runs the full pipeline. Structural errors short-circuit: the
// semantic and graph stages are skipped.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *Result {
	result := &Result{Config: wv.jsonSchema.ValidateDefinition(def)}
	if !result.Config.Valid() {
		return result
	}
	result.Config.Merge(wv.validateSemantic(def))
	result.Graph = graph.Compile(def).Validate()
	return result
}

// ValidateDocument checks raw JSON first and, if it is structurally sound,
// decodes and validates the definition.
func (wv *WorkflowValidator) ValidateDocument(raw []byte) (*schema.WorkflowDefinition, *Result) {
	report := wv.jsonSchema.ValidateDocument(raw)
	if !report.Valid() {
		return nil, &Result{Config: report}
	}
	def, err := DecodeDefinition(raw)
	if err != nil {
		report.Add("", "/", err.Error())
		return nil, &Result{Config: report}
	}
	return def, wv.Validate(def)
}

func (wv *WorkflowValidator) validateSemantic(def *schema.WorkflowDefinition) *schema.ConfigReport {
	report := &schema.ConfigReport{}
	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("/nodes/%d", i)
		cfg, err := schema.DecodeNodeConfig(node)
		if err != nil {
			report.Add(node.ID, path+"/data", errorMessage(err))
			continue
		}
		switch c := cfg.(type) {
		case schema.AgentConfig:
			if !schema.ValidProvider(c.Provider) {
				report.Add(node.ID, path+"/data/provider", fmt.Sprintf("unknown provider %q", c.Provider))
			}
		case schema.TransformConfig:
			wv.checkLanguage(report, node.ID, path, c.Language)
		case schema.SetStateConfig:
			wv.checkLanguage(report, node.ID, path, c.Language)
		}
	}
	return report
}

func (wv *WorkflowValidator) checkLanguage(report *schema.ConfigReport, nodeID, path, lang string) {
	if !wv.languages[lang] {
		report.Add(nodeID, path+"/data/language", fmt.Sprintf("unknown expression language %q", lang))
	}
}

func errorMessage(err error) string {
	if se, ok := err.(*schema.Error); ok {
		return se.Message
	}
	return err.Error()
}
