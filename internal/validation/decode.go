package validation

import (
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DecodeDefinition parses a workflow JSON document, applying the
// definition defaults.
func DecodeDefinition(raw []byte) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition
	if err := xjson.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow document: %v", err).WithCause(err)
	}
	return &def, nil
}
