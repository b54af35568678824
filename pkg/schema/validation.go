package schema

import (
	"fmt"
	"strings"
)

// GraphReport is the outcome of validating a workflow graph. Errors
// accumulate; Valid is true only when there are none.
type GraphReport struct {
	Valid        bool       `json:"valid"`
	Errors       []string   `json:"errors"`
	NodeCount    int        `json:"nodeCount"`
	EdgeCount    int        `json:"edgeCount"`
	HasCycles    bool       `json:"hasCycles"`
	Cycles       [][]string `json:"cycles,omitempty"`
	Disconnected []string   `json:"disconnected,omitempty"`
}

// ToError converts an invalid report into a VALIDATION_ERROR, nil otherwise.
func (r *GraphReport) ToError() error {
	if r == nil || r.Valid {
		return nil
	}
	code := ErrCodeValidation
	if r.HasCycles {
		code = ErrCodeCycleDetected
	}
	return NewError(code, "Invalid workflow: "+strings.Join(r.Errors, ", ")).
		WithDetails(map[string]any{
			"errors":       r.Errors,
			"cycles":       r.Cycles,
			"disconnected": r.Disconnected,
		})
}

// ConfigIssue is a single problem found in a node's configuration.
type ConfigIssue struct {
	NodeID  string `json:"nodeId,omitempty"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ConfigReport aggregates the issues found by schema validation of a
// definition and its node configs.
type ConfigReport struct {
	Issues []ConfigIssue `json:"issues,omitempty"`
}

// Valid returns true if no issue was recorded.
func (r *ConfigReport) Valid() bool {
	return len(r.Issues) == 0
}

// Add records an issue.
func (r *ConfigReport) Add(nodeID, path, message string) {
	r.Issues = append(r.Issues, ConfigIssue{NodeID: nodeID, Path: path, Message: message})
}

// Merge appends the issues of other.
func (r *ConfigReport) Merge(other *ConfigReport) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Messages renders each issue as "node: path: message".
func (r *ConfigReport) Messages() []string {
	out := make([]string, 0, len(r.Issues))
	for _, is := range r.Issues {
		switch {
		case is.NodeID != "":
			out = append(out, fmt.Sprintf("node %s: %s: %s", is.NodeID, is.Path, is.Message))
		default:
			out = append(out, fmt.Sprintf("%s: %s", is.Path, is.Message))
		}
	}
	return out
}

// ToError converts the report to a VALIDATION_ERROR if it has issues.
func (r *ConfigReport) ToError() error {
	if r.Valid() {
		return nil
	}
	msg := r.Issues[0].Message
	if len(r.Issues) > 1 {
		msg = fmt.Sprintf("validation failed with %d issues", len(r.Issues))
	}
	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{"issue_count": len(r.Issues), "issues": r.Issues})
}
