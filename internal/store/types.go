package store

import (
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Workflow is a persisted workflow definition with its catalog metadata.
type Workflow struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	CreatedAt   time.Time                 `json:"createdAt"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

// WorkflowUpdate specifies mutable fields of a workflow. Nil fields are kept.
type WorkflowUpdate struct {
	Name        *string                    `json:"name,omitempty"`
	Description *string                    `json:"description,omitempty"`
	Definition  *schema.WorkflowDefinition `json:"definition,omitempty"`
}

func (u WorkflowUpdate) empty() bool {
	return u.Name == nil && u.Description == nil && u.Definition == nil
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	NameContains string `json:"nameContains,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// Connection is a configured provider account. The API key is never part of
// the record; it is sealed in the vault under secrets.ConnectionKey(ID).
type Connection struct {
	ID        string         `json:"id"`
	Provider  string         `json:"provider"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config,omitempty"`
	IsActive  bool           `json:"isActive"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ConnectionUpdate specifies mutable fields of a connection.
type ConnectionUpdate struct {
	Name   *string        `json:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

func (u ConnectionUpdate) empty() bool {
	return u.Name == nil && u.Config == nil
}

// ConnectionFilter specifies criteria for listing connections.
type ConnectionFilter struct {
	Provider   string `json:"provider,omitempty"`
	ActiveOnly bool   `json:"activeOnly,omitempty"`
}
