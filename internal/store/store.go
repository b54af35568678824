// Package store persists workflow definitions, provider connections and
// vault ciphertext.
package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Connections
	CreateConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	UpdateConnection(ctx context.Context, id string, update ConnectionUpdate) error
	ListConnections(ctx context.Context, filter ConnectionFilter) ([]*Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	// ActivateConnection marks id active and deactivates every other
	// connection of the same provider.
	ActivateConnection(ctx context.Context, id string) error
	// ActiveConnectionID returns the active connection of a provider, if any.
	ActiveConnectionID(ctx context.Context, provider string) (string, bool, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
