package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rendis/nodeflow/internal/execution"
	"github.com/rendis/nodeflow/pkg/schema"
)

// MemoryStore is a process-local Store used by the CLI and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]*Workflow
	connections map[string]*Connection
	secrets     map[string][]byte
	now         func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]*Workflow),
		connections: make(map[string]*Connection),
		secrets:     make(map[string][]byte),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

// --- Workflows ---

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = m.now()
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = wf.CreatedAt
	}
	m.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return copyWorkflow(wf), nil
}

func (m *MemoryStore) UpdateWorkflow(_ context.Context, id string, update WorkflowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return storeNotFound("workflow", id)
	}
	if update.empty() {
		return nil
	}
	if update.Name != nil {
		wf.Name = *update.Name
	}
	if update.Description != nil {
		wf.Description = *update.Description
	}
	if update.Definition != nil {
		wf.Definition = copyDefinition(*update.Definition)
	}
	wf.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(filter.NameContains)
	var out []*Workflow
	for _, wf := range m.workflows {
		if needle != "" && !strings.Contains(strings.ToLower(wf.Name), needle) {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return storeNotFound("workflow", id)
	}
	delete(m.workflows, id)
	return nil
}

// --- Connections ---

func (m *MemoryStore) CreateConnection(_ context.Context, conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[conn.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "connection %q already exists", conn.ID)
	}
	now := m.now()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	if conn.UpdatedAt.IsZero() {
		conn.UpdatedAt = now
	}
	if conn.IsActive {
		m.deactivateLocked(conn.Provider, conn.ID)
	}
	m.connections[conn.ID] = copyConnection(conn)
	return nil
}

func (m *MemoryStore) GetConnection(_ context.Context, id string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, storeNotFound("connection", id)
	}
	return copyConnection(c), nil
}

func (m *MemoryStore) UpdateConnection(_ context.Context, id string, update ConnectionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return storeNotFound("connection", id)
	}
	if update.empty() {
		return nil
	}
	if update.Name != nil {
		c.Name = *update.Name
	}
	if update.Config != nil {
		c.Config = execution.Clone(update.Config)
	}
	c.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ListConnections(_ context.Context, filter ConnectionFilter) ([]*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Connection
	for _, c := range m.connections {
		if filter.Provider != "" && c.Provider != filter.Provider {
			continue
		}
		if filter.ActiveOnly && !c.IsActive {
			continue
		}
		out = append(out, copyConnection(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) DeleteConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connections[id]; !ok {
		return storeNotFound("connection", id)
	}
	delete(m.connections, id)
	return nil
}

func (m *MemoryStore) ActivateConnection(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok {
		return storeNotFound("connection", id)
	}
	m.deactivateLocked(c.Provider, id)
	c.IsActive = true
	c.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ActiveConnectionID(_ context.Context, provider string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.connections {
		if c.Provider == provider && c.IsActive {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (m *MemoryStore) deactivateLocked(provider, except string) {
	for id, c := range m.connections {
		if id != except && c.Provider == provider && c.IsActive {
			c.IsActive = false
			c.UpdatedAt = m.now()
		}
	}
}

// --- Secrets ---

func (m *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(m.secrets, key)
	return nil
}

func (m *MemoryStore) ListSecrets(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func copyWorkflow(wf *Workflow) *Workflow {
	cp := *wf
	cp.Definition = copyDefinition(wf.Definition)
	return &cp
}

func copyDefinition(def schema.WorkflowDefinition) schema.WorkflowDefinition {
	cp := def
	cp.Nodes = make([]schema.Node, len(def.Nodes))
	for i, n := range def.Nodes {
		n.Data = execution.Clone(n.Data)
		cp.Nodes[i] = n
	}
	cp.Edges = append([]schema.Edge(nil), def.Edges...)
	cp.Variables = append([]schema.Variable(nil), def.Variables...)
	return cp
}

func copyConnection(c *Connection) *Connection {
	cp := *c
	cp.Config = execution.Clone(c.Config)
	return &cp
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*LibSQLStore)(nil)
)
