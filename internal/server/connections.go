package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

type connectionRequest struct {
	ID       string         `json:"id"`
	Provider string         `json:"provider"`
	Name     *string        `json:"name"`
	APIKey   *string        `json:"apiKey"`
	Config   map[string]any `json:"config"`
	Activate bool           `json:"activate"`
}

// connectionView is a connection as clients see it. The key itself is
// never returned.
type connectionView struct {
	*store.Connection
	HasKey bool `json:"hasKey"`
}

func (s *Server) view(ctx context.Context, conn *store.Connection) connectionView {
	v := connectionView{Connection: conn}
	if s.deps.Vault != nil {
		if key, err := s.deps.Vault.Resolve(ctx, secrets.ConnectionKey(conn.ID)); err == nil && len(key) > 0 {
			v.HasKey = true
		}
	}
	return v
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Store.ListConnections(r.Context(), store.ConnectionFilter{
		Provider:   strings.ToLower(q.Get("provider")),
		ActiveOnly: q.Get("active") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]connectionView, 0, len(list))
	for _, c := range list {
		views = append(views, s.view(r.Context(), c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Store.GetConnection(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), conn))
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "provider is required"))
		return
	}
	if req.APIKey != nil && s.deps.Vault == nil {
		writeError(w, schema.NewError(schema.ErrCodeVault, "vault not configured"))
		return
	}

	conn := &store.Connection{ID: req.ID, Provider: provider, Name: provider, Config: req.Config}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if req.Name != nil {
		conn.Name = *req.Name
	}
	ctx := r.Context()
	if err := s.deps.Store.CreateConnection(ctx, conn); err != nil {
		writeError(w, err)
		return
	}
	if req.APIKey != nil {
		if err := s.deps.Vault.Store(ctx, secrets.ConnectionKey(conn.ID), []byte(*req.APIKey)); err != nil {
			_ = s.deps.Store.DeleteConnection(ctx, conn.ID)
			writeError(w, err)
			return
		}
	}
	if req.Activate {
		if err := s.deps.Store.ActivateConnection(ctx, conn.ID); err != nil {
			writeError(w, err)
			return
		}
		conn.IsActive = true
	}
	s.deps.Logger.Info("connection created", "connection_id", conn.ID, "provider", provider, "active", conn.IsActive)
	writeJSON(w, http.StatusCreated, s.view(ctx, conn))
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req connectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	update := store.ConnectionUpdate{Name: req.Name, Config: req.Config}
	if update.Name != nil || update.Config != nil {
		if err := s.deps.Store.UpdateConnection(ctx, id, update); err != nil {
			writeError(w, err)
			return
		}
	}
	conn, err := s.deps.Store.GetConnection(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.APIKey != nil {
		if s.deps.Vault == nil {
			writeError(w, schema.NewError(schema.ErrCodeVault, "vault not configured"))
			return
		}
		if err := s.deps.Vault.Store(ctx, secrets.ConnectionKey(id), []byte(*req.APIKey)); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.view(ctx, conn))
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	if err := s.deps.Store.DeleteConnection(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Vault != nil {
		if err := s.deps.Vault.Delete(ctx, secrets.ConnectionKey(id)); err != nil && !schema.IsNotFound(err) {
			s.deps.Logger.Warn("connection key not removed", "connection_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()
	if err := s.deps.Store.ActivateConnection(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	conn, err := s.deps.Store.GetConnection(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(ctx, conn))
}
