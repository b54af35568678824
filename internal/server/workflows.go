package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

type workflowRequest struct {
	ID          string           `json:"id"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Definition  xjson.RawMessage `json:"definition"`
}

type workflowResponse struct {
	Workflow   *store.Workflow    `json:"workflow"`
	Validation *validation.Result `json:"validation,omitempty"`
}

type executeRequest struct {
	Inputs    map[string]any `json:"inputs"`
	SessionID string         `json:"sessionId"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Store.ListWorkflows(r.Context(), store.WorkflowFilter{
		NameContains: q.Get("name"),
		Limit:        queryInt(r, "limit", 0),
		Offset:       queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*store.Workflow{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Definition) == 0 {
		writeError(w, schema.NewError(schema.ErrCodeValidation, "definition is required"))
		return
	}
	def, result, ok := s.checkDefinition(w, req.Definition)
	if !ok {
		return
	}

	wf := &store.Workflow{ID: req.ID, Definition: *def}
	if wf.ID == "" {
		wf.ID = def.ID
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	wf.Definition.ID = wf.ID
	wf.Name = def.Name
	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Description != nil {
		wf.Description = *req.Description
	}

	if err := s.deps.Store.CreateWorkflow(r.Context(), wf); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Logger.Info("workflow created", "workflow_id", wf.ID, "nodes", len(wf.Definition.Nodes))
	writeJSON(w, http.StatusCreated, workflowResponse{Workflow: wf, Validation: result})
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	update := store.WorkflowUpdate{Name: req.Name, Description: req.Description}
	var result *validation.Result
	if len(req.Definition) > 0 {
		def, res, ok := s.checkDefinition(w, req.Definition)
		if !ok {
			return
		}
		def.ID = id
		update.Definition = def
		result = res
	}

	if err := s.deps.Store.UpdateWorkflow(r.Context(), id, update); err != nil {
		writeError(w, err)
		return
	}
	wf, err := s.deps.Store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowResponse{Workflow: wf, Validation: result})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkDefinition decodes and validates raw. Configuration errors are
// rejected with 400; graph errors are reported but accepted so unfinished
// workflows can be saved.
func (s *Server) checkDefinition(w http.ResponseWriter, raw []byte) (*schema.WorkflowDefinition, *validation.Result, bool) {
	if s.deps.Validator == nil {
		def, err := validation.DecodeDefinition(raw)
		if err != nil {
			writeError(w, err)
			return nil, nil, false
		}
		return def, nil, true
	}
	def, result := s.deps.Validator.ValidateDocument(raw)
	if def == nil || !result.Config.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "invalid workflow definition",
			"code":       schema.ErrCodeValidation,
			"validation": result,
		})
		return nil, nil, false
	}
	return def, result, true
}

// handleValidateDocument validates an unsaved definition.
func (s *Server) handleValidateDocument(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Validator == nil {
		def, err := validation.DecodeDefinition(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Service.Validate(def))
		return
	}
	_, result := s.deps.Validator.ValidateDocument(raw)
	writeJSON(w, http.StatusOK, validationBody(result))
}

func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if s.deps.Validator == nil {
		writeJSON(w, http.StatusOK, s.deps.Service.Validate(&wf.Definition))
		return
	}
	writeJSON(w, http.StatusOK, validationBody(s.deps.Validator.Validate(&wf.Definition)))
}

func validationBody(result *validation.Result) map[string]any {
	return map[string]any{
		"valid":  result.Valid(),
		"errors": result.Errors(),
		"config": result.Config,
		"graph":  result.Graph,
	}
}

// handleExecute runs a stored workflow. By default the run streams back as
// SSE; with ?stream=false the final RunResult is returned as JSON.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	wf, err := s.deps.Store.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	def := wf.Definition
	def.ID = wf.ID

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	opts := []engine.RunOption{engine.WithSessionID(sessionID)}

	if r.URL.Query().Get("stream") == "false" {
		result, err := s.deps.Service.Execute(r.Context(), id, &def, req.Inputs, s.runSink(id, sessionID), opts...)
		status := http.StatusOK
		if result.Status == schema.RunStatusRejected {
			status = http.StatusBadRequest
			if schema.StatusOf(err) == http.StatusConflict {
				status = http.StatusConflict
			}
		}
		writeJSON(w, status, result)
		return
	}

	out, ok := newSSEWriter(w)
	if !ok {
		writeMessage(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("X-Session-Id", sessionID)
	out.open()
	sink := s.runSink(id, sessionID).Tee(out.deliver)
	result, err := s.deps.Service.Execute(r.Context(), id, &def, req.Inputs, sink, opts...)
	if err != nil {
		s.deps.Logger.Info("run ended with error", "workflow_id", id, "session_id", sessionID, "status", result.Status, "error", err)
	}
}

// runSink publishes to the hub when one is configured.
func (s *Server) runSink(workflowID, sessionID string) *streaming.EventSink {
	if s.deps.Hub == nil {
		return streaming.NewEventSink(workflowID, sessionID)
	}
	return streaming.NewHubSink(s.deps.Hub, workflowID, sessionID)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sessions := s.deps.Service.ActiveSessions()
	if sessions == nil {
		sessions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  sessions,
		"metrics": s.deps.Service.Metrics(),
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	if !s.deps.Service.Cancel(session) {
		writeError(w, schema.NewErrorf(schema.ErrCodeNotFound, "no active run with session %q", session))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sessionId": session, "cancelled": true})
}

// handleDiagram renders a stored workflow. format is mermaid (default),
// ascii, png or json.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	model, err := diagram.Build(&wf.Definition, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "mermaid":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderMermaid(model)))
	case "ascii":
		writeText(w, "text/plain; charset=utf-8", []byte(diagram.RenderASCII(model)))
	case "png":
		img, err := diagram.RenderImage(r.Context(), model)
		if err != nil {
			writeError(w, err)
			return
		}
		writeText(w, "image/png", img)
	case "json":
		writeJSON(w, http.StatusOK, model)
	default:
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format))
	}
}

func writeText(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
