package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/internal/xjson"
	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultListLimit = 50

// handleRun executes a saved workflow or an inline definition and returns
// the run result.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.service == nil {
		return mcp.NewToolResultError("execution service not configured"), nil
	}
	workflowID := req.GetString("workflow_id", "")
	var def *schema.WorkflowDefinition
	if workflowID == "" {
		inline, err := s.inlineDefinition(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		def = inline
		workflowID = def.ID
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	sessionID := uuid.NewString()
	s.captureSession(ctx, sessionID)
	defer s.sessions.Forget(sessionID)

	deliver := []streaming.DeliverFunc{s.notifier.Deliver}
	if s.hub != nil {
		deliver = append(deliver, s.hub.Publish)
	}
	rec := streaming.NewRecorder(workflowID, sessionID, deliver...)

	result, runErr := s.service.Execute(ctx, workflowID, def, inputs, rec, engine.WithSessionID(sessionID))
	if runErr != nil {
		s.logger.InfoContext(ctx, "mcp run ended with error", "workflow_id", workflowID, "session_id", sessionID, "error", runErr)
	}

	out := map[string]any{"result": result}
	if text := rec.Text(schema.EventAgentResponse); text != "" {
		out["agent_response"] = text
	}
	if req.GetBool("include_events", false) {
		out["events"] = rec.Events()
	}
	if result.Status == schema.RunStatusRejected {
		return marshalError(out)
	}
	return marshalResult(out)
}

// handleValidate checks a saved or inline definition without running it.
func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		wf, err := s.lookup(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(s.validate(&wf.Definition))
	}

	raw, err := definitionArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.validator == nil {
		def, err := validation.DecodeDefinition(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return marshalResult(s.validate(def))
	}
	_, result := s.validator.ValidateDocument(raw)
	return marshalResult(validationSummary(result))
}

// handleList lists saved workflows without their definitions.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not configured"), nil
	}
	list, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		NameContains: req.GetString("name", ""),
		Limit:        req.GetInt("limit", defaultListLimit),
		Offset:       req.GetInt("offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	type summary struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Version     string `json:"version"`
		Nodes       int    `json:"nodes"`
		UpdatedAt   string `json:"updatedAt"`
	}
	out := make([]summary, 0, len(list))
	for _, wf := range list {
		out = append(out, summary{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Version:     wf.Definition.Version,
			Nodes:       len(wf.Definition.Nodes),
			UpdatedAt:   wf.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return marshalResult(map[string]any{"workflows": out, "count": len(out)})
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	wf, err := s.lookup(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(wf)
}

// handleSave creates a workflow, or replaces the definition of an existing
// one. Definitions with configuration errors are refused.
func (s *Server) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not configured"), nil
	}
	raw, err := definitionArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var (
		def    *schema.WorkflowDefinition
		report any
	)
	if s.validator != nil {
		var result *validation.Result
		def, result = s.validator.ValidateDocument(raw)
		if def == nil || !result.Config.Valid() {
			return marshalError(map[string]any{"error": "invalid workflow definition", "validation": validationSummary(result)})
		}
		report = validationSummary(result)
	} else if def, err = validation.DecodeDefinition(raw); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := req.GetString("workflow_id", def.ID)
	if id == "" {
		id = uuid.NewString()
	}
	def.ID = id
	description := req.GetString("description", "")

	created := true
	err = s.store.CreateWorkflow(ctx, &store.Workflow{ID: id, Name: def.Name, Description: description, Definition: *def})
	if statusOf(err) == schema.ErrCodeConflict {
		created = false
		update := store.WorkflowUpdate{Name: &def.Name, Definition: def}
		if description != "" {
			update.Description = &description
		}
		err = s.store.UpdateWorkflow(ctx, id, update)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save workflow: %v", err)), nil
	}
	s.logger.InfoContext(ctx, "workflow saved via mcp", "workflow_id", id, "created", created)
	return marshalResult(map[string]any{"workflow_id": id, "created": created, "validation": report})
}

func (s *Server) handleCancel(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if s.service == nil || !s.service.Cancel(sessionID) {
		return mcp.NewToolResultError(fmt.Sprintf("no active run with session %q", sessionID)), nil
	}
	return marshalResult(map[string]any{"ok": true, "session_id": sessionID})
}

func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var def *schema.WorkflowDefinition
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		wf, err := s.lookup(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		def = &wf.Definition
	} else if def, err = s.inlineDefinition(req); err != nil {
		return mcp.NewToolResultError("at least one of workflow_id or definition is required"), nil
	}

	model, buildErr := diagram.Build(def, nil)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Helpers ---

func (s *Server) lookup(ctx context.Context, workflowID string) (*store.Workflow, error) {
	if s.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow lookup failed: %w", err)
	}
	wf.Definition.ID = wf.ID
	return wf, nil
}

// definitionArg re-encodes the definition argument so it goes through the
// same document validation as stored JSON.
func definitionArg(req mcp.CallToolRequest) ([]byte, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return nil, fmt.Errorf("definition is required")
	}
	raw, err := xjson.Marshal(defRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	return raw, nil
}

func (s *Server) inlineDefinition(req mcp.CallToolRequest) (*schema.WorkflowDefinition, error) {
	raw, err := definitionArg(req)
	if err != nil {
		return nil, err
	}
	return validation.DecodeDefinition(raw)
}

func (s *Server) validate(def *schema.WorkflowDefinition) any {
	if s.validator != nil {
		return validationSummary(s.validator.Validate(def))
	}
	if s.service != nil {
		return s.service.Validate(def)
	}
	return nil
}

func validationSummary(result *validation.Result) map[string]any {
	return map[string]any{
		"valid":  result.Valid(),
		"errors": result.Errors(),
		"config": result.Config,
		"graph":  result.Graph,
	}
}

// captureSession links a run to the calling client for progress pushes.
func (s *Server) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

func statusOf(err error) string {
	if se, ok := err.(*schema.Error); ok {
		return se.Code
	}
	return ""
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := xjson.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func marshalError(v any) (*mcp.CallToolResult, error) {
	res, err := marshalResult(v)
	if res != nil {
		res.IsError = true
	}
	return res, err
}
