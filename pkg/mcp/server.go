// Package mcp exposes nodeflow to MCP clients over stdio: agents can list,
// save, validate, diagram and run workflows as tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Service   *engine.Service
	Store     store.Store
	Validator *validation.WorkflowValidator
	Hub       streaming.EventHub
	Logger    *slog.Logger
	Version   string
}

// Server wraps an MCP server with nodeflow tool handlers.
type Server struct {
	service   *engine.Service
	store     store.Store
	validator *validation.WorkflowValidator
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *Notifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		service:   deps.Service,
		store:     deps.Store,
		validator: deps.Validator,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Nodeflow runs agent workflow graphs. Use nodeflow.list and nodeflow.get to browse saved workflows, nodeflow.save to store one, nodeflow.validate before running, nodeflow.run to execute, nodeflow.cancel to stop a run, and nodeflow.diagram to visualize a graph."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("nodeflow.run",
		mcp.WithDescription("Execute a saved workflow or an inline definition"),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition, used when workflow_id is empty")),
		mcp.WithObject("inputs", mcp.Description("Input variables seeded before the Start node runs")),
		mcp.WithBoolean("include_events", mcp.Description("Return the full event log with the result")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("nodeflow.validate",
		mcp.WithDescription("Validate a workflow's node configuration and graph"),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition, used when workflow_id is empty")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("nodeflow.list",
		mcp.WithDescription("List saved workflows"),
		mcp.WithString("name", mcp.Description("Only workflows whose name contains this text")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of workflows (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of workflows to skip")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("nodeflow.get",
		mcp.WithDescription("Get a saved workflow with its definition"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("nodeflow.save",
		mcp.WithDescription("Create or replace a saved workflow"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
		mcp.WithString("workflow_id", mcp.Description("ID to save under (default: definition id or a new UUID)")),
		mcp.WithString("description", mcp.Description("Workflow description")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("nodeflow.cancel",
		mcp.WithDescription("Cancel a running workflow"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID of the run")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodeflow.diagram",
		mcp.WithDescription("Generate a visual diagram of a workflow. Returns ASCII art, Mermaid flowchart syntax, or base64-encoded PNG image"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
		mcp.WithString("workflow_id", mcp.Description("ID of a saved workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition, used when workflow_id is empty")),
	)
}
