package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultPoolSize is the default number of concurrent runs.
const DefaultPoolSize = 10

// WorkflowSource loads stored workflow definitions. Satisfied by store.Store.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, id string) (*store.Workflow, error)
}

// ServiceConfig holds configuration for the Service.
type ServiceConfig struct {
	PoolSize int
}

// Service is the run trigger used by the HTTP, MCP and CLI surfaces. It
// bounds concurrent runs and lets callers cancel a run by session id.
type Service struct {
	runner    *Runner
	workflows WorkflowSource
	pool      *WorkerPool
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewService creates a Service. workflows may be nil when callers always
// pass a definition.
func NewService(runner *Runner, workflows WorkflowSource, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runner:    runner,
		workflows: workflows,
		pool:      NewWorkerPool(cfg.PoolSize, logger),
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// Execute runs def, or the stored definition of workflowID when def is nil.
// It blocks until the run ends; events go to sink as they happen.
func (s *Service) Execute(ctx context.Context, workflowID string, def *schema.WorkflowDefinition, inputs map[string]any, sink streaming.Sink, opts ...RunOption) (*RunResult, error) {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	if sink == nil {
		sink = streaming.Discard()
	}

	if def == nil {
		loaded, err := s.load(ctx, workflowID)
		if err != nil {
			return s.reject(ctx, workflowID, o.sessionID, sink, err)
		}
		def = loaded
	} else if def.ID == "" && workflowID != "" {
		cp := *def
		cp.ID = workflowID
		def = &cp
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.track(o.sessionID, cancel) {
		return s.reject(ctx, def.ID, o.sessionID, sink,
			schema.NewErrorf(schema.ErrCodeConflict, "session %s is already running", o.sessionID))
	}
	defer s.untrack(o.sessionID)

	var result *RunResult
	err := s.pool.Do(runCtx, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.runner.Run(ctx, def, inputs, sink, WithSessionID(o.sessionID))
		return runErr
	})
	if result == nil {
		// The pool refused the run before it started.
		return s.reject(ctx, def.ID, o.sessionID, sink, err)
	}
	return result, err
}

// Validate checks a definition's graph.
func (s *Service) Validate(def *schema.WorkflowDefinition) *schema.GraphReport {
	return s.runner.Validate(def)
}

// Cancel stops the run with the given session id. It returns false if no
// such run is active.
func (s *Service) Cancel(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveSessions lists the session ids of running workflows.
func (s *Service) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Metrics returns the run pool counters.
func (s *Service) Metrics() PoolMetrics {
	return s.pool.Metrics()
}

// Shutdown stops accepting runs and waits for active ones.
func (s *Service) Shutdown() {
	s.pool.Shutdown()
}

func (s *Service) load(ctx context.Context, workflowID string) (*schema.WorkflowDefinition, error) {
	if s.workflows == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", workflowID)
	}
	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	def := wf.Definition
	def.ID = wf.ID
	if def.Name == "" {
		def.Name = wf.Name
	}
	return &def, nil
}

// reject reports a run that never reached the runner.
func (s *Service) reject(ctx context.Context, workflowID, sessionID string, sink streaming.Sink, err error) (*RunResult, error) {
	msg := err.Error()
	if se, ok := err.(*schema.Error); ok {
		msg = se.Message
	}
	s.logger.WarnContext(ctx, "run rejected", "workflow_id", workflowID, "session_id", sessionID, "error", err)
	ctx = context.WithoutCancel(ctx)
	if serr := sink.Error(ctx, msg, schema.StatusOf(err), ""); serr != nil {
		s.logger.WarnContext(ctx, "sink delivery failed", "event", schema.EventError, "error", serr)
	}
	if serr := sink.Done(ctx); serr != nil {
		s.logger.WarnContext(ctx, "sink delivery failed", "event", schema.EventDone, "error", serr)
	}
	return &RunResult{
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Status:     schema.RunStatusRejected,
		Error:      msg,
		Trace:      []schema.NodeExecution{},
	}, err
}

// track registers a run; it reports false when sessionID is already active.
func (s *Service) track(sessionID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[sessionID]; busy {
		return false
	}
	s.active[sessionID] = cancel
	return true
}

func (s *Service) untrack(sessionID string) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}
