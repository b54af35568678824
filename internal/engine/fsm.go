package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.RunStatus) error

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages the lifecycle state of one run.
type RunFSM struct {
	mu     sync.Mutex
	status schema.RunStatus
	logger *slog.Logger
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates an FSM in the pending state.
func NewRunFSM(logger *slog.Logger) *RunFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunFSM{
		status: schema.RunStatusPending,
		logger: logger,
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// Status returns the current state.
func (f *RunFSM) Status() schema.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and applies a move to the given state. A failing
// before hook leaves the state unchanged.
func (f *RunFSM) Transition(ctx context.Context, to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.status
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	f.status = to
	logging.LogWith(ctx, f.logger).DebugContext(ctx, "run transition", "from", from, "to", to)

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsTerminal reports whether no further transition is allowed from s.
func IsTerminal(s schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[s]
	return ok && len(allowed) == 0
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusRejected, schema.RunStatusCancelled},
	schema.RunStatusRunning:   {schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusRejected:  {},
	schema.RunStatusCancelled: {},
}
