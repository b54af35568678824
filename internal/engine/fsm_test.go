package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestRunFSM_ValidPaths(t *testing.T) {
	tests := []struct {
		name string
		path []schema.RunStatus
	}{
		{"completes", []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusCompleted}},
		{"fails", []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusFailed}},
		{"cancelled while running", []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusCancelled}},
		{"cancelled before start", []schema.RunStatus{schema.RunStatusCancelled}},
		{"rejected", []schema.RunStatus{schema.RunStatusRejected}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsm := NewRunFSM(nil)
			assert.Equal(t, schema.RunStatusPending, fsm.Status())
			for _, to := range tt.path {
				require.NoError(t, fsm.Transition(context.Background(), to))
			}
			last := tt.path[len(tt.path)-1]
			assert.Equal(t, last, fsm.Status())
			assert.True(t, IsTerminal(last))
		})
	}
}

func TestRunFSM_InvalidTransitions(t *testing.T) {
	ctx := context.Background()

	fsm := NewRunFSM(nil)
	err := fsm.Transition(ctx, schema.RunStatusCompleted)
	require.Error(t, err)
	var se *schema.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeInvalidTransition, se.Code)
	assert.Equal(t, schema.RunStatusPending, fsm.Status())

	require.NoError(t, fsm.Transition(ctx, schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, schema.RunStatusFailed))
	for _, to := range []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusCompleted, schema.RunStatusCancelled} {
		assert.Error(t, fsm.Transition(ctx, to), "failed -> %s", to)
	}
	assert.False(t, IsTerminal(schema.RunStatusRunning))
}

func TestRunFSM_Hooks(t *testing.T) {
	ctx := context.Background()
	fsm := NewRunFSM(nil)

	var calls []string
	fsm.OnBefore(schema.RunStatusPending, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		calls = append(calls, "before:"+string(from)+"->"+string(to))
		return nil
	})
	fsm.OnAfter(schema.RunStatusPending, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		calls = append(calls, "after:"+string(to))
		return nil
	})

	require.NoError(t, fsm.Transition(ctx, schema.RunStatusRunning))
	assert.Equal(t, []string{"before:pending->running", "after:running"}, calls)
}

func TestRunFSM_BeforeHookVetoes(t *testing.T) {
	fsm := NewRunFSM(nil)
	veto := errors.New("not now")
	fsm.OnBefore(schema.RunStatusPending, schema.RunStatusRunning, func(_, _ schema.RunStatus) error { return veto })

	assert.ErrorIs(t, fsm.Transition(context.Background(), schema.RunStatusRunning), veto)
	assert.Equal(t, schema.RunStatusPending, fsm.Status())
}
