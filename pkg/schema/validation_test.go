package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphReport_ToError(t *testing.T) {
	t.Run("valid report yields nil", func(t *testing.T) {
		r := &GraphReport{Valid: true}
		assert.NoError(t, r.ToError())
	})

	t.Run("errors joined", func(t *testing.T) {
		r := &GraphReport{Errors: []string{"Workflow must have exactly one Start node", "Disconnected nodes: b"}}
		err := r.ToError()
		require.Error(t, err)

		var e *Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, ErrCodeValidation, e.Code)
		assert.Contains(t, e.Message, "exactly one Start node")
		assert.Contains(t, e.Message, "Disconnected nodes: b")
		assert.Equal(t, 400, e.HTTPStatus())
	})

	t.Run("cycles use cycle code", func(t *testing.T) {
		r := &GraphReport{HasCycles: true, Errors: []string{"Workflow contains 1 cycle(s)"}}
		var e *Error
		require.True(t, errors.As(r.ToError(), &e))
		assert.Equal(t, ErrCodeCycleDetected, e.Code)
		assert.Equal(t, 400, e.HTTPStatus())
	})
}

func TestConfigReport(t *testing.T) {
	r := &ConfigReport{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())

	r.Add("n1", "/assignments/0", "missing expression")
	other := &ConfigReport{}
	other.Add("", "/nodes", "required")
	r.Merge(other)
	r.Merge(nil)

	require.Len(t, r.Issues, 2)
	assert.Equal(t, []string{"node n1: /assignments/0: missing expression", "/nodes: required"}, r.Messages())

	var e *Error
	require.True(t, errors.As(r.ToError(), &e))
	assert.Equal(t, "validation failed with 2 issues", e.Message)
	assert.Equal(t, 2, e.Details["issue_count"])
}
