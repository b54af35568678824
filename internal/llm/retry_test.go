package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"wrapped 401", schema.NewError(schema.ErrCodeProvider, "x").WithCause(&StatusError{StatusCode: 401}), false},
		{"validation", schema.NewError(schema.ErrCodeValidation, "x"), false},
		{"circuit open", schema.NewError(schema.ErrCodeCircuitOpen, "x"), false},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"unexpected eof", fmt.Errorf("read body: %w", errors.New("unexpected EOF")), true},
		{"other", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestComputeBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"zero delay", RetryPolicy{}, 3, 0},
		{"constant", RetryPolicy{Backoff: BackoffConstant, Delay: base}, 4, base},
		{"linear", RetryPolicy{Backoff: BackoffLinear, Delay: base}, 2, 3 * base},
		{"exponential", RetryPolicy{Backoff: BackoffExponential, Delay: base}, 3, 8 * base},
		{"capped", RetryPolicy{Backoff: BackoffExponential, Delay: base, MaxDelay: 250 * time.Millisecond}, 5, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeBackoff(tt.policy, tt.attempt))
		})
	}
}

func TestWaitForBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForBackoff(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute, HalfOpenMax: 1})
	r.now = func() time.Time { return now }

	require.NoError(t, r.AllowRequest("openai"))
	assert.Equal(t, CircuitClosed, r.RecordFailure("openai"))
	assert.Equal(t, CircuitOpen, r.RecordFailure("openai"))

	err := r.AllowRequest("openai")
	require.Error(t, err)
	assert.False(t, IsRetryableError(err))
	assert.NoError(t, r.AllowRequest("anthropic"), "breakers are per provider")

	now = now.Add(time.Minute)
	require.NoError(t, r.AllowRequest("openai"), "cooldown elapsed: trial request allowed")
	assert.Error(t, r.AllowRequest("openai"), "only one trial request in half-open")

	assert.Equal(t, CircuitOpen, r.RecordFailure("openai"), "failed trial request reopens")

	now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, r.State("openai"))
	require.NoError(t, r.AllowRequest("openai"))
	r.RecordSuccess("openai")
	assert.Equal(t, CircuitClosed, r.State("openai"))
	assert.Equal(t, "closed", CircuitClosed.String())
}

func TestSSEScanner(t *testing.T) {
	in := ": comment\n\nevent: x\ndata: {\"a\":1}\n\ndata: line1\ndata: line2\n\nid: 3\ndata: [DONE]\n\ndata: after\n\n"
	sc := newSSEScanner(strings.NewReader(in))

	p, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, p)

	p, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", p)

	_, err = sc.Next()
	assert.Equal(t, "EOF", err.Error())
}

func TestSSEScanner_TrailingDataWithoutBlankLine(t *testing.T) {
	sc := newSSEScanner(strings.NewReader("data: tail"))
	p, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail", p)
}
