package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator()
	require.NoError(t, err)
	return ev
}

func TestEvaluator_DefaultIsCEL(t *testing.T) {
	ev := newEvaluator(t)
	e, err := ev.Engine("")
	require.NoError(t, err)
	assert.Equal(t, LanguageCEL, e.Name())

	e, err = ev.Engine(" JQ ")
	require.NoError(t, err)
	assert.Equal(t, LanguageJQ, e.Name())

	assert.ElementsMatch(t, []string{"cel", "expr", "jq"}, ev.Languages())
}

func TestEvaluator_UnknownLanguage(t *testing.T) {
	ev := newEvaluator(t)
	_, err := ev.Evaluate(context.Background(), "python", "1", nil)
	require.Error(t, err)

	var e *schema.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, schema.ErrCodeValidation, e.Code)
}

func TestEvaluator_NumbersNormalized(t *testing.T) {
	ev := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		lang string
		expr string
	}{
		{LanguageCEL, "1 + 2"},
		{LanguageExpr, "1 + 2"},
		{LanguageJQ, "1 + 2"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			out, err := ev.Evaluate(ctx, tt.lang, tt.expr, map[string]any{})
			require.NoError(t, err)
			assert.Equal(t, float64(3), out)
		})
	}
}

func TestEvaluator_NormalizesGoInputs(t *testing.T) {
	ev := newEvaluator(t)
	vars := map[string]any{"count": 2, "tags": []string{"a", "b"}}

	cases := map[string]string{
		LanguageCEL:  "count * 1.5",
		LanguageExpr: "count * 1.5",
		LanguageJQ:   "$count * 1.5",
	}
	for lang, expr := range cases {
		out, err := ev.Evaluate(context.Background(), lang, expr, vars)
		require.NoError(t, err, lang)
		assert.Equal(t, 3.0, out, lang)
	}

	out, err := ev.Evaluate(context.Background(), LanguageJQ, ".tags | length", vars)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out)
}

func TestEvaluator_SameResultAcrossLanguages(t *testing.T) {
	ev := newEvaluator(t)
	vars := map[string]any{"x": 10.0, "y": 20.0}

	cases := map[string]string{
		LanguageCEL:  "x + y",
		LanguageExpr: "x + y",
		LanguageJQ:   ".x + .y",
	}
	for lang, expr := range cases {
		out, err := ev.Evaluate(context.Background(), lang, expr, vars)
		require.NoError(t, err, lang)
		assert.Equal(t, 30.0, out, lang)
	}
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"a": 1,
		"b": int64(2),
		"c": []any{int32(3), "x"},
		"d": map[string]any{"e": uint8(4)},
		"f": []string{"p", "q"},
	}
	assert.Equal(t, map[string]any{
		"a": 1.0,
		"b": 2.0,
		"c": []any{3.0, "x"},
		"d": map[string]any{"e": 4.0},
		"f": []any{"p", "q"},
	}, Normalize(in))
	assert.Nil(t, Normalize(nil))
}

func TestEvaluator_Concurrent(t *testing.T) {
	ev := newEvaluator(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := ev.Evaluate(context.Background(), "", "n * 2.0", map[string]any{"n": float64(i)})
			assert.NoError(t, err)
			assert.Equal(t, float64(i*2), out)
		}(i)
	}
	wg.Wait()
}
