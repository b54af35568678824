// Package expressions evaluates the small expression languages used by
// transform and setState nodes, and renders ${name} prompt templates.
package expressions

import (
	"context"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Engine evaluates one expression against a flat map of variables.
// Implementations: CEL (default), Expr, GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Language names accepted in node configs.
const (
	LanguageCEL  = "cel"
	LanguageExpr = "expr"
	LanguageJQ   = "jq"
)

// Evaluator dispatches to an engine by language name and normalizes every
// result to JSON-like values (float64 numbers, []any, map[string]any).
type Evaluator struct {
	engines  map[string]Engine
	fallback string
}

// NewEvaluator creates an Evaluator with all three engines; CEL is the default.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		engines: map[string]Engine{
			LanguageCEL:  celEngine,
			LanguageExpr: NewExprEngine(),
			LanguageJQ:   NewGoJQEngine(),
		},
		fallback: LanguageCEL,
	}, nil
}

// Languages returns the accepted language names.
func (ev *Evaluator) Languages() []string {
	return []string{LanguageCEL, LanguageExpr, LanguageJQ}
}

// Engine returns the engine for language; "" selects the default.
func (ev *Evaluator) Engine(language string) (Engine, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = ev.fallback
	}
	e, ok := ev.engines[lang]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression language %q", language)
	}
	return e, nil
}

// Evaluate runs expression in the given language against vars.
func (ev *Evaluator) Evaluate(ctx context.Context, language, expression string, vars map[string]any) (any, error) {
	e, err := ev.Engine(language)
	if err != nil {
		return nil, err
	}
	if vars != nil {
		// Caller inputs may carry Go ints; CEL refuses int * double.
		vars, _ = Normalize(vars).(map[string]any)
	}
	out, err := e.Evaluate(ctx, strings.TrimSpace(expression), vars)
	if err != nil {
		return nil, err
	}
	return Normalize(out), nil
}

// Normalize converts Go native numeric types to float64 and walks maps and
// slices, so results look the same whichever engine produced them.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = Normalize(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = Normalize(v)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = Normalize(v)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case []int:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = float64(v)
		}
		return out
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

func expressionDetails(expression string) map[string]any {
	return map[string]any{"expression": expression}
}
