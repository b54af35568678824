package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/nodeflow/pkg/schema"
)

// GoJQEngine implements Engine using gojq. The variable map is both the input
// document and a set of $name bindings, so `.count + 1` and `$count + 1`
// read the same workflow variable. Data must already be JSON-like; the
// Evaluator normalizes it.
// Thread-safe: compiled programs are cached per expression and variable set.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a jq engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return LanguageJQ
}

// Evaluate runs a jq program over data. One output is returned as is; more
// than one is collected into a slice; none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty jq expression")
	}
	if data == nil {
		data = map[string]any{}
	}

	names := variableNames(data)
	code, err := e.getOrCompile(expression, names)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(names))
	for i, name := range names {
		values[i] = data[name]
	}

	var results []any
	iter := code.RunWithContext(ctx, data, values...)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(expressionDetails(expression))
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *GoJQEngine) getOrCompile(expression string, names []string) (*gojq.Code, error) {
	key := strings.Join(names, ",") + "\x00" + expression

	e.mu.RLock()
	code, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	vars := make([]string, len(names))
	for i, name := range names {
		vars[i] = "$" + name
	}
	code, err = gojq.Compile(query,
		gojq.WithVariables(vars),
		// No $ENV access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	e.mu.Lock()
	e.cache[key] = code
	e.mu.Unlock()
	return code, nil
}

var _ Engine = (*GoJQEngine)(nil)
