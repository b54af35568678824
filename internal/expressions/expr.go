package expressions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/nodeflow/pkg/schema"
)

// ExprEngine implements Engine using expr-lang/expr. Unlike CEL it mixes
// integers and floats freely and supports let bindings, pipes, nil
// coalescing (??) and the array builtins (filter, map, sum, ...).
// Thread-safe: compiled programs are cached per expression and variable shape.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return LanguageExpr
}

// Evaluate compiles (or retrieves from cache) an Expr expression and runs it
// with data as the environment. References to variables absent from data
// are compile errors.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expr expression")
	}
	if data == nil {
		data = map[string]any{}
	}

	prg, err := e.getOrCompile(expression, data)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	return out, nil
}

// getOrCompile returns a cached program or compiles and caches a new one.
// The environment types are inferred from data, so the cache key includes
// the name and Go type of every variable.
func (e *ExprEngine) getOrCompile(expression string, data map[string]any) (*vm.Program, error) {
	key := shapeKey(data) + "\x00" + expression

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	e.cache[key] = prg
	return prg, nil
}

func shapeKey(data map[string]any) string {
	parts := make([]string, 0, len(data))
	for k, v := range data {
		parts = append(parts, fmt.Sprintf("%s:%T", k, v))
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}

var _ Engine = (*ExprEngine)(nil)
