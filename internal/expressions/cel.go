package expressions

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/env"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/overloads"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rendis/nodeflow/pkg/schema"
)

var structValueType = reflect.TypeOf(&structpb.Value{})

// celReserved holds identifiers CEL does not accept as variable names.
var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true,
}

// CELEngine implements Engine using Google's Common Expression Language.
// Every key of the data map is declared as a dyn variable, so a reference to
// an undefined variable fails at compile time.
// Thread-safe: compiled programs are cached per expression and variable set.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine whose base environment accepts mixed
// double and int arithmetic.
func NewCELEngine() (*CELEngine, error) {
	base, err := newBaseEnv()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "create CEL environment: %s", err.Error()).WithCause(err)
	}
	return &CELEngine{
		env:   base,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return LanguageCEL
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it with data as the activation.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty CEL expression")
	}
	if data == nil {
		data = map[string]any{}
	}

	prg, err := e.getOrCompile(expression, variableNames(data))
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	return celToNative(out), nil
}

// arithmeticOperators are taken out of the standard library and declared
// again with per-overload bindings, since the standard declarations share one
// binding that refuses double/int operands. Workflow numbers are doubles, so
// `count + 1` must not need `1.0`.
var arithmeticOperators = []string{operators.Add, operators.Subtract, operators.Multiply, operators.Divide}

func newBaseEnv() (*cel.Env, error) {
	excluded := make([]*env.Function, len(arithmeticOperators))
	for i, name := range arithmeticOperators {
		excluded[i] = env.NewFunction(name)
	}
	subset := env.NewLibrarySubset().AddExcludedFunctions(excluded...)

	opts := []cel.EnvOption{
		cel.StdLib(cel.StdLibSubset(subset)),
		cel.CrossTypeNumericComparisons(true),
	}
	return cel.NewCustomEnv(append(opts, arithmetic()...)...)
}

type binarySig struct {
	id       string
	lhs, rhs *cel.Type
	out      *cel.Type
}

func binaryOverloads(sigs []binarySig, op func(lhs, rhs ref.Val) ref.Val) []cel.FunctionOpt {
	opts := make([]cel.FunctionOpt, len(sigs))
	for i, sig := range sigs {
		opts[i] = cel.Overload(sig.id, []*cel.Type{sig.lhs, sig.rhs}, sig.out, cel.BinaryBinding(op))
	}
	return opts
}

// mixedOverloads declares double/int and int/double, computed as doubles.
func mixedOverloads(prefix string, op func(lhs, rhs types.Double) ref.Val) []cel.FunctionOpt {
	return []cel.FunctionOpt{
		cel.Overload(prefix+"_double_int64", []*cel.Type{cel.DoubleType, cel.IntType}, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				return op(lhs.(types.Double), types.Double(rhs.(types.Int)))
			})),
		cel.Overload(prefix+"_int64_double", []*cel.Type{cel.IntType, cel.DoubleType}, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				return op(types.Double(lhs.(types.Int)), rhs.(types.Double))
			})),
	}
}

func arithmetic() []cel.EnvOption {
	listOfA := cel.ListType(cel.TypeParamType("A"))
	numeric := func(dbl, i64, u64 string) []binarySig {
		return []binarySig{
			{dbl, cel.DoubleType, cel.DoubleType, cel.DoubleType},
			{i64, cel.IntType, cel.IntType, cel.IntType},
			{u64, cel.UintType, cel.UintType, cel.UintType},
		}
	}

	add := append(numeric(overloads.AddDouble, overloads.AddInt64, overloads.AddUint64),
		binarySig{overloads.AddString, cel.StringType, cel.StringType, cel.StringType},
		binarySig{overloads.AddBytes, cel.BytesType, cel.BytesType, cel.BytesType},
		binarySig{overloads.AddList, listOfA, listOfA, listOfA},
		binarySig{overloads.AddDurationDuration, cel.DurationType, cel.DurationType, cel.DurationType},
		binarySig{overloads.AddDurationTimestamp, cel.DurationType, cel.TimestampType, cel.TimestampType},
		binarySig{overloads.AddTimestampDuration, cel.TimestampType, cel.DurationType, cel.TimestampType},
	)
	sub := append(numeric(overloads.SubtractDouble, overloads.SubtractInt64, overloads.SubtractUint64),
		binarySig{overloads.SubtractDurationDuration, cel.DurationType, cel.DurationType, cel.DurationType},
		binarySig{overloads.SubtractTimestampDuration, cel.TimestampType, cel.DurationType, cel.TimestampType},
		binarySig{overloads.SubtractTimestampTimestamp, cel.TimestampType, cel.TimestampType, cel.DurationType},
	)
	mul := numeric(overloads.MultiplyDouble, overloads.MultiplyInt64, overloads.MultiplyUint64)
	div := numeric(overloads.DivideDouble, overloads.DivideInt64, overloads.DivideUint64)

	return []cel.EnvOption{
		cel.Function(operators.Add, append(
			binaryOverloads(add, func(l, r ref.Val) ref.Val { return l.(traits.Adder).Add(r) }),
			mixedOverloads("add", func(l, r types.Double) ref.Val { return l.Add(r) })...)...),
		cel.Function(operators.Subtract, append(
			binaryOverloads(sub, func(l, r ref.Val) ref.Val { return l.(traits.Subtractor).Subtract(r) }),
			mixedOverloads("subtract", func(l, r types.Double) ref.Val { return l.Subtract(r) })...)...),
		cel.Function(operators.Multiply, append(
			binaryOverloads(mul, func(l, r ref.Val) ref.Val { return l.(traits.Multiplier).Multiply(r) }),
			mixedOverloads("multiply", func(l, r types.Double) ref.Val { return l.Multiply(r) })...)...),
		cel.Function(operators.Divide, append(
			binaryOverloads(div, func(l, r ref.Val) ref.Val { return l.(traits.Divider).Divide(r) }),
			mixedOverloads("divide", func(l, r types.Double) ref.Val { return l.Divide(r) })...)...),
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string, names []string) (cel.Program, error) {
	key := strings.Join(names, ",") + "\x00" + expression

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	scope, err := e.env.Extend(opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL environment error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	ast, issues := scope.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(expressionDetails(expression))
	}

	prg, err := scope.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(expressionDetails(expression))
	}

	e.cache[key] = prg
	return prg, nil
}

// variableNames returns the keys of data that are valid CEL identifiers, sorted.
func variableNames(data map[string]any) []string {
	names := make([]string, 0, len(data))
	for k := range data {
		if isIdentifier(k) && !celReserved[k] {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}

// celToNative converts a CEL value to plain JSON-like Go values by way of
// structpb. Values with no JSON form (timestamps, types) fall back to the
// raw Go value.
func celToNative(v ref.Val) any {
	native, err := v.ConvertToNative(structValueType)
	if err != nil {
		return v.Value()
	}
	pv, ok := native.(*structpb.Value)
	if !ok {
		return v.Value()
	}
	return pv.AsInterface()
}

var _ Engine = (*CELEngine)(nil)
