// Package resolver implements the Join/Input Resolver: binding a tool
// node's inputs from literals, variables, expressions, and references, plus
// the sandboxed expression evaluator shared by Expression values and
// Conditional/Loop(while) conditions.
package resolver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/env"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/overloads"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
)

// Evaluator compiles and caches CEL programs for the engine's restricted
// expression grammar: arithmetic, comparisons, boolean logic, parentheses,
// and dotted variable/path access — no string concatenation, no host eval,
// no I/O.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
	env   *cel.Env
}

// noConcat excludes the string/bytes/list overloads of CEL's "+" operator
// from the standard library, so cel.NewCustomEnv below never registers
// concatenation in the first place — only a custom environment built
// without cel.NewEnv's baked-in stdlib lets a subset like this take effect.
var noConcat = cel.StdLib(cel.StdLibSubset(
	env.NewLibrarySubset().AddExcludedFunctions(
		env.NewFunction(operators.Add,
			env.NewOverload(overloads.AddString, nil, nil),
			env.NewOverload(overloads.AddBytes, nil, nil),
			env.NewOverload(overloads.AddList, nil, nil),
		),
	),
))

// NewEvaluator builds the restricted CEL environment once; every
// expression is compiled against it and cached by source string.
func NewEvaluator() (*Evaluator, error) {
	celEnv, err := cel.NewCustomEnv(
		noConcat,
		cel.Variable("vars", cel.DynType),
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("resolver: build CEL environment: %w", err)
	}
	return &Evaluator{cache: make(map[string]cel.Program), env: celEnv}, nil
}

// EvaluateExpression evaluates a Value.Expression source against the
// current variable bindings (vars), the active node's recorded output
// (output), and arbitrary extra context (ctx). $name.path references are
// rewritten to vars.name.path before compilation.
func (e *Evaluator) EvaluateExpression(src string, vars, output, extraCtx map[string]interface{}) (interface{}, error) {
	prg, err := e.compile(src)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(map[string]interface{}{"vars": vars, "output": output, "ctx": extraCtx})
	if err != nil {
		return nil, engineerr.Execution("", fmt.Errorf("expression %q: %w", src, err))
	}
	return out.Value(), nil
}

// EvaluateCondition evaluates a condition expression and asserts a boolean
// result, as Conditional and Loop(while) nodes require.
func (e *Evaluator) EvaluateCondition(src string, vars, output, extraCtx map[string]interface{}) (bool, error) {
	v, err := e.EvaluateExpression(src, vars, output, extraCtx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, engineerr.Validation("condition", "expression %q did not evaluate to a boolean (got %T)", src, v)
	}
	return b, nil
}

func (e *Evaluator) compile(src string) (cel.Program, error) {
	rewritten := rewriteVariableRefs(src)

	e.mu.RLock()
	prg, ok := e.cache[rewritten]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[rewritten]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(rewritten)
	if issues != nil && issues.Err() != nil {
		return nil, engineerr.Validation("expression", "unsupported expression syntax %q: %v", src, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, engineerr.Validation("expression", "failed to build program for %q: %v", src, err)
	}
	e.cache[rewritten] = prg
	return prg, nil
}

// CacheSize reports the number of distinct compiled expressions currently
// cached.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ClearCache drops every compiled program.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// rewriteVariableRefs turns "$name.path" into "vars.name.path" so the
// restricted grammar's sole namespacing concept ("$") maps onto CEL field
// selection instead of requiring callers to write CEL's own syntax.
func rewriteVariableRefs(src string) string {
	var b strings.Builder
	i := 0
	for i < len(src) {
		if src[i] == '$' && (i == 0 || !isIdentChar(src[i-1])) {
			j := i + 1
			for j < len(src) && (isIdentChar(src[j]) || src[j] == '.') {
				j++
			}
			b.WriteString("vars.")
			b.WriteString(src[i+1 : j])
			i = j
			continue
		}
		b.WriteByte(src[i])
		i++
	}
	return b.String()
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// EvaluateStructuredCondition evaluates an ir.Condition (expression,
// variable, or literal kinds with optional operator/operands), distinct
// from EvaluateCondition's raw-source form.
func (e *Evaluator) EvaluateStructuredCondition(cond *ir.Condition, vars, output map[string]interface{}) (bool, error) {
	if cond == nil {
		return false, engineerr.Validation("condition", "condition is nil")
	}
	switch cond.Type {
	case ir.ConditionExpression:
		src, ok := cond.Value.(string)
		if !ok {
			return false, engineerr.Validation("condition", "expression condition value must be a string")
		}
		return e.EvaluateCondition(src, vars, output, nil)
	case ir.ConditionVariable, ir.ConditionLiteral:
		return evalOperator(cond)
	default:
		return false, engineerr.Validation("condition", "unknown condition type %q", cond.Type)
	}
}

func evalOperator(cond *ir.Condition) (bool, error) {
	if cond.Operator == "" {
		b, ok := cond.Value.(bool)
		if !ok {
			return false, engineerr.Validation("condition", "literal condition without operator must be boolean")
		}
		return b, nil
	}
	if len(cond.Operands) < 2 {
		return false, engineerr.Validation("condition", "operator %q requires two operands", cond.Operator)
	}
	lhs, rhs := cond.Operands[0], cond.Operands[1]
	switch cond.Operator {
	case ir.OpEq:
		return compareEq(lhs, rhs), nil
	case ir.OpNeq:
		return !compareEq(lhs, rhs), nil
	case ir.OpGt, ir.OpGte, ir.OpLt, ir.OpLte:
		return compareOrdered(cond.Operator, lhs, rhs)
	case ir.OpIn, ir.OpNotIn:
		return compareMembership(cond.Operator, lhs, rhs)
	default:
		return false, engineerr.Validation("condition", "unsupported operator %q", cond.Operator)
	}
}
