package resolver

import (
	"testing"

	"github.com/flowmesh/engine/internal/ir"
)

type fakeState struct {
	vars map[string]interface{}
}

func (f *fakeState) Get(name string) (interface{}, error)            { return f.vars[name], nil }
func (f *fakeState) GetAll() map[string]interface{}                  { return f.vars }
func (f *fakeState) GetPath(name, path string) (interface{}, error)  { return nil, nil }

type fakeExec struct {
	outputs map[string]map[string]interface{}
	recent  []ToolOutput
}

func (f *fakeExec) Output(nodeID string) (map[string]interface{}, bool) {
	out, ok := f.outputs[nodeID]
	return out, ok
}
func (f *fakeExec) RecentToolOutputs() []ToolOutput { return f.recent }

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return eval
}

func TestResolveValueLiteral(t *testing.T) {
	r := New(newEvaluator(t), nil)
	out, err := r.ResolveStandalone(ir.Literal("hello"), &fakeState{}, &fakeExec{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected literal passthrough, got %v", out)
	}
}

func TestResolveValueVariable(t *testing.T) {
	r := New(newEvaluator(t), nil)
	st := &fakeState{vars: map[string]interface{}{"name": "flowmesh"}}
	out, err := r.ResolveStandalone(ir.Variable("name", ""), st, &fakeExec{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "flowmesh" {
		t.Errorf("expected variable lookup, got %v", out)
	}
}

func TestResolveValueReference(t *testing.T) {
	r := New(newEvaluator(t), nil)
	exec := &fakeExec{outputs: map[string]map[string]interface{}{
		"fetch": {"body": "payload"},
	}}
	out, err := r.ResolveStandalone(ir.Reference("fetch", "body"), &fakeState{}, exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "payload" {
		t.Errorf("expected field projection of referenced output, got %v", out)
	}
}

func TestResolveValueReferenceMissingNode(t *testing.T) {
	r := New(newEvaluator(t), nil)
	_, err := r.ResolveStandalone(ir.Reference("missing", ""), &fakeState{}, &fakeExec{outputs: map[string]map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected error referencing a node with no recorded output")
	}
}

func TestResolveValueExpression(t *testing.T) {
	r := New(newEvaluator(t), nil)
	st := &fakeState{vars: map[string]interface{}{"count": 3}}
	out, err := r.ResolveStandalone(ir.Expression("$count > 2"), st, &fakeExec{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != true {
		t.Errorf("expected expression to evaluate true, got %v", out)
	}
}

func TestResolveToolInputsFallsBackToEmptyObjectWithoutJoin(t *testing.T) {
	r := New(newEvaluator(t), nil)
	node := &ir.Node{ID: "n", Kind: ir.KindTool, ToolID: "sink", Inputs: nil}
	out, err := r.Resolve(node, &fakeState{}, &fakeExec{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty object when no inputs and no matching join, got %v", out)
	}
}

func TestEvaluateStructuredConditionOperator(t *testing.T) {
	eval := newEvaluator(t)
	cond := &ir.Condition{Type: ir.ConditionVariable, Operator: ir.OpGte, Operands: []interface{}{5, 3}}
	ok, err := eval.EvaluateStructuredCondition(cond, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected 5 >= 3 to be true")
	}
}

func TestEvaluateStructuredConditionExpression(t *testing.T) {
	eval := newEvaluator(t)
	cond := &ir.Condition{Type: ir.ConditionExpression, Value: "$x == 1"}
	ok, err := eval.EvaluateStructuredCondition(cond, map[string]interface{}{"x": 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected $x == 1 to be true when x is 1")
	}
}

func TestEvaluateExpressionRejectsStringConcatenation(t *testing.T) {
	eval := newEvaluator(t)
	_, err := eval.EvaluateExpression(`"a" + "b"`, nil, nil, nil)
	if err == nil {
		t.Error("expected string concatenation to be rejected by the restricted CEL environment")
	}
}

func TestEvaluatorCachesCompiledExpressions(t *testing.T) {
	eval := newEvaluator(t)
	if _, err := eval.EvaluateExpression("1 + 1", nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.CacheSize() != 1 {
		t.Errorf("expected 1 cached program, got %d", eval.CacheSize())
	}
	if _, err := eval.EvaluateExpression("1 + 1", nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.CacheSize() != 1 {
		t.Errorf("expected cache hit to avoid growing the cache, got %d entries", eval.CacheSize())
	}
}
