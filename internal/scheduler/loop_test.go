package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/registry"
)

func numericTool(id string, fn func(input map[string]interface{}) map[string]interface{}) registry.Tool {
	return registry.Tool{
		ID:           id,
		Name:         id,
		InputSchema:  []byte(`{"type":"object"}`),
		OutputSchema: []byte(`{"type":"object"}`),
		Execute: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return fn(input), nil
		},
	}
}

func TestRunLoopMapDoublesEachItem(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(numericTool("double", func(input map[string]interface{}) map[string]interface{} {
		n := input["n"].(int)
		return map[string]interface{}{"doubled": n * 2}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	b := ir.NewBuilder(reg)
	body := b.AddTool("double", map[string]ir.Value{"n": ir.Variable("item", "")}, "")
	loop := b.AddLoop(ir.LoopMap, &ir.Value{Kind: ir.ValueLiteral, Literal: []interface{}{1, 2, 3}}, nil, "item", []string{body.ID}, nil, "mapped")
	b.SetEntryPoint(loop.ID)
	flow, err := b.Build(ir.Metadata{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sched := newTestScheduler(t, reg)
	result, _ := sched.Run(context.Background(), flow, nil)
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %v (err=%v)", result.Status, result.Err)
	}
	out, ok := result.Value.([]interface{})
	if !ok || len(out) != 3 {
		t.Fatalf("expected a 3-element slice, got %#v", result.Value)
	}
	for i, want := range []int{2, 4, 6} {
		m := out[i].(map[string]interface{})
		if m["doubled"] != want {
			t.Errorf("expected index %d doubled to %d, got %v", i, want, m["doubled"])
		}
	}
}

func TestRunLoopMapPreservesOrderUnderConcurrency(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(numericTool("delayedEcho", func(input map[string]interface{}) map[string]interface{} {
		n := input["n"].(int)
		time.Sleep(time.Duration(4-n) * 5 * time.Millisecond) // earlier items finish last
		return map[string]interface{}{"n": n}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	b := ir.NewBuilder(reg)
	body := b.AddTool("delayedEcho", map[string]ir.Value{"n": ir.Variable("item", "")}, "")
	loop := b.AddLoop(ir.LoopMap, &ir.Value{Kind: ir.ValueLiteral, Literal: []interface{}{1, 2, 3}}, nil, "item", []string{body.ID}, nil, "mapped")
	loop.Config = &ir.NodeConfig{Parallel: true, Concurrency: 3}
	b.SetEntryPoint(loop.ID)
	flow, err := b.Build(ir.Metadata{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sched := newTestScheduler(t, reg)
	result, _ := sched.Run(context.Background(), flow, nil)
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %v (err=%v)", result.Status, result.Err)
	}
	out := result.Value.([]interface{})
	for i, want := range []int{1, 2, 3} {
		m := out[i].(map[string]interface{})
		if m["n"] != want {
			t.Errorf("expected output index %d to keep input order (n=%d), got %v", i, want, m["n"])
		}
	}
}

func TestRunLoopFilterKeepsEvenItems(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(numericTool("isEven", func(input map[string]interface{}) map[string]interface{} {
		n := input["n"].(int)
		if n%2 == 0 {
			return map[string]interface{}{"keep": true}
		}
		return map[string]interface{}{}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	b := ir.NewBuilder(reg)
	body := b.AddTool("isEven", map[string]ir.Value{"n": ir.Variable("item", "")}, "")
	loop := b.AddLoop(ir.LoopFilter, &ir.Value{Kind: ir.ValueLiteral, Literal: []interface{}{1, 2, 3, 4}}, nil, "item", []string{body.ID}, nil, "evens")
	b.SetEntryPoint(loop.ID)
	flow, err := b.Build(ir.Metadata{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sched := newTestScheduler(t, reg)
	result, _ := sched.Run(context.Background(), flow, nil)
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %v (err=%v)", result.Status, result.Err)
	}
	out := result.Value.([]interface{})
	if len(out) != 2 || out[0] != 2 || out[1] != 4 {
		t.Errorf("expected [2 4], got %#v", out)
	}
}

func TestRunLoopReduceAccumulatesSum(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(numericTool("add", func(input map[string]interface{}) map[string]interface{} {
		var accVal int
		switch acc := input["acc"].(type) {
		case int:
			accVal = acc
		case map[string]interface{}:
			accVal = acc["value"].(int)
		}
		item := input["item"].(int)
		return map[string]interface{}{"value": accVal + item}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	b := ir.NewBuilder(reg)
	body := b.AddTool("add", map[string]ir.Value{"acc": ir.Variable("acc", ""), "item": ir.Variable("item", "")}, "")
	loop := b.AddLoop(ir.LoopReduce, &ir.Value{Kind: ir.ValueLiteral, Literal: []interface{}{1, 2, 3}}, nil, "item", []string{body.ID}, &ir.Value{Kind: ir.ValueLiteral, Literal: 0}, "sum")
	b.SetEntryPoint(loop.ID)
	flow, err := b.Build(ir.Metadata{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sched := newTestScheduler(t, reg)
	result, _ := sched.Run(context.Background(), flow, nil)
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %v (err=%v)", result.Status, result.Err)
	}
	final, ok := result.Value.(map[string]interface{})
	if !ok {
		t.Fatalf("expected final accumulator to be a map, got %T", result.Value)
	}
	if final["value"] != 6 {
		t.Errorf("expected accumulated sum 1+2+3=6, got %v", final["value"])
	}
}

func TestRunWhileLoopHitsMaxIterations(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(numericTool("noop", func(input map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{}
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	b := ir.NewBuilder(reg)
	body := b.AddTool("noop", nil, "")
	alwaysTrue := &ir.Condition{Type: ir.ConditionVariable, Operator: ir.OpEq, Operands: []interface{}{1, 1}}
	loop := b.AddLoop(ir.LoopWhile, nil, alwaysTrue, "", []string{body.ID}, nil, "")
	loop.Config = &ir.NodeConfig{MaxIterations: 3}
	b.SetEntryPoint(loop.ID)
	flow, err := b.Build(ir.Metadata{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	sched := newTestScheduler(t, reg)
	result, _ := sched.Run(context.Background(), flow, nil)
	if result.Status != StatusFailed {
		t.Fatalf("expected an always-true while loop to fail once it hits MaxIterations, got %v", result.Status)
	}
}
