package engine

import (
	"context"

	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/scheduler"
)

// BuildFlow compiles authoring/LLM-output flow JSON into an IR, validated
// against the engine's current tool registry.
func (e *Engine) BuildFlow(doc *ir.FlowDoc) (*ir.IR, error) {
	return ir.CompileFlowDoc(e.registry, doc)
}

// BuildFlatFlow compiles the flat LLM-output variant.
func (e *Engine) BuildFlatFlow(doc *ir.FlatFlowDoc) (*ir.IR, error) {
	return ir.CompileFlatFlowDoc(e.registry, doc)
}

// ValidateFlow re-runs Build's structural checks against an already
// compiled IR without mutating it and returns any error. Build's non-fatal
// warnings (such as unreachable nodes) are not returned.
func (e *Engine) ValidateFlow(flow *ir.IR) error {
	b := ir.NewBuilder(e.registry)
	for id, n := range flow.Graph.Nodes {
		b.AdoptNode(id, n)
	}
	b.SetEntryPoint(flow.Graph.EntryPoint)
	_, err := b.Build(flow.Metadata)
	return err
}

// Run executes flow to completion and returns its terminal Result plus
// every event emitted along the way — the "collect" API.
func (e *Engine) Run(ctx context.Context, flow *ir.IR, input map[string]interface{}) (scheduler.Result, []scheduler.Event) {
	return e.scheduler.Run(ctx, flow, input)
}

// RunStream executes flow and returns its live event channel plus a
// single-value terminal-result channel — the "stream" API.
func (e *Engine) RunStream(ctx context.Context, flow *ir.IR, input map[string]interface{}) (<-chan scheduler.Event, <-chan scheduler.Result) {
	return e.scheduler.Stream(ctx, flow, input)
}

// Resume rehydrates a suspended flow from its persisted key and continues
// execution from the suspended node with the supplied input.
func (e *Engine) Resume(ctx context.Context, flow *ir.IR, key string, input map[string]interface{}) (<-chan scheduler.Event, <-chan scheduler.Result, error) {
	plan, err := e.suspend.PrepareResume(ctx, key, input)
	if err != nil {
		return nil, nil, err
	}
	events, results := e.scheduler.Resume(ctx, flow, plan.Record, plan.FlowID, plan.Replay)
	return events, results, nil
}

// Cancel deletes a suspension without resuming it. It has no effect on a
// flow still actively running (use the run's context for that).
func (e *Engine) Cancel(ctx context.Context, key string) error {
	return e.suspend.Cancel(ctx, key)
}
