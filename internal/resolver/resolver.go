package resolver

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/registry"
)

// StateView is the subset of *state.State the resolver needs, kept narrow
// to avoid an import cycle and to make resolver unit-testable with a fake.
type StateView interface {
	Get(name string) (interface{}, error)
	GetPath(name, path string) (interface{}, error)
}

// ExecutionView exposes per-node outputs recorded so far in the current
// run, most-recent-first for join fallback matching.
type ExecutionView interface {
	Output(nodeID string) (map[string]interface{}, bool)
	RecentToolOutputs() []ToolOutput
}

// ToolOutput pairs a previously executed tool's id with its recorded
// output, for join fallback matching.
type ToolOutput struct {
	ToolID string
	Output map[string]interface{}
}

// Resolver produces a tool node's input record from its declared Inputs,
// or (if empty) a matching Join's decoded transform, or the empty object.
type Resolver struct {
	evaluator *Evaluator
	registry  *registry.Registry
}

func New(evaluator *Evaluator, reg *registry.Registry) *Resolver {
	return &Resolver{evaluator: evaluator, registry: reg}
}

// Resolve computes the input map for a tool node about to run.
func (r *Resolver) Resolve(node *ir.Node, st StateView, exec ExecutionView) (map[string]interface{}, error) {
	if len(node.Inputs) > 0 {
		out := make(map[string]interface{}, len(node.Inputs))
		for key, val := range node.Inputs {
			resolved, err := r.resolveValue(val, st, exec)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	}

	for _, prior := range exec.RecentToolOutputs() {
		join, ok := r.registry.FindJoin(prior.ToolID, node.ToolID)
		if !ok {
			continue
		}
		decoded, err := join.Decode(prior.Output)
		if err != nil {
			return nil, engineerr.Execution(node.ID, err)
		}
		if err := r.registry.ValidateInput(node.ToolID, decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}

	return map[string]interface{}{}, nil
}

// ResolveStandalone resolves a single Value outside of a tool node's Inputs
// map — used for Loop's collection/accumulator expressions.
func (r *Resolver) ResolveStandalone(v ir.Value, st StateView, exec ExecutionView) (interface{}, error) {
	return r.resolveValue(v, st, exec)
}

func (r *Resolver) resolveValue(v ir.Value, st StateView, exec ExecutionView) (interface{}, error) {
	switch v.Kind {
	case ir.ValueLiteral:
		return v.Literal, nil

	case ir.ValueVariable:
		if v.VariablePath == "" {
			return st.Get(v.VariableName)
		}
		return st.GetPath(v.VariableName, v.VariablePath)

	case ir.ValueExpression:
		vars := map[string]interface{}{}
		// Best-effort flattened binding so "$x" resolves inside the
		// expression: the evaluator's "vars" CEL variable is populated by
		// the caller context at EvaluateExpression time, so here we
		// surface whatever the state exposes as a flat map when possible.
		if flat, ok := st.(interface{ GetAll() map[string]interface{} }); ok {
			vars = flat.GetAll()
		}
		return r.evaluator.EvaluateExpression(v.Expression, vars, nil, nil)

	case ir.ValueReference:
		out, ok := exec.Output(v.RefNodeID)
		if !ok {
			return nil, engineerr.Execution("", engineerr.Validation("reference", "node %q has no recorded output", v.RefNodeID))
		}
		if v.RefOutputField == "" {
			return out, nil
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		res := gjson.GetBytes(raw, v.RefOutputField)
		if !res.Exists() {
			return nil, engineerr.Validation("reference", "field %q does not exist on output of %q", v.RefOutputField, v.RefNodeID)
		}
		return res.Value(), nil

	default:
		return nil, engineerr.Validation("value", "unknown value kind %q", v.Kind)
	}
}
