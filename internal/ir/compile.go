package ir

import (
	"encoding/json"
	"fmt"
)

// FlowDoc is the authoring/LLM-output JSON shape: a tagged list of Steps
// compiled into an IR.
type FlowDoc struct {
	Version  string                 `json:"version,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Flow     []StepDoc              `json:"flow"`
}

// FlatFlowDoc is the alternate LLM-output shape: a flat step list plus
// explicit roots, used when the planner cannot express nesting directly.
type FlatFlowDoc struct {
	Steps   []StepDoc `json:"steps"`
	RootIDs []string  `json:"rootIds"`
}

// StepDoc is the wire form of a Node: a tagged union keyed by Type.
type StepDoc struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	Config *NodeConfig `json:"config,omitempty"`

	ToolID    string                 `json:"toolId,omitempty"`
	Inputs    map[string]interface{} `json:"inputs,omitempty"`
	OutputVar string                 `json:"outputVar,omitempty"`

	Condition  *Condition `json:"condition,omitempty"`
	ThenBranch []StepDoc  `json:"thenBranch,omitempty"`
	ElseBranch []StepDoc  `json:"elseBranch,omitempty"`

	Branches     [][]StepDoc  `json:"branches,omitempty"`
	JoinStrategy JoinStrategy `json:"joinStrategy,omitempty"`

	Steps []StepDoc `json:"steps,omitempty"`

	LoopType    LoopKind      `json:"loopType,omitempty"`
	Collection  interface{}   `json:"collection,omitempty"`
	IteratorVar string        `json:"iteratorVar,omitempty"`
	Body        []StepDoc     `json:"body,omitempty"`
	Accumulator interface{}   `json:"accumulator,omitempty"`
}

var validKinds = map[string]NodeKind{
	"tool": KindTool, "conditional": KindConditional, "parallel": KindParallel,
	"sequence": KindSequence, "loop": KindLoop,
}

// CompileFlowDoc validates and compiles a FlowDoc into an IR. It rejects
// unknown tags, undefined references (enforced structurally, since each
// StepDoc nests its children inline rather than referencing ids), and
// cycles (rejected by Builder.Build's DFS).
func CompileFlowDoc(registry RegistryRef, doc *FlowDoc) (*IR, error) {
	b := NewBuilder(registry)
	var rootIDs []string
	for _, step := range doc.Flow {
		id, err := compileStep(b, step)
		if err != nil {
			return nil, err
		}
		rootIDs = append(rootIDs, id)
	}
	if len(rootIDs) == 0 {
		// An empty flow compiles to an IR with no nodes, which the scheduler
		// completes immediately with a nil result.
		return &IR{
			Version:  "1.0",
			Metadata: Metadata{Source: SourceDynamic},
			Graph:    Graph{Nodes: map[string]*Node{}},
			Registry: registry,
		}, nil
	}
	b.ConnectSequence(rootIDs...)
	b.SetEntryPoint(rootIDs[0])
	return b.Build(Metadata{Source: SourceDynamic})
}

// CompileFlatFlowDoc compiles the flat LLM-output variant: every step
// carries its own id up front, and RootIDs names the entry candidates (the
// first is used as the actual entry point).
func CompileFlatFlowDoc(registry RegistryRef, doc *FlatFlowDoc) (*IR, error) {
	b := NewBuilder(registry)
	byID := make(map[string]StepDoc, len(doc.Steps))
	for _, s := range doc.Steps {
		if s.ID == "" {
			return nil, &ValidationError{Errors: []string{"flat flow step missing id"}}
		}
		byID[s.ID] = s
	}
	for _, s := range doc.Steps {
		if _, err := compileStepWithID(b, s, byID); err != nil {
			return nil, err
		}
	}
	if len(doc.RootIDs) == 0 {
		return nil, &ValidationError{Errors: []string{"flat flow has no rootIds"}}
	}
	for _, id := range doc.RootIDs {
		if _, ok := b.nodes[id]; !ok {
			return nil, &ValidationError{Errors: []string{fmt.Sprintf("rootId %q does not reference a compiled step", id)}}
		}
	}
	b.SetEntryPoint(doc.RootIDs[0])
	return b.Build(Metadata{Source: SourceDynamic})
}

func compileStepWithID(b *Builder, s StepDoc, byID map[string]StepDoc) (string, error) {
	if existing, ok := b.nodes[s.ID]; ok {
		return existing.ID, nil
	}
	id, err := compileStep(b, s)
	if err != nil {
		return "", err
	}
	if id != s.ID {
		n := b.nodes[id]
		delete(b.nodes, id)
		n.ID = s.ID
		b.nodes[s.ID] = n
		id = s.ID
	}
	return id, nil
}

func compileStep(b *Builder, s StepDoc) (string, error) {
	kind, ok := validKinds[s.Type]
	if !ok {
		return "", &ValidationError{Errors: []string{fmt.Sprintf("unknown step type %q", s.Type)}}
	}

	switch kind {
	case KindTool:
		inputs := make(map[string]Value, len(s.Inputs))
		for k, raw := range s.Inputs {
			inputs[k] = decodeInputValue(raw)
		}
		n := b.AddTool(s.ToolID, inputs, s.OutputVar)
		n.Config = s.Config
		return applyID(b, n, s.ID), nil

	case KindConditional:
		thenIDs, err := compileChildren(b, s.ThenBranch)
		if err != nil {
			return "", err
		}
		elseIDs, err := compileChildren(b, s.ElseBranch)
		if err != nil {
			return "", err
		}
		n := b.AddConditional(s.Condition, thenIDs, elseIDs)
		n.Config = s.Config
		return applyID(b, n, s.ID), nil

	case KindParallel:
		branches := make([][]string, 0, len(s.Branches))
		for _, branch := range s.Branches {
			ids, err := compileChildren(b, branch)
			if err != nil {
				return "", err
			}
			branches = append(branches, ids)
		}
		strategy := s.JoinStrategy
		if strategy == "" {
			strategy = JoinAll
		}
		n := b.AddParallel(branches, strategy, s.OutputVar)
		n.Config = s.Config
		return applyID(b, n, s.ID), nil

	case KindSequence:
		ids, err := compileChildren(b, s.Steps)
		if err != nil {
			return "", err
		}
		n := b.AddSequence(ids)
		n.Config = s.Config
		return applyID(b, n, s.ID), nil

	case KindLoop:
		bodyIDs, err := compileChildren(b, s.Body)
		if err != nil {
			return "", err
		}
		var collection, accumulator *Value
		if s.Collection != nil {
			v := decodeInputValue(s.Collection)
			collection = &v
		}
		if s.Accumulator != nil {
			v := decodeInputValue(s.Accumulator)
			accumulator = &v
		}
		n := b.AddLoop(s.LoopType, collection, s.Condition, s.IteratorVar, bodyIDs, accumulator, s.OutputVar)
		n.Config = s.Config
		return applyID(b, n, s.ID), nil
	}
	return "", &ValidationError{Errors: []string{fmt.Sprintf("unhandled step type %q", s.Type)}}
}

func applyID(b *Builder, n *Node, wantID string) string {
	if wantID == "" || wantID == n.ID {
		return n.ID
	}
	delete(b.nodes, n.ID)
	n.ID = wantID
	b.nodes[n.ID] = n
	return n.ID
}

func compileChildren(b *Builder, steps []StepDoc) ([]string, error) {
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		id, err := compileStep(b, s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// decodeInputValue interprets the wire forms of an input value: "$name" or
// "$name.a.b" for Variable, any other string for Literal-or-Expression via
// the same heuristic as the static compiler, and non-string JSON values as
// Literal.
func decodeInputValue(raw interface{}) Value {
	switch v := raw.(type) {
	case map[string]interface{}:
		if kind, ok := v["kind"].(string); ok {
			// Explicit tagged Value form, as produced by round-tripping an
			// IR through JSON.
			var val Value
			b, _ := json.Marshal(v)
			_ = json.Unmarshal(b, &val)
			if val.Kind != "" {
				_ = kind
				return val
			}
		}
		return Literal(v)
	default:
		return classifyValue(raw)
	}
}
