package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError collects every structural problem found by Build, so
// callers see the whole picture instead of stopping at the first issue.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ir validation failed: %s", strings.Join(e.Errors, "; "))
}

// Builder accumulates nodes and edges incrementally, producing fresh node
// ids per kind, and validates the result on Build.
type Builder struct {
	registry   RegistryRef
	nodes      map[string]*Node
	edges      []Edge
	entry      string
	counters   map[NodeKind]int
	warnings   []string
}

// NewBuilder creates an empty Builder. registry may be nil when building a
// graph whose tool nodes will be validated later against a populated
// registry (e.g. in tests); Build then skips rule 3 below.
func NewBuilder(registry RegistryRef) *Builder {
	return &Builder{
		registry: registry,
		nodes:    make(map[string]*Node),
		counters: make(map[NodeKind]int),
	}
}

// nextID produces "<kind>_<monotonic>", e.g. "tool_1".
func (b *Builder) nextID(kind NodeKind) string {
	b.counters[kind]++
	return fmt.Sprintf("%s_%d", kind, b.counters[kind])
}

func (b *Builder) addNode(n *Node) *Node {
	if n.ID == "" {
		n.ID = b.nextID(n.Kind)
	}
	b.nodes[n.ID] = n
	return n
}

// AddTool appends a Tool node and returns it for further configuration.
func (b *Builder) AddTool(toolID string, inputs map[string]Value, outputVar string) *Node {
	return b.addNode(&Node{Kind: KindTool, ToolID: toolID, Inputs: inputs, OutputVar: outputVar})
}

// AddConditional appends a Conditional node.
func (b *Builder) AddConditional(cond *Condition, thenBranch, elseBranch []string) *Node {
	return b.addNode(&Node{Kind: KindConditional, Condition: cond, ThenBranch: thenBranch, ElseBranch: elseBranch})
}

// AddParallel appends a Parallel node.
func (b *Builder) AddParallel(branches [][]string, strategy JoinStrategy, outputVar string) *Node {
	return b.addNode(&Node{Kind: KindParallel, Branches: branches, JoinStrategy: strategy, OutputVar: outputVar})
}

// AddSequence appends a Sequence node.
func (b *Builder) AddSequence(steps []string) *Node {
	return b.addNode(&Node{Kind: KindSequence, Steps: steps})
}

// AddLoop appends a Loop node.
func (b *Builder) AddLoop(loopType LoopKind, collection *Value, condition *Condition, iteratorVar string, body []string, accumulator *Value, outputVar string) *Node {
	return b.addNode(&Node{
		Kind: KindLoop, LoopType: loopType, Collection: collection, Condition: condition,
		IteratorVar: iteratorVar, Body: body, Accumulator: accumulator, OutputVar: outputVar,
	})
}

// AdoptNode inserts an already-constructed node under id, overwriting any
// previous occupant — used to re-validate a compiled IR's graph by replaying
// it through a fresh Builder rather than mutating the original.
func (b *Builder) AdoptNode(id string, n *Node) {
	b.nodes[id] = n
}

// ConnectSequence wires consecutive node ids with annotation edges, in
// execution order.
func (b *Builder) ConnectSequence(ids ...string) {
	for i := 0; i+1 < len(ids); i++ {
		b.edges = append(b.edges, Edge{From: ids[i], To: ids[i+1]})
	}
}

// SetEntryPoint designates the id graph execution starts from. It panics if
// id has not been added yet — a programmer error, not a runtime failure.
func (b *Builder) SetEntryPoint(id string) {
	if _, ok := b.nodes[id]; !ok {
		panic(fmt.Sprintf("ir: SetEntryPoint: unknown node id %q", id))
	}
	b.entry = id
}

// Warnings returns non-fatal observations recorded by the last Build call
// (e.g. unreachable nodes), which does not fail the build.
func (b *Builder) Warnings() []string { return b.warnings }

// Build validates the accumulated graph and produces an IR, or a
// *ValidationError naming every problem found.
func (b *Builder) Build(meta Metadata) (*IR, error) {
	b.warnings = nil
	var errs []string

	if b.entry == "" {
		errs = append(errs, "entry point is not set")
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Sprintf("entry point %q does not reference an existing node", b.entry))
	}

	for id, n := range b.nodes {
		for _, child := range n.ChildIDs() {
			if _, ok := b.nodes[child]; !ok {
				errs = append(errs, fmt.Sprintf("node %q references undefined node %q", id, child))
			}
		}
		if n.Kind == KindTool && b.registry != nil {
			if n.ToolID == "" {
				errs = append(errs, fmt.Sprintf("tool node %q has no toolId", id))
			} else if !b.registry.HasTool(n.ToolID) {
				errs = append(errs, fmt.Sprintf("tool node %q references unregistered tool %q", id, n.ToolID))
			}
		}
	}

	if len(errs) == 0 && b.entry != "" {
		b.detectSelfNesting(&errs)
		b.detectCycles(&errs)
		b.detectUnreachable()
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &IR{
		Version:  "1.0",
		Metadata: meta,
		Graph: Graph{
			Nodes:      b.nodes,
			Edges:      append([]Edge(nil), b.edges...),
			EntryPoint: b.entry,
		},
		Registry: b.registry,
	}, nil
}

// detectSelfNesting rejects a compound node that directly lists itself as a
// child — accidental self-nesting distinct from a legitimate Loop-back edge.
// Transitive self-references are not checked here; detectCycles covers them.
func (b *Builder) detectSelfNesting(errs *[]string) {
	for id, n := range b.nodes {
		for _, child := range n.ChildIDs() {
			if child == id {
				*errs = append(*errs, fmt.Sprintf("node %q references itself as a child", id))
			}
		}
	}
}

// detectCycles runs a DFS over structural child edges from the entry point.
// Loop nodes are allowed to contain a body that eventually re-enters an
// ancestor Loop node's body set (the "loop back-edge" exception) but
// Sequence/Conditional/Parallel nodes may never form a cycle.
func (b *Builder) detectCycles(errs *[]string) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(b.nodes))

	var visit func(id string, loopAncestors map[string]bool) bool
	visit = func(id string, loopAncestors map[string]bool) bool {
		n, ok := b.nodes[id]
		if !ok {
			return true
		}
		color[id] = gray
		nextLoopAncestors := loopAncestors
		if n.Kind == KindLoop {
			nextLoopAncestors = make(map[string]bool, len(loopAncestors)+1)
			for k := range loopAncestors {
				nextLoopAncestors[k] = true
			}
			nextLoopAncestors[id] = true
		}
		for _, child := range n.ChildIDs() {
			if color[child] == gray {
				if nextLoopAncestors[child] {
					continue // legitimate loop back-edge
				}
				*errs = append(*errs, fmt.Sprintf("cycle detected through node %q", child))
				continue
			}
			if color[child] == white {
				if !visit(child, nextLoopAncestors) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}

	visit(b.entry, map[string]bool{})
}

func (b *Builder) detectUnreachable() {
	reached := make(map[string]bool, len(b.nodes))
	var walk func(id string)
	walk = func(id string) {
		if reached[id] {
			return
		}
		reached[id] = true
		n, ok := b.nodes[id]
		if !ok {
			return
		}
		for _, child := range n.ChildIDs() {
			walk(child)
		}
	}
	if b.entry != "" {
		walk(b.entry)
	}
	for id := range b.nodes {
		if !reached[id] {
			b.warnings = append(b.warnings, fmt.Sprintf("node %q is unreachable from the entry point", id))
		}
	}
}

// CompileStaticFlow builds an IR from an ordered list of tool steps. String
// values starting with "$" become Variable references (optionally with a
// dotted path); strings containing whitespace and an operator character
// become Expression values; everything else is a Literal. Consecutive steps
// are wired by annotation edges, and a step with no explicit input receives
// a Reference to the previous step's output.
func CompileStaticFlow(registry RegistryRef, steps []StaticStep) (*IR, error) {
	b := NewBuilder(registry)
	var ids []string
	var prev string

	for i, step := range steps {
		inputs := make(map[string]Value, len(step.Input))
		if len(step.Input) == 0 && prev != "" {
			inputs["_"] = Reference(prev, "")
		}
		for k, raw := range step.Input {
			inputs[k] = classifyValue(raw)
		}

		n := b.AddTool(step.Tool, inputs, step.OutputVar)
		if step.NodeID != "" {
			delete(b.nodes, n.ID)
			n.ID = step.NodeID
			b.nodes[n.ID] = n
		}
		ids = append(ids, n.ID)
		if i == 0 {
			b.SetEntryPoint(n.ID)
		}
		prev = n.ID
	}

	b.ConnectSequence(ids...)

	return b.Build(Metadata{Source: SourceStatic})
}

// StaticStep is one entry of the ordered list a static flow is compiled
// from.
type StaticStep struct {
	NodeID    string
	Tool      string
	Input     map[string]interface{}
	OutputVar string
}

func classifyValue(raw interface{}) Value {
	s, ok := raw.(string)
	if !ok {
		return Literal(raw)
	}
	if strings.HasPrefix(s, "$") {
		name, path, _ := strings.Cut(strings.TrimPrefix(s, "$"), ".")
		return Variable(name, path)
	}
	if looksLikeExpression(s) {
		return Expression(s)
	}
	return Literal(s)
}

func looksLikeExpression(s string) bool {
	hasSpace := strings.ContainsAny(s, " \t")
	hasOperator := strings.ContainsAny(s, "+-*/<>=!&|")
	if !hasSpace || !hasOperator {
		return false
	}
	// a bare negative numeric literal like "- 5" should not normally
	// occur; guard against misclassifying plain numeric strings.
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return false
	}
	return true
}
