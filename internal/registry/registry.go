// Package registry implements the Tool Registry and Join layer: typed,
// schema-validated tool registration/lookup and producer/consumer join
// transforms.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flowmesh/engine/internal/engineerr"
)

// Tool is a named, schema-typed unit of work invoked by tool nodes.
type Tool struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Category     string                 `json:"category,omitempty"`
	InputSchema  json.RawMessage        `json:"inputSchema"`
	OutputSchema json.RawMessage        `json:"outputSchema"`
	Execute      ExecuteFunc            `json:"-"`
	Config       map[string]interface{} `json:"config,omitempty"`

	// LLM marks a tool as eligible for GetLLM lookup (i.e. advertised to
	// the external planner's tool catalogue).
	LLM bool `json:"llm,omitempty"`
}

// ExecuteFunc is the Tool contract's invocation surface. Implementations
// may return a *Suspension instead of (output, nil) to pause the flow.
type ExecuteFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Suspension is returned as the error value of ExecuteFunc by a Tool that
// wants the scheduler to pause the flow instead of completing; AsSuspension
// detects it.
type Suspension struct {
	InputSchema  json.RawMessage
	DefaultValue interface{}
	Message      string
	TimeoutMs    int
	Metadata     map[string]interface{}
}

func (s *Suspension) Error() string { return "flow suspended: " + s.Message }

// AsSuspension reports whether err is a suspension signal. Only a direct
// *Suspension is recognised; a wrapped one is not unwrapped.
func AsSuspension(err error) (*Suspension, bool) {
	s, ok := err.(*Suspension)
	return s, ok
}

// Join bridges an incompatible producer/consumer tool pair.
type Join struct {
	ID       string
	FromTool string
	ToTool   string
	Decode   func(fromOutput map[string]interface{}) (map[string]interface{}, error)
	Encode   func(toInput map[string]interface{}) (map[string]interface{}, error)
}

type compiledTool struct {
	tool     Tool
	inputVal  *jsonschema.Schema
	outputVal *jsonschema.Schema
}

// Registry holds tools and joins. Registrations are serialised; reads share
// an RWMutex read lock, since lookups vastly outnumber registrations once a
// flow service is warmed up.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*compiledTool
	llmTools   map[string]*compiledTool
	categories map[string][]string // preserves insertion order
	joins      map[string]*Join    // keyed by fromTool+"->"+toTool, or explicit id
	order      []string            // tool ids in registration order
}

func New() *Registry {
	return &Registry{
		tools:      make(map[string]*compiledTool),
		llmTools:   make(map[string]*compiledTool),
		categories: make(map[string][]string),
		joins:      make(map[string]*Join),
	}
}

// Register compiles the tool's schemas and adds it to the registry. Fails
// with a RegistrationError if the id already exists or required fields are
// missing.
func (r *Registry) Register(t Tool) error {
	if t.ID == "" || t.Name == "" || t.Execute == nil || t.InputSchema == nil || t.OutputSchema == nil {
		return engineerr.Registration("tool is missing one of id/name/execute/inputSchema/outputSchema")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.ID]; exists {
		return engineerr.Registration("tool %q is already registered", t.ID)
	}

	inputVal, err := compileSchema(t.ID, "input", t.InputSchema)
	if err != nil {
		return err
	}
	outputVal, err := compileSchema(t.ID, "output", t.OutputSchema)
	if err != nil {
		return err
	}

	ct := &compiledTool{tool: t, inputVal: inputVal, outputVal: outputVal}
	r.tools[t.ID] = ct
	if t.LLM {
		r.llmTools[t.ID] = ct
	}
	if t.Category != "" {
		r.categories[t.Category] = append(r.categories[t.Category], t.ID)
	}
	r.order = append(r.order, t.ID)
	return nil
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, id := range r.order {
		if ct, ok := r.tools[id]; ok {
			out = append(out, ct.tool)
		}
	}
	return out
}

// Count reports the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func compileSchema(toolID, field string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("mem://%s/%s.json", toolID, field)
	if err := c.AddResource(url, bytesReader(raw)); err != nil {
		return nil, engineerr.ValidationTool(toolID, field, "invalid schema: %v", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, engineerr.ValidationTool(toolID, field, "schema compilation failed: %v", err)
	}
	return schema, nil
}

// Get looks up a registered tool by id.
func (r *Registry) Get(id string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.tools[id]
	if !ok {
		return Tool{}, engineerr.ToolNotFound(id)
	}
	return ct.tool, nil
}

// GetLLM looks up a tool advertised to the external planner.
func (r *Registry) GetLLM(id string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.llmTools[id]
	if !ok {
		return Tool{}, engineerr.ToolNotFound(id)
	}
	return ct.tool, nil
}

// HasTool reports whether id is registered. Satisfies ir.RegistryRef.
func (r *Registry) HasTool(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// ListByCategory returns tools in insertion order; an unknown category
// yields an empty (non-nil) slice.
func (r *Registry) ListByCategory(cat string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.categories[cat]
	out := make([]Tool, 0, len(ids))
	for _, id := range ids {
		if ct, ok := r.tools[id]; ok {
			out = append(out, ct.tool)
		}
	}
	return out
}

// ValidateInput decodes x through the tool's compiled input schema.
func (r *Registry) ValidateInput(id string, x map[string]interface{}) error {
	return r.validate(id, "input", x)
}

// ValidateOutput decodes x through the tool's compiled output schema.
func (r *Registry) ValidateOutput(id string, x map[string]interface{}) error {
	return r.validate(id, "output", x)
}

func (r *Registry) validate(id, field string, x map[string]interface{}) error {
	r.mu.RLock()
	ct, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return engineerr.ToolNotFound(id)
	}
	schema := ct.inputVal
	if field == "output" {
		schema = ct.outputVal
	}
	if err := schema.Validate(toInterfaceMap(x)); err != nil {
		return engineerr.ValidationTool(id, field, "%v", err)
	}
	return nil
}

// Unregister removes a tool from the main, LLM, and category indices.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ct, ok := r.tools[id]
	if !ok {
		return engineerr.ToolNotFound(id)
	}
	delete(r.tools, id)
	delete(r.llmTools, id)

	if ct.tool.Category != "" {
		ids := r.categories[ct.tool.Category]
		remaining := ids[:0]
		for _, existing := range ids {
			if existing != id {
				remaining = append(remaining, existing)
			}
		}
		if len(remaining) == 0 {
			delete(r.categories, ct.tool.Category)
		} else {
			r.categories[ct.tool.Category] = remaining
		}
	}

	remainingOrder := r.order[:0]
	for _, existing := range r.order {
		if existing != id {
			remainingOrder = append(remainingOrder, existing)
		}
	}
	r.order = remainingOrder
	return nil
}

// RegisterJoin adds a bidirectional transform bridging fromTool's output to
// toTool's input.
func (r *Registry) RegisterJoin(j Join) error {
	if j.FromTool == "" || j.ToTool == "" || j.Decode == nil {
		return engineerr.Registration("join requires fromTool, toTool, and a decode function")
	}
	key := j.ID
	if key == "" {
		key = j.FromTool + "->" + j.ToTool
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins[key] = &j
	return nil
}

// FindJoin returns the join whose fromTool/toTool pair matches, if any.
func (r *Registry) FindJoin(fromTool, toTool string) (*Join, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if j, ok := r.joins[fromTool+"->"+toTool]; ok {
		return j, true
	}
	for _, j := range r.joins {
		if j.FromTool == fromTool && j.ToTool == toTool {
			return j, true
		}
	}
	return nil, false
}

func toInterfaceMap(m map[string]interface{}) interface{} {
	// jsonschema validates against interface{} trees produced by
	// encoding/json; round-trip through JSON once so numeric/nested types
	// match what Validate expects regardless of how the caller built m.
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return m
	}
	return v
}
