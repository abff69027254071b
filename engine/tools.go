package engine

import "github.com/flowmesh/engine/internal/registry"

// RegisterTool adds a tool to the engine's registry. Flows compiled before
// this call cannot reference toolID; flows compiled after can.
func (e *Engine) RegisterTool(t registry.Tool) error {
	return e.registry.Register(t)
}

// UnregisterTool removes a tool. In-flight runs already holding a resolved
// registry.Tool value are unaffected.
func (e *Engine) UnregisterTool(id string) error {
	return e.registry.Unregister(id)
}

// ListTools returns every registered tool in registration order.
func (e *Engine) ListTools() []registry.Tool {
	return e.registry.List()
}

// RegisterJoin bridges an incompatible producer/consumer tool pair.
func (e *Engine) RegisterJoin(j registry.Join) error {
	return e.registry.RegisterJoin(j)
}
