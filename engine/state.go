package engine

import "github.com/flowmesh/engine/internal/state"

// FlowState is a standalone variable store a caller builds up before
// starting a flow (or inspects after one suspends outside the engine's own
// suspend/resume path) — a thin facade over state.State exposing just
// get/set/snapshot/restore.
type FlowState struct {
	vars *state.State
}

// NewState returns an empty FlowState, its root scope ready for Set calls.
func (e *Engine) NewState() *FlowState {
	return &FlowState{vars: state.New()}
}

// Get resolves name, returning nil with no error if it is unset in every
// enclosing scope.
func (fs *FlowState) Get(name string) (interface{}, error) {
	return fs.vars.Get(name)
}

// Set writes name into the innermost scope.
func (fs *FlowState) Set(name string, value interface{}) {
	fs.vars.Set(name, value)
}

// Snapshot captures every scope for later persistence.
func (fs *FlowState) Snapshot() state.Snapshot {
	return fs.vars.Snapshot()
}

// Restore replaces the current scope stack with snap's contents.
func (fs *FlowState) Restore(snap state.Snapshot) {
	fs.vars.Restore(snap)
}

// ToInput flattens globals overlaid by every open scope into the map
// Run/RunStream take as initialInput.
func (fs *FlowState) ToInput() map[string]interface{} {
	return fs.vars.GetAll()
}
