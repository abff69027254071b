package scheduler

import (
	"sync"
	"time"

	"github.com/flowmesh/engine/internal/resolver"
	"github.com/flowmesh/engine/internal/state"
)

// Status is an ExecutionRecord's lifecycle phase.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Record is the per-flow, in-memory execution record.
type Record struct {
	Variables *state.State
	StartedAt time.Time
	Status    Status
	Errors    []error

	mu            sync.Mutex
	perNodeOutput map[string]map[string]interface{}
	toolsExecuted []resolver.ToolOutput
}

func NewRecord() *Record {
	return &Record{
		Variables:     state.New(),
		StartedAt:     time.Now(),
		Status:        StatusRunning,
		perNodeOutput: make(map[string]map[string]interface{}),
	}
}

// RecordOutput stores a node's output in the per-node output map. Tool
// executions are added to the most-recent-first list used by join fallback
// matching separately, via RecordToolExecution.
func (r *Record) RecordOutput(nodeID string, output map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perNodeOutput[nodeID] = output
}

func (r *Record) RecordToolExecution(toolID string, output map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// most-recent-first: prepend
	r.toolsExecuted = append([]resolver.ToolOutput{{ToolID: toolID, Output: output}}, r.toolsExecuted...)
}

// Output implements resolver.ExecutionView.
func (r *Record) Output(nodeID string) (map[string]interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.perNodeOutput[nodeID]
	return out, ok
}

// RecentToolOutputs implements resolver.ExecutionView.
func (r *Record) RecentToolOutputs() []resolver.ToolOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resolver.ToolOutput(nil), r.toolsExecuted...)
}

// PerNodeOutputSnapshot returns a copy of every recorded node output, for
// suspension capture.
func (r *Record) PerNodeOutputSnapshot() map[string]map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(r.perNodeOutput))
	for k, v := range r.perNodeOutput {
		out[k] = v
	}
	return out
}

// RestorePerNodeOutput rehydrates the per-node output map on resume.
func (r *Record) RestorePerNodeOutput(m map[string]map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perNodeOutput = m
}

func (r *Record) AddError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}
