// Package suspend implements suspend/resume/cancel/cleanup orchestration:
// capturing a flow's execution frontier into a durable SuspensionRecord and
// rehydrating it later against a user-supplied resume input.
package suspend

import (
	"encoding/json"

	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/state"
)

// ExecutionPosition pinpoints where in the graph a flow was paused.
type ExecutionPosition struct {
	NodeID string      `json:"nodeId"`
	Kind   ir.NodeKind `json:"kind"`
}

// Context mirrors the suspending tool's suspension signal.
type Context struct {
	ToolID              string                 `json:"toolId"`
	TimeoutMs           int                    `json:"timeoutMs,omitempty"`
	AwaitingInputSchema json.RawMessage        `json:"awaitingInputSchema,omitempty"`
	DefaultValue        interface{}            `json:"defaultValue,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

// Record is the durable snapshot of a paused flow, built on tool-initiated
// suspend and consumed on resume.
type Record struct {
	FlowID            string                           `json:"flowId"`
	StepID            string                           `json:"stepId"`
	ExecutionPosition ExecutionPosition                `json:"executionPosition"`
	Variables         state.Snapshot                   `json:"variables"`
	PerNodeOutput     map[string]map[string]interface{} `json:"perNodeOutput"`
	Metadata          map[string]interface{}          `json:"metadata,omitempty"`
	CapturedAt        int64                            `json:"capturedAt"`
	SuspensionContext Context                          `json:"suspensionContext"`
}
