// Package scheduler traverses an IR, evaluating nodes, emitting streaming
// events, and managing concurrency, cancellation, retries, and suspension.
package scheduler

import "time"

// EventType names one of the ordered streaming events emitted during a run.
type EventType string

const (
	EventFlowStart     EventType = "flow-start"
	EventNodeStart     EventType = "node-start"
	EventNodeComplete  EventType = "node-complete"
	EventNodeError     EventType = "node-error"
	EventToolStart     EventType = "tool-start"
	EventToolOutput    EventType = "tool-output"
	EventToolError     EventType = "tool-error"
	EventLLMToken      EventType = "llm-token"
	EventLLMCompletion EventType = "llm-completion"
	EventFlowSuspended EventType = "flow-suspended"
	EventFlowComplete  EventType = "flow-complete"
	EventFlowError     EventType = "flow-error"
)

// EventError is the error payload carried by node-error/tool-error/flow-error.
type EventError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	NodeID  string `json:"nodeId,omitempty"`
}

// Event is one entry of the scheduler's ordered, per-flow event stream.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	FlowID    string      `json:"flowId"`
	NodeID    string      `json:"nodeId,omitempty"`
	NodeType  string      `json:"nodeType,omitempty"`
	ToolID    string      `json:"toolId,omitempty"`
	Input     interface{} `json:"input,omitempty"`
	Output    interface{} `json:"output,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Token     string      `json:"token,omitempty"`
	Error     *EventError `json:"error,omitempty"`

	SuspensionKey string `json:"suspensionKey,omitempty"`
	Message       string `json:"message,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// emitter serialises event delivery onto a buffered channel so the
// scheduler's many goroutines (parallel branches) can emit concurrently
// without a data race, while keeping per-node happens-before ordering
// naturally (each node's own goroutine emits node-start before any
// tool-*, before node-complete/node-error, in program order).
type emitter struct {
	ch     chan Event
	flowID string
}

func newEmitter(flowID string, buffer int) *emitter {
	return &emitter{ch: make(chan Event, buffer), flowID: flowID}
}

func (e *emitter) emit(evt Event) {
	evt.Timestamp = time.Now()
	evt.FlowID = e.flowID
	e.ch <- evt
}

func (e *emitter) close() { close(e.ch) }
