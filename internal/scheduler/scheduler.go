package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/logger"
	"github.com/flowmesh/engine/internal/registry"
	"github.com/flowmesh/engine/internal/resolver"
)

// SuspendHandler decouples the scheduler from the suspend/persistence
// subsystem: the engine wires a concrete implementation in, so scheduler
// never imports internal/suspend (which itself depends on scheduler's
// exported Record/Event types).
type SuspendHandler interface {
	Suspend(ctx context.Context, flowID, nodeID, toolID string, kind ir.NodeKind, susp *registry.Suspension, record *Record) (key string, err error)
}

// Config tunes default execution behaviour; node-level ir.NodeConfig
// overrides these on a per-node basis.
type Config struct {
	DefaultTimeout     time.Duration
	DefaultConcurrency int // 0 = unbounded
	MaxLoopIterations  int
}

func DefaultConfig() Config {
	return Config{DefaultTimeout: 30 * time.Second, MaxLoopIterations: 10_000}
}

// Scheduler traverses an IR, evaluating nodes, emitting events, and driving
// concurrency, cancellation, retries, and suspension.
type Scheduler struct {
	registry  *registry.Registry
	resolver  *resolver.Resolver
	evaluator *resolver.Evaluator
	log       *logger.Logger
	suspend   SuspendHandler
	cfg       Config
}

func New(reg *registry.Registry, res *resolver.Resolver, eval *resolver.Evaluator, log *logger.Logger, suspend SuspendHandler, cfg Config) *Scheduler {
	return &Scheduler{registry: reg, resolver: res, evaluator: eval, log: log, suspend: suspend, cfg: cfg}
}

// Result is the terminal outcome of a flow run.
type Result struct {
	Status        Status
	Value         interface{}
	Err           error
	SuspensionKey string
	Message       string
}

// Run executes the flow to completion (or suspension/error/cancellation)
// and returns the terminal Result, draining the event stream internally —
// the "collect" API.
func (s *Scheduler) Run(ctx context.Context, flow *ir.IR, initialInput map[string]interface{}) (Result, []Event) {
	events, resultCh := s.Stream(ctx, flow, initialInput)
	var collected []Event
	for evt := range events {
		collected = append(collected, evt)
	}
	return <-resultCh, collected
}

// Stream executes the flow and returns its live event channel plus a
// single-value channel carrying the terminal Result once execution
// finishes — the "stream" API.
func (s *Scheduler) Stream(ctx context.Context, flow *ir.IR, initialInput map[string]interface{}) (<-chan Event, <-chan Result) {
	flowID := fmt.Sprintf("flow_%d", time.Now().UnixNano())
	em := newEmitter(flowID, 64)
	record := NewRecord()

	for k, v := range initialInput {
		record.Variables.Set(k, v)
	}

	return em.ch, s.execute(ctx, flow, record, flowID, em, nil)
}

// execute drives one flow run to its terminal Result, shared by Stream (a
// fresh run from the entry point) and Resume (a run seeded with a replay
// map of already-completed node outputs).
func (s *Scheduler) execute(ctx context.Context, flow *ir.IR, record *Record, flowID string, em *emitter, replay map[string]interface{}) <-chan Result {
	resultCh := make(chan Result, 1)

	go func() {
		defer em.close()
		defer close(resultCh)

		em.emit(Event{Type: EventFlowStart})

		if len(flow.Graph.Nodes) == 0 || flow.Graph.EntryPoint == "" {
			record.Status = StatusCompleted
			em.emit(Event{Type: EventFlowComplete, Result: nil})
			resultCh <- Result{Status: StatusCompleted, Value: nil}
			return
		}

		rc := &runContext{sched: s, flow: flow, record: record, em: em, flowID: flowID, replay: replay}
		output, err := rc.runNode(ctx, flow.Graph.EntryPoint)

		if err != nil {
			if eerr, ok := err.(*engineerr.Error); ok && eerr.Code == engineerr.CodeSuspend {
				// Suspension already emitted flow-suspended inside runNode.
				record.Status = StatusSuspended
				resultCh <- Result{Status: StatusSuspended, SuspensionKey: eerr.Field, Message: eerr.Message}
				return
			}
			if ctx.Err() != nil {
				record.Status = StatusCancelled
				cerr := engineerr.Cancelled()
				em.emit(Event{Type: EventFlowError, Error: toEventError(cerr)})
				resultCh <- Result{Status: StatusCancelled, Err: cerr}
				return
			}
			record.Status = StatusFailed
			em.emit(Event{Type: EventFlowError, Error: toEventError(err)})
			resultCh <- Result{Status: StatusFailed, Err: err}
			return
		}

		record.Status = StatusCompleted
		em.emit(Event{Type: EventFlowComplete, Result: output})
		resultCh <- Result{Status: StatusCompleted, Value: output}
	}()

	return resultCh
}

// Resume continues a previously suspended flow: replay carries every node
// id already completed before suspension (including the suspended node
// itself, mapped to its validated resume input) so that runNode can skip
// straight past them with no re-emitted events.
func (s *Scheduler) Resume(ctx context.Context, flow *ir.IR, record *Record, flowID string, replay map[string]interface{}) (<-chan Event, <-chan Result) {
	em := newEmitter(flowID, 64)
	return em.ch, s.execute(ctx, flow, record, flowID, em, replay)
}

func toEventError(err error) *EventError {
	if eerr, ok := err.(*engineerr.Error); ok {
		return &EventError{Message: eerr.Message, Code: string(eerr.Code), NodeID: eerr.NodeID}
	}
	return &EventError{Message: err.Error(), Code: string(engineerr.CodeExecution)}
}

// runContext threads the per-run dependencies through node dispatch without
// re-injecting them at every call site.
type runContext struct {
	sched  *Scheduler
	flow   *ir.IR
	record *Record
	em     *emitter
	flowID string

	// replay holds node ids already completed before a suspension, mapped
	// to their recorded output; non-nil only on a resumed run.
	replay map[string]interface{}
}

func (rc *runContext) node(id string) *ir.Node { return rc.flow.Graph.Nodes[id] }

// setOutputVar writes name into the flow's variable store. When ctx carries
// an outputVarTracker (sibling branches of a parallel node), a second
// writer claiming the same name wins last-write-wins but logs a warning
// naming both competing branch node ids.
func (rc *runContext) setOutputVar(ctx context.Context, nodeID, name string, value interface{}) {
	if tracker, ok := outputVarTrackerFrom(ctx); ok {
		if prev, collided := tracker.claim(name, nodeID); collided {
			rc.sched.log.Warn("outputVar collision between parallel branches, last write wins",
				"outputVar", name, "node", nodeID, "previousNode", prev)
		}
	}
	rc.record.Variables.Set(name, value)
}

// runNode dispatches on node kind and returns its output value (shape
// varies by node kind).
func (rc *runContext) runNode(ctx context.Context, nodeID string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rc.replay != nil {
		if out, ok := rc.replay[nodeID]; ok {
			delete(rc.replay, nodeID)
			if m, ok := out.(map[string]interface{}); ok {
				rc.record.RecordOutput(nodeID, m)
			}
			return out, nil
		}
	}

	n := rc.node(nodeID)
	if n == nil {
		return nil, engineerr.Compilation("node %q not found in graph", nodeID)
	}

	rc.em.emit(Event{Type: EventNodeStart, NodeID: n.ID, NodeType: string(n.Kind)})

	var output interface{}
	var err error
	switch n.Kind {
	case ir.KindTool:
		output, err = rc.runTool(ctx, n)
	case ir.KindSequence:
		output, err = rc.runSequence(ctx, n)
	case ir.KindConditional:
		output, err = rc.runConditional(ctx, n)
	case ir.KindParallel:
		output, err = rc.runParallel(ctx, n)
	case ir.KindLoop:
		output, err = rc.runLoop(ctx, n)
	default:
		err = engineerr.Compilation("unknown node kind %q", n.Kind)
	}

	if err != nil {
		if eerr, ok := err.(*engineerr.Error); ok && eerr.Code == engineerr.CodeSuspend {
			return nil, err // suspension is not a node-error
		}
		wrapped := err
		if eerr, ok := err.(*engineerr.Error); ok {
			eerr.NodeID = n.ID
			wrapped = eerr
		}
		rc.em.emit(Event{Type: EventNodeError, NodeID: n.ID, Error: toEventError(wrapped)})
		return nil, wrapped
	}

	if out, ok := output.(map[string]interface{}); ok {
		rc.record.RecordOutput(n.ID, out)
	} else if output != nil {
		rc.record.RecordOutput(n.ID, map[string]interface{}{"value": output})
	}

	rc.em.emit(Event{Type: EventNodeComplete, NodeID: n.ID, Result: output})
	return output, nil
}

func (rc *runContext) runSequence(ctx context.Context, n *ir.Node) (interface{}, error) {
	var last interface{}
	for _, stepID := range n.Steps {
		out, err := rc.runNode(ctx, stepID)
		if err != nil {
			return nil, err
		}
		last = out
	}
	return last, nil
}

func (rc *runContext) runConditional(ctx context.Context, n *ir.Node) (interface{}, error) {
	vars := rc.record.Variables.GetAll()
	cond, err := rc.sched.evaluator.EvaluateStructuredCondition(n.Condition, vars, nil)
	if err != nil {
		return nil, err
	}

	branch := n.ElseBranch
	selected := "else"
	if cond {
		branch = n.ThenBranch
		selected = "then"
	}

	var last interface{}
	for _, stepID := range branch {
		out, err := rc.runNode(ctx, stepID)
		if err != nil {
			return nil, err
		}
		last = out
	}
	return map[string]interface{}{"condition": cond, "selectedBranch": selected, "result": last}, nil
}
