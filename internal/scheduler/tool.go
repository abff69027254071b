package scheduler

import (
	"context"
	"time"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/registry"
	"github.com/flowmesh/engine/internal/retry"
)

func (rc *runContext) runTool(ctx context.Context, n *ir.Node) (interface{}, error) {
	input, err := rc.sched.resolver.Resolve(n, rc.record.Variables, rc.record)
	if err != nil {
		return nil, err
	}
	if err := rc.sched.registry.ValidateInput(n.ToolID, input); err != nil {
		return nil, err
	}

	rc.em.emit(Event{Type: EventToolStart, NodeID: n.ID, ToolID: n.ToolID, Input: input})

	tool, err := rc.sched.registry.Get(n.ToolID)
	if err != nil {
		return nil, err
	}

	timeout := rc.sched.cfg.DefaultTimeout
	retries := 0
	retryDelay := 100 * time.Millisecond
	if n.Config != nil {
		if n.Config.TimeoutMs > 0 {
			timeout = time.Duration(n.Config.TimeoutMs) * time.Millisecond
		}
		retries = n.Config.Retries
		if n.Config.RetryDelayMs > 0 {
			retryDelay = time.Duration(n.Config.RetryDelayMs) * time.Millisecond
		}
	}

	policy := retry.Policy{MaxAttempts: retries + 1, InitialDelay: retryDelay, MaxDelay: 30 * time.Second}

	var output map[string]interface{}
	execErr := retry.Do(ctx, policy, func(attempt int) error {
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		out, err := tool.Execute(callCtx, input)
		if err != nil {
			if susp, ok := registry.AsSuspension(err); ok {
				return retry.Stop(rc.suspendFlow(ctx, n, susp))
			}
			if callCtx.Err() == context.DeadlineExceeded {
				return engineerr.Timeout(n.ID)
			}
			return engineerr.Execution(n.ID, err)
		}
		output = out
		return nil
	})

	if execErr != nil {
		rc.em.emit(Event{Type: EventToolError, NodeID: n.ID, ToolID: n.ToolID, Error: toEventError(execErr)})
		return nil, execErr
	}

	if err := rc.sched.registry.ValidateOutput(n.ToolID, output); err != nil {
		rc.em.emit(Event{Type: EventToolError, NodeID: n.ID, ToolID: n.ToolID, Error: toEventError(err)})
		return nil, err
	}

	rc.em.emit(Event{Type: EventToolOutput, NodeID: n.ID, ToolID: n.ToolID, Output: output})

	rc.record.RecordToolExecution(n.ToolID, output)
	if n.OutputVar != "" {
		rc.setOutputVar(ctx, n.ID, n.OutputVar, output)
	}
	rc.record.Variables.Set(n.ToolID, output)

	return output, nil
}

func (rc *runContext) suspendFlow(ctx context.Context, n *ir.Node, susp *registry.Suspension) error {
	if rc.sched.suspend == nil {
		return engineerr.Execution(n.ID, engineerr.Validation("suspend", "tool requested suspension but no suspend handler is configured"))
	}
	key, err := rc.sched.suspend.Suspend(ctx, rc.flowID, n.ID, n.ToolID, n.Kind, susp, rc.record)
	if err != nil {
		return err
	}
	rc.em.emit(Event{Type: EventFlowSuspended, NodeID: n.ID, SuspensionKey: key, Message: susp.Message})
	return engineerr.Suspend(n.ID, key, susp.Message)
}
