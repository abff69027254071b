package suspend

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/logger"
	"github.com/flowmesh/engine/internal/persistence"
	"github.com/flowmesh/engine/internal/registry"
	"github.com/flowmesh/engine/internal/scheduler"
)

// resumeInputVar is the well-known variable a resumed flow's downstream
// nodes can read to see exactly what was supplied to resume(), independent
// of which node happened to be suspended.
const resumeInputVar = "__resume_input__"

// Controller orchestrates suspend/resume/cancel/cleanup against a
// persistence.Store, and implements scheduler.SuspendHandler so the
// scheduler never imports this package directly.
type Controller struct {
	store *persistence.Store
	log   *logger.Logger
}

func New(store *persistence.Store, log *logger.Logger) *Controller {
	return &Controller{store: store, log: log}
}

// Suspend implements scheduler.SuspendHandler.
func (c *Controller) Suspend(ctx context.Context, flowID, nodeID, toolID string, kind ir.NodeKind, susp *registry.Suspension, record *scheduler.Record) (string, error) {
	rec := Record{
		FlowID:            flowID,
		StepID:            nodeID,
		ExecutionPosition: ExecutionPosition{NodeID: nodeID, Kind: kind},
		Variables:         record.Variables.Snapshot(),
		PerNodeOutput:     record.PerNodeOutputSnapshot(),
		CapturedAt:        time.Now().UnixMilli(),
		SuspensionContext: Context{
			ToolID:              toolID,
			TimeoutMs:           susp.TimeoutMs,
			AwaitingInputSchema: susp.InputSchema,
			DefaultValue:        susp.DefaultValue,
			Metadata:            susp.Metadata,
		},
	}

	key, err := c.store.Put(ctx, rec, toolID)
	if err != nil {
		return "", err
	}
	c.log.Info("flow suspended", "flowId", flowID, "nodeId", nodeID, "key", key)
	return key, nil
}

// ResumePlan carries what the engine needs to restart a suspended flow: a
// hydrated execution Record and the replay map runNode consults to skip
// straight past everything already completed.
type ResumePlan struct {
	FlowID            string
	ExecutionPosition ExecutionPosition
	Record            *scheduler.Record
	Replay            map[string]interface{}
}

// PrepareResume retrieves and validates a suspension, decodes input through
// its awaitingInputSchema (if any), rehydrates State and perNodeOutput, and
// deletes the persisted record — a suspension key is single-use.
func (c *Controller) PrepareResume(ctx context.Context, key string, input map[string]interface{}) (*ResumePlan, error) {
	var rec Record
	if err := c.store.Get(ctx, key, &rec); err != nil {
		return nil, err
	}

	resolved, err := validateResumeInput(rec.SuspensionContext, input)
	if err != nil {
		return nil, err
	}

	execRecord := scheduler.NewRecord()
	execRecord.Variables.Restore(rec.Variables)
	execRecord.RestorePerNodeOutput(rec.PerNodeOutput)
	execRecord.Variables.Set(resumeInputVar, resolved)

	replay := make(map[string]interface{}, len(rec.PerNodeOutput)+1)
	for nodeID, out := range rec.PerNodeOutput {
		replay[nodeID] = out
	}
	replay[rec.StepID] = resolved

	if err := c.store.Delete(ctx, key); err != nil {
		c.log.ErrorContext(ctx, "failed to delete consumed suspension record", "key", key, "error", err)
	}

	return &ResumePlan{
		FlowID:            rec.FlowID,
		ExecutionPosition: rec.ExecutionPosition,
		Record:            execRecord,
		Replay:            replay,
	}, nil
}

func validateResumeInput(sc Context, input map[string]interface{}) (map[string]interface{}, error) {
	if len(sc.AwaitingInputSchema) > 0 {
		if input == nil {
			return nil, engineerr.Validation("input", "resume input is required by the suspension's inputSchema")
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("mem://resume-input.json", bytesReader(sc.AwaitingInputSchema)); err != nil {
			return nil, engineerr.Validation("input", "suspension inputSchema is invalid: %v", err)
		}
		schema, err := compiler.Compile("mem://resume-input.json")
		if err != nil {
			return nil, engineerr.Validation("input", "suspension inputSchema failed to compile: %v", err)
		}
		if err := schema.Validate(toInterfaceMap(input)); err != nil {
			return nil, engineerr.Validation("input", "resume input does not satisfy awaitingInputSchema: %v", err)
		}
		return input, nil
	}

	if input == nil && sc.DefaultValue == nil {
		return nil, engineerr.Validation("input", "resume requires input or a suspension defaultValue")
	}
	if input != nil {
		return input, nil
	}
	if dv, ok := sc.DefaultValue.(map[string]interface{}); ok {
		return dv, nil
	}
	return map[string]interface{}{"value": sc.DefaultValue}, nil
}

// Cancel deletes a suspension without resuming it.
func (c *Controller) Cancel(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Cleanup sweeps stored suspensions matching criteria.
func (c *Controller) Cleanup(ctx context.Context, criteria persistence.CleanupCriteria) (int, []persistence.CleanupError) {
	return c.store.Cleanup(ctx, criteria)
}

// List returns stored suspensions for the list-suspended API surface.
func (c *Controller) List(ctx context.Context, offset, limit int) ([]persistence.StoredRecord, error) {
	return c.store.List(ctx, offset, limit)
}

func (c *Controller) Health(ctx context.Context) (persistence.HealthStatus, error) {
	return c.store.Health(ctx)
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// toInterfaceMap round-trips through JSON so the compiled schema validates
// against the same plain interface{} shape encoding/json would produce.
func toInterfaceMap(m map[string]interface{}) interface{} {
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
