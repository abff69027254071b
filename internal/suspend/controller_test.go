package suspend

import (
	"context"
	"testing"

	"github.com/flowmesh/engine/internal/config"
	"github.com/flowmesh/engine/internal/ir"
	"github.com/flowmesh/engine/internal/logger"
	"github.com/flowmesh/engine/internal/persistence"
	"github.com/flowmesh/engine/internal/persistence/backend"
	"github.com/flowmesh/engine/internal/registry"
	"github.com/flowmesh/engine/internal/scheduler"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	store, err := persistence.NewStore(config.PersistenceConfig{}, backend.NewMemory())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return New(store, logger.New("error", "text"))
}

func TestSuspendAndResumeRoundTrip(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	record.Variables.Set("x", 1)
	record.RecordOutput("upstream", map[string]interface{}{"done": true})

	susp := &registry.Suspension{Message: "waiting for approval"}
	key, err := ctrl.Suspend(context.Background(), "flow1", "approve", "approval", ir.KindTool, susp, record)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected a non-empty suspension key")
	}

	plan, err := ctrl.PrepareResume(context.Background(), key, map[string]interface{}{"approved": true})
	if err != nil {
		t.Fatalf("PrepareResume failed: %v", err)
	}
	if plan.FlowID != "flow1" {
		t.Errorf("expected flow id to round-trip, got %q", plan.FlowID)
	}
	v, _ := plan.Record.Variables.Get("x")
	if v != float64(1) { // round-tripped through the persisted envelope's JSON encoding
		t.Errorf("expected restored variable x=1, got %v (%T)", v, v)
	}
	out, ok := plan.Record.Output("upstream")
	if !ok || out["done"] != true {
		t.Errorf("expected per-node output to be restored, got %v (ok=%v)", out, ok)
	}
	resumed, ok := plan.Replay["approve"].(map[string]interface{})
	if !ok || resumed["approved"] != true {
		t.Errorf("expected replay map to carry the validated resume input under the suspended node id, got %v", plan.Replay["approve"])
	}
}

func TestPrepareResumeDeletesSingleUseKey(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	key, err := ctrl.Suspend(context.Background(), "flow1", "wait", "approval", ir.KindTool, &registry.Suspension{Message: "m"}, record)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	if _, err := ctrl.PrepareResume(context.Background(), key, map[string]interface{}{"ok": true}); err != nil {
		t.Fatalf("first PrepareResume failed: %v", err)
	}
	if _, err := ctrl.PrepareResume(context.Background(), key, map[string]interface{}{"ok": true}); err == nil {
		t.Error("expected a second PrepareResume on the same key to fail, keys are single-use")
	}
}

func TestPrepareResumeValidatesAgainstInputSchema(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	susp := &registry.Suspension{
		Message:     "need name",
		InputSchema: []byte(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`),
	}
	key, err := ctrl.Suspend(context.Background(), "flow1", "wait", "approval", ir.KindTool, susp, record)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	if _, err := ctrl.PrepareResume(context.Background(), key, map[string]interface{}{}); err == nil {
		t.Error("expected resume input missing the required field to fail schema validation")
	}
}

func TestPrepareResumeFallsBackToDefaultValue(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	susp := &registry.Suspension{Message: "m", DefaultValue: map[string]interface{}{"choice": "skip"}}
	key, err := ctrl.Suspend(context.Background(), "flow1", "wait", "approval", ir.KindTool, susp, record)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	plan, err := ctrl.PrepareResume(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("expected nil input to fall back to the suspension's defaultValue, got: %v", err)
	}
	resumed := plan.Replay["wait"].(map[string]interface{})
	if resumed["choice"] != "skip" {
		t.Errorf("expected default value to be used as resume input, got %v", resumed)
	}
}

func TestPrepareResumeRequiresInputWhenNoDefault(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	key, err := ctrl.Suspend(context.Background(), "flow1", "wait", "approval", ir.KindTool, &registry.Suspension{Message: "m"}, record)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	if _, err := ctrl.PrepareResume(context.Background(), key, nil); err == nil {
		t.Error("expected resume with no input and no defaultValue to fail")
	}
}

func TestCancelDeletesWithoutResuming(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	key, err := ctrl.Suspend(context.Background(), "flow1", "wait", "approval", ir.KindTool, &registry.Suspension{Message: "m"}, record)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	if err := ctrl.Cancel(context.Background(), key); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if _, err := ctrl.PrepareResume(context.Background(), key, map[string]interface{}{}); err == nil {
		t.Error("expected resume after Cancel to fail, key should no longer exist")
	}
}

func TestListAndCleanup(t *testing.T) {
	ctrl := newTestController(t)
	record := scheduler.NewRecord()
	if _, err := ctrl.Suspend(context.Background(), "flow1", "wait", "approval", ir.KindTool, &registry.Suspension{Message: "m"}, record); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	list, err := ctrl.List(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 stored suspension, got %d", len(list))
	}

	deleted, errs := ctrl.Cleanup(context.Background(), persistence.CleanupCriteria{ToolID: "approval"})
	if len(errs) != 0 {
		t.Fatalf("unexpected cleanup errors: %v", errs)
	}
	if deleted != 1 {
		t.Errorf("expected 1 record cleaned up, got %d", deleted)
	}
}

func TestHealth(t *testing.T) {
	ctrl := newTestController(t)
	status, err := ctrl.Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Healthy {
		t.Error("expected the memory-backed store to report healthy")
	}
}
