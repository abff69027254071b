package state

import "testing"

func TestSetGetGlobals(t *testing.T) {
	s := New()
	s.Set("x", 42)

	v, err := s.Get("x")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %v", v)
	}
}

func TestScopeShadowing(t *testing.T) {
	s := New()
	s.Set("x", "global")
	s.PushScope()
	s.Set("x", "scoped")

	v, _ := s.Get("x")
	if v != "scoped" {
		t.Errorf("expected inner scope to shadow global, got %v", v)
	}

	if err := s.PopScope(); err != nil {
		t.Fatalf("PopScope failed: %v", err)
	}
	v, _ = s.Get("x")
	if v != "global" {
		t.Errorf("expected global value restored after PopScope, got %v", v)
	}
}

func TestPopScopeEmptyFails(t *testing.T) {
	s := New()
	if err := s.PopScope(); err == nil {
		t.Error("expected error popping an empty scope stack")
	}
}

func TestGetPathAndSetPath(t *testing.T) {
	s := New()
	s.Set("obj", map[string]interface{}{"a": map[string]interface{}{"b": 1}})

	v, err := s.GetPath("obj", "a.b")
	if err != nil {
		t.Fatalf("GetPath failed: %v", err)
	}
	if v.(float64) != 1 {
		t.Errorf("expected 1, got %v", v)
	}

	if err := s.SetPath("obj", "a.b", 99); err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	v, _ = s.GetPath("obj", "a.b")
	if v.(float64) != 99 {
		t.Errorf("expected 99 after SetPath, got %v", v)
	}
}

func TestSetPathDoesNotMutateOriginalReference(t *testing.T) {
	s := New()
	original := map[string]interface{}{"a": 1}
	s.Set("obj", original)

	if err := s.SetPath("obj", "a", 2); err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	if original["a"] != 1 {
		t.Errorf("expected original map untouched by SetPath's clone-then-write, got %v", original["a"])
	}
}

func TestComputedVariable(t *testing.T) {
	s := New()
	calls := 0
	s.SetComputed("now", func() (interface{}, error) {
		calls++
		return calls, nil
	})

	v1, _ := s.Get("now")
	v2, _ := s.Get("now")
	if v1 == v2 {
		t.Error("expected computed thunk to re-run on every Get")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	s.Set("x", "global-value")
	s.PushScope()
	s.Set("y", "scoped-value")

	snap := s.Snapshot()

	restored := New()
	restored.Restore(snap)

	vx, _ := restored.Get("x")
	if vx != "global-value" {
		t.Errorf("expected global restored, got %v", vx)
	}
	vy, _ := restored.Get("y")
	if vy != "scoped-value" {
		t.Errorf("expected scoped value restored, got %v", vy)
	}
	if restored.GetScopeDepth() != 1 {
		t.Errorf("expected restored scope depth 1, got %d", restored.GetScopeDepth())
	}
}

func TestSnapshotRestoreKeepsShadowedMetadataSeparate(t *testing.T) {
	s := New()
	s.Set("x", 1)
	s.PushScope()
	s.Set("x", 2)

	snap := s.Snapshot()
	restored := New()
	restored.Restore(snap)

	globalMD, ok := restored.globals.metadata["x"]
	if !ok {
		t.Fatal("expected globals metadata for x to survive restore")
	}
	if globalMD.Scope != 0 {
		t.Errorf("expected globals metadata scope 0, got %d", globalMD.Scope)
	}
	scopedMD, ok := restored.scopes[0].metadata["x"]
	if !ok {
		t.Fatal("expected scope metadata for x to survive restore")
	}
	if scopedMD.Scope != 1 {
		t.Errorf("expected scoped metadata scope 1, got %d", scopedMD.Scope)
	}
}

func TestRestoreDropsComputedThunks(t *testing.T) {
	s := New()
	s.SetComputed("x", func() (interface{}, error) { return 1, nil })
	snap := s.Snapshot()

	restored := New()
	restored.Restore(snap)

	v, _ := restored.Get("x")
	if v != nil {
		t.Errorf("expected computed thunk to not survive Restore, got %v", v)
	}
}

func TestDeleteRemovesFromInnermostScopeFirst(t *testing.T) {
	s := New()
	s.Set("x", "global")
	s.PushScope()
	s.Set("x", "scoped")

	s.Delete("x")
	v, _ := s.Get("x")
	if v != "global" {
		t.Errorf("expected Delete to remove only the scoped binding, got %v", v)
	}
}
