package backend

import (
	"context"
	"testing"

	"github.com/flowmesh/engine/internal/persistence"
)

func TestMemoryStoreRetrieveDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	env := &persistence.Envelope{Data: "payload"}

	if err := m.Store(ctx, "k1", env, persistence.StoredRecord{ToolID: "fetch", CreatedAt: 1}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	rec, ok, err := m.Retrieve(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected to retrieve stored record, ok=%v err=%v", ok, err)
	}
	if rec.Envelope.Data != "payload" {
		t.Errorf("expected envelope data to round-trip, got %v", rec.Envelope.Data)
	}

	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := m.Retrieve(ctx, "k1"); ok {
		t.Error("expected record to be gone after Delete")
	}
}

func TestMemoryRetrieveMissingKey(t *testing.T) {
	m := NewMemory()
	_, ok, err := m.Retrieve(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing key")
	}
}

func TestMemoryListOrdersByCreatedAtAndPaginates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	store := func(key string, createdAt int64) {
		if err := m.Store(ctx, key, &persistence.Envelope{}, persistence.StoredRecord{CreatedAt: createdAt}); err != nil {
			t.Fatalf("Store(%s) failed: %v", key, err)
		}
	}
	store("third", 30)
	store("first", 10)
	store("second", 20)

	all, err := m.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	wantOrder := []int64{10, 20, 30}
	for i, rec := range all {
		if rec.CreatedAt != wantOrder[i] {
			t.Errorf("expected CreatedAt-ascending order at index %d, got %d", i, rec.CreatedAt)
		}
	}

	page, err := m.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List (paged) failed: %v", err)
	}
	if len(page) != 1 || page[0].CreatedAt != 20 {
		t.Errorf("expected single-record page starting at offset 1, got %+v", page)
	}
}

func TestMemoryListOffsetBeyondRangeReturnsEmpty(t *testing.T) {
	m := NewMemory()
	out, err := m.List(context.Background(), 5, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result for an out-of-range offset, got %d", len(out))
	}
}

func TestMemoryCleanupFiltersByToolIDAndExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	must := func(key string, rec persistence.StoredRecord) {
		if err := m.Store(ctx, key, &persistence.Envelope{}, rec); err != nil {
			t.Fatalf("Store(%s) failed: %v", key, err)
		}
	}
	must("expired-fetch", persistence.StoredRecord{ToolID: "fetch", ExpiresAt: 100})
	must("live-fetch", persistence.StoredRecord{ToolID: "fetch", ExpiresAt: 0})
	must("expired-other", persistence.StoredRecord{ToolID: "other", ExpiresAt: 100})

	deleted, err := m.Cleanup(ctx, persistence.CleanupCriteria{ExpiredOnly: true, ToolID: "fetch"})
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected exactly 1 deletion (expired-fetch), got %d", deleted)
	}
	if _, ok, _ := m.Retrieve(ctx, "live-fetch"); !ok {
		t.Error("expected live-fetch (not expired) to survive cleanup")
	}
	if _, ok, _ := m.Retrieve(ctx, "expired-other"); !ok {
		t.Error("expected expired-other (wrong ToolID) to survive cleanup")
	}
}

func TestMemoryHealthIsAlwaysHealthy(t *testing.T) {
	m := NewMemory()
	status, err := m.Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Healthy {
		t.Error("expected an in-process memory backend to report healthy")
	}
}
