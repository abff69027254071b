// Package backend implements the concrete StorageBackend implementations the
// engine can be configured with: in-memory, filesystem, Redis, and Postgres.
package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowmesh/engine/internal/persistence"
)

// Memory is an in-process StorageBackend: a map guarded by a mutex, with a
// cleanup ticker for expired records. Suitable for development and tests;
// state is lost on process restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]persistence.StoredRecord
}

func NewMemory() *Memory {
	m := &Memory{records: make(map[string]persistence.StoredRecord)}
	go m.cleanupExpired()
	return m
}

func (m *Memory) Store(ctx context.Context, key string, env *persistence.Envelope, meta persistence.StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta.Envelope = env
	m.records[key] = meta
	return nil
}

func (m *Memory) Retrieve(ctx context.Context, key string) (*persistence.StoredRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *Memory) List(ctx context.Context, offset, limit int) ([]persistence.StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]persistence.StoredRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })

	if offset >= len(out) {
		return nil, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

func (m *Memory) Health(ctx context.Context) (persistence.HealthStatus, error) {
	return persistence.HealthStatus{Healthy: true}, nil
}

func (m *Memory) Cleanup(ctx context.Context, criteria persistence.CleanupCriteria) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	now := time.Now().UnixMilli()
	for key, rec := range m.records {
		if criteria.Limit > 0 && deleted >= criteria.Limit {
			break
		}
		if criteria.ToolID != "" && rec.ToolID != criteria.ToolID {
			continue
		}
		if criteria.ExpiredOnly && (rec.ExpiresAt == 0 || rec.ExpiresAt > now) {
			continue
		}
		if criteria.OlderThan > 0 && rec.CreatedAt >= criteria.OlderThan {
			continue
		}
		delete(m.records, key)
		deleted++
	}
	return deleted, nil
}

func (m *Memory) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		now := time.Now().UnixMilli()
		for key, rec := range m.records {
			if rec.ExpiresAt != 0 && rec.ExpiresAt <= now {
				delete(m.records, key)
			}
		}
		m.mu.Unlock()
	}
}
