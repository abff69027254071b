package backend

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/persistence"
)

// Filesystem persists each suspension as one JSON file under dir, named by
// a filesystem-safe transform of the suspension key.
type Filesystem struct {
	dir string
}

func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engineerr.Persistence("failed to create suspension directory %q: %v", dir, err)
	}
	return &Filesystem{dir: dir}, nil
}

type fileRecord struct {
	Key       string                 `json:"key"`
	Envelope  *persistence.Envelope  `json:"envelope"`
	CreatedAt int64                  `json:"createdAt"`
	ExpiresAt int64                  `json:"expiresAt"`
	ToolID    string                 `json:"toolId"`
}

func (f *Filesystem) path(key string) string {
	return filepath.Join(f.dir, safeName(key)+".json")
}

func safeName(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
}

func (f *Filesystem) Store(ctx context.Context, key string, env *persistence.Envelope, meta persistence.StoredRecord) error {
	rec := fileRecord{Key: key, Envelope: env, CreatedAt: meta.CreatedAt, ExpiresAt: meta.ExpiresAt, ToolID: meta.ToolID}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return engineerr.Persistence("failed to write suspension file: %v", err)
	}
	return os.Rename(tmp, f.path(key))
}

func (f *Filesystem) Retrieve(ctx context.Context, key string) (*persistence.StoredRecord, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, engineerr.Persistence("failed to read suspension file: %v", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, engineerr.Corrupted("suspension file for %q is malformed: %v", key, err)
	}
	return &persistence.StoredRecord{Key: rec.Key, Envelope: rec.Envelope, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt, ToolID: rec.ToolID}, true, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return engineerr.Persistence("failed to delete suspension file: %v", err)
	}
	return nil
}

func (f *Filesystem) List(ctx context.Context, offset, limit int) ([]persistence.StoredRecord, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, engineerr.Persistence("failed to list suspension directory: %v", err)
	}

	var out []persistence.StoredRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, persistence.StoredRecord{Key: rec.Key, Envelope: rec.Envelope, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt, ToolID: rec.ToolID})
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

func (f *Filesystem) Health(ctx context.Context) (persistence.HealthStatus, error) {
	start := time.Now()
	probe := filepath.Join(f.dir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return persistence.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	_ = os.Remove(probe)
	return persistence.HealthStatus{Healthy: true, LatencyMs: time.Since(start).Milliseconds()}, nil
}

func (f *Filesystem) Cleanup(ctx context.Context, criteria persistence.CleanupCriteria) (int, error) {
	records, err := f.List(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	deleted := 0
	for _, rec := range records {
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
		if err := f.Delete(ctx, rec.Key); err == nil {
			deleted++
		}
	}
	return deleted, nil
}
