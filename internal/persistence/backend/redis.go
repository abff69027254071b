package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/persistence"
)

const keyPrefix = "flowmesh:suspension:"

// Redis persists suspensions as plain SET/GET string values with TTL, a
// simple key/value-with-expiry store matching the suspension backend
// contract.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

type redisRecord struct {
	Key       string                `json:"key"`
	Envelope  *persistence.Envelope `json:"envelope"`
	CreatedAt int64                 `json:"createdAt"`
	ExpiresAt int64                 `json:"expiresAt"`
	ToolID    string                `json:"toolId"`
}

func (r *Redis) Store(ctx context.Context, key string, env *persistence.Envelope, meta persistence.StoredRecord) error {
	rec := redisRecord{Key: key, Envelope: env, CreatedAt: meta.CreatedAt, ExpiresAt: meta.ExpiresAt, ToolID: meta.ToolID}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return engineerr.Persistence("redis SET failed: %v", err)
	}
	return nil
}

func (r *Redis) Retrieve(ctx context.Context, key string) (*persistence.StoredRecord, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, engineerr.Persistence("redis GET failed: %v", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, engineerr.Corrupted("suspension value for %q is malformed: %v", key, err)
	}
	return &persistence.StoredRecord{Key: rec.Key, Envelope: rec.Envelope, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt, ToolID: rec.ToolID}, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return engineerr.Persistence("redis DEL failed: %v", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, offset, limit int) ([]persistence.StoredRecord, error) {
	var out []persistence.StoredRecord
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec redisRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, persistence.StoredRecord{Key: rec.Key, Envelope: rec.Envelope, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt, ToolID: rec.ToolID})
	}
	if err := iter.Err(); err != nil {
		return nil, engineerr.Persistence("redis SCAN failed: %v", err)
	}

	if offset >= len(out) {
		return nil, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

func (r *Redis) Health(ctx context.Context) (persistence.HealthStatus, error) {
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return persistence.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	return persistence.HealthStatus{Healthy: true, LatencyMs: time.Since(start).Milliseconds()}, nil
}

func (r *Redis) Cleanup(ctx context.Context, criteria persistence.CleanupCriteria) (int, error) {
	records, err := r.List(ctx, 0, 0)
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
		if err := r.Delete(ctx, rec.Key); err == nil {
			deleted++
		}
	}
	return deleted, nil
}
