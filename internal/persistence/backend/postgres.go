package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/persistence"
)

// Postgres persists suspensions in a single table,
// suspensions(key PK, envelope JSONB, tool_id, created_at, expires_at), per
// the reference SQL backend contract.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, engineerr.Persistence("failed to connect to postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, engineerr.Persistence("failed to ping postgres: %v", err)
	}
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS suspensions (
			key        TEXT PRIMARY KEY,
			envelope   JSONB NOT NULL,
			tool_id    TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create suspensions table: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Store(ctx context.Context, key string, env *persistence.Envelope, meta persistence.StoredRecord) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO suspensions (key, envelope, tool_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET envelope = $2, tool_id = $3, created_at = $4, expires_at = $5
	`, key, data, meta.ToolID, meta.CreatedAt, meta.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store suspension: %w", err)
	}
	return nil
}

func (p *Postgres) Retrieve(ctx context.Context, key string) (*persistence.StoredRecord, bool, error) {
	var envData []byte
	rec := persistence.StoredRecord{Key: key}
	err := p.pool.QueryRow(ctx, `
		SELECT envelope, tool_id, created_at, expires_at FROM suspensions WHERE key = $1
	`, key).Scan(&envData, &rec.ToolID, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to retrieve suspension: %w", err)
	}
	var env persistence.Envelope
	if err := json.Unmarshal(envData, &env); err != nil {
		return nil, false, engineerr.Corrupted("suspension envelope for %q is malformed: %v", key, err)
	}
	rec.Envelope = &env
	return &rec, true, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM suspensions WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete suspension: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, offset, limit int) ([]persistence.StoredRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, `
		SELECT key, envelope, tool_id, created_at, expires_at
		FROM suspensions ORDER BY created_at ASC OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspensions: %w", err)
	}
	defer rows.Close()

	var out []persistence.StoredRecord
	for rows.Next() {
		var rec persistence.StoredRecord
		var envData []byte
		if err := rows.Scan(&rec.Key, &envData, &rec.ToolID, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		var env persistence.Envelope
		if err := json.Unmarshal(envData, &env); err != nil {
			continue
		}
		rec.Envelope = &env
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Health(ctx context.Context) (persistence.HealthStatus, error) {
	start := time.Now()
	if err := p.pool.Ping(ctx); err != nil {
		return persistence.HealthStatus{Healthy: false, Detail: err.Error()}, nil
	}
	return persistence.HealthStatus{Healthy: true, LatencyMs: time.Since(start).Milliseconds()}, nil
}

func (p *Postgres) Cleanup(ctx context.Context, criteria persistence.CleanupCriteria) (int, error) {
	query := `DELETE FROM suspensions WHERE 1=1`
	args := []interface{}{}
	argN := 1

	if criteria.ToolID != "" {
		query += fmt.Sprintf(" AND tool_id = $%d", argN)
		args = append(args, criteria.ToolID)
		argN++
	}
	if criteria.ExpiredOnly {
		query += fmt.Sprintf(" AND expires_at != 0 AND expires_at <= $%d", argN)
		args = append(args, time.Now().UnixMilli())
		argN++
	}
	if criteria.OlderThan > 0 {
		query += fmt.Sprintf(" AND created_at < $%d", argN)
		args = append(args, criteria.OlderThan)
		argN++
	}
	if criteria.Limit > 0 {
		query += fmt.Sprintf(` AND key IN (SELECT key FROM suspensions WHERE 1=1 LIMIT $%d)`, argN)
		args = append(args, criteria.Limit)
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup suspensions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
