package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowmesh/engine/internal/config"
	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/retry"
)

// Store composes the seal/open pipeline, key generation, and a pluggable
// StorageBackend, retrying backend calls per the shared exponential backoff
// policy used by tool execution.
type Store struct {
	pipeline *Pipeline
	keys     *KeyGenerator
	backend  StorageBackend
	cfg      config.PersistenceConfig
	retry    retry.Policy
}

func NewStore(cfg config.PersistenceConfig, backend StorageBackend) (*Store, error) {
	pipeline, err := NewPipeline(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		pipeline: pipeline,
		keys:     NewKeyGenerator(cfg.KeyGen),
		backend:  backend,
		cfg:      cfg,
		retry:    retry.DefaultPolicy(3),
	}, nil
}

// Put seals v and stores it under a freshly generated key, returning the key.
func (s *Store) Put(ctx context.Context, v interface{}, toolID string) (string, error) {
	maxSize := s.cfg.MaxSizeBytes
	if maxSize == 0 {
		maxSize = 100 * 1024 * 1024
	}
	env, err := s.pipeline.Seal(v, maxSize)
	if err != nil {
		return "", err
	}

	key, err := s.keys.Generate()
	if err != nil {
		return "", err
	}

	meta := StoredRecord{Key: key, CreatedAt: time.Now().UnixMilli(), ToolID: toolID}
	err = retry.Do(ctx, s.retry, func(attempt int) error {
		return s.backend.Store(ctx, key, env, meta)
	})
	if err != nil {
		return "", engineerr.Persistence("failed to store suspension %q: %v", key, err)
	}
	return key, nil
}

// Get retrieves and opens the envelope for key, decoding it into dst.
func (s *Store) Get(ctx context.Context, key string, dst interface{}) error {
	if err := s.keys.Validate(key); err != nil {
		return err
	}

	var rec *StoredRecord
	err := retry.Do(ctx, s.retry, func(attempt int) error {
		found, ok, err := s.backend.Retrieve(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return retry.Stop(engineerr.Corrupted("suspension %q not found", key))
		}
		rec = found
		return nil
	})
	if err != nil {
		return err
	}

	raw, err := s.pipeline.Open(rec.Envelope)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// Delete removes a suspension record, used on resume/cancel.
func (s *Store) Delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.retry, func(attempt int) error {
		return s.backend.Delete(ctx, key)
	})
}

// List returns stored records, most backends paginate via offset/limit.
func (s *Store) List(ctx context.Context, offset, limit int) ([]StoredRecord, error) {
	return s.backend.List(ctx, offset, limit)
}

// Cleanup deletes matching stored records via the backend's Cleanup. A
// backend failure is reported as a single CleanupError with an empty Key;
// failures to delete individual keys are not reported.
func (s *Store) Cleanup(ctx context.Context, criteria CleanupCriteria) (deletedCount int, errs []CleanupError) {
	n, err := s.backend.Cleanup(ctx, criteria)
	if err != nil {
		errs = append(errs, CleanupError{Error: err.Error()})
		return n, errs
	}
	return n, nil
}

// CleanupError pairs a failed key with its error, per the cleanup contract.
type CleanupError struct {
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}

func (s *Store) Health(ctx context.Context) (HealthStatus, error) {
	return s.backend.Health(ctx)
}
