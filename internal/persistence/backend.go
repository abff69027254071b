package persistence

import "context"

// StoredRecord is a single persisted entry as returned by a backend's List.
type StoredRecord struct {
	Key       string
	Envelope  *Envelope
	CreatedAt int64 // unix millis
	ExpiresAt int64 // unix millis, 0 = no expiry
	ToolID    string
}

// CleanupCriteria filters which stored records Cleanup should delete.
type CleanupCriteria struct {
	ExpiredOnly bool
	OlderThan   int64 // unix millis; zero means unset
	ToolID      string
	Limit       int
}

// HealthStatus reports a backend's liveness for the stats surface.
type HealthStatus struct {
	Healthy   bool
	LatencyMs int64
	Detail    string
}

// StorageBackend is the pluggable persistence contract every backend
// (memory, filesystem, Redis, Postgres, ...) implements. Store, Retrieve,
// and Delete participate in the shared retry policy; backends themselves
// are assumed thread-safe per their own contract.
type StorageBackend interface {
	Store(ctx context.Context, key string, env *Envelope, meta StoredRecord) error
	Retrieve(ctx context.Context, key string) (*StoredRecord, bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, offset, limit int) ([]StoredRecord, error)
	Health(ctx context.Context) (HealthStatus, error)
	Cleanup(ctx context.Context, criteria CleanupCriteria) (int, error)
}
