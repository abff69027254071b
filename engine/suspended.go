package engine

import (
	"context"

	"github.com/flowmesh/engine/internal/persistence"
)

// ListSuspended pages through currently stored suspensions.
func (e *Engine) ListSuspended(ctx context.Context, offset, limit int) ([]persistence.StoredRecord, error) {
	return e.suspend.List(ctx, offset, limit)
}

// CleanupSuspended sweeps stored suspensions matching criteria (typically
// ExpiredOnly), returning the count removed and, if the backend's sweep
// failed, one error entry with no key; per-key failures are not reported.
func (e *Engine) CleanupSuspended(ctx context.Context, criteria persistence.CleanupCriteria) (int, []persistence.CleanupError) {
	return e.suspend.Cleanup(ctx, criteria)
}
