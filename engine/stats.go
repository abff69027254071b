package engine

import (
	"context"
	"time"

	"github.com/flowmesh/engine/internal/persistence"
)

// Stats is a point-in-time snapshot of engine health and load, not a time
// series.
type Stats struct {
	UptimeSeconds   float64                  `json:"uptimeSeconds"`
	RegisteredTools int                      `json:"registeredTools"`
	ExpressionCache int                      `json:"expressionCacheSize"`
	Persistence     persistence.HealthStatus `json:"persistence"`
}

// Stats gathers the current snapshot. Persistence health errors are folded
// into the returned HealthStatus rather than failing the call outright —
// a degraded backend should still be visible, not hide the rest of Stats.
func (e *Engine) Stats(ctx context.Context) Stats {
	health, err := e.suspend.Health(ctx)
	if err != nil {
		health = persistence.HealthStatus{Healthy: false, Detail: err.Error()}
	}
	return Stats{
		UptimeSeconds:   time.Since(e.startedAt).Seconds(),
		RegisteredTools: e.registry.Count(),
		ExpressionCache: e.evaluator.CacheSize(),
		Persistence:     health,
	}
}
