// Package engine composes the IR builder, tool registry, resolver,
// scheduler, and suspend/persistence subsystems into a single API surface:
// flow build/validate/run/resume/cancel, suspension bookkeeping, tool
// management, and state introspection.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/engine/internal/config"
	"github.com/flowmesh/engine/internal/logger"
	"github.com/flowmesh/engine/internal/persistence"
	"github.com/flowmesh/engine/internal/persistence/backend"
	"github.com/flowmesh/engine/internal/registry"
	"github.com/flowmesh/engine/internal/resolver"
	"github.com/flowmesh/engine/internal/scheduler"
	"github.com/flowmesh/engine/internal/suspend"
)

// Engine is the process-wide orchestration facade. Construct one per
// configured persistence backend; flows themselves are stateless values run
// against it.
type Engine struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *registry.Registry
	evaluator *resolver.Evaluator
	resolver  *resolver.Resolver
	scheduler *scheduler.Scheduler
	suspend   *suspend.Controller
	store     *persistence.Store

	startedAt time.Time
}

// New builds an Engine from a resolved configuration and an already
// constructed tool registry (callers register tools before or after
// construction; the registry is shared, not copied).
func New(cfg *config.Config, reg *registry.Registry) (*Engine, error) {
	if reg == nil {
		reg = registry.New()
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	eval, err := resolver.NewEvaluator()
	if err != nil {
		return nil, err
	}
	res := resolver.New(eval, reg)

	storageBackend, err := buildBackend(context.Background(), cfg.Persistence)
	if err != nil {
		return nil, err
	}
	store, err := persistence.NewStore(cfg.Persistence, storageBackend)
	if err != nil {
		return nil, err
	}

	suspendCtl := suspend.New(store, log)

	schedCfg := scheduler.Config{
		DefaultTimeout:     cfg.ExecutionTimeout(),
		DefaultConcurrency: cfg.Execution.Concurrency,
		MaxLoopIterations:  cfg.Execution.MaxLoopIters,
	}
	if schedCfg.MaxLoopIterations == 0 {
		schedCfg.MaxLoopIterations = 10_000
	}
	sched := scheduler.New(reg, res, eval, log, suspendCtl, schedCfg)

	return &Engine{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		evaluator: eval,
		resolver:  res,
		scheduler: sched,
		suspend:   suspendCtl,
		store:     store,
		startedAt: time.Now(),
	}, nil
}

// NewDefault builds an Engine from compiled-in configuration defaults and a
// fresh registry, for examples and tests.
func NewDefault() (*Engine, error) {
	return New(config.Defaults(), registry.New())
}

func buildBackend(ctx context.Context, cfg config.PersistenceConfig) (persistence.StorageBackend, error) {
	switch cfg.Backend {
	case "", "memory":
		return backend.NewMemory(), nil
	case "filesystem":
		dir := cfg.FilesystemDir
		if dir == "" {
			dir = "./.engine-suspensions"
		}
		return backend.NewFilesystem(dir)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return backend.NewRedis(client, 0), nil
	case "postgres":
		return backend.NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("engine: unknown persistence backend %q", cfg.Backend)
	}
}

// Registry exposes the underlying tool registry for direct registration.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Logger exposes the engine's structured logger, e.g. for an embedding
// apiserver to share log configuration.
func (e *Engine) Logger() *logger.Logger { return e.log }

func (e *Engine) nextFlowID() string {
	return fmt.Sprintf("flow_%d", time.Now().UnixNano())
}
