package registry

import "sync"

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a lazily-initialised process-wide Registry. It is an
// operational convenience for callers that do not need per-engine
// isolation; registry.New() remains the primary constructor for engines
// that want an injected, independent registry.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}
