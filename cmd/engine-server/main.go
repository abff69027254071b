package main

import (
	"fmt"
	"os"

	"github.com/flowmesh/engine/engine"
	"github.com/flowmesh/engine/internal/apiserver"
	"github.com/flowmesh/engine/internal/config"
	"github.com/flowmesh/engine/internal/registry"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, registry.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
		os.Exit(1)
	}

	srv := apiserver.New(eng, cfg.Service.Port)
	if err := srv.Start(); err != nil {
		eng.Logger().Error("apiserver exited with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	// Load applies environment overrides even when no config file is named.
	return config.Load(os.Getenv("ENGINE_CONFIG_FILE"))
}
