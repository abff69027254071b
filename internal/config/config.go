// Package config loads engine configuration from defaults, an optional YAML
// file, and environment variable overrides, in that priority order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration, matching the recognised
// options of the persistence/execution/logging surface.
type Config struct {
	Persistence PersistenceConfig `yaml:"persistence"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Logging     LoggingConfig     `yaml:"logging"`
	Service     ServiceConfig     `yaml:"service"`
	Environment string            `yaml:"environment"`
}

// ServiceConfig configures the optional apiserver binary; it has no effect
// when the engine is embedded as a library.
type ServiceConfig struct {
	Port int `yaml:"port"`
}

type PersistenceConfig struct {
	Backend      string             `yaml:"backend"` // memory | filesystem | redis | postgres
	Encryption   EncryptionConfig   `yaml:"encryption"`
	KeyGen       KeyGenerationConfig `yaml:"keyGeneration"`
	FilesystemDir string            `yaml:"filesystemDir"`
	RedisAddr    string             `yaml:"redisAddr"`
	PostgresDSN  string             `yaml:"postgresDSN"`
	MaxSizeBytes int                `yaml:"maxSizeBytes"`
}

type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Algorithm string `yaml:"algorithm"` // aes-256-gcm
	Key       string `yaml:"key"`       // base64-encoded 32 bytes; empty => derived dev key
}

type KeyGenerationConfig struct {
	Format string `yaml:"format"` // base64url | base32 | hex
	Prefix string `yaml:"prefix"`
}

type ExecutionConfig struct {
	TimeoutMs      int  `yaml:"timeoutMs"`
	MaxRetries     int  `yaml:"maxRetries"`
	Concurrency    int  `yaml:"concurrency"`
	MaxLoopIters   int  `yaml:"maxLoopIterations"`
	CircuitBreaker bool `yaml:"circuitBreaker"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Destination string `yaml:"destination"`
}

// Defaults returns the compiled-in baseline configuration.
func Defaults() *Config {
	return &Config{
		Persistence: PersistenceConfig{
			Backend: "memory",
			Encryption: EncryptionConfig{
				Enabled:   false,
				Algorithm: "aes-256-gcm",
			},
			KeyGen: KeyGenerationConfig{
				Format: "base64url",
				Prefix: "susp",
			},
			FilesystemDir: "./.engine-suspensions",
			MaxSizeBytes:  100 * 1024 * 1024,
		},
		Execution: ExecutionConfig{
			TimeoutMs:    30_000,
			MaxRetries:   0,
			Concurrency:  0,
			MaxLoopIters: 10_000,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			Destination: "stdout",
		},
		Service: ServiceConfig{
			Port: 8080,
		},
		Environment: "development",
	}
}

// Load assembles configuration: defaults, then an optional YAML file (if
// path is non-empty and exists), then environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, cfg.Validate()
}

func applyEnvOverrides(cfg *Config) {
	cfg.Persistence.Backend = getEnv("ENGINE_PERSISTENCE_BACKEND", cfg.Persistence.Backend)
	cfg.Persistence.Encryption.Enabled = getEnvBool("ENGINE_ENCRYPTION_ENABLED", cfg.Persistence.Encryption.Enabled)
	cfg.Persistence.Encryption.Algorithm = getEnv("ENGINE_ENCRYPTION_ALGORITHM", cfg.Persistence.Encryption.Algorithm)
	cfg.Persistence.Encryption.Key = getEnv("ENGINE_ENCRYPTION_KEY", cfg.Persistence.Encryption.Key)
	cfg.Persistence.KeyGen.Format = getEnv("ENGINE_KEY_FORMAT", cfg.Persistence.KeyGen.Format)
	cfg.Persistence.KeyGen.Prefix = getEnv("ENGINE_KEY_PREFIX", cfg.Persistence.KeyGen.Prefix)
	cfg.Persistence.FilesystemDir = getEnv("ENGINE_PERSISTENCE_DIR", cfg.Persistence.FilesystemDir)
	cfg.Persistence.RedisAddr = getEnv("ENGINE_REDIS_ADDR", cfg.Persistence.RedisAddr)
	cfg.Persistence.PostgresDSN = getEnv("ENGINE_POSTGRES_DSN", cfg.Persistence.PostgresDSN)
	cfg.Persistence.MaxSizeBytes = getEnvInt("ENGINE_PERSISTENCE_MAX_SIZE_BYTES", cfg.Persistence.MaxSizeBytes)

	cfg.Execution.TimeoutMs = getEnvInt("ENGINE_EXECUTION_TIMEOUT_MS", cfg.Execution.TimeoutMs)
	cfg.Execution.MaxRetries = getEnvInt("ENGINE_EXECUTION_MAX_RETRIES", cfg.Execution.MaxRetries)
	cfg.Execution.Concurrency = getEnvInt("ENGINE_EXECUTION_CONCURRENCY", cfg.Execution.Concurrency)
	cfg.Execution.MaxLoopIters = getEnvInt("ENGINE_EXECUTION_MAX_LOOP_ITERATIONS", cfg.Execution.MaxLoopIters)
	cfg.Execution.CircuitBreaker = getEnvBool("ENGINE_EXECUTION_CIRCUIT_BREAKER", cfg.Execution.CircuitBreaker)

	cfg.Logging.Level = getEnv("ENGINE_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("ENGINE_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Destination = getEnv("ENGINE_LOG_DESTINATION", cfg.Logging.Destination)

	cfg.Service.Port = getEnvInt("ENGINE_SERVICE_PORT", cfg.Service.Port)

	cfg.Environment = getEnv("ENGINE_ENVIRONMENT", cfg.Environment)
}

// Validate rejects structurally invalid configuration.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case "memory", "filesystem", "redis", "postgres":
	default:
		return fmt.Errorf("config: unknown persistence backend %q", c.Persistence.Backend)
	}
	if c.Execution.Concurrency < 0 {
		return fmt.Errorf("config: execution.concurrency must be >= 0")
	}
	if c.Execution.MaxLoopIters <= 0 {
		return fmt.Errorf("config: execution.maxLoopIterations must be > 0")
	}
	if c.Persistence.MaxSizeBytes <= 0 {
		return fmt.Errorf("config: persistence.maxSizeBytes must be > 0")
	}
	return nil
}

func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
