package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sluiceio/sluice/internal/sandbox"
	"github.com/sluiceio/sluice/pkg/validate"
)

// Config holds all application configuration.
type Config struct {
	Admin    AdminConfig    `yaml:"admin"`
	Engine   EngineConfig   `yaml:"engine"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Loadgen  LoadgenConfig  `yaml:"loadgen"`
}

// AdminConfig controls the read-only administration HTTP server.
type AdminConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIKeys         []string      `yaml:"api_keys"`
}

type EngineConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity"`
	IdlePark        time.Duration `yaml:"idle_park"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SandboxConfig mirrors the per-engine execution limits.
type SandboxConfig struct {
	MaxMemoryBytes uint64        `yaml:"max_memory_bytes"`
	CPUTimeout     time.Duration `yaml:"cpu_timeout"`
	MaxHostCalls   uint64        `yaml:"max_host_calls"`
}

type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	AuditBuffer int    `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PluginsConfig lists wasm modules loaded at startup.
type PluginsConfig struct {
	Dir   string   `yaml:"dir"`
	Paths []string `yaml:"paths"`
}

// LoadgenConfig controls the built-in synthetic publisher.
type LoadgenConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Sources      int     `yaml:"sources"`
	Rate         float64 `yaml:"events_per_second"`
	RowsPerBatch int     `yaml:"rows_per_batch"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	limits := sandbox.DefaultLimits()

	return &Config{
		Admin: AdminConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			QueueCapacity:   1024,
			IdlePark:        10 * time.Microsecond,
			ShutdownTimeout: 5 * time.Second,
		},
		Sandbox: SandboxConfig{
			MaxMemoryBytes: limits.MaxMemoryBytes,
			CPUTimeout:     limits.CPUTimeout,
			MaxHostCalls:   limits.MaxHostCalls,
		},
		Database: DatabaseConfig{
			DSN:         "",
			AuditBuffer: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Loadgen: LoadgenConfig{
			Enabled:      false,
			Sources:      4,
			Rate:         1000,
			RowsPerBatch: 64,
		},
	}
}

// Limits converts the sandbox section to engine limits.
func (c *Config) Limits() sandbox.Limits {
	return sandbox.Limits{
		MaxMemoryBytes: c.Sandbox.MaxMemoryBytes,
		CPUTimeout:     c.Sandbox.CPUTimeout,
		MaxHostCalls:   c.Sandbox.MaxHostCalls,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	v := validate.New()

	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be 1-65535, got %d", c.Admin.Port)
		}
	}
	if err := v.ValidateBufferSize(c.Engine.QueueCapacity); err != nil {
		return fmt.Errorf("engine.queue_capacity: %w", err)
	}
	if c.Engine.IdlePark <= 0 {
		return fmt.Errorf("engine.idle_park must be positive, got %s", c.Engine.IdlePark)
	}
	if err := c.Limits().Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if c.Plugins.Dir != "" {
		if err := v.ValidatePath(c.Plugins.Dir); err != nil {
			return fmt.Errorf("plugins.dir: %w", err)
		}
	}
	for _, p := range c.Plugins.Paths {
		if err := v.ValidatePath(p); err != nil {
			return fmt.Errorf("plugins.paths: %w", err)
		}
	}
	if c.Loadgen.Enabled {
		if c.Loadgen.Sources < 1 {
			return fmt.Errorf("loadgen.sources must be >= 1, got %d", c.Loadgen.Sources)
		}
		if c.Loadgen.Rate <= 0 {
			return fmt.Errorf("loadgen.events_per_second must be positive, got %g", c.Loadgen.Rate)
		}
		if c.Loadgen.RowsPerBatch < 1 {
			return fmt.Errorf("loadgen.rows_per_batch must be >= 1, got %d", c.Loadgen.RowsPerBatch)
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the admin listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}
