package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Admin.Port != 8080 {
		t.Errorf("Admin.Port = %d, want 8080", cfg.Admin.Port)
	}
	if cfg.Engine.QueueCapacity != 1024 {
		t.Errorf("Engine.QueueCapacity = %d, want 1024", cfg.Engine.QueueCapacity)
	}
	if cfg.Engine.IdlePark != 10*time.Microsecond {
		t.Errorf("Engine.IdlePark = %s, want 10µs", cfg.Engine.IdlePark)
	}
	if cfg.Sandbox.MaxMemoryBytes != 16<<20 {
		t.Errorf("Sandbox.MaxMemoryBytes = %d, want %d", cfg.Sandbox.MaxMemoryBytes, 16<<20)
	}
	if cfg.Sandbox.CPUTimeout != 100*time.Millisecond {
		t.Errorf("Sandbox.CPUTimeout = %s, want 100ms", cfg.Sandbox.CPUTimeout)
	}
	if cfg.Sandbox.MaxHostCalls != 1000 {
		t.Errorf("Sandbox.MaxHostCalls = %d, want 1000", cfg.Sandbox.MaxHostCalls)
	}
	if cfg.Loadgen.Enabled {
		t.Error("Loadgen.Enabled = true, want false by default")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"admin port 0", func(c *Config) { c.Admin.Port = 0 }, true},
		{"admin port 99999", func(c *Config) { c.Admin.Port = 99999 }, true},
		{"admin disabled ignores port", func(c *Config) {
			c.Admin.Enabled = false
			c.Admin.Port = 0
		}, false},
		{"queue capacity 0", func(c *Config) { c.Engine.QueueCapacity = 0 }, true},
		{"queue capacity over ceiling", func(c *Config) { c.Engine.QueueCapacity = 1<<30 + 1 }, true},
		{"idle park 0", func(c *Config) { c.Engine.IdlePark = 0 }, true},
		{"cpu timeout 0", func(c *Config) { c.Sandbox.CPUTimeout = 0 }, true},
		{"memory below one page", func(c *Config) { c.Sandbox.MaxMemoryBytes = 1 }, true},
		{"host calls 0", func(c *Config) { c.Sandbox.MaxHostCalls = 0 }, true},
		{"plugin path traversal", func(c *Config) {
			c.Plugins.Paths = []string{"../secrets/filter.wasm"}
		}, true},
		{"plugin dir with null byte", func(c *Config) {
			c.Plugins.Dir = "plugins\x00"
		}, true},
		{"clean plugin paths", func(c *Config) {
			c.Plugins.Dir = "/var/lib/sluice/plugins"
			c.Plugins.Paths = []string{"/var/lib/sluice/plugins/filter.wasm"}
		}, false},
		{"loadgen enabled no sources", func(c *Config) {
			c.Loadgen.Enabled = true
			c.Loadgen.Sources = 0
		}, true},
		{"loadgen enabled zero rate", func(c *Config) {
			c.Loadgen.Enabled = true
			c.Loadgen.Rate = 0
		}, true},
		{"loadgen enabled valid", func(c *Config) {
			c.Loadgen.Enabled = true
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
admin:
  host: "127.0.0.1"
  port: 9090
engine:
  queue_capacity: 256
  idle_park: 1ms
sandbox:
  max_memory_bytes: 33554432
  cpu_timeout: 250ms
  max_host_calls: 500
plugins:
  paths:
    - /opt/sluice/filter.wasm
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Admin.Host != "127.0.0.1" {
		t.Errorf("Admin.Host = %q, want %q", cfg.Admin.Host, "127.0.0.1")
	}
	if cfg.Admin.Port != 9090 {
		t.Errorf("Admin.Port = %d, want 9090", cfg.Admin.Port)
	}
	if cfg.Engine.QueueCapacity != 256 {
		t.Errorf("Engine.QueueCapacity = %d, want 256", cfg.Engine.QueueCapacity)
	}
	if cfg.Engine.IdlePark != time.Millisecond {
		t.Errorf("Engine.IdlePark = %s, want 1ms", cfg.Engine.IdlePark)
	}
	if cfg.Sandbox.MaxMemoryBytes != 33554432 {
		t.Errorf("Sandbox.MaxMemoryBytes = %d, want 33554432", cfg.Sandbox.MaxMemoryBytes)
	}
	if cfg.Sandbox.CPUTimeout != 250*time.Millisecond {
		t.Errorf("Sandbox.CPUTimeout = %s, want 250ms", cfg.Sandbox.CPUTimeout)
	}
	if cfg.Sandbox.MaxHostCalls != 500 {
		t.Errorf("Sandbox.MaxHostCalls = %d, want 500", cfg.Sandbox.MaxHostCalls)
	}
	if len(cfg.Plugins.Paths) != 1 || cfg.Plugins.Paths[0] != "/opt/sluice/filter.wasm" {
		t.Errorf("Plugins.Paths = %v, want one entry", cfg.Plugins.Paths)
	}

	// Sections absent from the file keep their defaults.
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want default true")
	}
	if cfg.Database.AuditBuffer != 10000 {
		t.Errorf("Database.AuditBuffer = %d, want default 10000", cfg.Database.AuditBuffer)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	yamlContent := `
engine:
  queue_capacity: 0
`
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Admin.Host = "127.0.0.1"
	cfg.Admin.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
