package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Sinks, []string{"log"}) {
		t.Errorf("Sinks = %v, want [log]", cfg.Sinks)
	}
	if cfg.Dispatch.Timeout.Duration != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s default", cfg.Dispatch.Timeout.Duration)
	}
	if cfg.Admin.Enabled {
		t.Error("admin endpoint should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromBytes_File(t *testing.T) {
	data := []byte(`
sinks: [influx, mqtt]
logging:
  level: debug
  file: /var/log/nutwatch.log
admin:
  enabled: true
  addr: ":9105"
dispatch:
  timeout: 2500ms
`)
	cfg, err := LoadFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Sinks, []string{"influx", "mqtt"}) {
		t.Errorf("Sinks = %v", cfg.Sinks)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.File != "/var/log/nutwatch.log" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Addr != ":9105" {
		t.Errorf("Admin = %+v", cfg.Admin)
	}
	if cfg.Dispatch.Timeout.Duration != 2500*time.Millisecond {
		t.Errorf("Timeout = %v, want 2.5s", cfg.Dispatch.Timeout.Duration)
	}
}

func TestLoadFromBytes_EnvOverridesFile(t *testing.T) {
	t.Setenv("NUTWATCH_SINKS", " kafka , ,timescale")
	t.Setenv("NUTWATCH_LOG_LEVEL", "warn")
	t.Setenv("NUTWATCH_ADMIN_ADDR", "0.0.0.0:8080")

	cfg, err := LoadFromBytes([]byte("sinks: [log]\nlogging:\n  level: debug\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Sinks, []string{"kafka", "timescale"}) {
		t.Errorf("Sinks = %v, want env override", cfg.Sinks)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want env override", cfg.Logging.Level)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Addr != "0.0.0.0:8080" {
		t.Errorf("Admin = %+v, want enabled by env", cfg.Admin)
	}
}

func TestLoadFromBytes_InvalidDuration(t *testing.T) {
	if _, err := LoadFromBytes([]byte("dispatch:\n  timeout: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q, want default", cfg.Logging.Level)
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nutwatch.yaml")
	if err := os.WriteFile(path, []byte("sinks: [http]\n"), 0640); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Sinks, []string{"http"}) {
		t.Errorf("Sinks = %v, want [http]", cfg.Sinks)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no sinks", func(c *Config) { c.Sinks = nil }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"zero timeout", func(c *Config) { c.Dispatch.Timeout = Duration{} }},
		{"admin without addr", func(c *Config) { c.Admin = AdminConfig{Enabled: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLocate_FindsWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if err := os.WriteFile("nutwatch.yaml", []byte("sinks: [log]\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if got := Locate(); got != "nutwatch.yaml" {
		t.Errorf("Locate() = %q, want nutwatch.yaml", got)
	}
}
