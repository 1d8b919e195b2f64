package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxFileBytes() != 10<<20 {
		t.Errorf("MaxFileBytes = %d", cfg.MaxFileBytes())
	}
	if cfg.Listen != ":3001" || cfg.GracePeriod != 10*time.Second || cfg.ArtifactTTL != time.Hour {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfig_MergesDefaults(t *testing.T) {
	// WHAT: fields absent from the file keep their defaults.
	path := filepath.Join(t.TempDir(), "atapdf.yaml")
	yaml := "listen: \":9000\"\nmax_file_mb: 25\ngrace_period: 30s\nlayout:\n  margin: 72\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.MaxFileMB != 25 || cfg.GracePeriod != 30*time.Second {
		t.Errorf("loaded = %+v", cfg)
	}
	if cfg.MaxFiles != 10 || cfg.StorageDir != "data" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Layout.Margin != 72 || cfg.Layout.PageWidth != 595 {
		t.Errorf("layout = %+v", cfg.Layout)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atapdf.yaml")
	if err := os.WriteFile(path, []byte("max_file_mb: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "max_file_mb") {
		t.Errorf("err = %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":          "8085",
		"STORAGE_DIR":   "/var/lib/atapdf",
		"LOG_LEVEL":     "debug",
		"JOURNAL_DB":    "ops.db",
		"MCP_TRANSPORT": "stdio",
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8085" || cfg.StorageDir != "/var/lib/atapdf" || cfg.LogLevel != "debug" ||
		cfg.JournalDB != "ops.db" || cfg.MCPTransport != "stdio" {
		t.Errorf("cfg = %+v", cfg)
	}

	bad := DefaultConfig()
	if err := bad.ApplyEnv(func(k string) string {
		if k == "PORT" {
			return "http"
		}
		return ""
	}); err == nil {
		t.Error("non-numeric PORT accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"one file merge", func(c *Config) { c.MaxFiles = 1 }, "max_files"},
		{"ttl below grace", func(c *Config) { c.ArtifactTTL = time.Second }, "artifact_ttl"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"transport", func(c *Config) { c.MCPTransport = "quic" }, "mcp_transport"},
		{"rate window", func(c *Config) { c.RateLimit = RateLimit{Requests: 5} }, "rate_limit.window"},
		{"storage", func(c *Config) { c.StorageDir = "" }, "storage_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
