package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/atapdf/layout"
)

// ServiceName identifies this service in heartbeat rows.
const ServiceName = "atapdf"

// Config holds the full service configuration.
type Config struct {
	Listen         string         `yaml:"listen"`
	StorageDir     string         `yaml:"storage_dir"`
	MaxFileMB      int            `yaml:"max_file_mb"`
	MaxFiles       int            `yaml:"max_files"`
	GracePeriod    time.Duration  `yaml:"grace_period"`
	ArtifactTTL    time.Duration  `yaml:"artifact_ttl"`
	SweepInterval  time.Duration  `yaml:"sweep_interval"`
	MaxConns       int            `yaml:"max_conns"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
	JournalDB      string         `yaml:"journal_db"` // empty disables the operations journal
	JournalKeep    time.Duration  `yaml:"journal_retention"`
	HeartbeatEvery time.Duration  `yaml:"heartbeat_interval"`
	LogLevel       string         `yaml:"log_level"`
	MCPTransport   string         `yaml:"mcp_transport"` // "" serves HTTP, "stdio" serves MCP tools
	ToolRoot       string         `yaml:"tool_root"`     // confines MCP tool paths
	Layout         layout.Options `yaml:"layout"`
}

// RateLimit caps operation requests per client.
type RateLimit struct {
	Requests int           `yaml:"requests"` // 0 disables
	Window   time.Duration `yaml:"window"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:         ":3001",
		StorageDir:     "data",
		MaxFileMB:      10,
		MaxFiles:       10,
		GracePeriod:    10 * time.Second,
		ArtifactTTL:    time.Hour,
		SweepInterval:  30 * time.Second,
		MaxConns:       64,
		AllowedOrigins: []string{"*"},
		RateLimit:      RateLimit{Requests: 60, Window: time.Minute},
		JournalKeep:    7 * 24 * time.Hour,
		HeartbeatEvery: 30 * time.Second,
		LogLevel:       "info",
		Layout:         layout.DefaultOptions(),
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from PORT, STORAGE_DIR, LOG_LEVEL, JOURNAL_DB
// and MCP_TRANSPORT when they are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT %q is not a number", v)
		}
		c.Listen = ":" + v
	}
	if v := getenv("STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("JOURNAL_DB"); v != "" {
		c.JournalDB = v
	}
	if v := getenv("MCP_TRANSPORT"); v != "" {
		c.MCPTransport = v
	}
	return c.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.MaxFiles < 2 {
		return fmt.Errorf("max_files must be >= 2")
	}
	if c.GracePeriod <= 0 || c.ArtifactTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("grace_period, artifact_ttl and sweep_interval must be > 0")
	}
	if c.ArtifactTTL < c.GracePeriod {
		return fmt.Errorf("artifact_ttl (%s) must not be shorter than grace_period (%s)", c.ArtifactTTL, c.GracePeriod)
	}
	if c.JournalDB != "" && (c.JournalKeep <= 0 || c.HeartbeatEvery <= 0) {
		return fmt.Errorf("journal_retention and heartbeat_interval must be > 0")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns must be >= 0")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must be >= 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	switch c.MCPTransport {
	case "", "stdio":
	default:
		return fmt.Errorf("unsupported mcp_transport %q (use stdio or leave empty)", c.MCPTransport)
	}
	return nil
}

// MaxFileBytes returns max file size in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// MaxBodyBytes bounds a whole multipart request: every file at its cap
// plus room for the form fields.
func (c *Config) MaxBodyBytes() int64 { return int64(c.MaxFiles)*c.MaxFileBytes() + 1<<20 }
