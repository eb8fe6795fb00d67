// Package config handles loading and validating agentai configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for agentai.
type Config struct {
	Workdir       string               `json:"workdir,omitempty" yaml:"workdir,omitempty"`     // Working root for every call. Default: ".". Override: AGENTAI_WORKDIR env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Audit log and database location. Default: ~/.agentai/data. Override: AGENTAI_DATA_DIR env var.
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"` // debug, info, warn, error. Override: AGENTAI_LOG_LEVEL env var.
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Dispatch      DispatchConfig       `json:"dispatch" yaml:"dispatch"`
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = audit trail disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
}

// ToolsConfig configures the individual operations.
type ToolsConfig struct {
	File   FileToolConfig   `json:"file" yaml:"file"`
	Script ScriptToolConfig `json:"script" yaml:"script"`
}

// FileToolConfig configures get_file_content.
type FileToolConfig struct {
	MaxChars int `json:"max_chars" yaml:"max_chars"` // Read ceiling in characters. Default: 10000.
}

// ScriptToolConfig configures run_python_file.
type ScriptToolConfig struct {
	Interpreter    string `json:"interpreter" yaml:"interpreter"`         // Default: "python3".
	Extension      string `json:"extension" yaml:"extension"`             // Default: ".py".
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 30.
	MaxConcurrent  int    `json:"max_concurrent" yaml:"max_concurrent"`   // Default: 4.

	// Env adds variables to the scripts' sanitized environment.
	Env map[string]string `json:"env" yaml:"env"`
}

// Timeout returns the per-run wall-clock budget.
func (s ScriptToolConfig) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// SandboxConfig configures the process sandbox.
type SandboxConfig struct {
	MaxCPUSeconds  int `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`   // ulimit -t. 0 = unlimited.
	MaxMemoryMB    int `json:"max_memory_mb" yaml:"max_memory_mb"`       // ulimit -v. 0 = unlimited.
	MaxOutputBytes int `json:"max_output_bytes" yaml:"max_output_bytes"` // Per stream. Default: 1 MB.
}

// DispatchConfig configures the call dispatcher.
type DispatchConfig struct {
	BatchConcurrency int `json:"batch_concurrency" yaml:"batch_concurrency"` // Calls run at once by DispatchAll. Default: 8.
}

// AuditConfig configures the append-only audit trail of dispatched calls.
type AuditConfig struct {
	Enabled   bool                   `json:"enabled" yaml:"enabled"`
	Driver    string                 `json:"driver" yaml:"driver"`                           // "jsonl" (default), "sqlite" or "postgres".
	Path      string                 `json:"path,omitempty" yaml:"path,omitempty"`           // JSONL file. Default: <data_dir>/audit.jsonl.
	SQLite    *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`       // SQLite-specific settings.
	Postgres  *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`   // PostgreSQL-specific settings.
	Retention *RetentionConfig       `json:"retention,omitempty" yaml:"retention,omitempty"` // sqlite/postgres only. nil = keep forever.
}

// RetentionConfig configures pruning of old audit rows.
type RetentionConfig struct {
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"` // Rows older than this are deleted.
	Schedule   string `json:"schedule" yaml:"schedule"`         // Cron spec. Default: "@daily".
}

// MaxAge returns the retention window.
func (r *RetentionConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeDays) * 24 * time.Hour
}

// AuditDriver returns the configured driver, defaulting to "jsonl".
func (a *AuditConfig) AuditDriver() string {
	if a != nil && a.Driver != "" {
		return a.Driver
	}
	return "jsonl"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/agentai.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: AGENTAI_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "agentai"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures failure-rate detection per operation.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% failures
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// GatewaysConfig configures the optional outer boundaries.
type GatewaysConfig struct {
	HTTP *HTTPGatewayConfig `json:"http,omitempty" yaml:"http,omitempty"`
	MCP  *MCPGatewayConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API.
type HTTPGatewayConfig struct {
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → caller ID.
	RateLimit           *RateLimitConfig  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = unlimited.
}

// RateLimitConfig configures the per-caller token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"` // Default: requests_per_minute.
}

// MCPGatewayConfig configures the MCP stdio server.
type MCPGatewayConfig struct {
	Name string `json:"name" yaml:"name"` // Server name announced to clients. Default: "agentai".
}

// DefaultConfigPath returns ~/.agentai/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/agentai.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".agentai", "config.yaml")
}

// Load reads the config file at path (JSON, or YAML by extension), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	return finish(&cfg)
}

// LoadOrDefault loads path when given. With an empty path it loads the
// default config file if present, and otherwise returns defaults with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	def := DefaultConfigPath()
	if _, err := os.Stat(def); err == nil {
		return Load(def)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking default config %s: %w", def, err)
	}
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Workdir = goutils.Env("AGENTAI_WORKDIR", c.Workdir)
	c.DataDir = goutils.Env("AGENTAI_DATA_DIR", c.DataDir)
	c.LogLevel = goutils.Env("AGENTAI_LOG_LEVEL", c.LogLevel)

	if dsn := os.Getenv("AGENTAI_DB_DSN"); dsn != "" {
		if c.Audit == nil {
			c.Audit = &AuditConfig{}
		}
		if c.Audit.Postgres == nil {
			c.Audit.Postgres = &PostgresStorageConfig{}
		}
		c.Audit.Postgres.DSN = dsn
	}

	// A single key from the environment maps to the caller ID "default".
	if key := os.Getenv("AGENTAI_API_KEY"); key != "" {
		if c.Gateways.HTTP == nil {
			c.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		if c.Gateways.HTTP.APIKeyUserMapping == nil {
			c.Gateways.HTTP.APIKeyUserMapping = make(map[string]string)
		}
		c.Gateways.HTTP.APIKeyUserMapping[key] = "default"
	}
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// WorkdirOrDefault returns the configured working root, "." when unset.
func (c *Config) WorkdirOrDefault() string {
	if c.Workdir == "" {
		return "."
	}
	return c.Workdir
}

// ResolvedDataDir returns the absolute data directory.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".agentai", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite audit database path.
func (c *Config) DatabasePath() string {
	if c.Audit != nil && c.Audit.SQLite != nil && c.Audit.SQLite.Path != "" {
		return c.Audit.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "agentai.db")
}

// AuditLogPath returns the JSONL audit log path.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// ListenAddr returns the HTTP gateway address.
func (c *Config) ListenAddr() string {
	if c.Gateways.HTTP != nil && c.Gateways.HTTP.ListenAddr != "" {
		return c.Gateways.HTTP.ListenAddr
	}
	return ":8080"
}

// MCPServerName returns the name announced by the MCP server.
func (c *Config) MCPServerName() string {
	if c.Gateways.MCP != nil && c.Gateways.MCP.Name != "" {
		return c.Gateways.MCP.Name
	}
	return "agentai"
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.Tools.File.MaxChars < 0 {
		return fmt.Errorf("tools.file.max_chars must not be negative")
	}
	if c.Tools.Script.TimeoutSeconds < 0 {
		return fmt.Errorf("tools.script.timeout_seconds must not be negative")
	}
	if c.Tools.Script.MaxConcurrent < 0 {
		return fmt.Errorf("tools.script.max_concurrent must not be negative")
	}
	if ext := c.Tools.Script.Extension; ext != "" && !strings.HasPrefix(ext, ".") {
		return fmt.Errorf("tools.script.extension %q must start with a dot", ext)
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxCPUSeconds < 0 {
		return fmt.Errorf("sandbox.max_cpu_seconds must not be negative")
	}
	if c.Sandbox.MaxOutputBytes < 0 {
		return fmt.Errorf("sandbox.max_output_bytes must not be negative")
	}
	if c.Dispatch.BatchConcurrency < 0 {
		return fmt.Errorf("dispatch.batch_concurrency must not be negative")
	}
	if c.Audit != nil && c.Audit.Enabled {
		switch c.Audit.AuditDriver() {
		case "jsonl", "sqlite":
		case "postgres":
			if c.Audit.Postgres == nil || c.Audit.Postgres.DSN == "" {
				return fmt.Errorf("audit.postgres.dsn is required when audit.driver is postgres")
			}
		default:
			return fmt.Errorf("audit.driver %q is not supported (use jsonl, sqlite or postgres)", c.Audit.Driver)
		}
		if r := c.Audit.Retention; r != nil {
			if r.MaxAgeDays <= 0 {
				return fmt.Errorf("audit.retention.max_age_days must be positive")
			}
			if c.Audit.AuditDriver() == "jsonl" {
				return fmt.Errorf("audit.retention requires the sqlite or postgres driver")
			}
		}
	}
	if o := c.Observability; o != nil && o.Tracing != nil && o.Tracing.Enabled {
		switch o.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q must be grpc or http", o.Tracing.Protocol)
		}
		if o.Tracing.SampleRate < 0 || o.Tracing.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	if h := c.Gateways.HTTP; h != nil {
		if rl := h.RateLimit; rl != nil && (rl.RequestsPerMinute < 0 || rl.BurstSize < 0) {
			return fmt.Errorf("gateways.http.rate_limit values must not be negative")
		}
		for key, caller := range h.APIKeyUserMapping {
			if key == "" || caller == "" {
				return fmt.Errorf("gateways.http.api_key_user_mapping must not contain empty keys or caller IDs")
			}
		}
	}
	return nil
}
