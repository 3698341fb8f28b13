// Package config holds the bridge configuration: ports, timeouts, and
// lifecycle retry policy. Values come from defaults, an optional YAML
// file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all browsermcp configuration.
type Config struct {
	// WSPort is the well-known port the browser extension connects to.
	WSPort int `yaml:"ws_port"`

	// HTTPPort is the proxy front door port (health / tools / tool).
	HTTPPort int `yaml:"http_port"`

	// CallTimeoutMs bounds a single call to the extension.
	CallTimeoutMs int `yaml:"call_timeout_ms"`

	// MaxRetries bounds lifecycle retry loops (server creation and
	// connection). The initial attempt is not counted as a retry.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelayMs is the fixed delay between lifecycle retries.
	RetryDelayMs int `yaml:"retry_delay_ms"`

	// ShutdownTimeoutMs is the hard cap on cooperative shutdown.
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`

	// StateCheckIntervalMs is how often the connected state is polled
	// for external events (shutdown, lost connection).
	StateCheckIntervalMs int `yaml:"state_check_interval_ms"`

	// HistoryLimit caps the retained lifecycle transition history.
	HistoryLimit int `yaml:"history_limit"`

	// EvictStalePortHolders enables best-effort eviction of stale
	// processes holding the well-known ports before binding.
	EvictStalePortHolders bool `yaml:"evict_stale_port_holders"`

	// Logging configures the zap logger.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging. Logs never go to stdout: stdout
// carries the MCP protocol stream.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // optional log file, stderr otherwise
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		WSPort:                9009,
		HTTPPort:              9010,
		CallTimeoutMs:         30000,
		MaxRetries:            3,
		RetryDelayMs:          5000,
		ShutdownTimeoutMs:     15000,
		StateCheckIntervalMs:  5000,
		HistoryLimit:          100,
		EvictStalePortHolders: true,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, overlaying defaults.
// A missing file is not an error: defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies BROWSERMCP_* environment variables on top
// of file values. Invalid numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if port, ok := envInt("BROWSERMCP_WS_PORT"); ok {
		c.WSPort = port
	}
	if port, ok := envInt("BROWSERMCP_HTTP_PORT"); ok {
		c.HTTPPort = port
	}
	if ms, ok := envInt("BROWSERMCP_CALL_TIMEOUT_MS"); ok {
		c.CallTimeoutMs = ms
	}
	if level := os.Getenv("BROWSERMCP_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if file := os.Getenv("BROWSERMCP_LOG_FILE"); file != "" {
		c.Logging.File = file
	}
}

func (c *Config) validate() error {
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("invalid ws_port %d", c.WSPort)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.WSPort == c.HTTPPort {
		return fmt.Errorf("ws_port and http_port must differ (both %d)", c.WSPort)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

// CallTimeout returns the per-call timeout.
func (c *Config) CallTimeout() time.Duration {
	if c.CallTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// RetryDelay returns the delay between lifecycle retries.
func (c *Config) RetryDelay() time.Duration {
	if c.RetryDelayMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ShutdownTimeout returns the hard cap on cooperative shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// StateCheckInterval returns the connected-state poll interval.
func (c *Config) StateCheckInterval() time.Duration {
	if c.StateCheckIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.StateCheckIntervalMs) * time.Millisecond
}
