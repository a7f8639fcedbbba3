// ABOUTME: Configuration loading and parsing for derailed
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete derailed server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds listen address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionTTLRaw string `yaml:"session_ttl"`
}

// GatewayConfig holds real-time gateway tuning
type GatewayConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	AuthTimeout   time.Duration `yaml:"-"`
	WriteTimeout  time.Duration `yaml:"-"`
	PingInterval  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AuthTimeoutRaw  string `yaml:"auth_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values a minimal config file may omit.
func (c *Config) applyDefaults() {
	if c.Gateway.QueueCapacity == 0 {
		c.Gateway.QueueCapacity = 64
	}
	if c.Gateway.AuthTimeout == 0 {
		c.Gateway.AuthTimeout = 10 * time.Second
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = 30 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Gateway.QueueCapacity < 0 {
		return fmt.Errorf("gateway.queue_capacity must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionTTLRaw != "" {
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}

	if cfg.Gateway.AuthTimeoutRaw != "" {
		cfg.Gateway.AuthTimeout, err = time.ParseDuration(cfg.Gateway.AuthTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth_timeout %q: %w", cfg.Gateway.AuthTimeoutRaw, err)
		}
	}

	if cfg.Gateway.WriteTimeoutRaw != "" {
		cfg.Gateway.WriteTimeout, err = time.ParseDuration(cfg.Gateway.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Gateway.WriteTimeoutRaw, err)
		}
	}

	if cfg.Gateway.PingIntervalRaw != "" {
		cfg.Gateway.PingInterval, err = time.ParseDuration(cfg.Gateway.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Gateway.PingIntervalRaw, err)
		}
	}

	return nil
}
