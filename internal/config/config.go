// ABOUTME: Configuration loading and parsing for support-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete support-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Agents   AgentsConfig   `yaml:"agents"`
	Polling  PollingConfig  `yaml:"polling"`
	Typing   TypingConfig   `yaml:"typing"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// AllowedOrigin is sent back in CORS headers so the chat widget can
	// call the API from the business's site. "*" during development.
	AllowedOrigin string `yaml:"allowed_origin"`
}

// DatabaseConfig holds the durable store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig holds the agent roster and assignment settings
type AgentsConfig struct {
	RosterPath string `yaml:"roster_path"`
	// MaxActive caps concurrent conversations per agent. Zero means the
	// built-in default of 5.
	MaxActive int `yaml:"max_active"`
}

// PollingConfig holds the client polling cadences
type PollingConfig struct {
	MessageInterval time.Duration `yaml:"-"`
	TypingInterval  time.Duration `yaml:"-"`
	MaxWaitAttempts int           `yaml:"max_wait_attempts"`

	// Raw string values for YAML unmarshaling
	MessageIntervalRaw string `yaml:"message_interval"`
	TypingIntervalRaw  string `yaml:"typing_interval"`
}

// TypingConfig holds typing indicator settings
type TypingConfig struct {
	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// NotifyConfig holds the notification broker configuration. An empty
// URL disables publishing entirely.
type NotifyConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
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
	if c.Notify.AMQPURL != "" && c.Notify.Exchange == "" {
		return fmt.Errorf("notify.exchange is required when notify.amqp_url is set")
	}
	if c.Agents.MaxActive < 0 {
		return fmt.Errorf("agents.max_active must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Polling.MessageIntervalRaw != "" {
		cfg.Polling.MessageInterval, err = time.ParseDuration(cfg.Polling.MessageIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing message_interval %q: %w", cfg.Polling.MessageIntervalRaw, err)
		}
	}

	if cfg.Polling.TypingIntervalRaw != "" {
		cfg.Polling.TypingInterval, err = time.ParseDuration(cfg.Polling.TypingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing typing_interval %q: %w", cfg.Polling.TypingIntervalRaw, err)
		}
	}

	if cfg.Typing.TTLRaw != "" {
		cfg.Typing.TTL, err = time.ParseDuration(cfg.Typing.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing typing ttl %q: %w", cfg.Typing.TTLRaw, err)
		}
	}

	return nil
}
