// ABOUTME: Configuration loading and parsing for coven-concierge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete concierge configuration.
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix"`
	Agent    AgentConfig    `yaml:"agent"`
	Queue    QueueConfig    `yaml:"queue"`
	Renderer RendererConfig `yaml:"renderer"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MatrixConfig holds homeserver connection and room filtering settings.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// AllowedRooms limits which rooms the concierge answers in (empty = all).
	AllowedRooms []string `yaml:"allowed_rooms"`
	// AllowedUsers limits who can trigger jobs (empty = everyone).
	AllowedUsers []string `yaml:"allowed_users"`
	// CommandPrefix triggers a job without an explicit mention, e.g. "!ask ".
	CommandPrefix   string `yaml:"command_prefix"`
	TypingIndicator bool   `yaml:"typing_indicator"`
}

// AgentConfig holds the streaming agent settings.
type AgentConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt"`
}

// QueueConfig holds admission-queue tuning.
type QueueConfig struct {
	// MaxDepth caps waiting jobs per conversation; further requests are refused.
	MaxDepth int `yaml:"max_depth"`

	StaleAge      time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StaleAgeRaw      string `yaml:"stale_age"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// RendererConfig holds status-message tuning.
type RendererConfig struct {
	// MaxChunk is the maximum length of one message block.
	MaxChunk int `yaml:"max_chunk"`

	RefreshInterval  time.Duration `yaml:"-"`
	ProgressInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RefreshIntervalRaw  string `yaml:"refresh_interval"`
	ProgressIntervalRaw string `yaml:"progress_interval"`
}

// SessionConfig holds the session store location.
type SessionConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves fields empty.
const (
	DefaultMaxDepth      = 10
	DefaultStaleAge      = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
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

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero values with the standard tuning.
func (c *Config) applyDefaults() {
	if c.Queue.MaxDepth <= 0 {
		c.Queue.MaxDepth = DefaultMaxDepth
	}
	if c.Queue.StaleAge <= 0 {
		c.Queue.StaleAge = DefaultStaleAge
	}
	if c.Queue.SweepInterval <= 0 {
		c.Queue.SweepInterval = DefaultSweepInterval
	}
	if c.Session.Path == "" {
		c.Session.Path = "data/sessions.db"
	}
}

// Validate checks that all required configuration fields are present.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Agent.APIKey == "" {
		return fmt.Errorf("agent.api_key is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Queue.StaleAgeRaw != "" {
		cfg.Queue.StaleAge, err = time.ParseDuration(cfg.Queue.StaleAgeRaw)
		if err != nil {
			return fmt.Errorf("parsing stale_age %q: %w", cfg.Queue.StaleAgeRaw, err)
		}
	}

	if cfg.Queue.SweepIntervalRaw != "" {
		cfg.Queue.SweepInterval, err = time.ParseDuration(cfg.Queue.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Queue.SweepIntervalRaw, err)
		}
	}

	if cfg.Renderer.RefreshIntervalRaw != "" {
		cfg.Renderer.RefreshInterval, err = time.ParseDuration(cfg.Renderer.RefreshIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing refresh_interval %q: %w", cfg.Renderer.RefreshIntervalRaw, err)
		}
	}

	if cfg.Renderer.ProgressIntervalRaw != "" {
		cfg.Renderer.ProgressInterval, err = time.ParseDuration(cfg.Renderer.ProgressIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing progress_interval %q: %w", cfg.Renderer.ProgressIntervalRaw, err)
		}
	}

	return nil
}
