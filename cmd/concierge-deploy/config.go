// ABOUTME: Configuration loading for concierge-deploy
// ABOUTME: Loads TOML config with environment variable expansion

package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Matrix MatrixConfig `toml:"matrix"`
	Deploy DeployConfig `toml:"deploy"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

type DeployConfig struct {
	// RestartCmd restarts the concierge service, e.g. "systemctl restart concierge".
	RestartCmd string `toml:"restart_cmd"`
	// LogCmd prints recent service logs, e.g. "journalctl -u concierge --since -2m".
	LogCmd string `toml:"log_cmd"`
	// BuildCmd rebuilds and installs the service from RepoDir.
	BuildCmd string `toml:"build_cmd"`
	// RepoDir is the service's git checkout, used for rollback.
	RepoDir string `toml:"repo_dir"`
	// Wait is how long to let the restarted service run before checking
	// its logs for the success marker.
	Wait    time.Duration `toml:"-"`
	WaitRaw string        `toml:"wait"`
}

// defaultWait is applied when deploy.wait is not set.
const defaultWait = 30 * time.Second

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Deploy.Wait = defaultWait
	if cfg.Deploy.WaitRaw != "" {
		cfg.Deploy.Wait, err = time.ParseDuration(cfg.Deploy.WaitRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing deploy.wait %q: %w", cfg.Deploy.WaitRaw, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present.
func (c *Config) Validate() error {
	if c.Deploy.RestartCmd == "" {
		return fmt.Errorf("deploy.restart_cmd is required")
	}
	if c.Deploy.LogCmd == "" {
		return fmt.Errorf("deploy.log_cmd is required")
	}
	if c.Matrix.Homeserver != "" {
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix.homeserver is set")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix.homeserver is set")
		}
	}
	return nil
}
