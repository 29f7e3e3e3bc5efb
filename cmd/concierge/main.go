// ABOUTME: Entry point for the concierge service
// ABOUTME: Connects Matrix rooms to a streaming Claude agent

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/bridge"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/format"
	"github.com/2389/coven-concierge/internal/session"
)

const banner = `
                      _
  ___ ___  _ __   ___(_) ___ _ __ __ _  ___
 / __/ _ \| '_ \ / __| |/ _ \ '__/ _' |/ _ \
| (_| (_) | | | | (__| |  __/ | | (_| |  __/
 \___\___/|_| |_|\___|_|\___|_|  \__, |\___|
                                 |___/
`

// version is set at build time via -ldflags.
var version = "dev"

// getConfigPath returns the path to the concierge config file.
// Priority: CONCIERGE_CONFIG env var > XDG_CONFIG_HOME/concierge/config.yaml
// > ~/.config/concierge/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONCIERGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "concierge", "config.yaml")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	format.Version = version

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s\n", modelName(cfg))
	green.Print("    ▶ ")
	fmt.Printf("Sessions:   %s\n", cfg.Session.Path)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessions, err := session.NewStore(cfg.Session.Path)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer sessions.Close()

	invoker := agent.NewAnthropicInvoker(agent.AnthropicConfig{
		APIKey:       cfg.Agent.APIKey,
		Model:        cfg.Agent.Model,
		MaxTokens:    cfg.Agent.MaxTokens,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}, logger)

	matrixClient, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}

	b := bridge.NewBridge(cfg, matrixClient, invoker, sessions, logger)

	logger.Info("starting concierge", "version", version)
	return b.Run(ctx)
}

func modelName(cfg *config.Config) string {
	if cfg.Agent.Model != "" {
		return cfg.Agent.Model
	}
	return agent.DefaultModel
}

func setupLogger(level, fmtName string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if fmtName == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
