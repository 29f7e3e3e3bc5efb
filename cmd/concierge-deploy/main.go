// ABOUTME: Entry point for concierge-deploy
// ABOUTME: Restarts the service, verifies health, rolls back, reports to Matrix

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// reportTimeout bounds the Matrix report send.
const reportTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "deploy.toml", "path to deploy config")
		roomID     = flag.String("room", "", "Matrix room to report the outcome into")
		threadID   = flag.String("thread", "", "Matrix event to thread the report under")
		revision   = flag.String("revision", "", "known-good git revision for rollback")
	)
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	cyan.Println("concierge-deploy")
	green.Print("  ▶ ")
	fmt.Printf("Restart: %s\n", cfg.Deploy.RestartCmd)
	green.Print("  ▶ ")
	fmt.Printf("Wait:    %s\n", cfg.Deploy.Wait)
	if *revision != "" {
		green.Print("  ▶ ")
		fmt.Printf("Rollback revision: %s\n", *revision)
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outcome, err := NewDeployer(cfg, logger).Run(ctx, *revision)
	if err != nil {
		reportErr := report(cfg, *roomID, *threadID, "🔥 Deploy failed: "+err.Error())
		if reportErr != nil {
			logger.Error("failed to report outcome", "error", reportErr)
		}
		return err
	}

	if outcome.Healthy {
		green.Printf("  ✓ %s\n", outcome.Detail)
	} else {
		color.New(color.FgRed).Printf("  ✗ %s\n", outcome.Detail)
	}

	if err := report(cfg, *roomID, *threadID, outcomeMessage(outcome)); err != nil {
		logger.Error("failed to report outcome", "error", err)
	}

	if !outcome.Healthy {
		return fmt.Errorf("deployment unhealthy: %s", outcome.Detail)
	}
	return nil
}

func outcomeMessage(o *Outcome) string {
	switch {
	case o.Healthy && o.RolledBack:
		return "⚠️ Deploy rolled back: " + o.Detail
	case o.Healthy:
		return "✅ Deploy succeeded: " + o.Detail
	default:
		return "🔥 Deploy failed: " + o.Detail
	}
}

// report posts the outcome into the Matrix room, threaded under the deploy
// request when a thread event is given. No-op without Matrix config or room.
func report(cfg *Config, roomID, threadID, text string) error {
	if cfg.Matrix.Homeserver == "" || roomID == "" {
		return nil
	}

	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}

	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if threadID != "" {
		content.RelatesTo = &event.RelatesTo{
			Type:    event.RelThread,
			EventID: id.EventID(threadID),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if _, err := client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("sending report: %w", err)
	}
	return nil
}
