// ABOUTME: Deploy/rollback driver for the concierge service
// ABOUTME: Restarts, verifies via the success marker in logs, rolls back on failure

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/2389/coven-concierge/internal/bridge"
)

// Deployer restarts the service and verifies it by scanning recent logs for
// the job success marker. When verification fails it rolls the checkout back
// to a known-good revision and tries once more.
type Deployer struct {
	cfg    *Config
	logger *slog.Logger
}

// Outcome reports what the deployment did.
type Outcome struct {
	Healthy    bool
	RolledBack bool
	Detail     string
}

func NewDeployer(cfg *Config, logger *slog.Logger) *Deployer {
	return &Deployer{cfg: cfg, logger: logger.With("component", "deploy")}
}

// Run restarts the service and, if the success marker does not appear within
// the wait window, rolls back to knownGood and restarts again.
func (d *Deployer) Run(ctx context.Context, knownGood string) (*Outcome, error) {
	if err := d.restart(ctx); err != nil {
		return nil, fmt.Errorf("restarting service: %w", err)
	}
	if d.waitHealthy(ctx) {
		return &Outcome{Healthy: true, Detail: "service healthy after restart"}, nil
	}

	if knownGood == "" {
		return &Outcome{Healthy: false, Detail: "service unhealthy and no known-good revision given"}, nil
	}

	d.logger.Warn("service unhealthy, rolling back", "revision", knownGood)
	if err := d.rollback(ctx, knownGood); err != nil {
		return nil, fmt.Errorf("rolling back to %s: %w", knownGood, err)
	}
	if err := d.restart(ctx); err != nil {
		return nil, fmt.Errorf("restarting after rollback: %w", err)
	}
	if d.waitHealthy(ctx) {
		return &Outcome{Healthy: true, RolledBack: true,
			Detail: fmt.Sprintf("rolled back to %s, service healthy", knownGood)}, nil
	}
	return &Outcome{Healthy: false, RolledBack: true,
		Detail: fmt.Sprintf("rolled back to %s but service still unhealthy", knownGood)}, nil
}

func (d *Deployer) restart(ctx context.Context) error {
	d.logger.Info("restarting service", "cmd", d.cfg.Deploy.RestartCmd)
	return d.runShell(ctx, "", d.cfg.Deploy.RestartCmd)
}

// rollback checks out the known-good revision and rebuilds.
func (d *Deployer) rollback(ctx context.Context, revision string) error {
	if d.cfg.Deploy.RepoDir == "" {
		return fmt.Errorf("deploy.repo_dir is required for rollback")
	}
	if err := d.runShell(ctx, d.cfg.Deploy.RepoDir, "git checkout "+revision); err != nil {
		return fmt.Errorf("checking out revision: %w", err)
	}
	if d.cfg.Deploy.BuildCmd == "" {
		return fmt.Errorf("deploy.build_cmd is required for rollback")
	}
	if err := d.runShell(ctx, d.cfg.Deploy.RepoDir, d.cfg.Deploy.BuildCmd); err != nil {
		return fmt.Errorf("rebuilding: %w", err)
	}
	return nil
}

// waitHealthy sleeps out the wait window, then scans recent logs for the
// success marker.
func (d *Deployer) waitHealthy(ctx context.Context) bool {
	d.logger.Info("waiting before health check", "wait", d.cfg.Deploy.Wait)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d.cfg.Deploy.Wait):
	}

	out, err := d.captureShell(ctx, "", d.cfg.Deploy.LogCmd)
	if err != nil {
		d.logger.Error("log command failed", "error", err)
		return false
	}
	healthy := markerPresent(out)
	d.logger.Info("health check", "healthy", healthy)
	return healthy
}

// markerPresent reports whether the service logged a completed job since the
// restart window covered by the log command.
func markerPresent(logs string) bool {
	return strings.Contains(logs, bridge.SuccessMarker)
}

func (d *Deployer) runShell(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *Deployer) captureShell(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%q: %w", command, err)
	}
	return string(out), nil
}
