package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sumwale/ybox-sub000/pkg/config"
)

// containerState returns the runtime's reported state ("running", "exited",
// "stopped", ...) for name, or "" if the container does not exist.
func (e *Engine) containerState(ctx context.Context, name string) string {
	out, err := e.Driver.Run(ctx, "inspect", "--format={{.State.Status}}", name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Start starts an existing, stopped container and waits for readiness (spec
// §4.4, Start). Returns success without error if the container is already
// running.
func (e *Engine) Start(ctx context.Context, boxName, distribution string) error {
	status := e.containerState(ctx, boxName)
	if status == "" {
		return fmt.Errorf("no ybox container %q found", boxName)
	}
	if status == "running" {
		return nil
	}
	if _, err := e.Driver.StartContainer(ctx, boxName); err != nil {
		return fmt.Errorf("starting container %q: %w", boxName, err)
	}
	static := config.NewStaticConfiguration(e.Env, distribution, boxName)
	return e.waitForReady(ctx, static, readinessTimeout)
}

// Stop stops a running container, polling for it to settle into
// exited/stopped. If failOnError is false, a missing or already-stopped
// container is a silent success (spec §4.4, Stop).
func (e *Engine) Stop(ctx context.Context, boxName string, failOnError bool) error {
	status := e.containerState(ctx, boxName)
	if status != "running" {
		if failOnError {
			return fmt.Errorf("no active ybox container %q found", boxName)
		}
		return nil
	}
	if _, err := e.Driver.StopContainer(ctx, boxName); err != nil {
		return fmt.Errorf("stopping container %q: %w", boxName, err)
	}
	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		st := e.containerState(ctx, boxName)
		if st == "exited" || st == "stopped" {
			return nil
		}
		time.Sleep(stopPoll)
	}
	return fmt.Errorf("failed to stop container %q", boxName)
}

// Restart stops (ignoring a not-running container) then starts (spec §4.4,
// Restart).
func (e *Engine) Restart(ctx context.Context, boxName, distribution string) error {
	if err := e.Stop(ctx, boxName, false); err != nil {
		return err
	}
	return e.Start(ctx, boxName, distribution)
}

// Destroy stops (ignoring failure), removes the container (optionally
// --force), then unregisters it from the State Store (spec §4.4, Destroy).
// The host wrapper files recorded for the container's packages are not
// deleted, and their paths are not returned.
func (e *Engine) Destroy(ctx context.Context, boxName string, force bool) error {
	_ = e.Stop(ctx, boxName, false)

	rmArgs := []string{"container", "rm"}
	if force {
		rmArgs = append(rmArgs, "--force")
	}
	rmArgs = append(rmArgs, boxName)
	if _, err := e.Driver.Run(ctx, rmArgs...); err != nil {
		return fmt.Errorf("removing container %q: %w", boxName, err)
	}

	found, err := e.State.UnregisterContainer(boxName)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no entry found for %q in the state database", boxName)
	}
	return nil
}
