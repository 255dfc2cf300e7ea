package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docsbuild.dev/docsbuild/internal/logging"
	"docsbuild.dev/docsbuild/pkg/orchestrator"
	"docsbuild.dev/docsbuild/pkg/queue"
	"docsbuild.dev/docsbuild/pkg/registry"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "run the registry watcher and build-queue runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

// runDaemon starts the registry watcher and the build loop as two
// goroutines sharing one app, and blocks until ctx is cancelled.
func runDaemon(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.newOrchestrator(ctx, orchestrator.RegistrySourceFetcher{Client: a.registryClient()})
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	errs := make(chan error, 2)
	go func() { errs <- runRegistryWatcher(ctx, a) }()
	go func() { errs <- runBuildLoop(ctx, a, orch) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

// runRegistryWatcher polls the index mirror on a fixed interval and
// enqueues every release the index lists on each poll; queue.Add's
// upsert keeps an already-queued release from being duplicated.
func runRegistryWatcher(ctx context.Context, a *app) error {
	log := logging.WithComponent(a.log, "registry-watcher")
	mirror, err := registry.OpenMirror(ctx, a.cfg.RegistryIndexPath, a.cfg.RegistryIndexURL)
	if err != nil {
		return fmt.Errorf("registry-watcher: opening mirror: %w", err)
	}

	ticker := time.NewTicker(a.cfg.RegistryPollInterval)
	defer ticker.Stop()
	for {
		if err := mirror.Pull(ctx); err != nil {
			log.Warn().Err(err).Msg("index pull failed, will retry next interval")
		} else if err := mirror.ForEachRelease(func(name, version string) error {
			return a.queue.Add(ctx, name, version, 0)
		}); err != nil {
			log.Warn().Err(err).Msg("enqueueing releases from index failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runBuildLoop drains the queue one release at a time, blocking
// between empty polls rather than busy-looping.
func runBuildLoop(ctx context.Context, a *app, orch *orchestrator.Orchestrator) error {
	log := logging.WithComponent(a.log, "build-loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		entry, err := a.queue.Next(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("build-loop: claiming next entry: %w", err)
		}

		if err := orch.BuildRelease(ctx, entry); err != nil {
			log.Error().Err(err).Str("crate", entry.Name).Str("version", entry.Version).
				Msg("build orchestration failed, process-fatal")
			return err
		}
	}
}
