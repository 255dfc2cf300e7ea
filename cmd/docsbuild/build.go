package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docsbuild.dev/docsbuild/pkg/metadata"
	"docsbuild.dev/docsbuild/pkg/orchestrator"
)

// readLocalManifestIdentity reads (name, version) out of the
// [package] table of path/Cargo.toml, so `build-local` can enqueue
// and build a checkout without the caller repeating values already
// declared in its own manifest.
func readLocalManifestIdentity(path string) (name, version string, err error) {
	data, err := os.ReadFile(filepath.Join(path, "Cargo.toml"))
	if err != nil {
		return "", "", fmt.Errorf("reading Cargo.toml: %w", err)
	}
	ident, err := metadata.ParsePackageIdentity(data)
	if err != nil {
		return "", "", err
	}
	return ident.Name, ident.Version, nil
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <name> <version>",
		Short: "enqueue a specific release and build it immediately",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, version := args[0], args[1]

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.queue.Add(ctx, name, version, 0); err != nil {
				return fmt.Errorf("build: enqueueing %s@%s: %w", name, version, err)
			}
			entry, err := a.queue.Next(ctx)
			if err != nil {
				return fmt.Errorf("build: claiming %s@%s: %w", name, version, err)
			}

			orch, err := a.newOrchestrator(ctx, orchestrator.RegistrySourceFetcher{Client: a.registryClient()})
			if err != nil {
				return err
			}
			return orch.BuildRelease(ctx, entry)
		},
	}
}

func newBuildLocalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build-local <path>",
		Short: "build a crate from a local source directory instead of the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			name, version, err := readLocalManifestIdentity(path)
			if err != nil {
				return fmt.Errorf("build-local: %w", err)
			}

			if err := a.queue.Add(ctx, name, version, 0); err != nil {
				return fmt.Errorf("build-local: enqueueing %s@%s: %w", name, version, err)
			}
			entry, err := a.queue.Next(ctx)
			if err != nil {
				return fmt.Errorf("build-local: claiming %s@%s: %w", name, version, err)
			}

			orch, err := a.newOrchestrator(ctx, orchestrator.LocalSourceFetcher{Path: path})
			if err != nil {
				return err
			}
			return orch.BuildRelease(ctx, entry)
		},
	}
}

// newQueueCmd implements `queue add`/`queue list`.
func newQueueCmd() *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "inspect and modify the build queue",
	}
	add := &cobra.Command{
		Use:   "add <name> <version>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.queue.Add(cmd.Context(), args[0], args[1], priority)
		},
	}
	add.Flags().IntVar(&priority, "priority", 0, "queue priority (lower is built sooner)")

	list := &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.queue.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\tpriority=%d\tattempts=%d\n", e.Name, e.Version, e.Priority, e.Attempts)
			}
			return nil
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}
