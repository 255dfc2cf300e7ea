package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"docsbuild.dev/docsbuild/pkg/registry"
)

// SourceFetcher populates destDir with name@version's crate source
// tree. The registry-backed implementation is used in production; a
// local-path implementation backs `build-local` and tests.
type SourceFetcher interface {
	Fetch(ctx context.Context, name, version, destDir string) error
}

// RegistrySourceFetcher downloads sources from the registry's package
// API, as the daemon does for every normal build.
type RegistrySourceFetcher struct {
	Client *registry.Client
}

func (f RegistrySourceFetcher) Fetch(ctx context.Context, name, version, destDir string) error {
	return f.Client.FetchSource(ctx, name, version, destDir)
}

// LocalSourceFetcher copies an already-checked-out crate directory,
// used by `build-local` and by this system's own CI.
type LocalSourceFetcher struct {
	Path string
}

func (f LocalSourceFetcher) Fetch(ctx context.Context, name, version, destDir string) error {
	return copyTree(f.Path, destDir)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("orchestrator: copying %s: %w", p, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
