// Package registry adapts the upstream package registry: a git-backed
// index mirror of every crate's published versions, and an HTTP API
// client for per-release/per-crate metadata.
package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Mirror is a local, read-only clone of the registry's index
// repository, where each crate is one JSON-lines file listing every
// version ever published for it.
type Mirror struct {
	path string
	repo *git.Repository
}

// OpenMirror opens the index clone at localPath, cloning remoteURL
// into it first if it doesn't exist yet.
func OpenMirror(ctx context.Context, localPath, remoteURL string) (*Mirror, error) {
	repo, err := git.PlainOpen(localPath)
	if err == nil {
		return &Mirror{path: localPath, repo: repo}, nil
	}
	if err != git.ErrRepositoryNotExists {
		return nil, fmt.Errorf("registry: opening mirror at %s: %w", localPath, err)
	}
	repo, err = git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
		URL:   remoteURL,
		Depth: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: cloning %s into %s: %w", remoteURL, localPath, err)
	}
	return &Mirror{path: localPath, repo: repo}, nil
}

// Pull fast-forwards the mirror to the remote's current HEAD. A
// no-op pull (already up to date) is not an error.
func (m *Mirror) Pull(ctx context.Context) error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return fmt.Errorf("registry: worktree: %w", err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{Depth: 1})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		if _, ok := err.(transport.ErrAuthenticationRequired); ok {
			return fmt.Errorf("registry: pull requires auth: %w", err)
		}
		return fmt.Errorf("registry: pull: %w", err)
	}
	return nil
}

// indexRecord is the subset of fields this adapter cares about from
// each JSON-lines entry in a crate's index file; the real index
// carries dependency and checksum fields too, which the build path
// consumes separately from the registry mirror itself.
type indexRecord struct {
	Name    string `json:"name"`
	Version string `json:"vers"`
}

// ForEachRelease streams every (name, version) pair present in the
// mirror's working tree, calling fn once per pair. .git, config.json
// and README.md are skipped by name; in any other file, reading stops
// at the first line that does not parse as a release record, after
// the records above it have already been passed to fn.
func (m *Mirror) ForEachRelease(fn func(name, version string) error) error {
	return filepath.WalkDir(m.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(p)
		if base == "config.json" || base == "README.md" {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec indexRecord
			if jsonErr := json.Unmarshal(line, &rec); jsonErr != nil {
				// Not an index file (or a malformed line); skip the
				// rest of the file rather than fail the entire walk.
				return nil
			}
			if rec.Name == "" || rec.Version == "" {
				continue
			}
			if err := fn(rec.Name, rec.Version); err != nil {
				return err
			}
		}
		return scanner.Err()
	})
}
