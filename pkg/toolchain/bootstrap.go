package toolchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docsbuild.dev/docsbuild/pkg/blobstore"
)

const configKeyEssentialHash = "essential_files_short_hash"

// versionedExtensions are the asset kinds the toolchain regenerates on
// every release and that must therefore be cache-busted per toolchain
// build; everything else (fonts, images) is stable across toolchain
// updates and keeps its original name.
var versionedExtensions = map[string]bool{
	".css": true,
	".js":  true,
}

const placeholderManifest = `[package]
name = "essential-files-placeholder"
version = "0.0.0"
edition = "2021"
`

const placeholderLib = `//! placeholder crate, built only to harvest shared doc assets.
`

// BootstrapEssentialFiles builds a throwaway placeholder crate with
// the pinned toolchain, uploads every file at the top level of its doc
// output under the blob store's root prefix (subdirectories are not
// uploaded), and records the toolchain short-hash used
// to name versioned assets. Called whenever Update reports a changed
// toolchain version.
func (m *Manager) BootstrapEssentialFiles(ctx context.Context, store *blobstore.Storage) error {
	version, err := m.Version(ctx)
	if err != nil {
		return fmt.Errorf("toolchain: bootstrap: %w", err)
	}
	shortHash := shortHash(version)

	scratch, err := os.MkdirTemp("", "docsbuild-essential-*")
	if err != nil {
		return fmt.Errorf("toolchain: bootstrap: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := os.WriteFile(filepath.Join(scratch, "Cargo.toml"), []byte(placeholderManifest), 0o644); err != nil {
		return fmt.Errorf("toolchain: bootstrap: writing manifest: %w", err)
	}
	srcDir := filepath.Join(scratch, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return fmt.Errorf("toolchain: bootstrap: %w", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "lib.rs"), []byte(placeholderLib), 0o644); err != nil {
		return fmt.Errorf("toolchain: bootstrap: writing lib.rs: %w", err)
	}

	if _, err := m.run(ctx, "run", m.Channel, "cargo", "doc", "--manifest-path", filepath.Join(scratch, "Cargo.toml")); err != nil {
		return fmt.Errorf("toolchain: bootstrap: building placeholder crate: %w", err)
	}

	docDir := filepath.Join(scratch, "target", "doc")
	entries, err := os.ReadDir(docDir)
	if err != nil {
		return fmt.Errorf("toolchain: bootstrap: reading doc output: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		destName := name
		if versionedExtensions[ext] {
			stem := strings.TrimSuffix(name, ext)
			destName = fmt.Sprintf("%s-%s%s", stem, shortHash, ext)
		}
		data, err := os.ReadFile(filepath.Join(docDir, name))
		if err != nil {
			return fmt.Errorf("toolchain: bootstrap: reading %s: %w", name, err)
		}
		if _, err := store.StoreOne(ctx, destName, data); err != nil {
			return fmt.Errorf("toolchain: bootstrap: uploading %s: %w", destName, err)
		}
	}

	if err := m.store.Set(ctx, configKeyEssentialHash, shortHash); err != nil {
		return fmt.Errorf("toolchain: bootstrap: recording short hash: %w", err)
	}
	return nil
}

// EssentialFilesHash returns the short-hash recorded by the last
// successful bootstrap, or "" if none has run yet.
func (m *Manager) EssentialFilesHash(ctx context.Context) (string, error) {
	v, ok, err := m.store.Get(ctx, configKeyEssentialHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

func shortHash(version string) string {
	sum := sha256.Sum256([]byte(version))
	return hex.EncodeToString(sum[:])[:8]
}
