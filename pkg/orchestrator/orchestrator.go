// Package orchestrator drives one release through the whole build
// pipeline: pre-checks, toolchain bring-up, sandboxed compilation,
// artifact upload, and the single-transaction database write that
// closes out the queue entry.
package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"docsbuild.dev/docsbuild/pkg/archive"
	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/compress"
	"docsbuild.dev/docsbuild/pkg/coverage"
	"docsbuild.dev/docsbuild/pkg/metadata"
	"docsbuild.dev/docsbuild/pkg/queue"
	"docsbuild.dev/docsbuild/pkg/registry"
	"docsbuild.dev/docsbuild/pkg/sandbox"
	"docsbuild.dev/docsbuild/pkg/store"
	"docsbuild.dev/docsbuild/pkg/toolchain"
)

// Store is the subset of *store.Store the orchestrator needs, kept
// narrow so tests can supply a fake instead of a database.
type Store interface {
	IsBlacklisted(ctx context.Context, name string) (bool, error)
	HasSuccessfulBuild(ctx context.Context, name, version string) (bool, error)
	LoadBuildLimits(ctx context.Context, name string) (store.BuildLimits, error)
	RecordBuild(ctx context.Context, in store.RecordInput) (string, error)
}

// Queue is the subset of *queue.Queue the build loop drives.
type Queue interface {
	Next(ctx context.Context) (*queue.Entry, error)
	Complete(ctx context.Context, entry *queue.Entry) error
	Fail(ctx context.Context, entry *queue.Entry) (bool, error)
}

// Toolchain is the subset of *toolchain.Manager the orchestrator
// drives before every crate build.
type Toolchain interface {
	Update(ctx context.Context, wantTargets []string) (bool, error)
	BootstrapEssentialFiles(ctx context.Context, store *blobstore.Storage) error
	Version(ctx context.Context) (string, error)
}

// Sandbox is the subset of *sandbox.Sandbox a crate build runs
// inside.
type Sandbox interface {
	Run(ctx context.Context, id string, cmd []string, env []string, workDir string, limits sandbox.Limits) (*sandbox.Result, error)
}

// Orchestrator owns every dependency one build needs and implements
// the end-to-end build-and-record pipeline for a single release.
type Orchestrator struct {
	Store     Store
	Queue     Queue
	Blobs     *blobstore.Storage
	Toolchain Toolchain
	Sandbox   Sandbox
	Registry  *registry.Client
	Source    SourceFetcher
	Log       zerolog.Logger

	HostTarget     string
	DefaultTargets []string // target triples installed via rustup, passed to Toolchain.Update
	BuilderVersion string
	WorkDir        string // scratch root; subdirectories are created and removed per build
	ArchiveStorage bool    // when true, every build's docs are packed into one archive blob instead of stored as individual files
}

// buildOutcome captures everything BuildRelease needs to decide
// between RecordBuild and a non-terminal queue.Fail, plus everything
// RecordBuild needs when it does run.
type buildOutcome struct {
	successful   bool
	defaultTgt   string
	docTargets   []string
	info         metadata.PackageInfo
	log          []byte
	coverage     coverage.Totals
	archiveFiles bool
	compressions []int
}

// BuildRelease runs the full pipeline for one claimed queue entry:
// pre-checks, toolchain bring-up, the sandboxed build itself, artifact
// upload, and the terminal database write. process-fatal conditions
// (ones that mean this builder process, not just this release, is
// broken) are returned as an error; every other outcome is resolved
// internally via entry's Complete/Fail and never surfaces as an error.
func (o *Orchestrator) BuildRelease(ctx context.Context, entry *queue.Entry) error {
	name, version := entry.Name, entry.Version
	log := o.Log.With().Str("crate", name).Str("version", version).Logger()

	done, err := o.Store.HasSuccessfulBuild(ctx, name, version)
	if err != nil {
		return fmt.Errorf("orchestrator: checking existing build for %s@%s: %w", name, version, err)
	}
	if done {
		log.Info().Msg("already built, skipping")
		return o.Queue.Complete(ctx, entry)
	}

	blacklisted, err := o.Store.IsBlacklisted(ctx, name)
	if err != nil {
		return fmt.Errorf("orchestrator: checking blacklist for %s: %w", name, err)
	}
	if blacklisted {
		log.Info().Msg("crate is blacklisted, declining permanently")
		return o.Queue.Complete(ctx, entry)
	}

	limits, err := o.Store.LoadBuildLimits(ctx, name)
	if err != nil {
		return fmt.Errorf("orchestrator: loading build limits for %s: %w", name, err)
	}

	changed, err := o.Toolchain.Update(ctx, o.DefaultTargets)
	if err != nil {
		return fmt.Errorf("orchestrator: updating toolchain: %w", err)
	}
	if changed {
		if err := o.Toolchain.BootstrapEssentialFiles(ctx, o.Blobs); err != nil {
			return fmt.Errorf("orchestrator: bootstrapping essential files: %w", err)
		}
	}
	toolchainVersion, err := o.Toolchain.Version(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reading toolchain version: %w", err)
	}

	outcome, buildErr := o.build(ctx, log, name, version, limits)
	if buildErr != nil {
		log.Warn().Err(buildErr).Msg("build failed")
		outcome.successful = false
	}

	release := o.Registry.ReleaseData(ctx, name, version)

	in := store.RecordInput{
		ReleaseInput: store.ReleaseInput{
			CrateName:      name,
			Version:        version,
			Description:    outcome.info.Description,
			Dependencies:   outcome.info.Dependencies,
			License:        outcome.info.License,
			Homepage:       outcome.info.Homepage,
			Repository:     outcome.info.Repository,
			DefaultTarget:  outcome.defaultTgt,
			DocTargets:     outcome.docTargets,
			ArchiveStorage: outcome.archiveFiles,
			BuildStatus:    outcome.successful,
			Yanked:         release.Yanked,
			ReleaseTime:    release.ReleaseTime,
			Downloads:      release.Downloads,
			Keywords:       outcome.info.Keywords,
			Compressions:   outcome.compressions,
		},
		Build: store.BuildInput{
			Successful:       outcome.successful,
			ToolchainVersion: toolchainVersion,
			BuilderVersion:   o.BuilderVersion,
			Log:              outcome.log,
		},
		Coverage: outcome.coverage,
	}

	if outcome.successful {
		if _, err := o.Store.RecordBuild(ctx, in); err != nil {
			return fmt.Errorf("orchestrator: recording successful build for %s@%s: %w", name, version, err)
		}
		return o.Queue.Complete(ctx, entry)
	}

	ok, err := o.Queue.Fail(ctx, entry)
	if err != nil {
		return fmt.Errorf("orchestrator: recording failed attempt for %s@%s: %w", name, version, err)
	}
	if ok {
		// non-terminal: queue.Fail bumped attempts/backoff, nothing
		// else to persist until a later attempt succeeds or exhausts.
		return nil
	}
	// terminal: this was the last permitted attempt. Write the
	// synthetic failed build row the spec calls for.
	if _, err := o.Store.RecordBuild(ctx, in); err != nil {
		return fmt.Errorf("orchestrator: recording terminal failure for %s@%s: %w", name, version, err)
	}
	return nil
}

// scratchDir creates a fresh, empty directory under o.WorkDir for one
// build attempt.
func (o *Orchestrator) scratchDir(name, version string) (string, error) {
	dir, err := os.MkdirTemp(o.WorkDir, fmt.Sprintf("%s-%s-*", name, version))
	if err != nil {
		return "", fmt.Errorf("orchestrator: creating scratch dir: %w", err)
	}
	return dir, nil
}

// build runs the sandboxed compile-and-collect phase for one release
// and returns the outcome RecordBuild needs. A non-nil error here is
// always release-scoped (recorded as a failed build), never
// process-fatal — sandbox/source failures are expected in steady
// state and must not bring the builder down.
func (o *Orchestrator) build(ctx context.Context, log zerolog.Logger, name, version string, limits store.BuildLimits) (buildOutcome, error) {
	dir, err := o.scratchDir(name, version)
	if err != nil {
		return buildOutcome{}, err
	}
	defer os.RemoveAll(dir)

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return buildOutcome{}, err
	}
	if err := o.Source.Fetch(ctx, name, version, srcDir); err != nil {
		return buildOutcome{}, fmt.Errorf("fetching source: %w", err)
	}

	// Source upload proceeds independently of documentation build
	// success: start it against the fetched tree now and wait for it
	// on every return path below, so a failed or timed-out build still
	// gets its source uploaded.
	var sourceGroup errgroup.Group
	sourceGroup.Go(func() error {
		if _, err := o.Blobs.StoreAll(ctx, fmt.Sprintf("sources/%s/%s", name, version), srcDir); err != nil {
			log.Warn().Err(err).Msg("uploading crate source tree failed")
		}
		return nil
	})
	defer func() { _ = sourceGroup.Wait() }()

	manifestPath := filepath.Join(srcDir, "Cargo.toml")
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return buildOutcome{}, fmt.Errorf("reading Cargo.toml: %w", err)
	}
	meta, err := metadata.Parse(manifestData)
	if err != nil {
		return buildOutcome{}, fmt.Errorf("parsing build metadata: %w", err)
	}
	info, err := metadata.ParsePackage(manifestData)
	if err != nil {
		return buildOutcome{}, fmt.Errorf("parsing package metadata: %w", err)
	}

	defaultTarget, otherTargets := metadata.BuildTargets(meta, o.HostTarget)
	if len(otherTargets) > limits.MaxTargets {
		otherTargets = otherTargets[:limits.MaxTargets]
	}

	sandboxLimits := limits.Sandbox()
	env := rustdocEnv(meta)
	result, err := o.Sandbox.Run(ctx, fmt.Sprintf("%s-%s", name, version),
		buildCommand(meta, defaultTarget), env, srcDir, sandboxLimits)
	if err != nil {
		return buildOutcome{}, fmt.Errorf("running sandboxed build: %w", err)
	}

	outcome := buildOutcome{
		defaultTgt: defaultTarget,
		docTargets: []string{defaultTarget},
		info:       info,
		log:        result.Log,
		coverage:   coverage.Extract(result.Log),
	}
	if result.TimedOut || result.ExitCode != 0 {
		return outcome, nil
	}
	outcome.successful = true

	docDir := docOutputDir(srcDir, defaultTarget, o.HostTarget)
	if _, err := os.Stat(docDir); err != nil {
		log.Warn().Str("dir", docDir).Msg("default target produced no doc output")
		outcome.successful = false
		return outcome, nil
	}

	// Stage the default target's docs plus every successful extra
	// target's docs (each under its own subdirectory) into one tree, so
	// the upload below carries everything this release built rather
	// than just the default target.
	stageDir := filepath.Join(dir, "stage")
	if err := copyTree(docDir, stageDir); err != nil {
		return outcome, fmt.Errorf("staging default target docs: %w", err)
	}

	for _, target := range otherTargets {
		extraResult, err := o.Sandbox.Run(ctx, fmt.Sprintf("%s-%s-%s", name, version, target),
			buildCommandForTarget(meta, target), env, srcDir, sandboxLimits)
		if err != nil || extraResult.ExitCode != 0 || extraResult.TimedOut {
			log.Warn().Str("target", target).Err(err).Msg("extra target build failed, continuing")
			continue
		}
		extraDocDir := docOutputDir(srcDir, target, o.HostTarget)
		if _, err := os.Stat(extraDocDir); err != nil {
			log.Warn().Str("target", target).Msg("extra target produced no doc output, continuing")
			continue
		}
		if err := copyTree(extraDocDir, filepath.Join(stageDir, target)); err != nil {
			log.Warn().Str("target", target).Err(err).Msg("staging extra target docs failed, continuing")
			continue
		}
		outcome.docTargets = append(outcome.docTargets, target)
	}

	if o.ArchiveStorage {
		outcome.archiveFiles = true
		outcome.compressions = []int{int(compress.Bzip2)}
		archivePath := fmt.Sprintf("rustdoc-archive/%s/%s.zip", name, version)
		if _, err := archive.Pack(ctx, o.Blobs, archivePath, stageDir); err != nil {
			return outcome, fmt.Errorf("packing archive: %w", err)
		}
		return outcome, nil
	}

	res, err := o.Blobs.StoreAll(ctx, fmt.Sprintf("rustdoc/%s/%s", name, version), stageDir)
	if err != nil {
		return outcome, fmt.Errorf("uploading rendered docs: %w", err)
	}
	for alg := range res.Algorithms {
		outcome.compressions = append(outcome.compressions, int(alg))
	}

	return outcome, nil
}

// copyTree recursively copies every regular file under src into dst,
// creating directories as needed and preserving the relative layout.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// buildCommand is the cargo invocation for the default target.
func buildCommand(m metadata.Metadata, defaultTarget string) []string {
	args := []string{"cargo", "doc", "--no-deps"}
	args = append(args, cargoFeatureArgs(m)...)
	if defaultTarget != "" {
		args = append(args, "--target", defaultTarget)
	}
	return args
}

// buildCommandForTarget is the cargo invocation used for every
// additional declared target beyond the default.
func buildCommandForTarget(m metadata.Metadata, target string) []string {
	args := []string{"cargo", "doc", "--no-deps"}
	args = append(args, cargoFeatureArgs(m)...)
	args = append(args, "--target", target)
	return args
}

func cargoFeatureArgs(m metadata.Metadata) []string {
	var args []string
	if m.AllFeatures {
		args = append(args, "--all-features")
	} else if len(m.Features) > 0 {
		for _, f := range m.Features {
			args = append(args, "--features", f)
		}
	}
	if m.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if len(m.RustcArgs) > 0 {
		args = append(args, "--")
		args = append(args, m.RustcArgs...)
	}
	return args
}

// rustdocEnv carries a crate's declared rustdoc-args into the
// sandboxed invocation. cargo doc has no per-invocation flag for
// rustdoc's own arguments, so RUSTDOCFLAGS is the passthrough cargo
// itself documents for this.
func rustdocEnv(m metadata.Metadata) []string {
	if len(m.RustdocArgs) == 0 {
		return nil
	}
	return []string{"RUSTDOCFLAGS=" + strings.Join(m.RustdocArgs, " ")}
}

// docOutputDir resolves where cargo doc wrote its output. Cargo nests
// output under target/<triple>/doc whenever --target differs from the
// host's own triple, and under plain target/doc otherwise.
func docOutputDir(srcDir, target, hostTarget string) string {
	if target == "" || target == hostTarget {
		return filepath.Join(srcDir, "target", "doc")
	}
	return filepath.Join(srcDir, "target", target, "doc")
}
