package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"docsbuild.dev/docsbuild/internal/logging"
	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/blobstore/dbstore"
	"docsbuild.dev/docsbuild/pkg/blobstore/s3store"
	"docsbuild.dev/docsbuild/pkg/config"
	"docsbuild.dev/docsbuild/pkg/orchestrator"
	"docsbuild.dev/docsbuild/pkg/queue"
	"docsbuild.dev/docsbuild/pkg/registry"
	"docsbuild.dev/docsbuild/pkg/sandbox"
	"docsbuild.dev/docsbuild/pkg/store"
	"docsbuild.dev/docsbuild/pkg/toolchain"
)

// app bundles the long-lived dependencies every subcommand but
// `database migrate` needs: a database pool, the blob store, and a
// structured logger.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	db    *sql.DB
	blobs *blobstore.Storage
	store *store.Store
	queue *queue.Queue
}

func newApp() (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, &configError{err}
	}
	log := logging.New(cfg.LogLevel, isTTY(os.Stdout), os.Stdout)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, &configError{fmt.Errorf("opening database: %w", err)}
	}
	db.SetMaxOpenConns(cfg.MaxPoolSize)
	db.SetMaxIdleConns(cfg.MinPoolIdle)
	db.SetConnMaxLifetime(cfg.PoolTimeouts())

	backend, err := newBlobBackend(cfg, db)
	if err != nil {
		return nil, &configError{err}
	}

	return &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		blobs: blobstore.New(backend),
		store: store.New(db),
		queue: queue.New(db),
	}, nil
}

func newBlobBackend(cfg *config.Config, db *sql.DB) (blobstore.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		return s3store.New(s3store.Config{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case config.BackendDatabase:
		return dbstore.New(db), nil
	default:
		return nil, blobstore.ErrInvalidBackend
	}
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// hostTarget is this builder's own compile target, used as the
// fallback default when a crate declares none.
const hostTarget = "x86_64-unknown-linux-gnu"

// defaultTargets is the rustup target set every builder keeps
// installed, covering the cross-compile targets docs.rs has
// historically supported.
var defaultTargets = []string{
	"x86_64-unknown-linux-gnu",
	"x86_64-apple-darwin",
	"x86_64-pc-windows-msvc",
	"aarch64-unknown-linux-gnu",
	"aarch64-apple-darwin",
}

// newOrchestrator wires every dependency BuildRelease needs, given a
// source fetcher (registry-backed for daemon/build, local for
// build-local).
func (a *app) newOrchestrator(ctx context.Context, source orchestrator.SourceFetcher) (*orchestrator.Orchestrator, error) {
	sb, err := sandbox.New(os.Getenv("CONTAINERD_SOCKET"), "docsbuild", os.Getenv("SANDBOX_IMAGE"))
	if err != nil {
		return nil, fmt.Errorf("connecting to sandbox runtime: %w", err)
	}

	tc := toolchain.New("rustup", a.cfg.Toolchain, a.store, a.log)

	workDir, err := os.MkdirTemp(a.cfg.Prefix, "docsbuild-work-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	return &orchestrator.Orchestrator{
		Store:          a.store,
		Queue:          a.queue,
		Blobs:          a.blobs,
		Toolchain:      tc,
		Sandbox:        sb,
		Registry:       a.registryClient(),
		Source:         source,
		Log:            logging.WithComponent(a.log, "orchestrator"),
		HostTarget:     hostTarget,
		DefaultTargets: defaultTargets,
		BuilderVersion: builderVersion,
		WorkDir:        workDir,
		ArchiveStorage: os.Getenv("RUSTDOC_STATIC_STORAGE") == "archive",
	}, nil
}

// builderVersion is stamped at build time via -ldflags; it defaults
// to "dev" for local builds.
var builderVersion = "dev"

// registryClient builds the registry API client every subcommand that
// talks to the registry shares.
func (a *app) registryClient() *registry.Client {
	return registry.NewClient(a.cfg.RegistryAPIURL, a.log)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
