package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"docsbuild.dev/docsbuild/pkg/metadata"
)

// ReleaseInput is everything one build contributes toward a release
// row, independent of whether this is the first build of (name,
// version) or a re-build.
type ReleaseInput struct {
	CrateName      string
	Version        string
	Description    string
	Dependencies   []metadata.Dependency
	Features       []string
	License        string
	Homepage       string
	Repository     string
	DefaultTarget  string
	DocTargets     []string
	ArchiveStorage bool
	Files          []string
	BuildStatus    bool
	Yanked         bool
	ReleaseTime    time.Time
	Downloads      int64
	Keywords       []string
	Compressions   []int
}

// EnsureCrate returns crate_id for name, creating the row on first
// sight. Crates are never deleted by the build path.
func EnsureCrate(ctx context.Context, tx *sql.Tx, name string) (string, error) {
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO crates (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, id, name)
	if err != nil {
		return "", fmt.Errorf("store: ensuring crate %s: %w", name, err)
	}
	var crateID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM crates WHERE name = $1`, name).Scan(&crateID); err != nil {
		return "", fmt.Errorf("store: fetching crate id for %s: %w", name, err)
	}
	return crateID, nil
}

// upsertReleaseSQL is the single canonical releases upsert. The
// original defines two incompatible variants for this statement (one
// with a mismatched placeholder count); this is the one verified
// against migrations/0001_init.up.sql — see the Open Question note in
// DESIGN.md.
const upsertReleaseSQL = `
INSERT INTO releases (
	id, crate_id, version, description, dependencies, features,
	license, homepage, repository, default_target, doc_targets,
	archive_storage, files, build_status, yanked, release_time,
	downloads, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11,
	$12, $13, $14, $15, $16,
	$17, now()
)
ON CONFLICT (crate_id, version) DO UPDATE SET
	description     = EXCLUDED.description,
	dependencies    = EXCLUDED.dependencies,
	features        = EXCLUDED.features,
	license         = EXCLUDED.license,
	homepage        = EXCLUDED.homepage,
	repository      = EXCLUDED.repository,
	default_target  = EXCLUDED.default_target,
	doc_targets     = EXCLUDED.doc_targets,
	archive_storage = EXCLUDED.archive_storage,
	files           = EXCLUDED.files,
	build_status    = EXCLUDED.build_status,
	yanked          = EXCLUDED.yanked,
	release_time    = EXCLUDED.release_time,
	downloads       = EXCLUDED.downloads,
	updated_at      = now()
RETURNING id
`

// UpsertRelease inserts or updates the (crate_id, version) release
// row, returning its id. Re-building the same release is idempotent
// with respect to this row: a second call with the same input leaves
// an equivalent row in place rather than creating a duplicate.
func UpsertRelease(ctx context.Context, tx *sql.Tx, crateID string, in ReleaseInput) (string, error) {
	deps, err := json.Marshal(in.Dependencies)
	if err != nil {
		return "", fmt.Errorf("store: marshaling dependencies: %w", err)
	}
	features, err := json.Marshal(in.Features)
	if err != nil {
		return "", fmt.Errorf("store: marshaling features: %w", err)
	}
	files, err := json.Marshal(in.Files)
	if err != nil {
		return "", fmt.Errorf("store: marshaling file listing: %w", err)
	}
	var releaseTime *time.Time
	if !in.ReleaseTime.IsZero() {
		releaseTime = &in.ReleaseTime
	}

	var releaseID string
	err = tx.QueryRowContext(ctx, upsertReleaseSQL,
		uuid.NewString(), crateID, in.Version, in.Description, deps, features,
		in.License, in.Homepage, in.Repository, in.DefaultTarget, pq.Array(in.DocTargets),
		in.ArchiveStorage, files, in.BuildStatus, in.Yanked, releaseTime,
		in.Downloads,
	).Scan(&releaseID)
	if err != nil {
		return "", fmt.Errorf("store: upserting release %s@%s: %w", in.CrateName, in.Version, err)
	}
	return releaseID, nil
}

// ReplaceKeywords deletes and re-inserts releaseID's keyword relations
// from scratch, creating any keyword rows that don't exist yet.
func ReplaceKeywords(ctx context.Context, tx *sql.Tx, releaseID string, keywords []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM release_keywords WHERE release_id = $1`, releaseID); err != nil {
		return fmt.Errorf("store: clearing keywords for release %s: %w", releaseID, err)
	}
	for _, kw := range keywords {
		var keywordID string
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO keywords (id, keyword) VALUES ($1, $2) ON CONFLICT (keyword) DO NOTHING
		`, id, kw); err != nil {
			return fmt.Errorf("store: ensuring keyword %s: %w", kw, err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM keywords WHERE keyword = $1`, kw).Scan(&keywordID); err != nil {
			return fmt.Errorf("store: fetching keyword id for %s: %w", kw, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO release_keywords (release_id, keyword_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, releaseID, keywordID); err != nil {
			return fmt.Errorf("store: linking keyword %s to release %s: %w", kw, releaseID, err)
		}
	}
	return nil
}

// ReplaceCompressions deletes and re-inserts the set of compression
// algorithms used to store releaseID's artifacts.
func ReplaceCompressions(ctx context.Context, tx *sql.Tx, releaseID string, algorithms []int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM release_compressions WHERE release_id = $1`, releaseID); err != nil {
		return fmt.Errorf("store: clearing compressions for release %s: %w", releaseID, err)
	}
	seen := make(map[int]bool, len(algorithms))
	for _, alg := range algorithms {
		if seen[alg] {
			continue
		}
		seen[alg] = true
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO release_compressions (release_id, algorithm) VALUES ($1, $2)
		`, releaseID, alg); err != nil {
			return fmt.Errorf("store: recording compression %d for release %s: %w", alg, releaseID, err)
		}
	}
	return nil
}

// SetLatestVersion points crateID at releaseID as its latest-release
// pointer.
func SetLatestVersion(ctx context.Context, tx *sql.Tx, crateID, releaseID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE crates SET latest_version_id = $2 WHERE id = $1`, crateID, releaseID)
	if err != nil {
		return fmt.Errorf("store: updating latest version for crate %s: %w", crateID, err)
	}
	return nil
}
