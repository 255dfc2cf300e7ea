package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// BuildInput is one append-only builds row.
type BuildInput struct {
	Successful       bool
	ToolchainVersion string
	BuilderVersion   string
	Log              []byte
}

// InsertBuild appends a build row for releaseID.
func InsertBuild(ctx context.Context, tx *sql.Tx, releaseID string, b BuildInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO builds (id, release_id, successful, toolchain_version, builder_version, log)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), releaseID, b.Successful, b.ToolchainVersion, b.BuilderVersion, b.Log)
	if err != nil {
		return fmt.Errorf("store: inserting build for release %s: %w", releaseID, err)
	}
	return nil
}

// InsertCoverage records doc-coverage totals for releaseID, replacing
// any prior row (a re-build supersedes its predecessor's coverage).
func InsertCoverage(ctx context.Context, tx *sql.Tx, releaseID string, total, withDocs int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO doc_coverage (release_id, total, with_docs) VALUES ($1, $2, $3)
		ON CONFLICT (release_id) DO UPDATE SET total = EXCLUDED.total, with_docs = EXCLUDED.with_docs
	`, releaseID, total, withDocs)
	if err != nil {
		return fmt.Errorf("store: recording coverage for release %s: %w", releaseID, err)
	}
	return nil
}
