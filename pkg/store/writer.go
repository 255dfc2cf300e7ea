package store

import (
	"context"
	"fmt"

	"docsbuild.dev/docsbuild/pkg/coverage"
)

// RecordInput bundles everything step (8) of one build's orchestration
// writes in a single transaction.
type RecordInput struct {
	ReleaseInput
	Build    BuildInput
	Coverage coverage.Totals
}

// RecordBuild performs the single-transaction write that closes out
// one build: upsert the release row, replace its keyword and
// compression relations, append a builds row, and (when coverage was
// collected) a doc_coverage row. On a successful build it also repoints
// the crate's latest-version pointer. The queue entry is completed
// separately by the caller, since its row lock is held by its own
// transaction from queue.Next — see DESIGN.md.
func (s *Store) RecordBuild(ctx context.Context, in RecordInput) (releaseID string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: record build: beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	crateID, err := EnsureCrate(ctx, tx, in.CrateName)
	if err != nil {
		return "", err
	}

	releaseID, err = UpsertRelease(ctx, tx, crateID, in.ReleaseInput)
	if err != nil {
		return "", err
	}

	if err = ReplaceKeywords(ctx, tx, releaseID, in.Keywords); err != nil {
		return "", err
	}
	if err = ReplaceCompressions(ctx, tx, releaseID, in.Compressions); err != nil {
		return "", err
	}
	if err = InsertBuild(ctx, tx, releaseID, in.Build); err != nil {
		return "", err
	}
	if !in.Coverage.Empty() {
		if err = InsertCoverage(ctx, tx, releaseID, in.Coverage.Total, in.Coverage.WithDocs); err != nil {
			return "", err
		}
	}
	if in.Build.Successful {
		if err = SetLatestVersion(ctx, tx, crateID, releaseID); err != nil {
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("store: record build: committing: %w", err)
	}
	return releaseID, nil
}
