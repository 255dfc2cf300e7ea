// Package store is the relational persistence layer: schema
// migrations, crate/release/build bookkeeping, the build-limits and
// blacklist lookups the orchestrator consults before building, and the
// single transactional writer that records a build's outcome.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Store wraps the shared connection pool with the queries every other
// component needs, beyond the Queue and registry-owner-sync tables
// which own their own thin wrappers (pkg/queue, pkg/registry).
type Store struct {
	db *sql.DB
}

// New wraps db. Callers configure the pool themselves (pkg/config's
// PoolTimeouts, MaxPoolSize/MinPoolIdle) before passing it in.
func New(db *sql.DB) *Store { return &Store{db: db} }

// ConfigGet reads one key from the config table.
func (s *Store) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: config get %s: %w", key, err)
	}
	return value, true, nil
}

// ConfigSet upserts one key in the config table. Together with
// ConfigGet this satisfies toolchain.ConfigStore.
func (s *Store) ConfigSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: config set %s: %w", key, err)
	}
	return nil
}

// Get is the toolchain.ConfigStore-shaped alias for ConfigGet.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) { return s.ConfigGet(ctx, key) }

// Set is the toolchain.ConfigStore-shaped alias for ConfigSet.
func (s *Store) Set(ctx context.Context, key, value string) error { return s.ConfigSet(ctx, key, value) }

// IsBlacklisted reports whether name must never be built.
func (s *Store) IsBlacklisted(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist WHERE crate_name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: checking blacklist for %s: %w", name, err)
	}
	return exists, nil
}

// HasSuccessfulBuild reports whether (name, version) already has a
// build row with successful = true, for the skip_build_if_exists
// pre-check.
func (s *Store) HasSuccessfulBuild(ctx context.Context, name, version string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM builds b
			JOIN releases r ON r.id = b.release_id
			JOIN crates c ON c.id = r.crate_id
			WHERE c.name = $1 AND r.version = $2 AND b.successful = true
		)
	`, name, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: checking existing build for %s@%s: %w", name, version, err)
	}
	return exists, nil
}
