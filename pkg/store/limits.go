package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"docsbuild.dev/docsbuild/pkg/sandbox"
)

// BuildLimits bounds one crate's build, resolved either from a
// per-crate build_limits row or DefaultBuildLimits.
type BuildLimits struct {
	MemoryMB       int64
	CPULimit       float64
	TimeoutSeconds int
	MaxTargets     int
	MaxLogSize     int64
	MaxUploadSize  int64
	NetworkingEnabled bool
}

// DefaultBuildLimits applies when a crate has no build_limits override
// row. Networking is off by default, per the sandbox policy: crates
// that need it must be explicitly whitelisted.
var DefaultBuildLimits = BuildLimits{
	MemoryMB:          4096,
	CPULimit:          2.0,
	TimeoutSeconds:    900,
	MaxTargets:        10,
	MaxLogSize:        10 << 20,
	MaxUploadSize:     2 << 30,
	NetworkingEnabled: false,
}

// Sandbox adapts l into the limits the sandbox driver understands.
func (l BuildLimits) Sandbox() sandbox.Limits {
	return sandbox.Limits{
		MemoryMB:       l.MemoryMB,
		CPULimit:       l.CPULimit,
		Timeout:        time.Duration(l.TimeoutSeconds) * time.Second,
		NetworkEnabled: l.NetworkingEnabled,
		MaxLogSize:     l.MaxLogSize,
	}
}

// LoadBuildLimits loads the per-crate override for name, falling back
// to DefaultBuildLimits if none exists.
func (s *Store) LoadBuildLimits(ctx context.Context, name string) (BuildLimits, error) {
	var l BuildLimits
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_mb, cpu_limit, timeout_seconds, max_targets, max_log_size, max_upload_size, networking_enabled
		FROM build_limits WHERE crate_name = $1
	`, name).Scan(&l.MemoryMB, &l.CPULimit, &l.TimeoutSeconds, &l.MaxTargets, &l.MaxLogSize, &l.MaxUploadSize, &l.NetworkingEnabled)
	if err == sql.ErrNoRows {
		return DefaultBuildLimits, nil
	}
	if err != nil {
		return BuildLimits{}, fmt.Errorf("store: loading build limits for %s: %w", name, err)
	}
	return l, nil
}
