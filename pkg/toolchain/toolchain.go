// Package toolchain manages the single pinned documentation toolchain
// installation shared by every build on a builder process: target
// install/removal, version re-detection after update, and the
// essential-files bootstrap that harvests shared static assets.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ConfigStore is the minimal key/value persistence the toolchain
// manager needs (the essential-files fingerprint, the last-bootstrapped
// short-hash) without importing the store package directly.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Manager drives the `rustup`-equivalent installer/updater named by
// Command for one pinned toolchain.
type Manager struct {
	Command string // e.g. "rustup"
	Channel string // the pinned toolchain name, e.g. "nightly-2024-01-01"
	log     zerolog.Logger
	store   ConfigStore

	run func(ctx context.Context, args ...string) (stdout string, err error)
}

// New builds a Manager that drives `command` (normally "rustup") for
// the pinned channel, persisting bootstrap state via store.
func New(command, channel string, store ConfigStore, log zerolog.Logger) *Manager {
	m := &Manager{Command: command, Channel: channel, log: log, store: store}
	m.run = m.exec
	return m
}

func (m *Manager) exec(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.Command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("toolchain: %s %s: %w: %s", m.Command, strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// installedTargets lists targets rustup reports as installed for the
// pinned channel.
func (m *Manager) installedTargets(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "target", "list", "--toolchain", m.Channel, "--installed")
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			targets = append(targets, line)
		}
	}
	return targets, nil
}

// Version returns the toolchain's self-reported version string, used
// to detect whether Update actually changed anything.
func (m *Manager) Version(ctx context.Context) (string, error) {
	out, err := m.run(ctx, "run", m.Channel, "rustc", "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Update brings the toolchain and its installed target set in line
// with wantTargets, and reports whether the toolchain's own version
// changed as a result. Targets installed but no longer wanted are
// removed before updating: some updaters refuse to proceed when an
// update would otherwise leave a requested component missing.
func (m *Manager) Update(ctx context.Context, wantTargets []string) (changed bool, err error) {
	before, err := m.Version(ctx)
	if err != nil {
		return false, fmt.Errorf("toolchain: detecting version before update: %w", err)
	}

	installed, err := m.installedTargets(ctx)
	if err != nil {
		return false, fmt.Errorf("toolchain: listing installed targets: %w", err)
	}
	want := make(map[string]bool, len(wantTargets))
	for _, t := range wantTargets {
		want[t] = true
	}
	for _, t := range installed {
		if !want[t] {
			if _, err := m.run(ctx, "target", "remove", "--toolchain", m.Channel, t); err != nil {
				return false, fmt.Errorf("toolchain: removing stale target %s: %w", t, err)
			}
		}
	}

	if _, err := m.run(ctx, "update", m.Channel); err != nil {
		return false, fmt.Errorf("toolchain: updating: %w", err)
	}

	for _, t := range wantTargets {
		if _, err := m.run(ctx, "target", "add", "--toolchain", m.Channel, t); err != nil {
			return false, fmt.Errorf("toolchain: adding target %s: %w", t, err)
		}
	}

	after, err := m.Version(ctx)
	if err != nil {
		return false, fmt.Errorf("toolchain: detecting version after update: %w", err)
	}
	return before != after, nil
}
