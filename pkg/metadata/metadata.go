// Package metadata parses the per-crate build configuration a crate
// declares in its own manifest, under [package.metadata.docs.rs].
package metadata

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Metadata is the docs.rs-equivalent metadata table a crate manifest
// may declare. Every field is optional; the zero value means "not
// declared" and callers fall back to documented defaults.
type Metadata struct {
	Features         []string `toml:"features"`
	AllFeatures      bool     `toml:"all-features"`
	NoDefaultFeatures bool    `toml:"no-default-features"`
	DefaultTarget    string   `toml:"default-target"`
	Targets          []string `toml:"targets"`
	RustcArgs        []string `toml:"rustc-args"`
	RustdocArgs      []string `toml:"rustdoc-args"`
}

// manifest mirrors just enough of Cargo.toml's shape to reach
// [package.metadata.docs.rs]. TOML parses dotted table headers as
// nested tables, so "docs.rs" is two levels (docs → rs), not a
// literal key named "docs.rs".
type manifest struct {
	Package struct {
		Metadata struct {
			Docs struct {
				RS Metadata `toml:"rs"`
			} `toml:"docs"`
		} `toml:"metadata"`
	} `toml:"package"`
}

// Parse reads the [package.metadata.docs.rs] table out of the raw
// bytes of a crate's Cargo.toml. A manifest with no such table parses
// successfully to a zero-value Metadata.
func Parse(data []byte) (Metadata, error) {
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("metadata: parsing manifest: %w", err)
	}
	return m.Package.Metadata.Docs.RS, nil
}

// BuildTargets computes (default_target, other_targets) per the
// spec's ordering rule: the default target is always first, listed
// targets are deduplicated, and the host target is used when nothing
// was declared.
func BuildTargets(m Metadata, hostTarget string) (defaultTarget string, otherTargets []string) {
	defaultTarget = m.DefaultTarget
	if defaultTarget == "" && len(m.Targets) > 0 {
		defaultTarget = m.Targets[0]
	}
	if defaultTarget == "" {
		defaultTarget = hostTarget
	}

	seen := map[string]bool{defaultTarget: true}
	for _, t := range m.Targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		otherTargets = append(otherTargets, t)
	}
	return defaultTarget, otherTargets
}
