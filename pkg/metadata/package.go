package metadata

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Dependency is one entry in a release's dependency list, normalized
// from Cargo's two [dependencies] value shapes (a bare version string
// or an inline table).
type Dependency struct {
	Name       string `json:"name"`
	VersionReq string `json:"version_req"`
	Kind       string `json:"kind"`
}

// PackageInfo is the subset of a crate manifest's [package] table the
// orchestrator persists on the release row, independent of the
// [package.metadata.docs.rs] build configuration Parse extracts.
type PackageInfo struct {
	Description  string
	License      string
	Homepage     string
	Repository   string
	Keywords     []string
	Dependencies []Dependency
}

// Identity is a crate's (name, version) pair as declared in its own
// manifest, used by the `build-local` CLI path where neither value is
// supplied on the command line.
type Identity struct {
	Name    string
	Version string
}

// ParsePackageIdentity reads just [package].name and [package].version
// out of raw Cargo.toml bytes.
func ParsePackageIdentity(data []byte) (Identity, error) {
	var m struct {
		Package struct {
			Name    string `toml:"name"`
			Version string `toml:"version"`
		} `toml:"package"`
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		return Identity{}, fmt.Errorf("metadata: parsing package identity: %w", err)
	}
	if m.Package.Name == "" || m.Package.Version == "" {
		return Identity{}, fmt.Errorf("metadata: manifest is missing [package].name or [package].version")
	}
	return Identity{Name: m.Package.Name, Version: m.Package.Version}, nil
}

// rawManifest captures [dependencies] generically since Cargo allows
// either a bare version string ("1.0") or an inline table
// ({version = "1.0", features = [...], optional = true}) as a value.
type rawManifest struct {
	Package struct {
		Description string   `toml:"description"`
		License     string   `toml:"license"`
		Homepage    string   `toml:"homepage"`
		Repository  string   `toml:"repository"`
		Keywords    []string `toml:"keywords"`
	} `toml:"package"`
	Dependencies map[string]interface{} `toml:"dependencies"`
}

// ParsePackage reads the [package] table and [dependencies] out of a
// crate's Cargo.toml, normalizing Cargo's two dependency-value shapes
// (bare version string or inline table) into one explicit schema.
func ParsePackage(data []byte) (PackageInfo, error) {
	var m rawManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return PackageInfo{}, fmt.Errorf("metadata: parsing package table: %w", err)
	}

	info := PackageInfo{
		Description: m.Package.Description,
		License:     m.Package.License,
		Homepage:    m.Package.Homepage,
		Repository:  m.Package.Repository,
		Keywords:    m.Package.Keywords,
	}
	for name, raw := range m.Dependencies {
		dep := Dependency{Name: name, Kind: "normal"}
		switch v := raw.(type) {
		case string:
			dep.VersionReq = v
		case map[string]interface{}:
			if ver, ok := v["version"].(string); ok {
				dep.VersionReq = ver
			}
		}
		info.Dependencies = append(info.Dependencies, dep)
	}
	return info, nil
}
