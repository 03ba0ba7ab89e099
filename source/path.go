package source

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/teranos/subman/errors"
)

// cargoPackage is the part of a crate's Cargo.toml path resolution reads.
// version is a string, or a table when inherited from the workspace.
type cargoPackage struct {
	Package *struct {
		Name    string      `toml:"name"`
		Version interface{} `toml:"version"`
	} `toml:"package"`
}

func (r *Resolver) resolvePath(d Descriptor) (ResolvedDependency, error) {
	abs, err := filepath.Abs(d.path)
	if err != nil {
		return ResolvedDependency{}, errors.Wrapf(err, "failed to resolve %s", d.path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ResolvedDependency{}, failuref(NotFound, d, abs, "path does not exist")
		}
		return ResolvedDependency{}, failure(NotFound, d, abs, err)
	}
	if !info.IsDir() {
		return ResolvedDependency{}, failuref(NotFound, d, abs, "not a directory")
	}

	manifestPath := filepath.Join(abs, "Cargo.toml")
	if _, err := os.Stat(manifestPath); err != nil {
		return ResolvedDependency{}, errors.WithHint(
			failuref(NotFound, d, abs, "no Cargo.toml"),
			"point the path at the pallet crate directory")
	}
	var pkg cargoPackage
	if _, err := toml.DecodeFile(manifestPath, &pkg); err != nil {
		return ResolvedDependency{}, failure(NotFound, d, manifestPath, errors.Wrap(err, "unreadable Cargo.toml"))
	}
	if pkg.Package == nil || pkg.Package.Name == "" {
		return ResolvedDependency{}, failuref(NotFound, d, manifestPath, "Cargo.toml has no [package] name (a workspace root?)")
	}

	version, _ := pkg.Package.Version.(string)
	req, err := ParseRequirement(d.constraint)
	if err != nil {
		return ResolvedDependency{}, err
	}
	if !req.Any() {
		if version == "" {
			return ResolvedDependency{}, failuref(NoSatisfyingVersion, d, manifestPath,
				"%s inherits its version from a workspace; cannot check %q", pkg.Package.Name, req.String())
		}
		v, err := semver.NewVersion(version)
		if err != nil {
			return ResolvedDependency{}, failure(NoSatisfyingVersion, d, manifestPath, errors.Wrapf(err, "package version %q", version))
		}
		if !req.Allows(v) {
			return ResolvedDependency{}, failuref(NoSatisfyingVersion, d, manifestPath,
				"%s is at %s, which does not match %q", pkg.Package.Name, version, req.String())
		}
	}

	matched := "[package] " + pkg.Package.Name
	if version != "" {
		matched += " " + version
	}
	return ResolvedDependency{
		desc:    d,
		name:    pkg.Package.Name,
		version: version,
		path:    abs,
		proof: Proof{
			Source:    manifestPath,
			Matched:   matched,
			CheckedAt: r.now(),
		},
	}, nil
}
