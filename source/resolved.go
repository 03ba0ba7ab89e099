package source

import "time"

// Proof records where a dependency's existence was confirmed
type Proof struct {
	Source    string    // index URL, git remote or Cargo.toml path
	Matched   string    // index record, advertised ref or [package] version
	CheckedAt time.Time
}

// ResolvedDependency is a Descriptor pinned to a concrete version or commit.
// Only a Resolver produces one.
type ResolvedDependency struct {
	desc    Descriptor
	name    string
	version string
	path    string
	proof   Proof
}

func (r ResolvedDependency) Descriptor() Descriptor { return r.desc }
func (r ResolvedDependency) Kind() Kind             { return r.desc.kind }
func (r ResolvedDependency) Proof() Proof           { return r.proof }

// Name is the crate name as published (or as declared in a local Cargo.toml)
func (r ResolvedDependency) Name() string { return r.name }

// Version is the selected semantic version, or the pinned commit hash for git
func (r ResolvedDependency) Version() string { return r.version }

// Path is the absolute crate directory of a path dependency
func (r ResolvedDependency) Path() string { return r.path }

// Commit returns the pinned hash of a git dependency
func (r ResolvedDependency) Commit() string {
	if r.desc.kind != KindGit {
		return ""
	}
	return r.version
}

func (r ResolvedDependency) String() string {
	if r.desc.kind == KindPath {
		return r.name + " (" + r.path + ")"
	}
	return r.name + " " + r.version
}
