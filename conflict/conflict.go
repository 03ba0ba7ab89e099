// Package conflict compares a resolved pallet with what the runtime
// manifest already declares for it.
//
// The check is a point check per pallet. Transitive requirements between
// pallets are left to cargo.
package conflict

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/subman/manifest"
	"github.com/teranos/subman/source"
)

// Kind is the verdict of a check
type Kind int

const (
	// Clean means nothing conflicts: the pallet is new, or the existing
	// entry already satisfies the request
	Clean Kind = iota
	Upgrade
	Downgrade
	// Incompatible means the existing entry names a different source.
	// Applying it needs an explicit override.
	Incompatible
)

func (k Kind) String() string {
	switch k {
	case Clean:
		return "clean"
	case Upgrade:
		return "upgrade"
	case Downgrade:
		return "downgrade"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// Lookup is the read side of the runtime manifest
type Lookup interface {
	Get(name string) (manifest.Entry, bool)
	Dir() string
}

// Outcome describes how a proposed dependency relates to the existing entry
type Outcome struct {
	Kind   Kind
	Pallet string

	// Old and New are versions, commits or paths depending on the source
	Old, New string

	// Existing is the current entry, nil when the pallet is new
	Existing *manifest.Entry

	Reason string
}

// Exists reports whether the manifest already declares the pallet
func (o Outcome) Exists() bool { return o.Existing != nil }

func (o Outcome) String() string {
	switch o.Kind {
	case Upgrade, Downgrade:
		return fmt.Sprintf("%s %s -> %s", o.Kind, o.Old, o.New)
	case Incompatible:
		return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
	default:
		return o.Kind.String()
	}
}

// Check compares proposed with the manifest entry of the same name
func Check(current Lookup, proposed source.ResolvedDependency) Outcome {
	out := Outcome{Pallet: proposed.Name(), New: newValue(proposed)}

	existing, ok := current.Get(proposed.Name())
	if !ok {
		out.Kind = Clean
		return out
	}
	out.Existing = &existing

	if reason := identityMismatch(existing, proposed); reason != "" {
		out.Kind = Incompatible
		out.Old = oldValue(existing, current.Dir())
		out.Reason = reason
		return out
	}

	switch proposed.Kind() {
	case source.KindGit:
		return checkGit(out, existing, proposed)
	case source.KindPath:
		return checkPath(out, existing, proposed, current.Dir())
	default:
		return checkVersion(out, existing, proposed)
	}
}

// identityMismatch explains why existing and proposed are different sources
func identityMismatch(existing manifest.Entry, proposed source.ResolvedDependency) string {
	want := kindOf(proposed.Kind())
	have := existing.Kind()
	if have == manifest.SourceWorkspace {
		return "the entry inherits its source from the workspace"
	}
	if have != want {
		return fmt.Sprintf("the entry comes from %s, the request from %s", have, want)
	}
	if existing.Package != "" && existing.Package != proposed.Name() {
		return fmt.Sprintf("the entry renames crate %q", existing.Package)
	}

	d := proposed.Descriptor()
	switch want {
	case manifest.SourceCustomRegistry:
		if existing.Registry != d.Registry() {
			return fmt.Sprintf("the entry uses registry %q, the request %q", existing.Registry, d.Registry())
		}
	case manifest.SourceGit:
		if normalizeRemote(existing.Git) != normalizeRemote(d.URL()) {
			return fmt.Sprintf("the entry tracks %s, the request %s", existing.Git, d.URL())
		}
	}
	return ""
}

func checkVersion(out Outcome, existing manifest.Entry, proposed source.ResolvedDependency) Outcome {
	out.Old = existing.Version
	req, err := source.ParseRequirement(proposed.Descriptor().Constraint())
	if err != nil {
		// descriptors are validated at construction
		req = source.Requirement{}
	}

	current, err := source.ParseRequirement(existing.Version)
	if err != nil {
		out.Kind = Upgrade
		out.Reason = fmt.Sprintf("existing requirement %q is not valid", existing.Version)
		return out
	}
	base, ok := current.Base()
	if !ok {
		out.Kind = Upgrade
		out.Reason = "existing entry does not pin a version"
		return out
	}
	if req.Allows(base) {
		out.Kind = Clean
		return out
	}

	resolved, err := semver.NewVersion(proposed.Version())
	if err != nil || resolved.Equal(base) {
		out.Kind = Clean
		return out
	}
	if resolved.GreaterThan(base) {
		out.Kind = Upgrade
	} else {
		out.Kind = Downgrade
	}
	return out
}

func checkGit(out Outcome, existing manifest.Entry, proposed source.ResolvedDependency) Outcome {
	switch {
	case existing.Rev != "":
		out.Old = existing.Rev
		if strings.HasPrefix(proposed.Commit(), strings.ToLower(existing.Rev)) {
			out.Kind = Clean
			return out
		}
	case existing.Branch != "":
		out.Old = existing.Branch
	case existing.Tag != "":
		out.Old = existing.Tag
	default:
		out.Old = "HEAD"
	}
	out.Kind = Upgrade
	out.Reason = "pins a different revision"
	return out
}

func checkPath(out Outcome, existing manifest.Entry, proposed source.ResolvedDependency, dir string) Outcome {
	out.Old = oldValue(existing, dir)
	if filepath.Clean(out.Old) == filepath.Clean(proposed.Path()) {
		out.Kind = Clean
		return out
	}
	out.Kind = Upgrade
	out.Reason = "points at a different directory"
	return out
}

func newValue(r source.ResolvedDependency) string {
	if r.Kind() == source.KindPath {
		return r.Path()
	}
	return r.Version()
}

func oldValue(e manifest.Entry, dir string) string {
	switch e.Kind() {
	case manifest.SourcePath:
		if filepath.IsAbs(e.Path) {
			return e.Path
		}
		return filepath.Join(dir, e.Path)
	case manifest.SourceGit:
		if e.Rev != "" {
			return e.Rev
		}
		return e.Git
	default:
		return e.Version
	}
}

func kindOf(k source.Kind) manifest.SourceKind {
	switch k {
	case source.KindGit:
		return manifest.SourceGit
	case source.KindPath:
		return manifest.SourcePath
	case source.KindCustomRegistry:
		return manifest.SourceCustomRegistry
	default:
		return manifest.SourceRegistry
	}
}

// normalizeRemote folds spellings of the same remote: case of the host,
// a trailing slash and the .git suffix
func normalizeRemote(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, ".git")
	if i := strings.Index(url, "://"); i >= 0 {
		rest := url[i+3:]
		host, path, _ := strings.Cut(rest, "/")
		url = strings.ToLower(url[:i+3]+host) + "/" + path
	}
	return url
}
