package source

import (
	"path/filepath"
	"strings"

	"github.com/teranos/subman/errors"
)

// Kind identifies where a pallet comes from
type Kind int

const (
	KindRegistry Kind = iota
	KindGit
	KindPath
	KindCustomRegistry
)

func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindGit:
		return "git"
	case KindPath:
		return "path"
	case KindCustomRegistry:
		return "custom-registry"
	default:
		return "unknown"
	}
}

// Descriptor says where a pallet should come from. It is immutable:
// fields are set by the New*Descriptor constructors and read through accessors.
type Descriptor struct {
	kind       Kind
	crate      string
	url        string // git remote
	path       string // local crate directory
	registry   string // custom registry name
	constraint string
	ref        string
	features   []string
}

// NewRegistryDescriptor describes crate from the default registry.
// An empty constraint accepts any released version.
func NewRegistryDescriptor(crate, constraint string, features ...string) (Descriptor, error) {
	if err := validateCrateName(crate); err != nil {
		return Descriptor{}, err
	}
	if _, err := ParseRequirement(constraint); err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		kind:       KindRegistry,
		crate:      crate,
		constraint: strings.TrimSpace(constraint),
		features:   dedupe(features),
	}, nil
}

// NewCustomRegistryDescriptor describes crate from a configured custom registry
func NewCustomRegistryDescriptor(registry, crate, constraint string, features ...string) (Descriptor, error) {
	if strings.TrimSpace(registry) == "" {
		return Descriptor{}, errors.NewInvalidRequestError("custom registry name is empty")
	}
	d, err := NewRegistryDescriptor(crate, constraint, features...)
	if err != nil {
		return Descriptor{}, err
	}
	d.kind = KindCustomRegistry
	d.registry = registry
	return d, nil
}

// NewGitDescriptor describes crate from a git remote. ref is a branch, tag
// or commit hash; empty means the remote's HEAD.
func NewGitDescriptor(crate, url, ref string, features ...string) (Descriptor, error) {
	if err := validateCrateName(crate); err != nil {
		return Descriptor{}, err
	}
	if strings.TrimSpace(url) == "" {
		return Descriptor{}, errors.NewInvalidRequestError("git URL for %s is empty", crate)
	}
	return Descriptor{
		kind:     KindGit,
		crate:    crate,
		url:      strings.TrimSpace(url),
		ref:      strings.TrimSpace(ref),
		features: dedupe(features),
	}, nil
}

// NewPathDescriptor describes a crate in a local directory. The crate name
// is read from its Cargo.toml during resolution.
func NewPathDescriptor(path, constraint string, features ...string) (Descriptor, error) {
	if strings.TrimSpace(path) == "" {
		return Descriptor{}, errors.NewInvalidRequestError("crate path is empty")
	}
	if _, err := ParseRequirement(constraint); err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		kind:       KindPath,
		path:       filepath.Clean(path),
		constraint: strings.TrimSpace(constraint),
		features:   dedupe(features),
	}, nil
}

func (d Descriptor) Kind() Kind { return d.kind }

// Name is the crate name; for path descriptors it is provisional (the
// directory name) until resolution reads the crate's manifest.
func (d Descriptor) Name() string {
	if d.crate == "" && d.kind == KindPath {
		return filepath.Base(d.path)
	}
	return d.crate
}

// Identifier is the crate name, git URL, path or "registry/crate"
func (d Descriptor) Identifier() string {
	switch d.kind {
	case KindGit:
		return d.url
	case KindPath:
		return d.path
	case KindCustomRegistry:
		return d.registry + "/" + d.crate
	default:
		return d.crate
	}
}

func (d Descriptor) URL() string        { return d.url }
func (d Descriptor) Path() string       { return d.path }
func (d Descriptor) Registry() string   { return d.registry }
func (d Descriptor) Constraint() string { return d.constraint }
func (d Descriptor) GitRef() string     { return d.ref }

// Features returns a copy of the requested feature set, in request order
func (d Descriptor) Features() []string {
	if len(d.features) == 0 {
		return nil
	}
	return append([]string(nil), d.features...)
}

func (d Descriptor) String() string {
	s := d.kind.String() + ":" + d.Identifier()
	switch {
	case d.ref != "":
		s += "#" + d.ref
	case d.constraint != "":
		s += "@" + d.constraint
	}
	return s
}

func validateCrateName(name string) error {
	if name == "" {
		return errors.NewInvalidRequestError("crate name is empty")
	}
	if len(name) > 64 {
		return errors.NewInvalidRequestError("crate name %q is longer than 64 characters", name)
	}
	for i, c := range name {
		ok := c == '-' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
		if !ok {
			return errors.NewInvalidRequestError("crate name %q contains %q", name, c)
		}
		if i == 0 && (c >= '0' && c <= '9' || c == '-') {
			return errors.NewInvalidRequestError("crate name %q must start with a letter or underscore", name)
		}
	}
	return nil
}

func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
