package commands

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"

	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/source"
)

// sourceFlags are the flags shared by add and plan
type sourceFlags struct {
	source     string
	constraint string
	ref        string
	registry   string
	features   []string
}

// location is a classified --source value
type location struct {
	kind source.Kind
	url  string // git remote
	path string // local crate directory
	ref  string // from a ?ref= query
}

// classifySource interprets --source with go-getter's detectors:
//
//	(empty)                                   crates.io
//	./pallets/kitties, /abs/path, ~/p         local path
//	github.com/paritytech/polkadot-sdk        git (shorthand)
//	git::https://host/repo.git?ref=v1.0.0     git with a ref
//	git@github.com:org/repo.git               git over ssh
func classifySource(raw, pwd string) (location, error) {
	if raw == "" {
		return location{kind: source.KindRegistry}, nil
	}
	if strings.HasPrefix(raw, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return location{}, errors.Wrap(err, "failed to expand home directory")
		}
		raw = filepath.Join(home, raw[2:])
	}

	detected, err := getter.Detect(raw, pwd, getter.Detectors)
	if err != nil {
		return location{}, errors.Mark(errors.Wrapf(err, "unrecognised source %q", raw), errors.ErrInvalidRequest)
	}

	forced := ""
	if i := strings.Index(detected, "::"); i > 0 && !strings.Contains(detected[:i], "/") {
		forced, detected = detected[:i], detected[i+2:]
	}

	u, err := url.Parse(detected)
	if err != nil {
		return location{}, errors.Mark(errors.Wrapf(err, "unrecognised source %q", raw), errors.ErrInvalidRequest)
	}

	switch {
	case forced != "" && forced != "git":
		return location{}, errors.NewInvalidRequestError("source %q uses the %s getter; only git is supported", raw, forced)

	case u.Scheme == "file" || u.Scheme == "":
		p := u.Path
		if p == "" {
			p = raw
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(pwd, p)
		}
		return location{kind: source.KindPath, path: filepath.Clean(p)}, nil

	case forced == "git" || u.Scheme == "https" || u.Scheme == "http" || u.Scheme == "ssh" || u.Scheme == "git":
		q := u.Query()
		ref := q.Get("ref")
		q.Del("ref")
		q.Del("depth")
		u.RawQuery = q.Encode()
		// a //subdir suffix selects a directory, irrelevant to cargo which finds crates by name
		u.Path, _, _ = strings.Cut(u.Path, "//")
		return location{kind: source.KindGit, url: u.String(), ref: ref}, nil

	default:
		return location{}, errors.WithHint(
			errors.NewInvalidRequestError("source %q is neither a git remote nor a local path", raw),
			"pallets come from a cargo registry, a git repository or a local directory")
	}
}

// descriptors builds one descriptor per crate named on the command line
func (f sourceFlags) descriptors(crates []string) ([]source.Descriptor, error) {
	if f.registry != "" && f.source != "" {
		return nil, errors.NewInvalidRequestError("--registry and --source are mutually exclusive")
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	loc, err := classifySource(f.source, pwd)
	if err != nil {
		return nil, err
	}

	ref := f.ref
	if ref == "" {
		ref = loc.ref
	}
	if ref != "" && loc.kind != source.KindGit {
		return nil, errors.NewInvalidRequestError("--ref only applies to git sources")
	}

	if loc.kind == source.KindPath {
		if len(crates) > 0 {
			return nil, errors.WithHint(
				errors.NewInvalidRequestError("a path source names its crate itself"),
				"drop the crate arguments; the name is read from Cargo.toml")
		}
		d, err := source.NewPathDescriptor(loc.path, f.constraint, f.features...)
		if err != nil {
			return nil, err
		}
		return []source.Descriptor{d}, nil
	}

	if len(crates) == 0 {
		return nil, errors.NewInvalidRequestError("name at least one pallet crate")
	}
	if loc.kind == source.KindGit && f.constraint != "" {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("--version does not apply to git sources"),
			"pin a tag or commit with --ref")
	}

	ds := make([]source.Descriptor, 0, len(crates))
	for _, crate := range crates {
		var d source.Descriptor
		switch {
		case loc.kind == source.KindGit:
			d, err = source.NewGitDescriptor(crate, loc.url, ref, f.features...)
		case f.registry != "":
			d, err = source.NewCustomRegistryDescriptor(f.registry, crate, f.constraint, f.features...)
		default:
			d, err = source.NewRegistryDescriptor(crate, f.constraint, f.features...)
		}
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, nil
}
