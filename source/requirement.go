package source

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/subman/errors"
)

// Requirement is a cargo version requirement such as "4.0.0", "^1.2",
// ">=1.0, <2.0" or "*". A bare version means caret, as in Cargo.toml.
// The zero Requirement accepts any released version.
type Requirement struct {
	raw         string
	constraints *semver.Constraints
}

// ParseRequirement parses req with cargo semantics
func ParseRequirement(req string) (Requirement, error) {
	req = strings.TrimSpace(req)
	if req == "" {
		return Requirement{}, nil
	}
	parts := strings.Split(req, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Requirement{}, errors.NewInvalidRequestError("invalid version requirement %q: empty comparator", req)
		}
		if p[0] >= '0' && p[0] <= '9' {
			p = "^" + p
		}
		parts[i] = p
	}
	c, err := semver.NewConstraint(strings.Join(parts, ", "))
	if err != nil {
		return Requirement{}, errors.Mark(errors.Wrapf(err, "invalid version requirement %q", req), errors.ErrInvalidRequest)
	}
	return Requirement{raw: req, constraints: c}, nil
}

// Any reports whether the requirement is empty
func (r Requirement) Any() bool { return r.constraints == nil }

func (r Requirement) String() string { return r.raw }

// Allows reports whether v satisfies r. Pre-releases only match a
// requirement that names a pre-release itself.
func (r Requirement) Allows(v *semver.Version) bool {
	if r.constraints == nil {
		return v.Prerelease() == ""
	}
	return r.constraints.Check(v)
}

// Base returns the version written in the first comparator, with missing
// components and wildcards taken as zero: "^1.2" gives 1.2.0, ">=4, <5" gives 4.0.0.
func (r Requirement) Base() (*semver.Version, bool) {
	if r.raw == "" {
		return nil, false
	}
	first := strings.TrimSpace(strings.Split(r.raw, ",")[0])
	first = strings.TrimLeft(first, "=<>^~ ")
	if first == "" || first == "*" {
		return nil, false
	}
	fields := strings.SplitN(first, ".", 3)
	for i, f := range fields {
		if f == "*" || f == "x" || f == "X" {
			fields[i] = "0"
		}
	}
	v, err := semver.NewVersion(strings.Join(fields, "."))
	if err != nil {
		return nil, false
	}
	return v, true
}
