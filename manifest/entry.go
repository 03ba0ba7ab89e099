package manifest

import (
	"maps"
	"slices"
	"sort"
)

// SourceKind says where cargo fetches a dependency from
type SourceKind int

const (
	SourceRegistry SourceKind = iota
	SourceGit
	SourcePath
	SourceCustomRegistry
	SourceWorkspace
)

func (k SourceKind) String() string {
	switch k {
	case SourceRegistry:
		return "registry"
	case SourceGit:
		return "git"
	case SourcePath:
		return "path"
	case SourceCustomRegistry:
		return "custom-registry"
	case SourceWorkspace:
		return "workspace"
	default:
		return "unknown"
	}
}

// Entry is the semantic content of one dependency declaration.
// Formatting and comments stay in the model's bytes and never appear here.
type Entry struct {
	Name     string
	Version  string
	Path     string
	Git      string
	Branch   string
	Tag      string
	Rev      string
	Registry string
	Package  string

	// Workspace marks `name = { workspace = true }` inheritance
	Workspace bool

	Features        []string
	DefaultFeatures *bool

	// Extra holds fields the engine does not manage (optional, target-specific keys, ...)
	Extra map[string]any
}

// Kind derives the source kind from the fields that are set
func (e Entry) Kind() SourceKind {
	switch {
	case e.Workspace:
		return SourceWorkspace
	case e.Path != "":
		return SourcePath
	case e.Git != "":
		return SourceGit
	case e.Registry != "":
		return SourceCustomRegistry
	default:
		return SourceRegistry
	}
}

// Clone returns a deep copy
func (e Entry) Clone() Entry {
	e.Features = slices.Clone(e.Features)
	if e.DefaultFeatures != nil {
		v := *e.DefaultFeatures
		e.DefaultFeatures = &v
	}
	e.Extra = maps.Clone(e.Extra)
	return e
}

// sourceKeys are the fields that describe where a dependency comes from
var sourceKeys = []string{"version", "git", "branch", "tag", "rev", "path", "registry", "workspace"}

// gitRefKeys are mutually exclusive ways to pick a git revision
var gitRefKeys = []string{"branch", "tag", "rev"}

// pair is one field we want written
type pair struct {
	key   string
	value any
}

// pairs lists the fields of e in the order new entries are written
func (e Entry) pairs() []pair {
	var ps []pair
	add := func(k string, v any) { ps = append(ps, pair{k, v}) }

	if e.Package != "" {
		add("package", e.Package)
	}
	if e.Workspace {
		add("workspace", true)
	}
	if e.Version != "" {
		add("version", e.Version)
	}
	if e.Git != "" {
		add("git", e.Git)
	}
	if e.Branch != "" {
		add("branch", e.Branch)
	}
	if e.Tag != "" {
		add("tag", e.Tag)
	}
	if e.Rev != "" {
		add("rev", e.Rev)
	}
	if e.Path != "" {
		add("path", e.Path)
	}
	if e.Registry != "" {
		add("registry", e.Registry)
	}
	if e.DefaultFeatures != nil {
		add("default-features", *e.DefaultFeatures)
	}
	if len(e.Features) > 0 {
		add("features", slices.Clone(e.Features))
	}

	extra := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		add(k, e.Extra[k])
	}
	return ps
}

// field is one decoded key of an existing entry with its byte spans
type field struct {
	key   string
	value any
	val   span // the value's bytes
	del   span // bytes removed when the field is dropped
}

// canonicalKey folds cargo's accepted spellings onto one key
func canonicalKey(k string) string {
	if k == "default_features" {
		return "default-features"
	}
	return k
}

// entryFromFields builds the semantic entry from decoded fields
func entryFromFields(name string, fields []field) Entry {
	e := Entry{Name: name}
	for _, f := range fields {
		switch canonicalKey(f.key) {
		case "version":
			e.Version, _ = f.value.(string)
		case "path":
			e.Path, _ = f.value.(string)
		case "git":
			e.Git, _ = f.value.(string)
		case "branch":
			e.Branch, _ = f.value.(string)
		case "tag":
			e.Tag, _ = f.value.(string)
		case "rev":
			e.Rev, _ = f.value.(string)
		case "registry":
			e.Registry, _ = f.value.(string)
		case "package":
			e.Package, _ = f.value.(string)
		case "workspace":
			e.Workspace, _ = f.value.(bool)
		case "features":
			e.Features = toStrings(f.value)
		case "default-features":
			if b, ok := f.value.(bool); ok {
				e.DefaultFeatures = &b
			}
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]any)
			}
			e.Extra[f.key] = f.value
		}
	}
	return e
}

func toStrings(v any) []string {
	if s, ok := v.([]string); ok {
		return slices.Clone(s)
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, x := range arr {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// unionFeatures appends the members of add missing from have, keeping order
func unionFeatures(have, add []string) (merged []string, added []string) {
	merged = slices.Clone(have)
	for _, f := range add {
		if !slices.Contains(merged, f) {
			merged = append(merged, f)
			added = append(added, f)
		}
	}
	return merged, added
}
