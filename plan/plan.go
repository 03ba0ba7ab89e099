// Package plan orders the edits that integrate or remove pallets.
//
// A Plan is all-or-nothing: the transaction executor applies every step or
// none. Steps of one pallet are ordered so the composition never names a
// crate the manifest does not declare: manifest first when adding,
// composition first when removing.
package plan

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/teranos/subman/composition"
	"github.com/teranos/subman/conflict"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/internal/util"
	"github.com/teranos/subman/manifest"
	"github.com/teranos/subman/source"
)

// Target is the file a step edits
type Target int

const (
	Manifest Target = iota
	Composition
)

func (t Target) String() string {
	if t == Composition {
		return "composition"
	}
	return "manifest"
}

// Op is what a step does to its target
type Op int

const (
	Add Op = iota
	Update
	Remove
)

func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Update:
		return "update"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// ManifestChange is the payload of a manifest step
type ManifestChange struct {
	Entry manifest.Entry

	// StdFeature is the feature that receives "<crate>/std"; empty skips it
	StdFeature string
}

// StdMember is the member StdFeature gains or loses
func (c ManifestChange) StdMember() string { return c.Entry.Name + "/std" }

// CompositionChange is the payload of a composition step.
// Entry.Index is -1 for "next free index".
type CompositionChange struct {
	Entry composition.Entry
}

// Step is one edit of one file
type Step struct {
	Target Target
	Op     Op
	Pallet string

	Manifest    *ManifestChange
	Composition *CompositionChange
}

func (s Step) String() string {
	return fmt.Sprintf("%s %s %s", s.Op, s.Target, s.Pallet)
}

// Plan is an ordered, all-or-nothing list of steps
type Plan struct {
	Steps    []Step
	Outcomes []conflict.Outcome
}

// Options shape a plan
type Options struct {
	// CompositionNeeded adds the pallet to construct_runtime! as well
	CompositionNeeded bool

	// Override accepts an Incompatible outcome, replacing the existing source
	Override bool

	// StdFeature is the manifest feature propagating std to the pallet
	StdFeature string

	// ManifestDir anchors relative paths written for path dependencies
	ManifestDir string
}

// BlockedError reports an incompatible source change without override
type BlockedError struct {
	Outcome conflict.Outcome
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("integration of %s blocked: %s", e.Outcome.Pallet, e.Outcome.Reason)
}

func (e *BlockedError) Is(target error) bool { return target == errors.ErrBlocked }

// New plans the integration of resolved given its conflict outcome
func New(resolved source.ResolvedDependency, outcome conflict.Outcome, opts Options) (*Plan, error) {
	if outcome.Kind == conflict.Incompatible && !opts.Override {
		return nil, errors.WithHint(&BlockedError{Outcome: outcome},
			"re-run with --override to replace the existing source of "+outcome.Pallet)
	}

	entry, err := manifestEntry(resolved, outcome, opts.ManifestDir)
	if err != nil {
		return nil, err
	}

	op := Add
	if outcome.Exists() {
		op = Update
	}
	p := &Plan{Outcomes: []conflict.Outcome{outcome}}
	p.Steps = append(p.Steps, Step{
		Target:   Manifest,
		Op:       op,
		Pallet:   resolved.Name(),
		Manifest: &ManifestChange{Entry: entry, StdFeature: opts.StdFeature},
	})
	if opts.CompositionNeeded {
		p.Steps = append(p.Steps, Step{
			Target:      Composition,
			Op:          Add,
			Pallet:      resolved.Name(),
			Composition: &CompositionChange{Entry: compositionEntry(resolved.Name())},
		})
	}
	return p, nil
}

// Removal plans taking pallet name out of the runtime
func Removal(name string, opts Options) (*Plan, error) {
	if name == "" {
		return nil, errors.NewInvalidRequestError("pallet name is empty")
	}
	p := &Plan{}
	if opts.CompositionNeeded {
		p.Steps = append(p.Steps, Step{
			Target:      Composition,
			Op:          Remove,
			Pallet:      name,
			Composition: &CompositionChange{Entry: compositionEntry(name)},
		})
	}
	p.Steps = append(p.Steps, Step{
		Target:   Manifest,
		Op:       Remove,
		Pallet:   name,
		Manifest: &ManifestChange{Entry: manifest.Entry{Name: name}, StdFeature: opts.StdFeature},
	})
	return p, nil
}

// Merge concatenates plans, keeping each plan's internal order
func Merge(plans ...*Plan) *Plan {
	out := &Plan{}
	for _, p := range plans {
		if p == nil {
			continue
		}
		out.Steps = append(out.Steps, p.Steps...)
		out.Outcomes = append(out.Outcomes, p.Outcomes...)
	}
	return out
}

// Targets reports which files the plan edits
func (p *Plan) Targets() []Target {
	var ts []Target
	for _, s := range p.Steps {
		if !slices.Contains(ts, s.Target) {
			ts = append(ts, s.Target)
		}
	}
	return ts
}

// Pallets lists the pallets the plan touches, in step order
func (p *Plan) Pallets() []string {
	var names []string
	for _, s := range p.Steps {
		if !slices.Contains(names, s.Pallet) {
			names = append(names, s.Pallet)
		}
	}
	return names
}

func compositionEntry(crate string) composition.Entry {
	return composition.Entry{
		Alias:  util.PalletAlias(crate),
		Module: util.CrateModule(crate),
		Index:  -1,
	}
}

// manifestEntry builds the entry to upsert. When the existing entry already
// satisfies the request its source fields are kept as written, so only
// missing features are added.
func manifestEntry(r source.ResolvedDependency, outcome conflict.Outcome, manifestDir string) (manifest.Entry, error) {
	d := r.Descriptor()
	if outcome.Kind == conflict.Clean && outcome.Existing != nil {
		e := outcome.Existing.Clone()
		e.Extra = nil
		e.Features = d.Features()
		return e, nil
	}

	e := manifest.Entry{
		Name:            r.Name(),
		Features:        d.Features(),
		DefaultFeatures: util.Ptr(false),
	}
	switch r.Kind() {
	case source.KindRegistry:
		e.Version = r.Version()
	case source.KindCustomRegistry:
		e.Version = r.Version()
		e.Registry = d.Registry()
	case source.KindGit:
		e.Git = d.URL()
		e.Rev = r.Commit()
	case source.KindPath:
		e.Path = relativePath(manifestDir, r.Path())
	default:
		return manifest.Entry{}, errors.AssertionFailedf("unhandled source kind %s", r.Kind())
	}
	return e, nil
}

// relativePath writes path relative to the manifest directory with forward
// slashes, as cargo manifests conventionally do
func relativePath(dir, path string) string {
	if dir == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
