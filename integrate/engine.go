// Package integrate adds pallets to and removes them from a Substrate
// runtime. It resolves the requested sources, checks them against the
// runtime manifest, plans the edits and applies them in one transaction
// while holding the project lock.
package integrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/subman/conflict"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
	"github.com/teranos/subman/plan"
	"github.com/teranos/subman/project"
	"github.com/teranos/subman/source"
	"github.com/teranos/subman/txn"
)

// Resolver turns descriptors into concrete dependencies
type Resolver interface {
	ResolveAll(ctx context.Context, ds []source.Descriptor) ([]source.ResolvedDependency, error)
}

// Engine orchestrates resolve, check, plan and execute
type Engine struct {
	resolver Resolver
	executor *txn.Executor
	logger   *zap.SugaredLogger
}

// Option customizes an Engine
type Option func(*Engine)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(l) }
}

// New returns an engine. A nil executor writes to the OS filesystem.
func New(resolver Resolver, executor *txn.Executor, opts ...Option) *Engine {
	e := &Engine{resolver: resolver, executor: executor, logger: logger.OrNop(nil)}
	for _, opt := range opts {
		opt(e)
	}
	if e.executor == nil {
		e.executor = txn.NewExecutor(txn.WithLogger(e.logger))
	}
	return e
}

// AddOptions shape an add request
type AddOptions struct {
	// Override accepts Incompatible outcomes, replacing the existing source
	Override bool

	// ManifestOnly leaves construct_runtime! alone
	ManifestOnly bool
}

// RemoveOptions shape a remove request
type RemoveOptions struct {
	// ManifestOnly leaves construct_runtime! alone. The transaction is
	// refused when construct_runtime! still lists a removed pallet.
	ManifestOnly bool
}

// Add integrates every descriptor in one transaction. Either all of them
// land or none do.
func (e *Engine) Add(ctx context.Context, p *project.Project, ds []source.Descriptor, opts AddOptions) (*txn.CommitReport, error) {
	start := time.Now()
	resolved, err := e.resolve(ctx, ds)
	if err != nil {
		return nil, err
	}

	var report *txn.CommitReport
	err = p.WithLock(ctx, func(ctx context.Context) error {
		pl, err := e.plan(p, resolved, opts)
		if err != nil {
			return err
		}
		report, err = e.executor.Execute(ctx, p, pl)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Infow("pallets integrated",
		logger.FieldCount, len(resolved),
		logger.FieldTxID, report.TxID,
		logger.FieldModified, report.Modified(),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return report, nil
}

// Preview resolves and plans without writing anything
func (e *Engine) Preview(ctx context.Context, p *project.Project, ds []source.Descriptor, opts AddOptions) (*plan.Plan, error) {
	resolved, err := e.resolve(ctx, ds)
	if err != nil {
		return nil, err
	}
	var pl *plan.Plan
	err = p.WithLock(ctx, func(context.Context) error {
		pl, err = e.plan(p, resolved, opts)
		return err
	})
	return pl, err
}

// Remove takes pallets out of the runtime, composition first. Names not
// present are skipped.
func (e *Engine) Remove(ctx context.Context, p *project.Project, names []string, opts RemoveOptions) (*txn.CommitReport, error) {
	if len(names) == 0 {
		return nil, errors.NewInvalidRequestError("no pallets to remove")
	}
	if err := unique(names); err != nil {
		return nil, err
	}

	popts := plan.Options{
		CompositionNeeded: !opts.ManifestOnly,
		StdFeature:        p.Config().Runtime.StdFeature,
	}
	var plans []*plan.Plan
	for _, name := range names {
		pl, err := plan.Removal(name, popts)
		if err != nil {
			return nil, err
		}
		plans = append(plans, pl)
	}

	var report *txn.CommitReport
	err := p.WithLock(ctx, func(ctx context.Context) error {
		var err error
		report, err = e.executor.Execute(ctx, p, plan.Merge(plans...))
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("pallets removed", logger.FieldCount, len(names), logger.FieldTxID, report.TxID)
	return report, nil
}

func (e *Engine) resolve(ctx context.Context, ds []source.Descriptor) ([]source.ResolvedDependency, error) {
	if len(ds) == 0 {
		return nil, errors.NewInvalidRequestError("no pallets requested")
	}
	names := make([]string, 0, len(ds))
	for _, d := range ds {
		if d.Kind() != source.KindPath {
			names = append(names, d.Name())
		}
	}
	if err := unique(names); err != nil {
		return nil, err
	}

	resolved, err := e.resolver.ResolveAll(ctx, ds)
	if err != nil {
		return nil, err
	}

	// path crates are only named once their Cargo.toml has been read
	names = names[:0]
	for _, r := range resolved {
		names = append(names, r.Name())
	}
	if err := unique(names); err != nil {
		return nil, err
	}
	return resolved, nil
}

// plan checks each resolved dependency against the manifest the executor
// will edit and merges the per-pallet plans in request order
func (e *Engine) plan(p *project.Project, resolved []source.ResolvedDependency, opts AddOptions) (*plan.Plan, error) {
	cfg := p.Config()
	mm, err := e.executor.LoadManifest(p)
	if err != nil {
		return nil, err
	}
	popts := plan.Options{
		CompositionNeeded: !opts.ManifestOnly,
		Override:          opts.Override,
		StdFeature:        cfg.Runtime.StdFeature,
		ManifestDir:       mm.Dir(),
	}

	plans := make([]*plan.Plan, 0, len(resolved))
	for _, r := range resolved {
		outcome := conflict.Check(mm, r)
		e.logger.Debugw("conflict checked",
			logger.FieldPallet, r.Name(),
			logger.FieldOutcome, outcome.Kind.String())
		pl, err := plan.New(r, outcome, popts)
		if err != nil {
			return nil, err
		}
		plans = append(plans, pl)
	}
	return plan.Merge(plans...), nil
}

func unique(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return errors.NewInvalidRequestError("pallet %s is requested more than once", n)
		}
		seen[n] = true
	}
	return nil
}
