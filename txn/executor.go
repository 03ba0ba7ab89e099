// Package txn applies integration plans to a project's runtime files with
// all-or-nothing semantics.
//
// Execute snapshots the manifest and composition source, applies every
// step in memory, checks the results re-parse and agree with each other,
// and only then writes the files that changed. A failed write restores
// every file already written, in reverse order. If restoring fails too,
// the snapshot copies written before the first change are left beside the
// originals for manual recovery.
package txn

import (
	"bytes"
	"context"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/teranos/subman/composition"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/internal/util"
	"github.com/teranos/subman/logger"
	"github.com/teranos/subman/manifest"
	"github.com/teranos/subman/plan"
	"github.com/teranos/subman/project"
)

// Executor runs plans. It holds no per-transaction state and may be reused.
type Executor struct {
	fs     afero.Fs
	logger *zap.SugaredLogger
	newID  func() string
}

// Option customizes an Executor
type Option func(*Executor)

// WithFs replaces the OS filesystem
func WithFs(fs afero.Fs) Option {
	return func(x *Executor) { x.fs = fs }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(x *Executor) { x.logger = logger.OrNop(l) }
}

// NewExecutor returns an executor over the OS filesystem
func NewExecutor(opts ...Option) *Executor {
	x := &Executor{
		fs:     afero.NewOsFs(),
		logger: logger.OrNop(nil),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// LoadManifest reads p's runtime manifest through the executor's filesystem
func (x *Executor) LoadManifest(p *project.Project) (*manifest.Model, error) {
	data, err := afero.ReadFile(x.fs, p.ManifestPath())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read manifest %s", p.ManifestPath()), errors.ErrIOFailure)
	}
	return manifest.Parse(p.ManifestPath(), data, manifest.WithSection(p.Config().Runtime.Section))
}

// file is one project file under transaction
type file struct {
	target   plan.Target
	path     string
	mode     os.FileMode
	snapshot []byte
	result   []byte
}

func (f *file) changed() bool { return !bytes.Equal(f.snapshot, f.result) }

// Execute applies pl to p. The caller holds p's lock.
//
// Errors from parsing the existing files or from applying a step surface
// as they are: nothing has been written at that point. Failures during
// writing are *TransactionError.
func (x *Executor) Execute(ctx context.Context, p *project.Project, pl *plan.Plan) (*CommitReport, error) {
	if pl == nil || len(pl.Steps) == 0 {
		return nil, errors.NewInvalidRequestError("empty plan")
	}
	txID := x.newID()
	ctx = logger.WithTxID(ctx, txID)
	log := logger.FromContext(ctx, x.logger)
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "transaction not started"), errors.ErrCancelled)
	}

	man := &file{target: plan.Manifest, path: p.ManifestPath()}
	comp := &file{target: plan.Composition, path: p.CompositionPath()}
	for _, f := range []*file{man, comp} {
		if err := x.load(f); err != nil {
			return nil, &TransactionError{Kind: IOFailure, TxID: txID, Err: err}
		}
	}

	cfg := p.Config()
	mm, err := manifest.Parse(man.path, man.snapshot, manifest.WithSection(cfg.Runtime.Section))
	if err != nil {
		return nil, err
	}
	cm, err := composition.Parse(comp.path, comp.snapshot, composition.WithBaseIndex(cfg.Runtime.BaseIndex))
	if err != nil {
		return nil, err
	}

	for _, s := range pl.Steps {
		if err := applyStep(mm, cm, s); err != nil {
			return nil, errors.Wrapf(err, "step %q", s)
		}
		log.Debugw("step applied", logger.FieldStep, s.String())
	}
	man.result, comp.result = mm.Serialize(), cm.Serialize()

	if err := verify(man, comp, pl, p); err != nil {
		return nil, &TransactionError{Kind: RolledBack, TxID: txID, Err: err}
	}

	report := x.report(txID, pl, []*file{man, comp}, cm)

	var pending []*file
	for _, t := range pl.Targets() {
		f := man
		if t == plan.Composition {
			f = comp
		}
		if f.changed() {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		log.Infow("plan already applied", logger.FieldCount, len(pl.Steps))
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "transaction cancelled before writing"), errors.ErrCancelled)
	}

	if err := x.preserve(pending, txID); err != nil {
		return nil, &TransactionError{Kind: IOFailure, TxID: txID, Err: err}
	}

	for i, f := range pending {
		if err := writeFile(x.fs, f.path, f.result, f.mode, txID); err != nil {
			log.Errorw("write failed, rolling back", logger.FieldFile, f.path, logger.FieldError, err)
			return nil, x.rollback(log, txID, pending, i+1, errors.Mark(err, errors.ErrIOFailure))
		}
		log.Debugw("file written", logger.FieldFile, f.path)

		// cancellation waits for the write in progress, then undoes the transaction
		if err := ctx.Err(); err != nil && i < len(pending)-1 {
			log.Warnw("cancelled while writing, rolling back", logger.FieldFile, f.path)
			return nil, x.rollback(log, txID, pending, i+1, errors.Mark(err, errors.ErrCancelled))
		}
	}

	x.discard(log, pending, txID)
	log.Infow("transaction committed",
		logger.FieldCount, len(pending),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return report, nil
}

func (x *Executor) load(f *file) error {
	info, err := x.fs.Stat(f.path)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", f.path)
	}
	f.mode = info.Mode().Perm()
	f.snapshot, err = afero.ReadFile(x.fs, f.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", f.path)
	}
	return nil
}

// preserve writes the snapshot copies used for manual recovery
func (x *Executor) preserve(files []*file, txID string) error {
	for i, f := range files {
		if err := afero.WriteFile(x.fs, SnapshotPath(f.path, txID), f.snapshot, f.mode); err != nil {
			for _, done := range files[:i] {
				_ = x.fs.Remove(SnapshotPath(done.path, txID))
			}
			_ = x.fs.Remove(SnapshotPath(f.path, txID))
			return errors.Wrapf(err, "failed to snapshot %s", f.path)
		}
	}
	return nil
}

func (x *Executor) discard(log *zap.SugaredLogger, files []*file, txID string) {
	for _, f := range files {
		if err := x.fs.Remove(SnapshotPath(f.path, txID)); err != nil {
			log.Warnw("failed to remove snapshot", logger.FieldFile, f.path, logger.FieldError, err)
		}
	}
}

// rollback restores written (the last one possibly half-written) in reverse order
func (x *Executor) rollback(log *zap.SugaredLogger, txID string, pending []*file, written int, cause error) error {
	var failed []*file
	var rbErr error
	for i := written - 1; i >= 0; i-- {
		f := pending[i]
		err := writeFile(x.fs, f.path, f.snapshot, f.mode, txID)
		if err == nil {
			var got []byte
			got, err = afero.ReadFile(x.fs, f.path)
			if err == nil && !bytes.Equal(got, f.snapshot) {
				err = errors.Newf("%s differs from its snapshot after restore", f.path)
			}
		}
		if err != nil {
			log.Errorw("restore failed", logger.FieldFile, f.path, logger.FieldError, err)
			failed = append(failed, f)
			rbErr = errors.CombineErrors(rbErr, err)
		}
	}

	// snapshots of files that were never written or were restored are no longer needed
	var done []*file
	for _, f := range pending {
		if !slices.Contains(failed, f) {
			done = append(done, f)
		}
	}
	x.discard(log, done, txID)

	if len(failed) == 0 {
		log.Warnw("transaction rolled back", logger.FieldCount, written)
		return &TransactionError{Kind: RolledBack, TxID: txID, Err: cause}
	}

	snapshots := make(map[string]string, len(failed))
	for _, f := range failed {
		snapshots[f.path] = SnapshotPath(f.path, txID)
	}
	return errors.WithHint(&TransactionError{
		Kind:        RollbackFailed,
		TxID:        txID,
		Snapshots:   snapshots,
		Err:         cause,
		RollbackErr: rbErr,
	}, recoveryHint(snapshots))
}

func applyStep(mm *manifest.Model, cm *composition.Model, s plan.Step) error {
	switch s.Target {
	case plan.Manifest:
		if s.Manifest == nil {
			return errors.AssertionFailedf("manifest step without payload")
		}
		c := s.Manifest
		if s.Op == plan.Remove {
			if _, err := mm.Remove(c.Entry.Name); err != nil {
				return err
			}
			if c.StdFeature != "" {
				_, err := mm.RemoveFeatureMember(c.StdFeature, c.StdMember())
				return err
			}
			return nil
		}
		if err := mm.Upsert(c.Entry); err != nil {
			return err
		}
		if c.StdFeature != "" {
			_, err := mm.AddFeatureMember(c.StdFeature, c.StdMember())
			return err
		}
		return nil

	case plan.Composition:
		if s.Composition == nil {
			return errors.AssertionFailedf("composition step without payload")
		}
		if s.Op == plan.Remove {
			_, err := cm.Remove(s.Composition.Entry.Module)
			return err
		}
		_, err := cm.Upsert(s.Composition.Entry)
		return err
	}
	return errors.AssertionFailedf("unknown step target %d", s.Target)
}

// verify re-parses both results and checks every step is reflected in them
func verify(man, comp *file, pl *plan.Plan, p *project.Project) error {
	cfg := p.Config()
	mm, err := manifest.Parse(man.path, man.result, manifest.WithSection(cfg.Runtime.Section))
	if err != nil {
		return errors.Wrap(err, "edited manifest does not parse")
	}
	cm, err := composition.Parse(comp.path, comp.result, composition.WithBaseIndex(cfg.Runtime.BaseIndex))
	if err != nil {
		return errors.Wrap(err, "edited composition does not parse")
	}

	for _, s := range pl.Steps {
		switch s.Target {
		case plan.Manifest:
			_, ok := mm.Get(s.Manifest.Entry.Name)
			if ok == (s.Op == plan.Remove) {
				return errors.Newf("manifest: %s of %s not reflected in the result", s.Op, s.Pallet)
			}
			module := util.CrateModule(s.Manifest.Entry.Name)
			if _, listed := cm.Get(s.Manifest.Entry.Name); s.Op == plan.Remove && listed && !declares(mm, module) {
				return errors.WithHint(
					errors.Newf("construct_runtime! still lists %s but the manifest no longer declares it", module),
					"remove the pallet from the composition in the same plan")
			}
		case plan.Composition:
			_, ok := cm.Get(s.Composition.Entry.Module)
			if ok == (s.Op == plan.Remove) {
				return errors.Newf("composition: %s of %s not reflected in the result", s.Op, s.Pallet)
			}
			if s.Op != plan.Remove && !declares(mm, s.Composition.Entry.Module) {
				return errors.Newf("construct_runtime! lists %s but the manifest does not declare it", s.Composition.Entry.Module)
			}
		}
	}
	return nil
}

// declares reports whether some dependency is imported as module
func declares(mm *manifest.Model, module string) bool {
	return slices.ContainsFunc(mm.Entries(), func(e manifest.Entry) bool {
		return util.CrateModule(e.Name) == module
	})
}

func (x *Executor) report(txID string, pl *plan.Plan, files []*file, cm *composition.Model) *CommitReport {
	r := &CommitReport{TxID: txID}
	targets := pl.Targets()
	for _, f := range files {
		if !slices.Contains(targets, f.target) {
			continue
		}
		r.Files = append(r.Files, FileReport{
			Path:     f.path,
			Target:   f.target,
			Kind:     f.target.String(),
			Modified: f.changed(),
		})
	}

	for _, name := range pl.Pallets() {
		pr := PalletReport{Pallet: name, Index: -1}
		module := util.CrateModule(name)
		for _, s := range pl.Steps {
			if s.Pallet != name {
				continue
			}
			if pr.Op == "" {
				pr.Op = s.Op.String()
			}
			if s.Composition != nil {
				module = s.Composition.Entry.Module
			}
		}
		for _, o := range pl.Outcomes {
			if o.Pallet == name {
				pr.Outcome = o.String()
			}
		}
		if e, ok := cm.Get(module); ok {
			pr.Index = e.Index
		}
		if st, ok := cm.Stub(module); ok {
			pr.StubLine = st.Line
		}
		r.Pallets = append(r.Pallets, pr)
	}
	return r
}
