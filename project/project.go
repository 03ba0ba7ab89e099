// Package project carries the explicit context of one chain project: its
// root, the runtime files subman edits and the lock serializing writers.
package project

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/teranos/subman/config"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
)

// LockFileName is created in the project root and held while a plan runs
const LockFileName = ".subman.lock"

const lockRetryDelay = 50 * time.Millisecond

// gates serialize writers within this process, keyed by absolute root.
// The file lock alone does not: flock is per open file description.
var (
	gatesMu sync.Mutex
	gates   = make(map[string]chan struct{})
)

func gate(root string) chan struct{} {
	gatesMu.Lock()
	defer gatesMu.Unlock()
	g, ok := gates[root]
	if !ok {
		g = make(chan struct{}, 1)
		gates[root] = g
	}
	return g
}

// Project is a chain project opened for integration
type Project struct {
	root            string
	cfg             *config.Config
	manifestPath    string
	compositionPath string
	logger          *zap.SugaredLogger
}

// Option customizes a Project
type Option func(*Project)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Project) { p.logger = logger.OrNop(l) }
}

// Open resolves the runtime files of the project at root and checks they exist
func Open(root string, cfg *config.Config, opts ...Option) (*Project, error) {
	if cfg == nil {
		return nil, errors.NewInvalidRequestError("project configuration is nil")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve project root %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.Mark(errors.Newf("project root %s is not a directory", abs), errors.ErrNotFound)
	}

	p := &Project{
		root:            abs,
		cfg:             cfg,
		manifestPath:    cfg.ManifestPath(abs),
		compositionPath: cfg.CompositionPath(abs),
		logger:          logger.OrNop(nil),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, f := range []string{p.manifestPath, p.compositionPath} {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.WithHintf(
				errors.Mark(errors.Wrapf(err, "runtime file missing"), errors.ErrNotFound),
				"run from the chain's root directory, or set paths.runtime in %s", config.ProjectFileName)
		}
	}
	return p, nil
}

func (p *Project) Root() string            { return p.root }
func (p *Project) Config() *config.Config  { return p.cfg }
func (p *Project) ManifestPath() string    { return p.manifestPath }
func (p *Project) CompositionPath() string { return p.compositionPath }
func (p *Project) RuntimeDir() string      { return p.cfg.RuntimeDir(p.root) }
func (p *Project) LockPath() string        { return filepath.Join(p.root, LockFileName) }

// WithLock runs fn while holding the project exclusively: an in-process
// gate plus an OS file lock shared with other subman processes. Both are
// released on every return path.
func (p *Project) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	g := gate(p.root)
	select {
	case g <- struct{}{}:
	case <-ctx.Done():
		return errors.Mark(errors.Wrap(ctx.Err(), "waiting for project lock"), errors.ErrCancelled)
	}
	defer func() { <-g }()

	fl := flock.New(p.LockPath())
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Mark(errors.Wrap(ctx.Err(), "waiting for project lock"), errors.ErrCancelled)
		}
		return errors.Mark(errors.Wrapf(err, "failed to lock %s", p.LockPath()), errors.ErrIOFailure)
	}
	if !locked {
		return errors.Mark(errors.Newf("could not lock %s", p.LockPath()), errors.ErrIOFailure)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			p.logger.Warnw("failed to release project lock", logger.FieldPath, p.LockPath(), logger.FieldError, err)
		}
	}()

	p.logger.Debugw("project locked",
		logger.FieldPath, p.root,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return fn(ctx)
}
