// Package source turns pallet source descriptors into verified, pinned
// dependencies.
//
// A Descriptor names a crate on the default registry, a custom registry,
// a git remote or a local path. Resolver.Resolve confirms it exists and
// pins it: the highest version allowed by the requirement for registries,
// a commit hash for git, an absolute directory for paths. Network lookups
// are rate limited, bounded by a per-call timeout and retried with
// exponential backoff, but only for network failures.
package source

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teranos/subman/config"
	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/internal/httpclient"
	"github.com/teranos/subman/logger"
)

// Resolver resolves descriptors. Safe for concurrent use.
type Resolver struct {
	index       string
	registries  map[string]config.Registry
	http        *httpclient.Client
	refs        RefLister
	limiter     *rate.Limiter
	timeout     time.Duration
	concurrency int
	retryCfg    config.RetryConfig
	logger      *zap.SugaredLogger
	now         func() time.Time
	jitter      func() float64
}

// Option customizes a Resolver
type Option func(*Resolver)

// WithHTTPClient replaces the index client, e.g. to reach an httptest server
func WithHTTPClient(c *httpclient.Client) Option {
	return func(r *Resolver) { r.http = c }
}

// WithRefLister replaces the git ref lister
func WithRefLister(l RefLister) Option {
	return func(r *Resolver) { r.refs = l }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Resolver) { r.logger = logger.OrNop(l) }
}

// WithClock sets the time source stamped into proofs
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds a Resolver from the registry and retry settings of cfg
func NewResolver(cfg *config.Config, opts ...Option) *Resolver {
	timeout := cfg.Registry.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.Registry.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Registry.RequestsPerSecond)
	}
	concurrency := cfg.Registry.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	index := cfg.Registry.Index
	if index == "" {
		index = config.DefaultIndexURL
	}

	r := &Resolver{
		index:       index,
		registries:  cfg.Registries,
		timeout:     timeout,
		limiter:     rate.NewLimiter(limit, concurrency),
		concurrency: concurrency,
		retryCfg:    cfg.Retry,
		refs:        RemoteLister{},
		logger:      logger.OrNop(nil),
		now:         time.Now,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.http == nil {
		r.http = httpclient.New(httpclient.Options{
			Timeout:              timeout,
			AllowPrivateNetworks: cfg.Registry.AllowPrivateNetworks,
		})
	}
	return r
}

// Resolve confirms d exists and pins it to a concrete version or commit
func (r *Resolver) Resolve(ctx context.Context, d Descriptor) (ResolvedDependency, error) {
	log := logger.FromContext(ctx, r.logger).With(
		logger.FieldPallet, d.Name(),
		logger.FieldSourceKind, d.Kind().String(),
		logger.FieldSource, d.Identifier())
	start := time.Now()

	var (
		res ResolvedDependency
		err error
	)
	switch d.kind {
	case KindRegistry:
		res, err = r.resolveRegistry(ctx, d, r.index, "")
	case KindCustomRegistry:
		reg, ok := r.registries[d.registry]
		if !ok || reg.Index == "" {
			err = errors.WithHintf(
				errors.NewInvalidRequestError("registry %q is not configured", d.registry),
				"define [registries.%s] index in .cargo/config.toml or set CARGO_REGISTRIES_%s_INDEX",
				d.registry, envName(d.registry))
			break
		}
		res, err = r.resolveRegistry(ctx, d, reg.Index, reg.Token)
	case KindGit:
		res, err = r.resolveGit(ctx, d)
	case KindPath:
		res, err = r.resolvePath(d)
	default:
		err = errors.NewInvalidRequestError("descriptor has no source kind; build it with a New*Descriptor constructor")
	}
	if err != nil {
		log.Warnw("resolution failed", logger.FieldError, err)
		return ResolvedDependency{}, err
	}

	log.Infow("resolved",
		logger.FieldVersion, res.version,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return res, nil
}

// ResolveAll resolves ds concurrently, at most registry.concurrency at a
// time. Results keep the order of ds. The first failure cancels the rest.
func (r *Resolver) ResolveAll(ctx context.Context, ds []Descriptor) ([]ResolvedDependency, error) {
	out := make([]ResolvedDependency, len(ds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, d := range ds {
		g.Go(func() error {
			res, err := r.Resolve(ctx, d)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func envName(registry string) string {
	return strings.ToUpper(strings.ReplaceAll(registry, "-", "_"))
}
