// Package sourcetest provides fakes for exercising source.Resolver without
// network access: an in-process sparse index, a scripted git ref lister and
// local crate fixtures.
package sourcetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/subman/config"
	"github.com/teranos/subman/internal/httpclient"
	"github.com/teranos/subman/source"
)

// Release is one published version of a crate
type Release struct {
	Version string
	Yanked  bool
}

// Index is a sparse crate index served over httptest
type Index struct {
	Server *httptest.Server

	mu       sync.Mutex
	crates   map[string][]Release
	failures map[string][]int // crate -> status codes to return before succeeding
	token    string
	requests map[string]int
}

// NewIndex starts an index serving crates; it is closed with t's cleanup
func NewIndex(t testing.TB, crates map[string][]Release) *Index {
	t.Helper()
	idx := &Index{
		crates:   make(map[string][]Release),
		failures: make(map[string][]int),
		requests: make(map[string]int),
	}
	for name, rels := range crates {
		idx.crates[strings.ToLower(name)] = rels
	}
	idx.Server = httptest.NewServer(http.HandlerFunc(idx.serve))
	t.Cleanup(idx.Server.Close)
	return idx
}

// URL is the index address in cargo's sparse+ form
func (i *Index) URL() string { return "sparse+" + i.Server.URL + "/" }

// Client returns an index client that may reach the loopback server
func (i *Index) Client() *httpclient.Client { return httpclient.Wrap(i.Server.Client()) }

// RequireToken makes the index answer 401 unless Authorization equals token
func (i *Index) RequireToken(token string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.token = token
}

// FailNext makes the next len(statuses) requests for crate fail with those statuses
func (i *Index) FailNext(crate string, statuses ...int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failures[strings.ToLower(crate)] = append(i.failures[strings.ToLower(crate)], statuses...)
}

// Requests reports how many times crate's index file was fetched
func (i *Index) Requests(crate string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.requests[strings.ToLower(crate)]
}

func (i *Index) serve(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	defer i.mu.Unlock()

	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if "/"+source.IndexPath(name) != r.URL.Path {
		http.NotFound(w, r)
		return
	}
	i.requests[name]++

	if i.token != "" && r.Header.Get("Authorization") != i.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if pending := i.failures[name]; len(pending) > 0 {
		i.failures[name] = pending[1:]
		w.WriteHeader(pending[0])
		return
	}
	rels, ok := i.crates[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	for _, rel := range rels {
		line, _ := json.Marshal(map[string]any{
			"name":   name,
			"vers":   rel.Version,
			"deps":   []any{},
			"cksum":  strings.Repeat("0", 64),
			"yanked": rel.Yanked,
		})
		fmt.Fprintf(w, "%s\n", line)
	}
}

// Refs is a scripted source.RefLister keyed by remote URL
type Refs struct {
	mu      sync.Mutex
	remotes map[string][]*plumbing.Reference
	errs    map[string][]error
	calls   map[string]int
}

// NewRefs returns an empty lister; unknown remotes fail like a missing repository
func NewRefs() *Refs {
	return &Refs{
		remotes: make(map[string][]*plumbing.Reference),
		errs:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// Remote declares url with HEAD pointing at branch head and the given refs.
// Names are short: "main" is a branch, "v1.0" a tag, hashes are 40 hex.
func (f *Refs) Remote(url, head string, branches, tags map[string]string) *Refs {
	f.mu.Lock()
	defer f.mu.Unlock()
	var refs []*plumbing.Reference
	for name, hash := range branches {
		refs = append(refs, plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(hash)))
	}
	for name, hash := range tags {
		refs = append(refs, plumbing.NewHashReference(plumbing.NewTagReferenceName(name), plumbing.NewHash(hash)))
	}
	if head != "" {
		refs = append(refs, plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(head)))
	}
	f.remotes[url] = refs
	return f
}

// AddRef appends a raw reference, e.g. a peeled tag "refs/tags/v1^{}"
func (f *Refs) AddRef(url string, ref *plumbing.Reference) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes[url] = append(f.remotes[url], ref)
}

// FailNext queues errors returned by the next listings of url
func (f *Refs) FailNext(url string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = append(f.errs[url], errs...)
}

// Calls reports how many times url was listed
func (f *Refs) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *Refs) ListRefs(ctx context.Context, url string) ([]*plumbing.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pending := f.errs[url]; len(pending) > 0 {
		f.errs[url] = pending[1:]
		return nil, pending[0]
	}
	refs, ok := f.remotes[url]
	if !ok {
		return nil, transport.ErrRepositoryNotFound
	}
	return refs, nil
}

// WriteCrate creates a crate directory under dir with a minimal Cargo.toml
// and returns its path
func WriteCrate(t testing.TB, dir, name, version string) string {
	t.Helper()
	crate := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Join(crate, "src"), 0o755))
	manifest := fmt.Sprintf("[package]\nname = %q\nversion = %q\nedition = \"2021\"\n\n[dependencies]\n", name, version)
	require.NoError(t, os.WriteFile(filepath.Join(crate, "Cargo.toml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(crate, "src", "lib.rs"), []byte("#![cfg_attr(not(feature = \"std\"), no_std)]\n"), 0o644))
	return crate
}

// Config returns a configuration resolving against idx (nil for the
// default index) with millisecond retry delays
func Config(idx *Index) *config.Config {
	index := config.DefaultIndexURL
	if idx != nil {
		index = idx.URL()
	}
	return &config.Config{
		Type: "chain",
		Paths: config.PathsConfig{
			Node:     "node",
			Runtime:  "runtime",
			Frontend: "frontend",
		},
		Runtime: config.RuntimeConfig{
			Section:    "dependencies",
			StdFeature: "std",
		},
		Registry: config.RegistryConfig{
			Index:             index,
			Timeout:           5 * time.Second,
			RequestsPerSecond: 0,
			Concurrency:       4,
		},
		Retry: config.RetryConfig{
			MaxAttempts:  config.DefaultMaxAttempts,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		Build:      config.BuildConfig{Command: config.DefaultBuildCmd},
		Registries: map[string]config.Registry{},
	}
}

// NewResolver returns a resolver using cfg (Config(idx) when nil) wired to
// idx and refs; either may be nil
func NewResolver(t testing.TB, cfg *config.Config, idx *Index, refs *Refs) *source.Resolver {
	t.Helper()
	if cfg == nil {
		cfg = Config(idx)
	}
	opts := []source.Option{source.WithLogger(zaptest.NewLogger(t).Sugar())}
	if idx != nil {
		opts = append(opts, source.WithHTTPClient(idx.Client()))
	}
	if refs != nil {
		opts = append(opts, source.WithRefLister(refs))
	}
	return source.NewResolver(cfg, opts...)
}

// MustResolve resolves d or fails the test
func MustResolve(t testing.TB, r *source.Resolver, d source.Descriptor) source.ResolvedDependency {
	t.Helper()
	res, err := r.Resolve(context.Background(), d)
	require.NoError(t, err)
	return res
}

// Registry builds a registry descriptor or fails the test
func Registry(t testing.TB, crate, constraint string, features ...string) source.Descriptor {
	t.Helper()
	d, err := source.NewRegistryDescriptor(crate, constraint, features...)
	require.NoError(t, err)
	return d
}

// Git builds a git descriptor or fails the test
func Git(t testing.TB, crate, url, ref string, features ...string) source.Descriptor {
	t.Helper()
	d, err := source.NewGitDescriptor(crate, url, ref, features...)
	require.NoError(t, err)
	return d
}

// Path builds a path descriptor or fails the test
func Path(t testing.TB, path, constraint string, features ...string) source.Descriptor {
	t.Helper()
	d, err := source.NewPathDescriptor(path, constraint, features...)
	require.NoError(t, err)
	return d
}

// CustomRegistry builds a custom registry descriptor or fails the test
func CustomRegistry(t testing.TB, registry, crate, constraint string, features ...string) source.Descriptor {
	t.Helper()
	d, err := source.NewCustomRegistryDescriptor(registry, crate, constraint, features...)
	require.NoError(t, err)
	return d
}
