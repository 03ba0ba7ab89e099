package txn_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/subman/composition"
	"github.com/teranos/subman/errors"
	submantest "github.com/teranos/subman/internal/testing"
	"github.com/teranos/subman/internal/util"
	"github.com/teranos/subman/manifest"
	"github.com/teranos/subman/plan"
	"github.com/teranos/subman/project"
	"github.com/teranos/subman/source/sourcetest"
	"github.com/teranos/subman/txn"
)

// failingFs injects errors into renames and file creation
type failingFs struct {
	afero.Fs

	mu       sync.Mutex
	failing  map[string][]int // destination path -> 0-based rename attempts that fail
	attempts map[string]int
	failOpen func(name string) bool
	renamed  func(newname string) // called after each successful rename
}

func newFailingFs() *failingFs {
	return &failingFs{
		Fs:       afero.NewOsFs(),
		failing:  make(map[string][]int),
		attempts: make(map[string]int),
	}
}

// failRenames makes the given rename attempts onto path fail
func (f *failingFs) failRenames(path string, attempts ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[path] = attempts
}

func (f *failingFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	n := f.attempts[newname]
	f.attempts[newname]++
	fail := slices.Contains(f.failing[newname], n)
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EIO}
	}
	if err := f.Fs.Rename(oldname, newname); err != nil {
		return err
	}
	if f.renamed != nil {
		f.renamed(newname)
	}
	return nil
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failOpen != nil && f.failOpen(name) {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.ENOSPC}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func addPlan(crates ...string) *plan.Plan {
	var plans []*plan.Plan
	for _, crate := range crates {
		plans = append(plans, &plan.Plan{Steps: []plan.Step{
			{
				Target: plan.Manifest, Op: plan.Add, Pallet: crate,
				Manifest: &plan.ManifestChange{
					Entry:      manifest.Entry{Name: crate, Version: "4.1.2", DefaultFeatures: util.Ptr(false)},
					StdFeature: "std",
				},
			},
			{
				Target: plan.Composition, Op: plan.Add, Pallet: crate,
				Composition: &plan.CompositionChange{Entry: composition.Entry{
					Alias:  util.PalletAlias(crate),
					Module: util.CrateModule(crate),
					Index:  -1,
				}},
			},
		}})
	}
	return plan.Merge(plans...)
}

func setup(t *testing.T, fs afero.Fs) (*submantest.Chain, *project.Project, *txn.Executor) {
	t.Helper()
	chain := submantest.NewChain(t)
	p, err := project.Open(chain.Root, sourcetest.Config(nil))
	require.NoError(t, err)
	opts := []txn.Option{txn.WithLogger(zaptest.NewLogger(t).Sugar())}
	if fs != nil {
		opts = append(opts, txn.WithFs(fs))
	}
	return chain, p, txn.NewExecutor(opts...)
}

func lineOf(src, needle string) int {
	return strings.Count(src[:strings.Index(src, needle)], "\n") + 1
}

// leftovers lists temp and snapshot files in the runtime tree
func leftovers(t *testing.T, chain *submantest.Chain) []string {
	t.Helper()
	var found []string
	err := filepath.Walk(chain.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.Contains(path, ".subman-tmp-") || strings.Contains(path, ".subman-snapshot-") {
			found = append(found, path)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

func TestExecuteAddsPallet(t *testing.T) {
	chain, p, x := setup(t, nil)

	report, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.TxID)
	assert.True(t, report.Modified())

	mf, ok := report.File(plan.Manifest)
	require.True(t, ok)
	assert.True(t, mf.Modified)
	assert.Equal(t, chain.ManifestPath(), mf.Path)
	cf, ok := report.File(plan.Composition)
	require.True(t, ok)
	assert.True(t, cf.Modified)

	wantManifest := strings.Replace(submantest.RuntimeManifest,
		"path = \"../pallets/template\" }\n",
		"path = \"../pallets/template\" }\npallet-balances = { version = \"4.1.2\", default-features = false }\n", 1)
	wantManifest = strings.Replace(wantManifest,
		"\t\"pallet-template/std\",\n]",
		"\t\"pallet-template/std\",\n\t\"pallet-balances/std\",\n]", 1)
	assert.Equal(t, wantManifest, chain.Manifest(t))

	gotLib := chain.Composition(t)
	wantLib := strings.Replace(submantest.EmptyRuntime,
		"// Create the runtime",
		"impl pallet_balances::Config for Runtime {\n\t/* pallet_balances Trait config goes here */\n}\n\n// Create the runtime", 1)
	wantLib = strings.Replace(wantLib,
		"\tpub enum Runtime {\n\t}",
		"\tpub enum Runtime {\n\t\tBalances: pallet_balances = 0,\n\t}", 1)
	assert.Equal(t, wantLib, gotLib)

	pr, ok := report.Pallet("pallet-balances")
	require.True(t, ok)
	assert.Equal(t, 0, pr.Index)
	assert.Equal(t, "add", pr.Op)
	assert.Equal(t, lineOf(gotLib, "impl pallet_balances::Config"), pr.StubLine)

	assert.Empty(t, leftovers(t, chain))
}

func TestExecuteIsIdempotent(t *testing.T) {
	chain, p, x := setup(t, nil)
	pl := addPlan("pallet-balances", "pallet-sudo")

	first, err := x.Execute(context.Background(), p, pl)
	require.NoError(t, err)
	assert.True(t, first.Modified())
	manifestAfter, libAfter := chain.Manifest(t), chain.Composition(t)

	second, err := x.Execute(context.Background(), p, pl)
	require.NoError(t, err)
	assert.False(t, second.Modified())
	for _, f := range second.Files {
		assert.False(t, f.Modified, f.Path)
	}
	assert.Equal(t, manifestAfter, chain.Manifest(t))
	assert.Equal(t, libAfter, chain.Composition(t))

	sudo, ok := second.Pallet("pallet-sudo")
	require.True(t, ok)
	assert.Equal(t, 1, sudo.Index, "indices are stable across re-runs")
}

func TestExecuteRollsBackExactly(t *testing.T) {
	fs := newFailingFs()
	chain, p, x := setup(t, fs)
	manifestBefore, libBefore := chain.Manifest(t), chain.Composition(t)

	// the manifest is written, then replacing lib.rs fails once
	fs.failRenames(chain.CompositionPath(), 0)

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRolledBack))
	assert.True(t, errors.Is(err, errors.ErrIOFailure), "the cause is kept")

	var te *txn.TransactionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, txn.RolledBack, te.Kind)

	assert.Equal(t, manifestBefore, chain.Manifest(t))
	assert.Equal(t, libBefore, chain.Composition(t))
	assert.Empty(t, leftovers(t, chain))
}

func TestExecuteRollbackFailed(t *testing.T) {
	fs := newFailingFs()
	chain, p, x := setup(t, fs)
	manifestBefore, libBefore := chain.Manifest(t), chain.Composition(t)

	fs.failRenames(chain.CompositionPath(), 0, 1)
	fs.failRenames(chain.ManifestPath(), 1) // the forward write succeeds, the restore does not

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRollbackFailed))
	assert.False(t, errors.Is(err, errors.ErrRolledBack))

	var te *txn.TransactionError
	require.True(t, errors.As(err, &te))
	require.Contains(t, te.Snapshots, chain.ManifestPath())
	require.Contains(t, te.Snapshots, chain.CompositionPath())
	assert.Error(t, te.RollbackErr)

	snap, rerr := os.ReadFile(te.Snapshots[chain.ManifestPath()])
	require.NoError(t, rerr)
	assert.Equal(t, manifestBefore, string(snap), "snapshot copy holds the original bytes")
	assert.NotEqual(t, manifestBefore, chain.Manifest(t))
	assert.Equal(t, libBefore, chain.Composition(t))

	assert.Contains(t, errors.FlattenHints(err), "mv "+te.Snapshots[chain.ManifestPath()])
}

func TestExecuteFirstWriteFails(t *testing.T) {
	fs := newFailingFs()
	chain, p, x := setup(t, fs)
	manifestBefore, libBefore := chain.Manifest(t), chain.Composition(t)

	fs.failRenames(chain.ManifestPath(), 0)

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRolledBack))
	assert.True(t, errors.Is(err, errors.ErrIOFailure))

	assert.Equal(t, manifestBefore, chain.Manifest(t))
	assert.Equal(t, libBefore, chain.Composition(t))
	assert.Empty(t, leftovers(t, chain), "the unwritten file's snapshot is removed too")
}

func TestExecuteCancelledWhileWriting(t *testing.T) {
	fs := newFailingFs()
	chain, p, x := setup(t, fs)
	manifestBefore, libBefore := chain.Manifest(t), chain.Composition(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fs.renamed = func(newname string) {
		if newname == chain.ManifestPath() {
			cancel()
		}
	}

	_, err := x.Execute(ctx, p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.True(t, errors.Is(err, errors.ErrRolledBack))

	var te *txn.TransactionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, txn.RolledBack, te.Kind)

	assert.Equal(t, manifestBefore, chain.Manifest(t))
	assert.Equal(t, libBefore, chain.Composition(t))
	assert.Empty(t, leftovers(t, chain))
}

func TestExecuteSnapshotFailure(t *testing.T) {
	fs := newFailingFs()
	fs.failOpen = func(name string) bool { return strings.Contains(name, ".subman-snapshot-") }
	chain, p, x := setup(t, fs)
	manifestBefore := chain.Manifest(t)

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIOFailure))
	assert.False(t, errors.Is(err, errors.ErrRolledBack))
	assert.Equal(t, manifestBefore, chain.Manifest(t))
	assert.Empty(t, leftovers(t, chain))
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	chain, p, x := setup(t, nil)
	before := chain.Manifest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := x.Execute(ctx, p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.Equal(t, before, chain.Manifest(t))
}

func TestExecuteSurfacesParseErrors(t *testing.T) {
	chain, p, x := setup(t, nil)
	chain.Write(t, "runtime/Cargo.toml", "[dependencies]\nbroken = \n")

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrManifestParse))

	var pe *manifest.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Positive(t, pe.Line)
}

func TestExecuteRejectsDanglingComposition(t *testing.T) {
	chain, p, x := setup(t, nil)
	before := chain.Composition(t)

	pl := &plan.Plan{Steps: []plan.Step{{
		Target: plan.Composition, Op: plan.Add, Pallet: "pallet-ghost",
		Composition: &plan.CompositionChange{Entry: composition.Entry{Alias: "Ghost", Module: "pallet_ghost", Index: -1}},
	}}}
	_, err := x.Execute(context.Background(), p, pl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRolledBack))
	assert.Contains(t, err.Error(), "does not declare")
	assert.Equal(t, before, chain.Composition(t))
}

func TestExecuteRemoval(t *testing.T) {
	chain, p, x := setup(t, nil)
	original := chain.Manifest(t)

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.NoError(t, err)

	removal, err := plan.Removal("pallet-balances", plan.Options{CompositionNeeded: true, StdFeature: "std"})
	require.NoError(t, err)
	report, err := x.Execute(context.Background(), p, removal)
	require.NoError(t, err)
	assert.True(t, report.Modified())

	pr, ok := report.Pallet("pallet-balances")
	require.True(t, ok)
	assert.Equal(t, "remove", pr.Op)
	assert.Equal(t, -1, pr.Index)
	assert.Zero(t, pr.StubLine)

	assert.Equal(t, original, chain.Manifest(t))
	lib := chain.Composition(t)
	assert.NotContains(t, lib, "Balances:")
	assert.NotContains(t, lib, "impl pallet_balances::Config")
	assert.Contains(t, lib, "subman:next-index = 1", "index 0 is not handed out again")

	again, err := x.Execute(context.Background(), p, removal)
	require.NoError(t, err)
	assert.False(t, again.Modified())
}

func TestExecuteRejectsRemovalLeavingComposedPallet(t *testing.T) {
	chain, p, x := setup(t, nil)

	_, err := x.Execute(context.Background(), p, addPlan("pallet-balances"))
	require.NoError(t, err)
	manifestBefore, libBefore := chain.Manifest(t), chain.Composition(t)

	removal, err := plan.Removal("pallet-balances", plan.Options{StdFeature: "std"})
	require.NoError(t, err)
	_, err = x.Execute(context.Background(), p, removal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRolledBack))
	assert.Contains(t, err.Error(), "still lists pallet_balances")

	assert.Equal(t, manifestBefore, chain.Manifest(t))
	assert.Equal(t, libBefore, chain.Composition(t))
	assert.Empty(t, leftovers(t, chain))
}

func TestExecuteEmptyPlan(t *testing.T) {
	_, p, x := setup(t, nil)
	_, err := x.Execute(context.Background(), p, &plan.Plan{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
