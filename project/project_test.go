package project_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/subman/errors"
	submantest "github.com/teranos/subman/internal/testing"
	"github.com/teranos/subman/project"
	"github.com/teranos/subman/source/sourcetest"
)

func open(t *testing.T, root string) *project.Project {
	t.Helper()
	p, err := project.Open(root, sourcetest.Config(nil), project.WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	return p
}

func TestOpen(t *testing.T) {
	chain := submantest.NewChain(t)
	p := open(t, chain.Root)

	assert.Equal(t, chain.Root, p.Root())
	assert.Equal(t, chain.ManifestPath(), p.ManifestPath())
	assert.Equal(t, chain.CompositionPath(), p.CompositionPath())
	assert.Equal(t, filepath.Join(chain.Root, "runtime"), p.RuntimeDir())
	assert.Equal(t, filepath.Join(chain.Root, project.LockFileName), p.LockPath())
}

func TestOpenMissingRuntime(t *testing.T) {
	chain := submantest.NewChain(t)
	require.NoError(t, os.Remove(chain.CompositionPath()))

	_, err := project.Open(chain.Root, sourcetest.Config(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Contains(t, errors.FlattenHints(err), "paths.runtime")

	_, err = project.Open(filepath.Join(chain.Root, "nope"), sourcetest.Config(nil))
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = project.Open(chain.Root, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestWithLockSerializes(t *testing.T) {
	chain := submantest.NewChain(t)
	a := open(t, chain.Root)
	b := open(t, chain.Root)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		p := a
		if i%2 == 1 {
			p = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.WithLock(context.Background(), func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestWithLockReleasesOnError(t *testing.T) {
	p := open(t, submantest.NewChain(t).Root)
	boom := errors.New("boom")

	err := p.WithLock(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	// panics must not leave the gate held either
	assert.Panics(t, func() {
		_ = p.WithLock(context.Background(), func(context.Context) error { panic("step failed") })
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ran := false
	require.NoError(t, p.WithLock(ctx, func(context.Context) error { ran = true; return nil }))
	assert.True(t, ran)
}

func TestWithLockCancelled(t *testing.T) {
	p := open(t, submantest.NewChain(t).Root)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.WithLock(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.WithLock(ctx, func(context.Context) error {
		t.Error("must not run while the lock is held")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
}
