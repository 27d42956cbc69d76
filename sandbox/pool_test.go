package sandbox

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func newTestPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	return NewPool(zaptest.NewLogger(t), PoolConfig{
		Root:     filepath.Join(t.TempDir(), "box"),
		Prefix:   2,
		Capacity: capacity,
	})
}

func TestPoolAcquire(t *testing.T) {
	t.Run("IdentifierShape", func(t *testing.T) {
		pool := newTestPool(t, 3)

		box, ok, err := pool.Acquire()
		require.NoError(t, err)
		require.True(t, ok)

		assert.Regexp(t, `^2\d{3}$`, box.ID)
		assert.Equal(t, filepath.Join(pool.config.Root, box.ID), box.Root)
		assert.Equal(t, filepath.Join(box.Root, "box"), box.BoxDir())
		assert.Equal(t, StateAllocated, box.State())
		assert.Equal(t, 1, pool.InUse())
	})

	t.Run("BusyAtCapacity", func(t *testing.T) {
		pool := newTestPool(t, 2)

		for i := 0; i < 2; i++ {
			_, ok, err := pool.Acquire()
			require.NoError(t, err)
			require.True(t, ok)
		}

		box, ok, err := pool.Acquire()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, box)
	})

	t.Run("ForeignDirectoriesCount", func(t *testing.T) {
		pool := newTestPool(t, 2)
		require.NoError(t, os.MkdirAll(filepath.Join(pool.config.Root, "2123"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(pool.config.Root, "9999"), 0o755))

		_, ok, err := pool.Acquire()
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = pool.Acquire()
		require.NoError(t, err)
		assert.False(t, ok, "the leftover 2123 box occupies a slot")
	})

	t.Run("SkipsExistingDirectories", func(t *testing.T) {
		fixed := time.UnixMilli(0)
		pool := NewPool(zaptest.NewLogger(t), PoolConfig{
			Root:     filepath.Join(t.TempDir(), "box"),
			Prefix:   2,
			Capacity: 999,
		}, WithPoolClock(func() time.Time { return fixed }))

		seen := make(map[string]bool)
		for i := 0; i < 50; i++ {
			box, ok, err := pool.Acquire()
			require.NoError(t, err)
			require.True(t, ok)
			require.False(t, seen[box.ID], "identifier %s handed out twice", box.ID)
			seen[box.ID] = true
			require.NoError(t, os.MkdirAll(box.Root, 0o755))
		}
	})
}

func TestPoolRelease(t *testing.T) {
	pool := newTestPool(t, 1)

	box, ok, err := pool.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, pool.Release(box))
	assert.Equal(t, StateFree, box.State())
	assert.Equal(t, 0, pool.InUse())
	assert.Empty(t, pool.Allocated())

	err = pool.Release(box)
	require.ErrorIs(t, err, ErrBoxNotAllocated)

	_, ok, err = pool.Acquire()
	require.NoError(t, err)
	assert.True(t, ok, "a released slot can be reused")
}

func TestPoolConcurrentAcquireNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	const callers = 40

	pool := newTestPool(t, capacity)

	var granted, busy atomic.Int32
	var mu sync.Mutex
	ids := make(map[string]int)

	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			<-start
			box, ok, err := pool.Acquire()
			if err != nil {
				return err
			}
			if !ok {
				busy.Add(1)
				return nil
			}
			granted.Add(1)
			mu.Lock()
			ids[box.ID]++
			mu.Unlock()
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(capacity), granted.Load())
	assert.Equal(t, int32(callers-capacity), busy.Load())
	assert.Len(t, ids, capacity)
	for id, n := range ids {
		assert.Equal(t, 1, n, "box %s allocated more than once", id)
	}
	assert.Equal(t, capacity, pool.InUse())
}

func TestPoolChurnKeepsInvariant(t *testing.T) {
	const capacity = 3
	pool := newTestPool(t, capacity)

	var maxSeen atomic.Int32
	var current atomic.Int32

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 50; j++ {
				box, ok, err := pool.Acquire()
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				n := current.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				current.Add(-1)
				if err := pool.Release(box); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, maxSeen.Load(), int32(capacity))
	assert.Equal(t, 0, pool.InUse(), "every acquired box was released")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "free", StateFree.String())
	assert.Equal(t, "allocated", StateAllocated.String())
	assert.Equal(t, "cleaning_up", StateCleaningUp.String())
	assert.Equal(t, "unknown(7)", State(7).String())
}
