// SPDX-License-Identifier: MIT

package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mextic/recargas/internal/metrics"
)

func newRedisManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewManager(NewRedisStoreFromClient(client))
}

func TestRedisAcquireAndRelease(t *testing.T) {
	_, m := newRedisManager(t)
	ctx := context.Background()
	key := KeyFor("gps")

	res := m.Acquire(ctx, key, time.Minute)
	require.True(t, res.Acquired)
	assert.Equal(t, "redis", res.Provider)

	held, age, err := m.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)
	assert.GreaterOrEqual(t, age, time.Duration(0))

	require.NoError(t, m.Release(ctx, key))
	held, _, err = m.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held)

	// Release is idempotent.
	require.NoError(t, m.Release(ctx, key))
}

func TestRedisConflictReportsExistingOwner(t *testing.T) {
	mr, m1 := newRedisManager(t)
	client2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client2.Close() })
	m2 := NewManager(NewRedisStoreFromClient(client2))

	ctx := context.Background()
	key := KeyFor("voz")

	require.True(t, m1.Acquire(ctx, key, time.Minute).Acquired)

	res := m2.Acquire(ctx, key, time.Minute)
	require.False(t, res.Acquired)
	assert.Equal(t, ReasonExists, res.Reason)
	require.NotNil(t, res.ExistingOwner)
	assert.Equal(t, m1.HolderID(), res.ExistingOwner.HolderID)
}

func TestRedisReleaseChecksHolder(t *testing.T) {
	mr, m1 := newRedisManager(t)
	client2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client2.Close() })
	m2 := NewManager(NewRedisStoreFromClient(client2))

	ctx := context.Background()
	key := KeyFor("eliot")
	require.True(t, m1.Acquire(ctx, key, time.Minute).Acquired)

	// A non-holder release must not free the lock.
	require.NoError(t, m2.Release(ctx, key))
	held, _, err := m1.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRedisTTLExpiryFreesLock(t *testing.T) {
	mr, m := newRedisManager(t)
	ctx := context.Background()
	key := KeyFor("gps")

	require.True(t, m.Acquire(ctx, key, 2*time.Second).Acquired)
	mr.FastForward(3 * time.Second)

	res := m.Acquire(ctx, key, time.Minute)
	assert.True(t, res.Acquired)
}

func TestRedisParallelAcquireSingleWinner(t *testing.T) {
	mr, _ := newRedisManager(t)
	ctx := context.Background()
	key := KeyFor("gps")

	const contenders = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			defer client.Close()
			m := NewManager(NewRedisStoreFromClient(client))
			if m.Acquire(ctx, key, time.Minute).Acquired {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestAcquireCountsOutcomePerLockKey(t *testing.T) {
	_, m := newRedisManager(t)
	ctx := context.Background()
	key := KeyFor("gps")

	acquired := metrics.LockAcquisitions.WithLabelValues(key, "acquired")
	exists := metrics.LockAcquisitions.WithLabelValues(key, ReasonExists)
	acquiredBefore := testutil.ToFloat64(acquired)
	existsBefore := testutil.ToFloat64(exists)

	require.True(t, m.Acquire(ctx, key, time.Minute).Acquired)
	require.False(t, m.Acquire(ctx, key, time.Minute).Acquired)

	assert.Equal(t, acquiredBefore+1, testutil.ToFloat64(acquired))
	assert.Equal(t, existsBefore+1, testutil.ToFloat64(exists))
}

func TestRedisReleaseAll(t *testing.T) {
	_, m := newRedisManager(t)
	ctx := context.Background()

	require.True(t, m.Acquire(ctx, KeyFor("gps"), time.Minute).Acquired)
	require.True(t, m.Acquire(ctx, KeyFor("voz"), time.Minute).Acquired)

	n, err := m.ReleaseAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	held, _, err := m.IsHeld(ctx, KeyFor("gps"))
	require.NoError(t, err)
	assert.False(t, held)
}
