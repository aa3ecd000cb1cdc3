package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stagingerrors "github.com/stagefs/stagefs/pkg/staging/errors"
	"github.com/stagefs/stagefs/pkg/staging/lock"
	"github.com/stagefs/stagefs/pkg/staging/resource"
	"github.com/stagefs/stagefs/pkg/state"
	"github.com/stagefs/stagefs/pkg/state/badger"
)

func newTestManager(t *testing.T) (*lock.Manager, *badger.Store) {
	t.Helper()

	store, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	manager := lock.NewManager(store, lock.Config{
		TTL:            time.Hour,
		AcquireTimeout: 150 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, nil)
	return manager, store
}

func mustPath(t *testing.T, raw string) resource.Path {
	t.Helper()
	p, err := resource.ParseDir(raw)
	require.NoError(t, err)
	return p
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)
	path := mustPath(t, "data/set1")

	guard, err := manager.Acquire(ctx, "dig-2031", path)
	require.NoError(t, err)
	assert.NotEmpty(t, guard.LeaseID)
	assert.NotEmpty(t, guard.Holder)
	assert.True(t, guard.ExpiresAt.After(time.Now()))

	// The same subtree is busy for everyone else.
	_, err = manager.Acquire(ctx, "dig-2031", path)
	assert.True(t, stagingerrors.IsLockTimeout(err))

	require.NoError(t, manager.Release(ctx, guard))

	// Released means available again.
	guard2, err := manager.Acquire(ctx, "dig-2031", path)
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, guard2))
}

func TestAcquirePrefixConflicts(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	guard, err := manager.Acquire(ctx, "dig-2031", mustPath(t, "data/set1"))
	require.NoError(t, err)
	defer manager.Release(ctx, guard) //nolint:errcheck

	// Descendants and ancestors are blocked.
	_, err = manager.Acquire(ctx, "dig-2031", mustPath(t, "data/set1/scan-001.tiff"))
	assert.True(t, stagingerrors.IsLockTimeout(err))
	_, err = manager.Acquire(ctx, "dig-2031", mustPath(t, "data"))
	assert.True(t, stagingerrors.IsLockTimeout(err))

	// Siblings and other projects are not.
	sibling, err := manager.Acquire(ctx, "dig-2031", mustPath(t, "data/set2"))
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, sibling))

	other, err := manager.Acquire(ctx, "dig-2032", mustPath(t, "data/set1"))
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, other))
}

func TestAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)
	path := mustPath(t, "incoming/batch.zip")

	guard, err := manager.Acquire(ctx, "dig-2031", path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(40 * time.Millisecond)
		_ = manager.Release(ctx, guard)
	}()

	// The release lands inside the acquire window, so this succeeds
	// instead of timing out.
	guard2, err := manager.Acquire(ctx, "dig-2031", path)
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, manager.Release(ctx, guard2))
}

func TestTryAcquireDoesNotWait(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)
	path := mustPath(t, "data")

	guard, err := manager.TryAcquire(ctx, "dig-2031", path)
	require.NoError(t, err)
	defer manager.Release(ctx, guard) //nolint:errcheck

	start := time.Now()
	_, err = manager.TryAcquire(ctx, "dig-2031", path)
	assert.True(t, stagingerrors.IsLockTimeout(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRenewExtendsLease(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	guard, err := manager.Acquire(ctx, "dig-2031", mustPath(t, "data/set1"))
	require.NoError(t, err)
	defer manager.Release(ctx, guard) //nolint:errcheck

	before := guard.ExpiresAt
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, manager.Renew(ctx, guard))
	assert.True(t, guard.ExpiresAt.After(before))
}

func TestRenewLostLease(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t)

	guard, err := manager.Acquire(ctx, "dig-2031", mustPath(t, "data/set1"))
	require.NoError(t, err)

	// The lease vanishes behind the holder's back, as if reclaimed after
	// expiry.
	require.NoError(t, store.Release(ctx, guard.LeaseID, guard.Holder))

	err = manager.Renew(ctx, guard)
	assert.True(t, stagingerrors.IsLockLost(err))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	guard, err := manager.Acquire(ctx, "dig-2031", mustPath(t, "data/set1"))
	require.NoError(t, err)

	require.NoError(t, manager.Release(ctx, guard))
	require.NoError(t, manager.Release(ctx, guard))
}

func TestAcquireHonorsContext(t *testing.T) {
	manager, _ := newTestManager(t)
	path := mustPath(t, "data")

	guard, err := manager.Acquire(context.Background(), "dig-2031", path)
	require.NoError(t, err)
	defer manager.Release(context.Background(), guard) //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = manager.Acquire(ctx, "dig-2031", path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t)

	// Plant an already-dead lease directly in the store.
	now := time.Now()
	require.NoError(t, store.TryAcquire(ctx, state.Lease{
		ID:         "stale",
		Project:    "dig-2031",
		Path:       "data/old",
		Holder:     "op-crashed",
		AcquiredAt: now.Add(-2 * time.Hour),
		ExpiresAt:  now.Add(-time.Hour),
	}))

	n, err := manager.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	leases, err := manager.List(ctx, "dig-2031")
	require.NoError(t, err)
	assert.Empty(t, leases)
}
