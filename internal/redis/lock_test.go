package redisclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisAllocationLocker(client, 5*time.Second)
}

func TestWithSlotLock_RunsFnAndReleases(t *testing.T) {
	mr, locker := newTestLocker(t)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:allocation:slot:%s", slotID)

	called := false
	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists(key))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists(key), "lock key must be gone after the critical section")
}

func TestWithSlotLock_HeldLockRejectsSecondCaller(t *testing.T) {
	mr, locker := newTestLocker(t)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:allocation:slot:%s", slotID)

	require.NoError(t, mr.Set(key, "someone-else"))

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		t.Fatal("critical section must not run when the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// The foreign token survives the failed attempt.
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithSlotLock_ReleaseAllowsReacquire(t *testing.T) {
	_, locker := newTestLocker(t)
	slotID := uuid.New()

	require.NoError(t, locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		return nil
	}))
	require.NoError(t, locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		return nil
	}))
}

func TestWithSlotLock_FnErrorStillReleases(t *testing.T) {
	mr, locker := newTestLocker(t)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:allocation:slot:%s", slotID)

	boom := errors.New("allocation failed")
	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestWithSlotLock_RedisDownRunsUnlocked(t *testing.T) {
	// An unreachable redis must not block bookings: acquisition errors
	// degrade to running the critical section without the advisory
	// lock. Only an actually-held lock rejects the caller.
	mr, locker := newTestLocker(t)
	mr.Close()

	called := false
	err := locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithSlotLock_LocksAreSlotScoped(t *testing.T) {
	mr, locker := newTestLocker(t)

	held := uuid.New()
	free := uuid.New()
	require.NoError(t, mr.Set(fmt.Sprintf("lock:allocation:slot:%s", held), "someone-else"))

	err := locker.WithSlotLock(context.Background(), free, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "a lock on one slot must not block another slot")
}
