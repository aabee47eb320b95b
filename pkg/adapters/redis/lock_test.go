package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier/pkg/adapters/redis"
)

func newLockerFixture(t *testing.T) (*miniredis.Miniredis, *redis.Locker) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewLocker(client, "test:")
}

func TestLockerAcquireAndRelease(t *testing.T) {
	mr, locker := newLockerFixture(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "run-123", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, unlock)
	assert.True(t, mr.Exists("test:lock:run-123"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:run-123"))
}

func TestLockerBlocksASecondHolder(t *testing.T) {
	_, locker := newLockerFixture(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "run-123", 5*time.Second)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "run-123", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))

	unlock2, err := locker.Lock(ctx, "run-123", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestLockerUnlockLeavesAStolenLockAlone(t *testing.T) {
	mr, locker := newLockerFixture(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "run-123", time.Second)
	require.NoError(t, err)

	// Simulate expiry plus re-acquisition by another holder.
	require.NoError(t, mr.Set("test:lock:run-123", "someone-else"))

	require.NoError(t, unlock(ctx))
	got, err := mr.Get("test:lock:run-123")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
