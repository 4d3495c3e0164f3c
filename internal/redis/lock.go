package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("allocation lock not acquired")

// Locker guards the allocation critical section per slot. The lock is
// advisory: correctness is enforced by the conditional updates inside
// the allocation transaction, the lock just keeps concurrent staff
// from burning transactions on a slot that is already being booked.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisAllocationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAllocationLocker creates a locker that uses a per slot Redis key.
func NewRedisAllocationLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisAllocationLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisAllocationLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:allocation:slot:%s", slotID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		// Redis being unreachable is not the same as the lock being
		// held: the conditional updates inside the allocation
		// transaction stay correct without the advisory lock, so run
		// the critical section unlocked rather than failing bookings.
		return l.run(ctx, fn)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	return l.run(ctx, fn)
}

func (l *redisAllocationLocker) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(ctxWithTimeout)
}

// Release only deletes the key when it still holds our token, so an
// expired lock taken over by another caller is never released from here.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisAllocationLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release allocation lock: %w", err)
	}
	return nil
}
