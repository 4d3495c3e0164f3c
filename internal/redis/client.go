package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxLockIOTimeout = 2 * time.Second

// NewLockClient connects the client backing the allocation locker,
// which is the only thing this service uses redis for. Read and write
// deadlines are derived from the lock TTL so a slow redis cannot stall
// an allocation for longer than the lock it guards, and the pool stays
// small because only the booking path touches it.
func NewLockClient(addr, username, password string, lockTTL time.Duration) (*redis.Client, error) {
	timeout := lockIOTimeout(lockTTL)

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// lockIOTimeout is half the lock TTL, capped so a generous TTL does
// not translate into multi-second blocking on the booking path.
func lockIOTimeout(lockTTL time.Duration) time.Duration {
	timeout := lockTTL / 2
	if timeout <= 0 || timeout > maxLockIOTimeout {
		timeout = maxLockIOTimeout
	}
	return timeout
}
