package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/originhash-backend/pkg/redis"
)

const (
	lockScope      = "cron-worker"
	defaultLockTTL = 5 * time.Minute
)

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewRedisLock returns the oh:cron-worker:lock:<env> lock shared by every cron-worker instance.
func NewRedisLock(client *redis.Client, env string, ttl time.Duration) (Lock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if env == "" {
		return nil, errors.New("environment is required for the lock key")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lock, err := client.NewLock(client.LockKey(lockScope, env), ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
