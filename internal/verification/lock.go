package verification

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/redis"
)

const lockScope = "verification"

// Locker serializes pipeline runs per certificate across instances.
type Locker interface {
	Lock(ctx context.Context, uniqueID string) (unlock func(context.Context), acquired bool, err error)
}

// RedisLocker holds oh:verification:lock:<uniqueId> for the duration of a run.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logg   *logger.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logg *logger.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &RedisLocker{client: client, ttl: ttl, logg: logg}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, uniqueID string) (func(context.Context), bool, error) {
	lock, err := l.client.NewLock(l.client.LockKey(lockScope, uniqueID), l.ttl)
	if err != nil {
		return nil, false, err
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil || !acquired {
		return nil, false, err
	}
	unlock := func(ctx context.Context) {
		if err := lock.Release(ctx); err != nil {
			l.logg.Warn(l.logg.WithField(ctx, "lock_key", lock.Key()), "failed to release verification lock")
		}
	}
	return unlock, true, nil
}
