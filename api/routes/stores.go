package routes

import (
	"context"
	"time"

	pkgredis "github.com/angelmondragon/originhash-backend/pkg/redis"
)

type rateStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// rateLimitStore and idempotencyStore keep a nil client from turning into a non-nil interface.
func rateLimitStore(client *pkgredis.Client) rateStore {
	if client == nil {
		return nil
	}
	return client
}

func idempotencyStore(client *pkgredis.Client) pkgredis.IdempotencyStore {
	if client == nil {
		return nil
	}
	return client
}
