package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a coarse redis mutex for scheduled jobs that must not run
// concurrently across workers. With no redis client configured every
// acquisition succeeds, which is the single-process behavior.
type Lock struct {
	client *redis.Client
}

// NewLock instantiates the lock helper.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client}
}

// Acquire attempts to take the named lock for ttl. It reports false when
// another holder already owns the key.
func (l *Lock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops the named lock. Releasing a lock that expired is a no-op.
func (l *Lock) Release(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, key).Err()
}
