package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = errors.New("platform/cache: lock held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLock is a single-key mutual exclusion lock in Redis.
type RunLock struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRunLock constructs a lock helper. Keys are namespaced by prefix.
func NewRunLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if prefix == "" {
		prefix = "u4bridge:lock:"
	}
	return &RunLock{client: client, prefix: prefix, ttl: ttl}
}

// Acquire takes the lock for key. The returned release func only deletes the
// key while this holder still owns it.
func (l *RunLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("platform/cache: lock not initialised")
	}
	fullKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("platform/cache: release %s: %w", key, err)
		}
		return nil
	}, nil
}
