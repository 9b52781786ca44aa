package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("location lock not acquired")
)

// Locker guards queue assignment per clinic location across API and worker
// instances. It does not replace the database transaction; it lets a second
// caller fail fast instead of queueing on the row locks.
type Locker interface {
	WithLocationLock(ctx context.Context, location string, fn func(ctx context.Context) error) error
}

type redisLocationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocationLocker creates a locker that uses a per location Redis key
func NewRedisLocationLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocationLocker{
		client: client,
		ttl:    ttl,
	}
}

func lockKey(location string) string {
	return fmt.Sprintf("lock:location:%s", location)
}

func (l *redisLocationLocker) WithLocationLock(ctx context.Context, location string, fn func(ctx context.Context) error) error {
	key := lockKey(location)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire location lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocationLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release location lock: %w", err)
	}
	return nil
}
