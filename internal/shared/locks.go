package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained is returned when another request holds the lock.
var ErrLockNotObtained = errors.New("lock held by another request")

// PurchaseOrderLockKey builds redis keys for purchase order critical sections.
func PurchaseOrderLockKey(tenantID, poID uuid.UUID) string {
	return fmt.Sprintf("procurement:tenant:%s:po:%s:lock", tenantID, poID)
}

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// RedisLocker hands out short-lived distributed locks.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisLocker builds a locker that retries for roughly ttl before giving up.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		locker: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(ttl/(50*time.Millisecond))),
	}
}

// Obtain acquires key or returns ErrLockNotObtained.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (Unlock, error) {
	lock, err := l.locker.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
