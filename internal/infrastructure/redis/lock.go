package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// Only the owner token may release or extend a lock.
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Locker hands out per-payout locks so two workers never submit the same
// payout concurrently.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Obtain takes the lock for key or returns ErrLockAcquisitionFailed when
// another owner holds it.
func (l *Locker) Obtain(ctx context.Context, key string) (*Lock, error) {
	lock := &Lock{
		client: l.client,
		key:    "lock:" + key,
		token:  uuid.NewString(),
		ttl:    l.ttl,
	}

	ok, err := l.client.SetNX(ctx, lock.key, lock.token, lock.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrLockAcquisitionFailed, key)
	}
	return lock, nil
}

// Lock is a held Redis lock.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Key returns the Redis key backing the lock.
func (l *Lock) Key() string { return l.key }

// Extend pushes the expiry out by ttl.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}
