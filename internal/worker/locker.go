package worker

import (
	"context"

	infraRedis "github.com/cassiomorais/payouts/internal/infrastructure/redis"
)

// RedisLocker adapts a Redis locker to Locker.
func RedisLocker(l *infraRedis.Locker) Locker {
	return redisLocker{l}
}

type redisLocker struct {
	l *infraRedis.Locker
}

func (r redisLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	lock, err := r.l.Obtain(ctx, key)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
