package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/payouts/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis, pinging with a linear backoff until the
// server answers or cfg.ConnectRetries attempts are spent.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * delay):
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", attempts, err)
}
