package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/payouts/internal/infrastructure/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NewPool connects to PostgreSQL and verifies the connection. Queries slower
// than cfg.SlowQueryThreshold are logged when the threshold is positive.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	if cfg.SlowQueryThreshold > 0 {
		poolConfig.ConnConfig.Tracer = &slowQueryTracer{
			threshold: cfg.SlowQueryThreshold,
			logger:    logger.With().Str("component", "postgres").Logger(),
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// slowQueryTracer implements pgx.QueryTracer.
type slowQueryTracer struct {
	threshold time.Duration
	logger    zerolog.Logger
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: time.Now()})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.at)
	if elapsed < t.threshold {
		return
	}
	t.logger.Warn().
		Err(data.Err).
		Dur("elapsed", elapsed).
		Str("sql", start.sql).
		Msg("Slow query")
}
