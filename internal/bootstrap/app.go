package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/payouts/internal/infrastructure/config"
	"github.com/cassiomorais/payouts/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payouts/internal/infrastructure/redis"
	"github.com/cassiomorais/payouts/internal/providers"
	"github.com/cassiomorais/payouts/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the dependencies shared by the API and the worker.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Providers *providers.Factory

	shutdownTracer observability.ShutdownFunc
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.ForComponent(
		observability.InitLogger(cfg.Observability.LogLevel, os.Stdout),
		serviceName,
		cfg.InstanceID,
	)
	logger.Info().Str("provider", cfg.Provider.Name).Msg("Starting")

	shutdownTracer, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint, cfg.Observability.EnableTracing)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		shutdownTracer = func(context.Context) error { return nil }
	} else if cfg.Observability.EnableTracing {
		logger.Info().Str("endpoint", cfg.Observability.JaegerEndpoint).Msg("Tracing enabled")
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	factory, err := NewProviderFactory(cfg.Provider, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("configure provider: %w", err)
	}

	pool, err := postgres.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:         cfg,
		Logger:         logger,
		Pool:           pool,
		Redis:          redisClient,
		Metrics:        metrics,
		Providers:      factory,
		shutdownTracer: shutdownTracer,
	}, nil
}

// Close flushes pending spans and closes the connections.
func (a *App) Close(ctx context.Context) {
	if err := a.shutdownTracer(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	a.Redis.Close()
	a.Pool.Close()
}
