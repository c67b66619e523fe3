package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/payouts/internal/bootstrap"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	infraRedis "github.com/cassiomorais/payouts/internal/infrastructure/redis"
	"github.com/cassiomorais/payouts/internal/repository/postgres"
	"github.com/cassiomorais/payouts/internal/service"
	"github.com/cassiomorais/payouts/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payouts-worker", "payouts_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		app.Close(closeCtx)
	}()

	// --- Repositories ---
	payoutRepo := postgres.NewPayoutRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	streamProducer := infraRedis.NewStreamProducer(app.Redis)

	payoutService := service.NewPayoutService(
		payoutRepo,
		txManager,
		app.Providers,
		streamProducer,
		app.Logger,
		service.WithMetrics(app.Metrics),
		service.WithChunkSize(app.Config.Payout.ChunkSize),
		service.WithMaxRetries(app.Config.Payout.MaxRetries),
		service.WithDefaultProvider(payout.Provider(app.Config.Provider.Name)),
	)

	// --- Payout stream consumer ---
	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.PayoutStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create consumer group")
	}

	processor := worker.NewProcessor(
		worker.Config{
			Stream:            infraRedis.PayoutStream,
			LockTTL:           app.Config.Payout.LockTTL,
			ProcessingTimeout: app.Config.Payout.ProcessingTimeout,
			SweepInterval:     workerCfg.SweepInterval,
			StaleAfter:        workerCfg.StaleAfter,
			ReclaimIdle:       workerCfg.ReclaimIdle,
			SweepLimit:        workerCfg.SweepLimit,
		},
		consumer,
		worker.RedisLocker(infraRedis.NewLocker(app.Redis, app.Config.Payout.LockTTL)),
		payoutService,
		streamProducer,
		app.Metrics,
		app.Logger,
	)

	app.Logger.Info().
		Str("stream", infraRedis.PayoutStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Payout processor (reads from the submission stream).
	g.Go(func() error {
		return processor.Run(gCtx)
	})

	// 2. Sweeper (requeues stale payouts and reclaims idle messages).
	g.Go(func() error {
		return processor.RunSweeper(gCtx)
	})

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
