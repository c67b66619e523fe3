package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/payouts/internal/bootstrap"
	"github.com/cassiomorais/payouts/internal/controller"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	infraRedis "github.com/cassiomorais/payouts/internal/infrastructure/redis"
	"github.com/cassiomorais/payouts/internal/repository/postgres"
	"github.com/cassiomorais/payouts/internal/service"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "payouts-api", "payouts")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}

	// --- Repositories ---
	payoutRepo := postgres.NewPayoutRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	streamProducer := infraRedis.NewStreamProducer(app.Redis)

	// --- Services ---
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

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		PayoutService: payoutService,
		HealthChecks: []controller.HealthCheck{
			{Name: "database", Check: app.Pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }},
		},
		Metrics:     app.Metrics,
		Logger:      app.Logger,
		Server:      app.Config.Server,
		ServiceName: "payouts-api",
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Close(shutdownCtx)
	app.Logger.Info().Msg("Server exited")
}
