//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/testutil"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("payouts"),
		tcpostgres.WithUsername("payouts"),
		tcpostgres.WithPassword("payouts"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate: %v", err)
	}
	m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPayoutRepository_Integration(t *testing.T) {
	pool := setupDatabase(t)
	repo := NewPayoutRepository(pool)
	txManager := NewTxManager(pool)
	ctx := context.Background()

	p := testutil.NewTestPayout(3)
	p.Recipients[1].UniqueID = "u-1"
	p.Recipients[2].Note = "thanks"
	require.NoError(t, repo.Create(ctx, p))

	t.Run("duplicate idempotency key", func(t *testing.T) {
		dup := testutil.NewTestPayout(1)
		dup.IdempotencyKey = p.IdempotencyKey
		assert.ErrorIs(t, repo.Create(ctx, dup), domainErrors.ErrDuplicateIdempotencyKey)
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := repo.GetByIdempotencyKey(ctx, p.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		require.Len(t, got.Recipients, 3)
		assert.Equal(t, "u-1", got.Recipients[1].UniqueID)
		assert.Equal(t, "thanks", got.Recipients[2].Note)
		assert.True(t, p.Total().Equal(got.Total()))
	})

	t.Run("update inside transaction", func(t *testing.T) {
		err := txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			got, err := repo.GetByID(txCtx, p.ID)
			if err != nil {
				return err
			}
			if err := got.MarkSubmitted(); err != nil {
				return err
			}
			got.RecordChunk("corr-1", 2)
			return repo.Update(txCtx, got)
		})
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, payout.StatusSubmitted, got.Status)
		assert.Equal(t, []string{"corr-1"}, got.CorrelationIDs)
		assert.Equal(t, 2, got.SubmittedRecipients)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("rollback discards changes", func(t *testing.T) {
		boom := errors.New("boom")
		err := txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			got, err := repo.GetByID(txCtx, p.ID)
			if err != nil {
				return err
			}
			got.RecordChunk("corr-2", 1)
			if err := repo.Update(txCtx, got); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"corr-1"}, got.CorrelationIDs)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		first, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		second, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)

		require.NoError(t, first.MarkFailed("provider unavailable"))
		require.NoError(t, repo.Update(ctx, first))

		second.RecordChunk("corr-3", 1)
		assert.ErrorIs(t, repo.Update(ctx, second), domainErrors.ErrOptimisticLockFailed)

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, payout.StatusFailed, got.Status)
		assert.Equal(t, []string{"corr-1"}, got.CorrelationIDs)
	})

	t.Run("list filters", func(t *testing.T) {
		failed := testutil.NewFailedPayout(1, 1)
		require.NoError(t, repo.Create(ctx, failed))

		status := payout.StatusFailed
		got, err := repo.List(ctx, payout.ListFilter{Status: &status})
		require.NoError(t, err)
		require.Len(t, got, 2)

		before := time.Now().Add(time.Hour)
		got, err = repo.List(ctx, payout.ListFilter{UpdatedBefore: &before, SortBy: "created_at", SortOrder: "asc"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("missing payout", func(t *testing.T) {
		missing := testutil.NewTestPayout(1)
		_, err := repo.GetByID(ctx, missing.ID)
		assert.ErrorIs(t, err, domainErrors.ErrPayoutNotFound)
		assert.ErrorIs(t, repo.Update(ctx, missing), domainErrors.ErrPayoutNotFound)
	})
}
