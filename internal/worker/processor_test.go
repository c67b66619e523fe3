package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payouts/internal/infrastructure/redis"
	"github.com/cassiomorais/payouts/internal/testutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	mu        sync.Mutex
	acked     []string
	reclaimed []infraRedis.StreamMessage
}

func (c *fakeConsumer) Read(ctx context.Context) ([]infraRedis.StreamMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConsumer) ReclaimStale(ctx context.Context, minIdle time.Duration) ([]infraRedis.StreamMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.reclaimed
	c.reclaimed = nil
	return out, nil
}

func (c *fakeConsumer) Ack(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, id)
	return nil
}

func (c *fakeConsumer) Acked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.acked...)
}

type fakeLock struct {
	mu       sync.Mutex
	extended int
	released bool
}

func (l *fakeLock) Extend(ctx context.Context, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extended++
	return nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

type fakeLocker struct {
	err   error
	locks []*fakeLock
}

func (f *fakeLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	l := &fakeLock{}
	f.locks = append(f.locks, l)
	return l, nil
}

type fakeSubmitter struct {
	submit    func(ctx context.Context, id uuid.UUID) (*payout.Payout, error)
	retryErr  error
	retried   []uuid.UUID
	requeued  int
	submitted []uuid.UUID
}

func (f *fakeSubmitter) SubmitPayout(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
	f.submitted = append(f.submitted, id)
	return f.submit(ctx, id)
}

func (f *fakeSubmitter) RetryPayout(ctx context.Context, p *payout.Payout) error {
	f.retried = append(f.retried, p.ID)
	return f.retryErr
}

func (f *fakeSubmitter) RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	return f.requeued, nil
}

type dlqEntry struct{ payoutID, reason string }

type fakeDLQ struct {
	entries []dlqEntry
}

func (f *fakeDLQ) PublishToDLQ(ctx context.Context, payoutID, reason string) error {
	f.entries = append(f.entries, dlqEntry{payoutID, reason})
	return nil
}

type processorEnv struct {
	proc      *Processor
	consumer  *fakeConsumer
	locker    *fakeLocker
	submitter *fakeSubmitter
	dlq       *fakeDLQ
	metrics   *observability.Metrics
}

func setupProcessor(submit func(ctx context.Context, id uuid.UUID) (*payout.Payout, error)) *processorEnv {
	env := &processorEnv{
		consumer:  &fakeConsumer{},
		locker:    &fakeLocker{},
		submitter: &fakeSubmitter{submit: submit},
		dlq:       &fakeDLQ{},
		metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	env.proc = NewProcessor(
		Config{LockTTL: time.Minute, ProcessingTimeout: time.Second, SweepInterval: time.Minute},
		env.consumer, env.locker, env.submitter, env.dlq, env.metrics, zerolog.Nop(),
	)
	return env
}

func (e *processorEnv) processed(outcome string) float64 {
	return promtest.ToFloat64(e.metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.PayoutStream, outcome))
}

func message(id string) infraRedis.StreamMessage {
	return infraRedis.StreamMessage{ID: "1-0", PayoutID: id, EventType: infraRedis.EventPayoutCreated}
}

func withStatus(status payout.Status, retries int) *payout.Payout {
	p := testutil.NewTestPayout(1)
	p.Status = status
	p.RetryCount = retries
	return p
}

func TestHandle_Completed(t *testing.T) {
	p := withStatus(payout.StatusCompleted, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, nil
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	assert.Equal(t, []uuid.UUID{p.ID}, env.submitter.submitted)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
	require.Len(t, env.locker.locks, 1)
	assert.True(t, env.locker.locks[0].released)
	assert.Equal(t, float64(1), env.processed(outcomeCompleted))
}

func TestHandle_SkippedPayoutIsAcked(t *testing.T) {
	p := withStatus(payout.StatusCancelled, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, nil
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
	assert.Equal(t, float64(1), env.processed(outcomeSkipped))
}

func TestHandle_InvalidPayoutID(t *testing.T) {
	env := setupProcessor(nil)

	env.proc.Handle(context.Background(), message("not-a-uuid"))

	assert.Empty(t, env.submitter.submitted)
	assert.Equal(t, []dlqEntry{{"not-a-uuid", "invalid payout id"}}, env.dlq.entries)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
}

func TestHandle_LockHeldLeavesMessagePending(t *testing.T) {
	env := setupProcessor(nil)
	env.locker.err = fmt.Errorf("%w: payout:x", domainErrors.ErrLockAcquisitionFailed)

	env.proc.Handle(context.Background(), message(uuid.NewString()))

	assert.Empty(t, env.submitter.submitted)
	assert.Empty(t, env.consumer.Acked())
	assert.Equal(t, float64(1), env.processed(outcomeLocked))
}

func TestHandle_TransientFailureSchedulesRetry(t *testing.T) {
	p := withStatus(payout.StatusFailed, 1)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, domainErrors.ErrProviderUnavailable
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	assert.Equal(t, []uuid.UUID{p.ID}, env.submitter.retried)
	assert.Empty(t, env.dlq.entries)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
	assert.Equal(t, float64(1), env.processed(outcomeRetry))
}

func TestHandle_RejectedGoesToDLQ(t *testing.T) {
	p := withStatus(payout.StatusFailed, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, fmt.Errorf("chunk 1 of 1: %w", domainErrors.ErrProviderRejected)
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	assert.Empty(t, env.submitter.retried)
	require.Len(t, env.dlq.entries, 1)
	assert.Contains(t, env.dlq.entries[0].reason, "rejected")
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
}

func TestHandle_RetriesExhaustedGoesToDLQ(t *testing.T) {
	p := withStatus(payout.StatusFailed, 3)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, domainErrors.ErrMaxRetriesExceeded
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	assert.Empty(t, env.submitter.retried)
	require.Len(t, env.dlq.entries, 1)
	assert.Equal(t, p.ID.String(), env.dlq.entries[0].payoutID)
	assert.Equal(t, float64(1), env.processed(outcomeDeadLetter))
}

func TestHandle_MissingPayoutGoesToDLQ(t *testing.T) {
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return nil, fmt.Errorf("load payout: %w", domainErrors.ErrPayoutNotFound)
	})

	env.proc.Handle(context.Background(), message(uuid.NewString()))

	assert.Len(t, env.dlq.entries, 1)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
}

func TestHandle_ConcurrentChangeIsAcked(t *testing.T) {
	p := withStatus(payout.StatusSubmitted, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, fmt.Errorf("claim payout: %w", domainErrors.ErrOptimisticLockFailed)
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	assert.Empty(t, env.dlq.entries)
	assert.Empty(t, env.submitter.retried)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
	assert.Equal(t, float64(1), env.processed(outcomeSkipped))
}

func TestHandle_UnknownOutcomeGoesToDLQ(t *testing.T) {
	p := withStatus(payout.StatusSubmitted, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, fmt.Errorf("chunk 1 of 1: %w", domainErrors.ErrProviderOutcomeUnknown)
	})

	env.proc.Handle(context.Background(), message(p.ID.String()))

	require.Len(t, env.dlq.entries, 1)
	assert.Contains(t, env.dlq.entries[0].reason, "reconcile")
	assert.Empty(t, env.submitter.retried)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
}

func TestHandle_StorageErrorLeavesMessagePending(t *testing.T) {
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return nil, errors.New("connection refused")
	})

	env.proc.Handle(context.Background(), message(uuid.NewString()))

	assert.Empty(t, env.dlq.entries)
	assert.Empty(t, env.consumer.Acked())
	require.Len(t, env.locker.locks, 1)
	assert.True(t, env.locker.locks[0].released)
	assert.Equal(t, float64(1), env.processed(outcomeError))
}

func TestHandle_ExtendsLockDuringLongSubmission(t *testing.T) {
	p := withStatus(payout.StatusCompleted, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		time.Sleep(60 * time.Millisecond)
		return p, nil
	})
	env.proc.cfg.LockTTL = 20 * time.Millisecond

	env.proc.Handle(context.Background(), message(p.ID.String()))

	require.Len(t, env.locker.locks, 1)
	lock := env.locker.locks[0]
	lock.mu.Lock()
	defer lock.mu.Unlock()
	assert.GreaterOrEqual(t, lock.extended, 1)
	assert.True(t, lock.released)
}

func TestSweep_HandlesReclaimedMessages(t *testing.T) {
	p := withStatus(payout.StatusCompleted, 0)
	env := setupProcessor(func(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
		return p, nil
	})
	env.submitter.requeued = 2
	env.consumer.reclaimed = []infraRedis.StreamMessage{message(p.ID.String())}

	env.proc.Sweep(context.Background())

	assert.Equal(t, []uuid.UUID{p.ID}, env.submitter.submitted)
	assert.Equal(t, []string{"1-0"}, env.consumer.Acked())
}

func TestRun_StopsOnCancel(t *testing.T) {
	env := setupProcessor(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.proc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}
