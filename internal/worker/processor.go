// Package worker consumes payout events from the submission stream and drives
// each payout through its provider.
package worker

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payouts/internal/infrastructure/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message outcomes, used as the status label of processed-message metrics.
const (
	outcomeCompleted  = "completed"
	outcomeSkipped    = "skipped"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "dead_letter"
	outcomeLocked     = "locked"
	outcomeError      = "error"
)

type Consumer interface {
	Read(ctx context.Context) ([]infraRedis.StreamMessage, error)
	ReclaimStale(ctx context.Context, minIdle time.Duration) ([]infraRedis.StreamMessage, error)
	Ack(ctx context.Context, messageID string) error
}

type Lock interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// PayoutSubmitter is the part of the payout service the worker drives.
type PayoutSubmitter interface {
	SubmitPayout(ctx context.Context, id uuid.UUID) (*payout.Payout, error)
	RetryPayout(ctx context.Context, p *payout.Payout) error
	RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, payoutID, reason string) error
}

type Config struct {
	Stream            string
	LockTTL           time.Duration
	ProcessingTimeout time.Duration
	SweepInterval     time.Duration
	StaleAfter        time.Duration
	ReclaimIdle       time.Duration
	SweepLimit        int
}

// Processor handles one stream message at a time. Several processors may share
// a consumer group; the per-payout lock keeps them off the same payout.
type Processor struct {
	cfg      Config
	consumer Consumer
	locker   Locker
	payouts  PayoutSubmitter
	dlq      DeadLetterPublisher
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewProcessor(
	cfg Config,
	consumer Consumer,
	locker Locker,
	payouts PayoutSubmitter,
	dlq DeadLetterPublisher,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	if cfg.Stream == "" {
		cfg.Stream = infraRedis.PayoutStream
	}
	return &Processor{
		cfg:      cfg,
		consumer: consumer,
		locker:   locker,
		payouts:  payouts,
		dlq:      dlq,
		metrics:  metrics,
		logger:   logger.With().Str("stream", cfg.Stream).Logger(),
	}
}

// Run reads and handles messages until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error().Err(err).Msg("Failed to read from stream")
			sleep(ctx, time.Second)
			continue
		}

		for _, msg := range msgs {
			p.Handle(ctx, msg)
		}
	}
}

// RunSweeper periodically re-enqueues payouts whose event was lost and takes
// over stream entries left unacknowledged by a dead consumer.
func (p *Processor) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		p.Sweep(ctx)
	}
}

// Sweep runs one recovery pass.
func (p *Processor) Sweep(ctx context.Context) {
	n, err := p.payouts.RequeueStale(ctx, p.cfg.StaleAfter, p.cfg.SweepLimit)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to requeue stale payouts")
	} else if n > 0 {
		p.logger.Info().Int("count", n).Msg("Requeued stale payouts")
	}

	msgs, err := p.consumer.ReclaimStale(ctx, p.cfg.ReclaimIdle)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to reclaim idle messages")
		return
	}
	for _, msg := range msgs {
		p.logger.Info().Str("message_id", msg.ID).Str("payout_id", msg.PayoutID).Msg("Reclaimed idle message")
		p.Handle(ctx, msg)
	}
}

// Handle processes one message. Messages are acknowledged once their payout
// reached an outcome; lock contention and storage errors leave them pending
// so the sweeper can pick them up again.
func (p *Processor) Handle(ctx context.Context, msg infraRedis.StreamMessage) {
	start := time.Now()
	outcome := p.handle(ctx, msg)

	if p.metrics != nil {
		p.metrics.WorkerMessagesProcessed.WithLabelValues(p.cfg.Stream, outcome).Inc()
		p.metrics.WorkerProcessingDuration.WithLabelValues(p.cfg.Stream).Observe(time.Since(start).Seconds())
	}

	if outcome == outcomeLocked || outcome == outcomeError {
		return
	}
	if err := p.consumer.Ack(ctx, msg.ID); err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
	}
}

func (p *Processor) handle(ctx context.Context, msg infraRedis.StreamMessage) string {
	logger := p.logger.With().Str("message_id", msg.ID).Str("payout_id", msg.PayoutID).Logger()

	id, err := uuid.Parse(msg.PayoutID)
	if err != nil {
		logger.Error().Msg("Invalid payout ID in stream message")
		p.deadLetter(ctx, logger, msg.PayoutID, "invalid payout id")
		return outcomeDeadLetter
	}

	lock, err := p.locker.Obtain(ctx, "payout:"+id.String())
	if err != nil {
		if errors.Is(err, domainErrors.ErrLockAcquisitionFailed) {
			logger.Debug().Msg("Payout locked by another worker, skipping")
			return outcomeLocked
		}
		logger.Error().Err(err).Msg("Failed to obtain payout lock")
		return outcomeError
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to release payout lock")
		}
	}()

	procCtx, cancel := context.WithTimeout(ctx, p.processingTimeout())
	defer cancel()
	go p.keepAlive(procCtx, lock, logger)

	logger.Info().Str("event", msg.EventType).Msg("Processing payout")
	po, err := p.payouts.SubmitPayout(procCtx, id)
	switch {
	case err == nil && po.Status == payout.StatusCompleted:
		return outcomeCompleted
	case err == nil:
		return outcomeSkipped
	case po == nil:
		if errors.Is(err, domainErrors.ErrPayoutNotFound) {
			p.deadLetter(ctx, logger, msg.PayoutID, err.Error())
			return outcomeDeadLetter
		}
		logger.Error().Err(err).Msg("Failed to load payout")
		return outcomeError
	}

	if errors.Is(err, domainErrors.ErrOptimisticLockFailed) {
		// Cancelled or claimed elsewhere since it was read; nothing was sent.
		logger.Info().Err(err).Msg("Payout changed concurrently, skipping")
		return outcomeSkipped
	}
	if errors.Is(err, domainErrors.ErrProviderOutcomeUnknown) {
		p.deadLetter(ctx, logger, msg.PayoutID, "reconcile: "+err.Error())
		return outcomeDeadLetter
	}
	if errors.Is(err, domainErrors.ErrProviderRejected) || !po.CanRetry() {
		p.deadLetter(ctx, logger, msg.PayoutID, err.Error())
		return outcomeDeadLetter
	}

	if retryErr := p.payouts.RetryPayout(ctx, po); retryErr != nil {
		// The payout stays failed; the next event for it resumes where it stopped.
		logger.Error().Err(retryErr).Msg("Failed to schedule payout retry")
		return outcomeError
	}
	logger.Warn().Err(err).Int("retry_count", po.RetryCount).Msg("Payout failed, retry scheduled")
	return outcomeRetry
}

// keepAlive extends the lock at half its TTL until ctx ends.
func (p *Processor) keepAlive(ctx context.Context, lock Lock, logger zerolog.Logger) {
	if p.cfg.LockTTL <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.LockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, p.cfg.LockTTL); err != nil {
				if ctx.Err() == nil {
					logger.Warn().Err(err).Msg("Failed to extend payout lock")
				}
				return
			}
		}
	}
}

func (p *Processor) deadLetter(ctx context.Context, logger zerolog.Logger, payoutID, reason string) {
	if err := p.dlq.PublishToDLQ(ctx, payoutID, reason); err != nil {
		logger.Error().Err(err).Str("reason", reason).Msg("Failed to publish to DLQ")
		return
	}
	logger.Warn().Str("reason", reason).Msg("Payout moved to DLQ")
}

func (p *Processor) processingTimeout() time.Duration {
	if p.cfg.ProcessingTimeout > 0 {
		return p.cfg.ProcessingTimeout
	}
	return 2 * time.Minute
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
