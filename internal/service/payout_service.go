package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/infrastructure/observability"
	"github.com/cassiomorais/payouts/internal/providers"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cassiomorais/payouts/internal/service"

// EventPublisher enqueues payouts for asynchronous submission.
type EventPublisher interface {
	PublishPayoutEvent(ctx context.Context, payoutID, eventType string) error
}

// Event types handed to the EventPublisher.
const (
	EventPayoutCreated = "payout.created"
	EventPayoutRetry   = "payout.retry"
)

// PayoutService handles payout-related business logic.
type PayoutService struct {
	payoutRepo      payout.Repository
	txManager       TransactionManager
	providerFactory *providers.Factory
	publisher       EventPublisher
	metrics         *observability.Metrics
	logger          zerolog.Logger
	tracer          trace.Tracer

	defaultProvider payout.Provider
	chunkSize       int
	maxRetries      int
}

type Option func(*PayoutService)

// WithMetrics records payout metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *PayoutService) { s.metrics = m }
}

// WithChunkSize sets how many recipients go into one provider request.
func WithChunkSize(n int) Option {
	return func(s *PayoutService) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(s *PayoutService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithDefaultProvider names the provider used when a request names none.
func WithDefaultProvider(p payout.Provider) Option {
	return func(s *PayoutService) { s.defaultProvider = p }
}

func NewPayoutService(
	payoutRepo payout.Repository,
	txManager TransactionManager,
	providerFactory *providers.Factory,
	publisher EventPublisher,
	logger zerolog.Logger,
	opts ...Option,
) *PayoutService {
	s := &PayoutService{
		payoutRepo:      payoutRepo,
		txManager:       txManager,
		providerFactory: providerFactory,
		publisher:       publisher,
		logger:          logger.With().Str("component", "payout_service").Logger(),
		tracer:          otel.Tracer(tracerName),
		defaultProvider: payout.ProviderMock,
		chunkSize:       masspay.MaxRecipientsPerCall,
		maxRetries:      3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayout validates the request, persists a pending payout and enqueues
// it for submission. A repeated idempotency key returns the stored payout.
func (s *PayoutService) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*CreatePayoutResponse, error) {
	existing, err := s.payoutRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil && existing != nil {
		return &CreatePayoutResponse{Payout: existing, Replayed: true}, nil
	}
	if err != nil && !errors.Is(err, domainErrors.ErrPayoutNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	// Arity is checked by the request builder before anything is stored.
	if _, err := masspay.New(req.massPayOptions()); err != nil {
		return nil, err
	}

	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	if _, _, err := s.providerFactory.Get(provider); err != nil {
		return nil, err
	}

	p, err := payout.NewPayout(
		req.IdempotencyKey,
		provider,
		req.ReceiverType,
		req.Currency,
		req.EmailSubject,
		req.recipients(),
	)
	if err != nil {
		return nil, err
	}
	p.MaxRetries = s.maxRetries

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.payoutRepo.Create(txCtx, p)
	})
	if errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey) {
		// Lost a race with a concurrent request carrying the same key.
		existing, getErr := s.payoutRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if getErr != nil {
			return nil, getErr
		}
		return &CreatePayoutResponse{Payout: existing, Replayed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishPayoutEvent(ctx, p.ID.String(), EventPayoutCreated); err != nil {
		// The payout stays pending and is picked up by RequeueStale.
		s.logger.Warn().Err(err).Str("payout_id", p.ID.String()).Msg("Failed to enqueue payout")
	}

	if s.metrics != nil {
		s.metrics.PayoutsTotal.WithLabelValues(string(p.Provider), string(p.Status)).Inc()
		s.metrics.PayoutRecipients.Observe(float64(len(p.Recipients)))
		s.metrics.PayoutAmount.WithLabelValues(p.Currency).Add(p.Total().InexactFloat64())
	}

	s.logger.Info().
		Str("payout_id", p.ID.String()).
		Str("provider", string(p.Provider)).
		Int("recipients", len(p.Recipients)).
		Str("total", p.Total().String()).
		Msg("Payout created")

	return &CreatePayoutResponse{Payout: p}, nil
}

// PreviewPayout builds the provider requests for req without persisting or
// sending anything.
func (s *PayoutService) PreviewPayout(req CreatePayoutRequest) (*Preview, error) {
	opts := req.massPayOptions()
	if opts.ReceiverType == "" {
		opts.ReceiverType = masspay.ReceiverEmailAddress
	}
	if !opts.ReceiverType.Valid() {
		return nil, domainErrors.NewValidationError("receiver_type", "must be UserID or EmailAddress")
	}

	// Arity is checked on the request as given; the fields are then built the
	// way a stored payout builds them.
	if _, err := masspay.New(opts); err != nil {
		return nil, err
	}
	if len(req.ReceiverIdentifiers) > payout.MaxRecipients {
		return nil, domainErrors.ErrTooManyRecipients
	}
	draft := payout.Payout{
		ReceiverType: opts.ReceiverType,
		Currency:     req.Currency,
		EmailSubject: req.EmailSubject,
		Recipients:   req.recipients(),
	}
	mp, err := masspay.New(draft.MassPayOptions())
	if err != nil {
		return nil, err
	}

	chunks, err := mp.Split(s.chunkSize)
	if err != nil {
		return nil, err
	}
	preview := &Preview{
		Recipients: mp.Len(),
		Total:      mp.Total(),
		Requests:   make([]masspay.Fields, len(chunks)),
	}
	for i, c := range chunks {
		if preview.Requests[i], err = c.Serialize(); err != nil {
			return nil, err
		}
	}
	return preview, nil
}

// SubmitPayout sends a pending or failed payout to its provider, one request
// per chunk. Recipients accepted on an earlier attempt are not resent. The
// caller must hold the payout's lock; stored updates are additionally
// version checked, and losing the first one stops the submission before any
// request is sent.
func (s *PayoutService) SubmitPayout(ctx context.Context, id uuid.UUID) (p *payout.Payout, err error) {
	ctx, span := s.tracer.Start(ctx, "PayoutService.SubmitPayout",
		trace.WithAttributes(attribute.String("payout.id", id.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p, err = s.payoutRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}

	switch p.Status {
	case payout.StatusPending:
	case payout.StatusFailed:
		if err := p.IncrementRetry(); err != nil {
			return p, err
		}
		if s.metrics != nil {
			s.metrics.PayoutRetries.WithLabelValues(string(p.Provider)).Inc()
		}
	default:
		s.logger.Debug().Str("payout_id", id.String()).Str("status", string(p.Status)).Msg("Payout not submittable, skipping")
		return p, nil
	}

	provider, breaker, err := s.providerFactory.Get(p.Provider)
	if err != nil {
		return p, err
	}

	// Resume after the recipients the provider already accepted. The offset is
	// counted in recipients, so a changed chunk size cannot shift it.
	var chunks []*masspay.Request
	if p.RemainingRecipients() > 0 {
		mp, err := masspay.New(p.RemainingMassPayOptions())
		if err != nil {
			return p, err
		}
		if chunks, err = mp.Split(s.chunkSize); err != nil {
			return p, err
		}
	}
	span.SetAttributes(
		attribute.Int("payout.recipients", len(p.Recipients)),
		attribute.Int("payout.submitted_recipients", p.SubmittedRecipients),
		attribute.Int("payout.chunks", len(chunks)),
		attribute.String("payout.provider", string(p.Provider)),
	)

	if err := p.MarkSubmitted(); err != nil {
		return p, err
	}
	// Claims the payout. A concurrent cancel or a second worker that wrote
	// first makes this fail before anything is sent.
	if err := s.payoutRepo.Update(ctx, p); err != nil {
		return p, fmt.Errorf("claim payout: %w", err)
	}

	start := time.Now()
	for i, chunk := range chunks {
		fields, err := chunk.Serialize()
		if err != nil {
			return p, s.fail(ctx, p, err)
		}
		result, callErr := breaker.Execute(func() (*providers.ProviderResult, error) {
			return provider.MassPay(ctx, fields)
		})
		s.observeCall(p.Provider, callErr)

		if callErr != nil {
			s.observeSubmission(p, start)
			return p, s.fail(ctx, p, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), callErr))
		}

		p.RecordChunk(result.CorrelationID, chunk.Len())
		if err := s.payoutRepo.Update(ctx, p); err != nil {
			return p, fmt.Errorf("record chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}

	if err := p.MarkCompleted(nil); err != nil {
		return p, err
	}
	if err := s.payoutRepo.Update(ctx, p); err != nil {
		return p, err
	}
	s.observeSubmission(p, start)

	s.logger.Info().
		Str("payout_id", p.ID.String()).
		Strs("correlation_ids", p.CorrelationIDs).
		Int("retry", p.RetryCount).
		Msg("Payout completed")
	return p, nil
}

// fail records cause on the payout and returns it to the caller. When the
// provider may have acted on the request the payout stays submitted for
// reconciliation instead of becoming retryable.
func (s *PayoutService) fail(ctx context.Context, p *payout.Payout, cause error) error {
	unknown := errors.Is(cause, domainErrors.ErrProviderOutcomeUnknown)
	if unknown {
		if err := p.MarkUnconfirmed(cause.Error()); err != nil {
			return err
		}
	} else if err := p.MarkFailed(cause.Error()); err != nil {
		return err
	}
	if err := s.payoutRepo.Update(ctx, p); err != nil {
		return fmt.Errorf("persist failure (%v): %w", cause, err)
	}
	if s.metrics != nil {
		s.metrics.PayoutsTotal.WithLabelValues(string(p.Provider), string(p.Status)).Inc()
	}

	event := s.logger.Warn()
	msg := "Payout submission failed"
	if unknown {
		event = s.logger.Error()
		msg = "Payout outcome unknown, needs reconciliation"
	}
	event.Err(cause).
		Str("payout_id", p.ID.String()).
		Int("submitted_recipients", p.SubmittedRecipients).
		Msg(msg)
	return cause
}

func (s *PayoutService) observeCall(provider payout.Provider, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, domainErrors.ErrProviderRejected):
		result = "rejected"
	case errors.Is(err, domainErrors.ErrProviderTimeout):
		result = "timeout"
	case errors.Is(err, domainErrors.ErrProviderOutcomeUnknown):
		result = "unknown"
	default:
		result = "error"
	}
	s.metrics.MassPayRequests.WithLabelValues(string(provider), result).Inc()
}

func (s *PayoutService) observeSubmission(p *payout.Payout, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SubmissionDuration.WithLabelValues(string(p.Provider), string(p.Status)).Observe(time.Since(start).Seconds())
	if p.Status == payout.StatusCompleted {
		s.metrics.PayoutsTotal.WithLabelValues(string(p.Provider), string(p.Status)).Inc()
	}
}

// RetryPayout re-enqueues a failed payout that still has retries left.
func (s *PayoutService) RetryPayout(ctx context.Context, p *payout.Payout) error {
	if !p.CanRetry() {
		return domainErrors.ErrMaxRetriesExceeded
	}
	return s.publisher.PublishPayoutEvent(ctx, p.ID.String(), EventPayoutRetry)
}

// RequeueStale re-enqueues pending payouts untouched for longer than olderThan.
// It returns how many were published.
func (s *PayoutService) RequeueStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	status := payout.StatusPending
	before := time.Now().Add(-olderThan)
	stale, err := s.payoutRepo.List(ctx, payout.ListFilter{
		Status:        &status,
		UpdatedBefore: &before,
		Limit:         limit,
		SortBy:        "updated_at",
		SortOrder:     "asc",
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, p := range stale {
		if err := s.publisher.PublishPayoutEvent(ctx, p.ID.String(), EventPayoutCreated); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

func (s *PayoutService) GetPayout(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
	return s.payoutRepo.GetByID(ctx, id)
}

func (s *PayoutService) ListPayouts(ctx context.Context, filter payout.ListFilter) ([]*payout.Payout, error) {
	return s.payoutRepo.List(ctx, filter)
}

// CancelPayout cancels a payout that has not been submitted yet, or a failed one.
// It fails with ErrOptimisticLockFailed when a worker claimed the payout
// between the read and the write.
func (s *PayoutService) CancelPayout(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
	var p *payout.Payout
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		p, err = s.payoutRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := p.MarkCancelled(); err != nil {
			return err
		}
		return s.payoutRepo.Update(txCtx, p)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PayoutsTotal.WithLabelValues(string(p.Provider), string(p.Status)).Inc()
	}
	return p, nil
}
