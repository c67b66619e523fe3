package payout

import (
	"time"

	"github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the payout status in the state machine
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Provider names the external disbursement provider
type Provider string

const (
	ProviderPayPal Provider = "paypal"
	ProviderMock   Provider = "mock"
)

// MaxRecipients bounds the recipients of one payout. Larger batches are
// split across payouts by the caller.
const MaxRecipients = 10000

// Recipient is a single line of a payout batch
type Recipient struct {
	Identifier string          `json:"identifier"`
	Amount     decimal.Decimal `json:"amount"`
	UniqueID   string          `json:"unique_id,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// Payout represents a bulk disbursement to many recipients
type Payout struct {
	ID             uuid.UUID
	IdempotencyKey string
	ReceiverType   masspay.ReceiverType
	Currency       string
	EmailSubject   string
	Recipients     []Recipient
	Status         Status
	Provider       Provider
	CorrelationIDs []string
	RetryCount     int
	MaxRetries     int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time

	// SubmittedRecipients counts the leading recipients the provider has
	// accepted. A retry resumes with the recipient at this offset.
	SubmittedRecipients int

	// Version is bumped by every stored update and guards against lost updates.
	Version int
}

// NewPayout creates a new pending payout
func NewPayout(
	idempotencyKey string,
	provider Provider,
	receiverType masspay.ReceiverType,
	currency string,
	emailSubject string,
	recipients []Recipient,
) (*Payout, error) {
	if idempotencyKey == "" {
		return nil, errors.ErrInvalidInput
	}
	if currency == "" {
		currency = masspay.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if receiverType == "" {
		receiverType = masspay.ReceiverEmailAddress
	}
	if !receiverType.Valid() {
		return nil, errors.NewValidationError("receiver_type", "must be UserID or EmailAddress")
	}
	if len(recipients) == 0 {
		return nil, errors.ErrNoRecipients
	}
	if len(recipients) > MaxRecipients {
		return nil, errors.ErrTooManyRecipients
	}
	for _, r := range recipients {
		if r.Identifier == "" {
			return nil, errors.NewValidationError("receiver_identifiers", "cannot contain empty identifiers")
		}
		if !r.Amount.IsPositive() {
			return nil, errors.NewValidationError("amounts", "must be greater than 0")
		}
	}

	now := time.Now()
	return &Payout{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		ReceiverType:   receiverType,
		Currency:       currency,
		EmailSubject:   emailSubject,
		Recipients:     recipients,
		Status:         StatusPending,
		Provider:       provider,
		MaxRetries:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}, nil
}

// MassPayOptions converts the payout into MassPay input. An optional array
// (unique ids, notes) is sent only when at least one recipient carries a
// non-empty value; it is then sent for every recipient.
func (p *Payout) MassPayOptions() masspay.Options {
	return p.massPayOptions(0)
}

// RemainingMassPayOptions is MassPayOptions for the recipients not yet
// accepted by the provider. Which optional arrays are sent is decided over
// the whole batch, so a resumed submission sends the same fields.
func (p *Payout) RemainingMassPayOptions() masspay.Options {
	return p.massPayOptions(min(p.SubmittedRecipients, len(p.Recipients)))
}

// RemainingRecipients returns how many recipients have not been accepted yet.
func (p *Payout) RemainingRecipients() int {
	return max(len(p.Recipients)-p.SubmittedRecipients, 0)
}

func (p *Payout) massPayOptions(offset int) masspay.Options {
	var hasUniqueIDs, hasNotes bool
	for _, r := range p.Recipients {
		hasUniqueIDs = hasUniqueIDs || r.UniqueID != ""
		hasNotes = hasNotes || r.Note != ""
	}

	rest := p.Recipients[offset:]
	opts := masspay.Options{
		ReceiverIdentifiers: make([]string, len(rest)),
		Amounts:             make([]decimal.Decimal, len(rest)),
		ReceiverType:        p.ReceiverType,
		CurrencyCode:        p.Currency,
		EmailSubject:        p.EmailSubject,
	}
	if hasUniqueIDs {
		opts.UniqueIDs = make([]string, len(rest))
	}
	if hasNotes {
		opts.Notes = make([]string, len(rest))
	}
	for i, r := range rest {
		opts.ReceiverIdentifiers[i] = r.Identifier
		opts.Amounts[i] = r.Amount
		if hasUniqueIDs {
			opts.UniqueIDs[i] = r.UniqueID
		}
		if hasNotes {
			opts.Notes[i] = r.Note
		}
	}
	return opts
}

// Total returns the sum of all recipient amounts
func (p *Payout) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.Recipients {
		total = total.Add(r.Amount)
	}
	return total
}

// CanTransitionTo checks if the payout can transition to the given status
func (p *Payout) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusPending: {
			StatusSubmitted,
			StatusCancelled,
		},
		StatusSubmitted: {
			StatusCompleted,
			StatusFailed,
		},
		StatusFailed: {
			StatusSubmitted, // Retry
			StatusCancelled,
		},
		StatusCompleted: {},
		StatusCancelled: {},
	}

	for _, allowed := range transitions[p.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the payout to a new status
func (p *Payout) TransitionTo(newStatus Status) error {
	if !p.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(p.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	now := time.Now()
	p.Status = newStatus
	p.UpdatedAt = now

	if newStatus == StatusCompleted || newStatus == StatusFailed || newStatus == StatusCancelled {
		p.CompletedAt = &now
	} else {
		p.CompletedAt = nil
	}
	return nil
}

// MarkSubmitted transitions the payout to submitted status
func (p *Payout) MarkSubmitted() error {
	return p.TransitionTo(StatusSubmitted)
}

// MarkCompleted transitions the payout to completed status
func (p *Payout) MarkCompleted(correlationIDs []string) error {
	if err := p.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	p.CorrelationIDs = append(p.CorrelationIDs, correlationIDs...)
	p.LastError = nil
	return nil
}

// RecordChunk stores the correlation ID of an accepted chunk of recipients
// while the payout is still submitted.
func (p *Payout) RecordChunk(correlationID string, recipients int) {
	p.CorrelationIDs = append(p.CorrelationIDs, correlationID)
	p.SubmittedRecipients = min(p.SubmittedRecipients+recipients, len(p.Recipients))
	p.UpdatedAt = time.Now()
}

// MarkFailed transitions the payout to failed status
func (p *Payout) MarkFailed(errorMsg string) error {
	if err := p.TransitionTo(StatusFailed); err != nil {
		return err
	}
	p.LastError = &errorMsg
	return nil
}

// MarkUnconfirmed records a provider call whose outcome is unknown. The payout
// stays submitted until it is reconciled against the provider.
func (p *Payout) MarkUnconfirmed(errorMsg string) error {
	if p.Status != StatusSubmitted {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot leave "+string(p.Status)+" payout unconfirmed",
			errors.ErrInvalidStateTransition,
		)
	}
	p.LastError = &errorMsg
	p.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled transitions the payout to cancelled status
func (p *Payout) MarkCancelled() error {
	return p.TransitionTo(StatusCancelled)
}

// IncrementRetry increments the retry counter
func (p *Payout) IncrementRetry() error {
	if p.RetryCount >= p.MaxRetries {
		return errors.ErrMaxRetriesExceeded
	}
	p.RetryCount++
	p.UpdatedAt = time.Now()
	return nil
}

// CanRetry checks if the payout can be retried
func (p *Payout) CanRetry() bool {
	return p.Status == StatusFailed && p.RetryCount < p.MaxRetries
}

// IsTerminal checks if the payout is in a terminal state
func (p *Payout) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusCancelled
}
