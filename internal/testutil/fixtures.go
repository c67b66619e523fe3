package testutil

import (
	"fmt"
	"time"

	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewTestRecipients returns n email recipients paid 10.00 each.
func NewTestRecipients(n int) []payout.Recipient {
	out := make([]payout.Recipient, n)
	for i := range out {
		out[i] = payout.Recipient{
			Identifier: fmt.Sprintf("user%d@example.com", i),
			Amount:     decimal.NewFromInt(10),
		}
	}
	return out
}

// NewTestPayout returns a pending payout with n recipients on the mock provider.
func NewTestPayout(n int) *payout.Payout {
	now := time.Now()
	return &payout.Payout{
		ID:             uuid.New(),
		IdempotencyKey: uuid.New().String(),
		ReceiverType:   masspay.ReceiverEmailAddress,
		Currency:       masspay.DefaultCurrency,
		Recipients:     NewTestRecipients(n),
		Status:         payout.StatusPending,
		Provider:       payout.ProviderMock,
		MaxRetries:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

func NewFailedPayout(n int, retryCount int) *payout.Payout {
	p := NewTestPayout(n)
	p.Status = payout.StatusFailed
	p.RetryCount = retryCount
	msg := "provider unavailable"
	p.LastError = &msg
	completedAt := time.Now()
	p.CompletedAt = &completedAt
	return p
}
