package controller

import (
	"time"

	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/service"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Recipients arrive as parallel arrays; entry i of every array belongs to
// recipient i. Amounts accept JSON numbers or strings and are kept exact.

// CreatePayoutRequest is the body of POST /api/v1/payouts and /payouts/preview.
type CreatePayoutRequest struct {
	ReceiverIdentifiers []string          `json:"receiver_identifiers" validate:"max=10000,dive,required,max=127"`
	Amounts             []decimal.Decimal `json:"amounts"`
	UniqueIDs           []string          `json:"unique_ids,omitempty" validate:"omitempty,dive,max=30"`
	Notes               []string          `json:"notes,omitempty" validate:"omitempty,dive,max=4000"`
	ReceiverType        string            `json:"receiver_type,omitempty"`
	CurrencyCode        string            `json:"currency_code,omitempty" validate:"omitempty,len=3,alpha"`
	EmailSubject        string            `json:"email_subject,omitempty" validate:"max=255"`
	Provider            string            `json:"provider,omitempty" validate:"omitempty,oneof=paypal mock"`
}

// toService converts the body to the service input. The receiver type must
// already be parsed.
func (r CreatePayoutRequest) toService(idempotencyKey string, receiverType masspay.ReceiverType) service.CreatePayoutRequest {
	return service.CreatePayoutRequest{
		IdempotencyKey:      idempotencyKey,
		Provider:            payout.Provider(r.Provider),
		ReceiverType:        receiverType,
		Currency:            r.CurrencyCode,
		EmailSubject:        r.EmailSubject,
		ReceiverIdentifiers: r.ReceiverIdentifiers,
		Amounts:             r.Amounts,
		UniqueIDs:           r.UniqueIDs,
		Notes:               r.Notes,
	}
}

// --- Response DTOs ---

type RecipientResponse struct {
	Identifier string `json:"identifier"`
	Amount     string `json:"amount"`
	UniqueID   string `json:"unique_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

// PayoutResponse represents a payout in API responses.
type PayoutResponse struct {
	ID             string              `json:"id"`
	IdempotencyKey string              `json:"idempotency_key"`
	Provider       string              `json:"provider"`
	ReceiverType   string              `json:"receiver_type"`
	Currency       string              `json:"currency"`
	EmailSubject   string              `json:"email_subject,omitempty"`
	Status         string              `json:"status"`
	RecipientCount int                 `json:"recipient_count"`
	Total          string              `json:"total"`
	Recipients     []RecipientResponse `json:"recipients,omitempty"`
	CorrelationIDs []string            `json:"correlation_ids"`
	RetryCount     int                 `json:"retry_count"`
	MaxRetries     int                 `json:"max_retries"`
	LastError      *string             `json:"last_error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// PreviewResponse shows the provider requests a payout would produce.
type PreviewResponse struct {
	RecipientCount int                 `json:"recipient_count"`
	Total          string              `json:"total"`
	Requests       []map[string]string `json:"requests"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// --- Conversion helpers ---

// FromPayout converts a domain payout to its API form. Recipients are only
// listed when withRecipients is set, keeping list responses small.
func FromPayout(p *payout.Payout, withRecipients bool) *PayoutResponse {
	resp := &PayoutResponse{
		ID:             p.ID.String(),
		IdempotencyKey: p.IdempotencyKey,
		Provider:       string(p.Provider),
		ReceiverType:   string(p.ReceiverType),
		Currency:       p.Currency,
		EmailSubject:   p.EmailSubject,
		Status:         string(p.Status),
		RecipientCount: len(p.Recipients),
		Total:          p.Total().StringFixed(2),
		CorrelationIDs: p.CorrelationIDs,
		RetryCount:     p.RetryCount,
		MaxRetries:     p.MaxRetries,
		LastError:      p.LastError,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		CompletedAt:    p.CompletedAt,
	}
	if resp.CorrelationIDs == nil {
		resp.CorrelationIDs = []string{}
	}
	if withRecipients {
		resp.Recipients = make([]RecipientResponse, len(p.Recipients))
		for i, r := range p.Recipients {
			resp.Recipients[i] = RecipientResponse{
				Identifier: r.Identifier,
				Amount:     r.Amount.String(),
				UniqueID:   r.UniqueID,
				Note:       r.Note,
			}
		}
	}
	return resp
}

func FromPreview(p *service.Preview) *PreviewResponse {
	resp := &PreviewResponse{
		RecipientCount: p.Recipients,
		Total:          p.Total.StringFixed(2),
		Requests:       make([]map[string]string, len(p.Requests)),
	}
	for i, f := range p.Requests {
		resp.Requests[i] = f
	}
	return resp
}
