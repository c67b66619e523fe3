package providers

import (
	"context"

	"github.com/cassiomorais/payouts/internal/domain/masspay"
)

// Acknowledgement codes returned by the provider.
const (
	AckSuccess            = "Success"
	AckSuccessWithWarning = "SuccessWithWarning"
	AckFailure            = "Failure"
	AckFailureWithWarning = "FailureWithWarning"
)

// ProviderResult holds the result of an external provider call.
type ProviderResult struct {
	CorrelationID string
	Ack           string
	Status        string // "success", "failed"
	ErrorCode     string
	ErrorMessage  string
}

// Succeeded reports whether the provider accepted the request.
func (r *ProviderResult) Succeeded() bool {
	return r != nil && (r.Ack == AckSuccess || r.Ack == AckSuccessWithWarning)
}

// Provider is the interface that external disbursement providers implement.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// MassPay sends one serialized MassPay request to the provider.
	MassPay(ctx context.Context, fields masspay.Fields) (*ProviderResult, error)
}
