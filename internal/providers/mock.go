package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/google/uuid"
)

// MockProvider is a configurable mock disbursement provider for testing and local runs.
type MockProvider struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0

	mu       sync.Mutex
	received []masspay.Fields
}

// MockProviderOption configures a MockProvider.
type MockProviderOption func(*MockProvider)

// WithFailureRate sets the probability that a call is rejected.
func WithFailureRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.failureRate = rate }
}

// WithLatency sets the simulated processing latency.
func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

// WithTimeoutRate sets the probability of a simulated timeout. A timed out
// call has been received, so its outcome is unknown to the caller.
func WithTimeoutRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.timeoutRate = rate }
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:    name,
		latency: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) MassPay(ctx context.Context, fields masspay.Fields) (*ProviderResult, error) {
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	p.received = append(p.received, fields)
	p.mu.Unlock()

	// A simulated timeout happens after the call was received.
	if rand.Float64() < p.timeoutRate {
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrProviderOutcomeUnknown, domainErrors.ErrProviderTimeout)
	}

	correlationID := fmt.Sprintf("%s_%s", p.name, uuid.New().String()[:8])
	if rand.Float64() < p.failureRate {
		return &ProviderResult{
			CorrelationID: correlationID,
			Ack:           AckFailure,
			Status:        "failed",
			ErrorCode:     "10001",
			ErrorMessage:  fmt.Sprintf("%s: simulated mass pay failure", p.name),
		}, domainErrors.ErrProviderRejected
	}

	return &ProviderResult{
		CorrelationID: correlationID,
		Ack:           AckSuccess,
		Status:        "success",
	}, nil
}

// Received returns the field mappings the provider has been sent, in call order.
func (p *MockProvider) Received() []masspay.Fields {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]masspay.Fields, len(p.received))
	copy(out, p.received)
	return out
}
