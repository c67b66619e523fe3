package providers

import (
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/sony/gobreaker/v2"
)

// StateObserver is notified when a provider's circuit breaker changes state.
type StateObserver func(name string, from, to gobreaker.State)

// Factory creates and caches provider instances with circuit breakers.
type Factory struct {
	providers       map[string]Provider
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*ProviderResult]
	observer        StateObserver
}

// NewFactory creates a new provider factory with the given providers.
// If no providers are given, a mock provider named "mock" is registered.
// observer may be nil.
func NewFactory(observer StateObserver, providersList ...Provider) *Factory {
	f := &Factory{
		providers:       make(map[string]Provider),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*ProviderResult]),
		observer:        observer,
	}

	if len(providersList) == 0 {
		f.Register(NewMockProvider(string(payout.ProviderMock),
			WithLatency(200*time.Millisecond),
			WithFailureRate(0.05),
		))
	} else {
		for _, p := range providersList {
			f.Register(p)
		}
	}

	return f
}

// Register registers a provider and creates a circuit breaker for it.
// Provider rejections are business outcomes and do not count against the breaker.
func (f *Factory) Register(p Provider) {
	f.providers[p.Name()] = p
	f.circuitBreakers[p.Name()] = gobreaker.NewCircuitBreaker[*ProviderResult](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrProviderRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if f.observer != nil {
				f.observer(name, from, to)
			}
		},
	})
}

// Get returns the provider and its circuit breaker for the given name.
func (f *Factory) Get(name payout.Provider) (Provider, *gobreaker.CircuitBreaker[*ProviderResult], error) {
	p, ok := f.providers[string(name)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return p, f.circuitBreakers[string(name)], nil
}
