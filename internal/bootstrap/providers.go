package bootstrap

import (
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/cassiomorais/payouts/internal/infrastructure/config"
	"github.com/cassiomorais/payouts/internal/infrastructure/observability"
	"github.com/cassiomorais/payouts/internal/providers"
	"github.com/cassiomorais/payouts/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// NewProviderFactory registers the configured provider. Breaker state changes
// are exported through metrics when metrics is non-nil.
func NewProviderFactory(cfg config.ProviderConfig, logger zerolog.Logger, metrics *observability.Metrics) (*providers.Factory, error) {
	var observer providers.StateObserver
	if metrics != nil {
		observer = func(name string, from, to gobreaker.State) {
			metrics.ObserveBreakerState(name, int(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		}
	}

	if cfg.Name != string(payout.ProviderPayPal) {
		return providers.NewFactory(observer), nil
	}

	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		retryCfg.InitialDelay = cfg.RetryDelay
	}

	client, err := providers.NewNVPClient(providers.NVPConfig{
		Name:        cfg.Name,
		Environment: providers.Environment(cfg.Environment),
		Endpoint:    cfg.Endpoint,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Signature:   cfg.Signature,
		APIVersion:  cfg.APIVersion,
		Timeout:     cfg.Timeout,
		Retry:       retryCfg,
	}, logger, nil)
	if err != nil {
		return nil, err
	}
	return providers.NewFactory(observer, client), nil
}
