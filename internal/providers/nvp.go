package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/pkg/retry"
	"github.com/rs/zerolog"
)

// Environment selects the provider's sandbox or live endpoint.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// DefaultAPIVersion is the NVP API version sent when none is configured.
const DefaultAPIVersion = "98.0"

const maxResponseBytes = 1 << 20

var nvpEndpoints = map[Environment]string{
	EnvSandbox:    "https://api-3t.sandbox.paypal.com/nvp",
	EnvProduction: "https://api-3t.paypal.com/nvp",
}

// NVPConfig configures an NVPClient.
type NVPConfig struct {
	Name        string
	Environment Environment

	// Endpoint overrides the URL derived from Environment.
	Endpoint   string
	Username   string
	Password   string
	Signature  string
	APIVersion string
	Timeout    time.Duration
	Retry      retry.Config
}

// NVPClient sends MassPay requests to a PayPal-style Name-Value-Pair API.
type NVPClient struct {
	name       string
	endpoint   string
	cfg        NVPConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewNVPClient creates a client for cfg. When httpClient is nil a client with
// cfg.Timeout is created.
func NewNVPClient(cfg NVPConfig, logger zerolog.Logger, httpClient *http.Client) (*NVPClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		var ok bool
		endpoint, ok = nvpEndpoints[cfg.Environment]
		if !ok {
			return nil, fmt.Errorf("unknown provider environment %q", cfg.Environment)
		}
	}
	if cfg.Username == "" || cfg.Password == "" || cfg.Signature == "" {
		return nil, errors.New("provider credentials are incomplete")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Name == "" {
		cfg.Name = "paypal"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &NVPClient{
		name:       cfg.Name,
		endpoint:   endpoint,
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("provider", cfg.Name).Logger(),
	}
	c.cfg.Retry.OnRetry = func(attempt uint, err error) {
		c.logger.Warn().Err(err).Uint("attempt", attempt).Msg("Retrying mass pay request")
	}
	return c, nil
}

func (c *NVPClient) Name() string { return c.name }

// MassPay posts fields to the provider. MassPay is not idempotent, so only
// attempts that never wrote the request are retried. Once the request is
// out, a timeout, a 5xx or an unreadable answer yields
// ErrProviderOutcomeUnknown; 4xx responses and rejections yield
// ErrProviderRejected.
func (c *NVPClient) MassPay(ctx context.Context, fields masspay.Fields) (*ProviderResult, error) {
	body := c.encode(fields).Encode()

	result, err := retry.DoWithResult(ctx, c.cfg.Retry, func() (*ProviderResult, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return result, err
	}

	c.logger.Debug().
		Str("correlation_id", result.CorrelationID).
		Str("ack", result.Ack).
		Msg("Mass pay accepted")
	return result, nil
}

// encode upper-cases field names and adds the credentials.
func (c *NVPClient) encode(fields masspay.Fields) url.Values {
	v := make(url.Values, len(fields)+4)
	for k, val := range fields {
		v.Set(strings.ToUpper(k), val)
	}
	v.Set("USER", c.cfg.Username)
	v.Set("PWD", c.cfg.Password)
	v.Set("SIGNATURE", c.cfg.Signature)
	v.Set("VERSION", c.cfg.APIVersion)
	return v
}

func (c *NVPClient) post(ctx context.Context, body string) (*ProviderResult, error) {
	var sent atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { sent.Store(true) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if sent.Load() {
			return nil, retry.Permanent(outcomeUnknown(err))
		}
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, retry.Permanent(outcomeUnknown(fmt.Errorf("read response: %w", err)))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, retry.Permanent(fmt.Errorf("%w: status %d", domainErrors.ErrProviderOutcomeUnknown, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, retry.Permanent(fmt.Errorf("%w: status %d", domainErrors.ErrProviderRejected, resp.StatusCode))
	}

	result, err := ParseNVPResponse(raw)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %v", domainErrors.ErrProviderOutcomeUnknown, err))
	}
	if !result.Succeeded() {
		return result, retry.Permanent(fmt.Errorf("%w: %s %s", domainErrors.ErrProviderRejected, result.ErrorCode, result.ErrorMessage))
	}
	return result, nil
}

// outcomeUnknown classifies a failure after the request was written.
func outcomeUnknown(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w: %v", domainErrors.ErrProviderOutcomeUnknown, domainErrors.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", domainErrors.ErrProviderOutcomeUnknown, err)
}

// ParseNVPResponse decodes a Name-Value-Pair response body.
func ParseNVPResponse(body []byte) (*ProviderResult, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse provider response: %w", err)
	}
	ack := values.Get("ACK")
	if ack == "" {
		return nil, errors.New("parse provider response: missing ACK")
	}

	result := &ProviderResult{
		CorrelationID: values.Get("CORRELATIONID"),
		Ack:           ack,
		ErrorCode:     values.Get("L_ERRORCODE0"),
		ErrorMessage:  values.Get("L_LONGMESSAGE0"),
	}
	if result.ErrorMessage == "" {
		result.ErrorMessage = values.Get("L_SHORTMESSAGE0")
	}
	if result.Succeeded() {
		result.Status = "success"
	} else {
		result.Status = "failed"
	}
	return result, nil
}
