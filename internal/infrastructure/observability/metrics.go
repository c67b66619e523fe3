package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Payout metrics
	PayoutsTotal       *prometheus.CounterVec
	PayoutRecipients   prometheus.Histogram
	PayoutAmount       *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	PayoutRetries      *prometheus.CounterVec

	// Provider metrics
	MassPayRequests *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		PayoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payouts_total",
				Help:      "Total number of payouts by provider and status",
			},
			[]string{"provider", "status"},
		),
		PayoutRecipients: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payout_recipients",
				Help:      "Number of recipients per accepted payout",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		PayoutAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_amount_total",
				Help:      "Sum of accepted payout amounts by currency",
			},
			[]string{"currency"},
		),
		SubmissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payout_submission_duration_seconds",
				Help:      "Time spent submitting a payout to its provider",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),
		PayoutRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_retries_total",
				Help:      "Total number of payout submission retries",
			},
			[]string{"provider"},
		),
		MassPayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "masspay_requests_total",
				Help:      "Mass pay calls made to providers by result",
			},
			[]string{"provider", "result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker message processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
	}

	reg.MustRegister(
		m.PayoutsTotal,
		m.PayoutRecipients,
		m.PayoutAmount,
		m.SubmissionDuration,
		m.PayoutRetries,
		m.MassPayRequests,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
	)

	return m
}

// ObserveBreakerState records a circuit breaker transition. The state values
// follow gobreaker: 0 closed, 1 half-open, 2 open.
func (m *Metrics) ObserveBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
